package processlog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/maauso/geoseq/internal/apperr"
	"github.com/maauso/geoseq/internal/scan"
)

// Log applies the skip/rerun/overwrite rules on top of a Repository.
type Log struct {
	repo Repository
	now  func() time.Time
}

// LogOption is a function that configures a Log.
type LogOption func(*Log)

// WithClock sets the clock used to stamp RecordedAt.
func WithClock(now func() time.Time) LogOption {
	return func(l *Log) {
		l.now = now
	}
}

// NewLog creates a Log backed by repo.
func NewLog(repo Repository, opts ...LogOption) *Log {
	l := &Log{
		repo: repo,
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// ListCandidates returns the images under root that the stage should process,
// in path order. Files with a prior success record are excluded unless rerun
// is set.
func (l *Log) ListCandidates(ctx context.Context, root, stage string, rerun, skipSubfolders bool) ([]string, error) {
	files, err := scan.Images(root, skipSubfolders)
	if err != nil {
		return nil, err
	}
	return l.Filter(ctx, files, stage, rerun)
}

// Filter applies the skip rule to an arbitrary path list, preserving order.
func (l *Log) Filter(ctx context.Context, paths []string, stage string, rerun bool) ([]string, error) {
	if rerun {
		return append([]string(nil), paths...), nil
	}

	out := make([]string, 0, len(paths))
	for _, p := range paths {
		done, err := l.Succeeded(ctx, p, stage)
		if err != nil {
			return nil, err
		}
		if !done {
			out = append(out, p)
		}
	}
	return out, nil
}

// Succeeded reports whether the stage has a success record for filePath.
func (l *Log) Succeeded(ctx context.Context, filePath, stage string) (bool, error) {
	rec, err := l.repo.Get(ctx, filePath, stage)
	if errors.Is(err, ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read process record for %s: %w", filePath, err)
	}
	return rec.Status == StatusSuccess, nil
}

// Record stores the outcome of a stage for a file, replacing any prior record.
// A success must carry a non-null payload; a failure without one is stored as {}.
func (l *Log) Record(ctx context.Context, filePath, stage string, status Status, payload any) error {
	if !status.IsValid() {
		return fmt.Errorf("%w: unknown status %q", apperr.ErrValidation, status)
	}

	raw, err := encodePayload(payload)
	if err != nil {
		return fmt.Errorf("marshal payload for %s: %w", filePath, err)
	}
	if raw == nil {
		if status == StatusSuccess {
			return fmt.Errorf("%w: success record for %s requires a payload", apperr.ErrValidation, filePath)
		}
		raw = json.RawMessage("{}")
	}

	return l.repo.Put(ctx, &Record{
		FilePath:   filePath,
		Stage:      stage,
		Status:     status,
		Payload:    raw,
		RecordedAt: l.now().UTC(),
	})
}

// Lookup returns the stored record for a file and stage.
func (l *Log) Lookup(ctx context.Context, filePath, stage string) (*Record, error) {
	return l.repo.Get(ctx, filePath, stage)
}

// encodePayload returns nil for payloads that encode as JSON null.
func encodePayload(payload any) (json.RawMessage, error) {
	if payload == nil {
		return nil, nil
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	if string(b) == "null" {
		return nil, nil
	}
	return b, nil
}
