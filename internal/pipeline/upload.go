package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/maauso/geoseq/internal/apperr"
	"github.com/maauso/geoseq/internal/archive"
	"github.com/maauso/geoseq/internal/processlog"
	"github.com/maauso/geoseq/internal/storage"
	"github.com/maauso/geoseq/internal/upload"
)

// UploadInput configures the upload of one archive.
type UploadInput struct {
	// Archive is a local path or an s3:// reference.
	Archive        string `validate:"required"`
	AccessToken    string
	OrganizationID string
	// ChunkSize defaults to upload.DefaultChunkSize when zero.
	ChunkSize int64 `validate:"gte=0"`
	Rerun     bool
}

// UploadResult is the outcome of an archive upload.
type UploadResult struct {
	SessionKey string `json:"session_key"`
	FileHandle string `json:"file_handle"`
	ClusterID  string `json:"cluster_id"`
	EntitySize int64  `json:"entity_size"`
	// Skipped is set when a previous run already uploaded this archive.
	Skipped bool `json:"skipped,omitempty"`
}

type uploadFailure struct {
	SessionKey string `json:"session_key"`
	Error      string `json:"error"`
}

// Upload sends an archive through the resumable upload protocol and turns
// it into a cluster. Transient failures are retried with exponential backoff;
// each retry resumes from the offset the server reports.
func (o *Orchestrator) Upload(ctx context.Context, in UploadInput) (*UploadResult, error) {
	if err := o.validate.Struct(in); err != nil {
		return nil, fmt.Errorf("%w: %w", apperr.ErrValidation, err)
	}
	chunkSize := in.ChunkSize
	if chunkSize == 0 {
		chunkSize = upload.DefaultChunkSize
	}

	local, err := o.storage.Fetch(ctx, in.Archive)
	if err != nil {
		return nil, err
	}
	recordKey := local
	if storage.IsRemote(in.Archive) {
		recordKey = in.Archive
		defer o.cleanup(local)
	}

	size, sum, err := archive.Fingerprint(local)
	if err != nil {
		return nil, err
	}
	sessionKey := archive.SessionKey(sum)

	if !in.Rerun {
		prev, err := o.previousUpload(ctx, recordKey, sessionKey)
		if err != nil {
			return nil, err
		}
		if prev != nil {
			o.logger.Info("archive already uploaded",
				slog.String("archive", recordKey),
				slog.String("session_key", sessionKey),
				slog.String("cluster_id", prev.ClusterID),
			)
			return prev, nil
		}
	}

	sess, err := o.uploader.Open(upload.Session{
		AccessToken: in.AccessToken,
		Key:         sessionKey,
		EntitySize:  size,
	})
	if err != nil {
		return nil, err
	}
	sess.Subscribe(upload.ObserverFunc(func(ev upload.ChunkEvent) {
		o.logger.Debug("chunk uploaded",
			slog.String("session_key", ev.SessionKey),
			slog.Int64("offset", ev.Offset),
			slog.Int64("committed", ev.Committed),
			slog.Int64("entity_size", ev.EntitySize),
		)
	}))

	o.logger.Info("uploading archive",
		slog.String("archive", recordKey),
		slog.String("session_key", sessionKey),
		slog.Int64("entity_size", size),
		slog.Int64("chunk_size", chunkSize),
	)

	res, err := o.transfer(ctx, sess, local, chunkSize, in.OrganizationID)
	if err != nil {
		o.logger.Error("archive upload failed",
			slog.String("session_key", sessionKey),
			slog.String("error", err.Error()),
		)
		if rerr := o.log.Record(context.WithoutCancel(ctx), recordKey, processlog.StageUpload, processlog.StatusFailed,
			uploadFailure{SessionKey: sessionKey, Error: err.Error()}); rerr != nil {
			return nil, errors.Join(err, rerr)
		}
		return nil, err
	}
	res.SessionKey = sessionKey
	res.EntitySize = size

	if err := o.log.Record(ctx, recordKey, processlog.StageUpload, processlog.StatusSuccess, res); err != nil {
		return nil, err
	}
	o.logger.Info("archive uploaded",
		slog.String("session_key", sessionKey),
		slog.String("file_handle", res.FileHandle),
		slog.String("cluster_id", res.ClusterID),
	)
	return res, nil
}

// transfer runs the chunk loop under the retry policy, then finishes the
// upload once.
func (o *Orchestrator) transfer(ctx context.Context, sess UploadSession, path string, chunkSize int64, orgID string) (*UploadResult, error) {
	f, err := os.Open(path) // #nosec G304 - archive path chosen by the operator
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	defer f.Close()

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = o.initialInterval
	policy := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(o.maxAttempts-1)), ctx)

	attempt := 1
	handle, err := backoff.RetryNotifyWithData(func() (string, error) {
		h, err := sess.Upload(ctx, f, nil, chunkSize)
		if err != nil && (apperr.IsPermanent(err) || !upload.IsRetryable(err)) {
			return "", backoff.Permanent(err)
		}
		return h, err
	}, policy, func(err error, wait time.Duration) {
		o.logger.Warn("upload attempt failed, retrying",
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", o.maxAttempts),
			slog.Duration("wait", wait),
			slog.String("error", err.Error()),
		)
		attempt++
	})
	if err != nil {
		return nil, err
	}

	cluster, err := sess.Finish(ctx, handle, orgID)
	if err != nil {
		return nil, err
	}
	return &UploadResult{FileHandle: handle, ClusterID: cluster}, nil
}

// previousUpload returns the stored result of an earlier successful upload
// of the same content, or nil.
func (o *Orchestrator) previousUpload(ctx context.Context, recordKey, sessionKey string) (*UploadResult, error) {
	rec, err := o.log.Lookup(ctx, recordKey, processlog.StageUpload)
	if errors.Is(err, processlog.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if rec.Status != processlog.StatusSuccess {
		return nil, nil
	}

	var prev UploadResult
	if err := json.Unmarshal(rec.Payload, &prev); err != nil {
		return nil, fmt.Errorf("decode upload record for %s: %w", recordKey, err)
	}
	// A rebuilt archive at the same path is new content.
	if prev.SessionKey != sessionKey {
		return nil, nil
	}
	prev.Skipped = true
	return &prev, nil
}
