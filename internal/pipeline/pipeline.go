// Package pipeline runs the stages that turn an import directory into an
// uploaded sequence: metadata assembly, video sampling, archiving and upload.
//
// Every stage asks the process log which files are still pending, works
// through them one at a time and records exactly one outcome per file. A
// failure on one file is recorded and the stage moves on; a missing
// top-level path aborts the stage before any file is touched.
package pipeline

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/maauso/geoseq/internal/metadata"
	"github.com/maauso/geoseq/internal/processlog"
	"github.com/maauso/geoseq/internal/storage"
	"github.com/maauso/geoseq/internal/upload"
	"github.com/maauso/geoseq/internal/video"
)

// Default retry policy for the upload stage.
const (
	DefaultMaxAttempts     = 5
	DefaultInitialInterval = 2 * time.Second
)

// FrameExtractor samples one video into frames.
type FrameExtractor interface {
	Extract(ctx context.Context, videoPath, outDir string, opts video.Options) ([]video.Frame, error)
}

// UploadSession is one resumable upload against a fixed session key.
type UploadSession interface {
	Subscribe(o upload.Observer)
	Upload(ctx context.Context, r io.ReadSeeker, offset *int64, chunkSize int64) (string, error)
	Finish(ctx context.Context, fileHandle, organizationID string) (string, error)
}

// UploadClient opens upload sessions.
type UploadClient interface {
	Open(s upload.Session) (UploadSession, error)
}

// Deps holds the collaborators used by the stages. A stage only needs the
// fields it touches.
type Deps struct {
	Log       *processlog.Log
	Reader    metadata.Reader
	Assembler *metadata.Assembler
	Extractor FrameExtractor
	Uploader  UploadClient
	Storage   storage.Storage
	Logger    *slog.Logger
}

// Orchestrator runs pipeline stages sequentially.
type Orchestrator struct {
	log       *processlog.Log
	reader    metadata.Reader
	assembler *metadata.Assembler
	extractor FrameExtractor
	uploader  UploadClient
	storage   storage.Storage
	logger    *slog.Logger
	validate  *validator.Validate

	now             func() time.Time
	maxAttempts     int
	initialInterval time.Duration
}

// Option is a function that configures an Orchestrator.
type Option func(*Orchestrator)

// WithClock sets the clock used for the per-invocation import time.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		o.now = now
	}
}

// WithRetry sets how many times an upload is attempted and the first wait
// between attempts. Non-positive values keep the defaults.
func WithRetry(maxAttempts int, initialInterval time.Duration) Option {
	return func(o *Orchestrator) {
		if maxAttempts > 0 {
			o.maxAttempts = maxAttempts
		}
		if initialInterval > 0 {
			o.initialInterval = initialInterval
		}
	}
}

// New creates an Orchestrator.
func New(d Deps, opts ...Option) *Orchestrator {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	o := &Orchestrator{
		log:             d.Log,
		reader:          d.Reader,
		assembler:       d.Assembler,
		extractor:       d.Extractor,
		uploader:        d.Uploader,
		storage:         d.Storage,
		logger:          logger,
		validate:        validator.New(),
		now:             time.Now,
		maxAttempts:     DefaultMaxAttempts,
		initialInterval: DefaultInitialInterval,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Summary counts the outcome of one stage run.
type Summary struct {
	Stage      string `json:"stage"`
	Candidates int    `json:"candidates"`
	Succeeded  int    `json:"succeeded"`
	Failed     int    `json:"failed"`
}

func (s *Summary) add(ok bool) {
	if ok {
		s.Succeeded++
		return
	}
	s.Failed++
}

// failurePayload is stored with failed records so the cause survives the run.
type failurePayload struct {
	Error string `json:"error"`
}

// httpUploadClient adapts upload.HTTPClient to UploadClient.
type httpUploadClient struct {
	client *upload.HTTPClient
}

// NewHTTPUploadClient wraps an upload.HTTPClient for use by the orchestrator.
func NewHTTPUploadClient(c *upload.HTTPClient) UploadClient {
	return &httpUploadClient{client: c}
}

// Open implements UploadClient.
func (h *httpUploadClient) Open(s upload.Session) (UploadSession, error) {
	svc, err := h.client.Session(s)
	if err != nil {
		return nil, err
	}
	return svc, nil
}
