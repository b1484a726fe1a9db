// Package bootstrap provides dependency initialization for the geoseq CLI.
package bootstrap

import (
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/maauso/geoseq/internal/config"
	"github.com/maauso/geoseq/internal/metadata"
	"github.com/maauso/geoseq/internal/pipeline"
	"github.com/maauso/geoseq/internal/processlog"
	"github.com/maauso/geoseq/internal/storage"
	"github.com/maauso/geoseq/internal/upload"
	"github.com/maauso/geoseq/internal/video"
)

// Dependencies holds all initialized dependencies for one CLI invocation.
type Dependencies struct {
	Orchestrator *pipeline.Orchestrator
	Logger       *slog.Logger

	db *sql.DB
}

// Close releases the process log database.
func (d *Dependencies) Close() error {
	if d.db == nil {
		return nil
	}
	return d.db.Close()
}

// NewDependencies creates and initializes all dependencies for the
// application. The process log lives under importRoot unless the
// configuration points elsewhere.
func NewDependencies(cfg *config.Config, logger *slog.Logger, importRoot, version string) (*Dependencies, error) {
	// Every record written by this invocation can be traced back to it.
	logger = logger.With(slog.String("run_id", uuid.NewString()))

	// Initialize storage
	store, err := initStorage(cfg, logger)
	if err != nil {
		return nil, err
	}

	// Initialize process log
	logPath := cfg.ResolveProcessLogPath(importRoot)
	db, err := processlog.OpenSQLite(logPath)
	if err != nil {
		return nil, err
	}
	repo, err := processlog.NewSQLiteRepository(db)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create process log: %w", err)
	}
	logger.Debug("process log opened", slog.String("path", logPath))

	// Initialize frame extraction
	extractor := video.NewExtractor(
		video.NewFFmpegSampler(cfg.FFmpegPath),
		video.NewFFprobe(cfg.FFprobePath),
		video.NewExiftoolWriter(cfg.ExiftoolPath),
		logger,
	)

	// Initialize upload client
	uploadClient := upload.NewClient(
		upload.WithUploadURL(cfg.UploadEndpoint),
		upload.WithGraphURL(cfg.GraphEndpoint),
	)

	orch := pipeline.New(pipeline.Deps{
		Log:       processlog.NewLog(repo),
		Reader:    metadata.ExifReader{},
		Assembler: metadata.NewAssembler(version),
		Extractor: extractor,
		Uploader:  pipeline.NewHTTPUploadClient(uploadClient),
		Storage:   store,
		Logger:    logger,
	}, pipeline.WithRetry(cfg.UploadMaxAttempts, 0))

	return &Dependencies{
		Orchestrator: orch,
		Logger:       logger,
		db:           db,
	}, nil
}

// initStorage creates the appropriate storage backend based on configuration.
func initStorage(cfg *config.Config, logger *slog.Logger) (storage.Storage, error) {
	if cfg.S3Enabled() {
		s3Cfg := storage.S3Config{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretAccessKey,
		}
		s3Store, err := storage.NewS3Storage(cfg.TempDir, s3Cfg)
		if err != nil {
			return nil, fmt.Errorf("create S3 storage: %w", err)
		}
		logger.Debug("S3 storage configured",
			slog.String("bucket", cfg.S3Bucket),
			slog.String("region", cfg.S3Region),
		)
		return s3Store, nil
	}

	localStore, err := storage.NewLocalStorage(cfg.TempDir)
	if err != nil {
		return nil, fmt.Errorf("create local storage: %w", err)
	}
	logger.Debug("local storage configured",
		slog.String("temp_dir", cfg.TempDir),
	)
	return localStore, nil
}
