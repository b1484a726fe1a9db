// Package config provides configuration loading from environment variables.
package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/sethvargo/go-envconfig"
)

// Static errors for configuration validation.
var (
	// ErrAccessTokenRequired is returned when USER_ACCESS_TOKEN is not set for an upload.
	ErrAccessTokenRequired = errors.New("config: USER_ACCESS_TOKEN is required for upload")
	// ErrInvalidChunkSize is returned when UPLOAD_CHUNK_SIZE is not positive.
	ErrInvalidChunkSize = errors.New("config: UPLOAD_CHUNK_SIZE must be positive")
)

// DefaultChunkSize is the amount of archive data sent per append request.
const DefaultChunkSize = 64 * 1024 * 1024

// Config holds all configuration for the application.
type Config struct {
	// Upload service settings
	UploadEndpoint  string `env:"UPLOAD_ENDPOINT, default=https://rupload.facebook.com/mapillary_public_uploads" json:"upload_endpoint"`
	GraphEndpoint   string `env:"GRAPH_ENDPOINT, default=https://graph.mapillary.com" json:"graph_endpoint"`
	UserAccessToken string `env:"USER_ACCESS_TOKEN" json:"-"` // Masked in JSON
	OrganizationID  string `env:"ORGANIZATION_ID" json:"organization_id,omitempty"`

	UploadChunkSize   int64 `env:"UPLOAD_CHUNK_SIZE, default=67108864" json:"upload_chunk_size"`
	UploadMaxAttempts int   `env:"UPLOAD_MAX_ATTEMPTS, default=5" json:"upload_max_attempts"`

	// Process log location; relative paths are resolved against the import root.
	ProcessLogPath string `env:"PROCESS_LOG_PATH, default=.geoseq/process.db" json:"process_log_path"`

	// External tools
	FFmpegPath   string `env:"FFMPEG_PATH, default=ffmpeg" json:"ffmpeg_path"`
	FFprobePath  string `env:"FFPROBE_PATH, default=ffprobe" json:"ffprobe_path"`
	ExiftoolPath string `env:"EXIFTOOL_PATH, default=exiftool" json:"exiftool_path"`

	// Storage settings
	TempDir string `env:"TEMP_DIR, default=/tmp/geoseq" json:"temp_dir"`

	// Optional S3 settings
	S3Bucket           string `env:"S3_BUCKET" json:"s3_bucket,omitempty"`
	S3Region           string `env:"S3_REGION" json:"s3_region,omitempty"`
	S3Endpoint         string `env:"S3_ENDPOINT" json:"s3_endpoint,omitempty"`
	AWSAccessKeyID     string `env:"AWS_ACCESS_KEY_ID" json:"-"`     // Masked in JSON
	AWSSecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY" json:"-"` // Masked in JSON

	// Logging settings
	LogFormat string `env:"LOG_FORMAT, default=text" json:"log_format"` // "json" or "text"
	LogLevel  string `env:"LOG_LEVEL, default=info" json:"log_level"`   // "debug", "info", "warn", "error"
}

// S3Enabled returns true if S3 configuration is provided.
func (c *Config) S3Enabled() bool {
	return c.S3Region != ""
}

// Load reads configuration from environment variables using go-envconfig.
func Load() (*Config, error) {
	cfg := &Config{}

	if err := envconfig.Process(context.Background(), cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	if cfg.UploadChunkSize <= 0 {
		return nil, ErrInvalidChunkSize
	}

	return cfg, nil
}

// RequireUpload checks that the settings needed by the upload stage are present.
func (c *Config) RequireUpload() error {
	if c.UserAccessToken == "" {
		return ErrAccessTokenRequired
	}
	if c.UploadChunkSize <= 0 {
		return ErrInvalidChunkSize
	}
	return nil
}

// ResolveProcessLogPath returns the process log location for an import root.
func (c *Config) ResolveProcessLogPath(importRoot string) string {
	if filepath.IsAbs(c.ProcessLogPath) || importRoot == "" {
		return c.ProcessLogPath
	}
	return filepath.Join(importRoot, c.ProcessLogPath)
}

// NewLogger creates a structured logger based on the configuration.
// When LogFormat is "json", it outputs JSON logs suitable for machine consumption.
// Otherwise, it outputs human-readable text logs. Logs go to stderr so stdout
// stays free for command results.
func (c *Config) NewLogger() *slog.Logger {
	level := parseLogLevel(c.LogLevel)

	var handler slog.Handler
	if strings.ToLower(c.LogFormat) == "json" {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
			Level: level,
		})
	} else {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: level,
		})
	}

	return slog.New(handler)
}

// String returns a string representation of the config with sensitive values masked.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{UploadEndpoint: %s, GraphEndpoint: %s, OrganizationID: %s, UploadChunkSize: %d, UploadMaxAttempts: %d, ProcessLogPath: %s, TempDir: %s, S3Bucket: %s, S3Region: %s, LogFormat: %s, LogLevel: %s}",
		c.UploadEndpoint,
		c.GraphEndpoint,
		c.OrganizationID,
		c.UploadChunkSize,
		c.UploadMaxAttempts,
		c.ProcessLogPath,
		c.TempDir,
		c.S3Bucket,
		c.S3Region,
		c.LogFormat,
		c.LogLevel,
	)
}

// parseLogLevel converts a string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
