package video

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/maauso/geoseq/internal/apperr"
)

// SamplingDirName is the directory under the import root that receives sampled frames.
const SamplingDirName = "mapillary_sampled_video_frames"

// Options controls the extraction of one video.
type Options struct {
	// Interval is the sampling period in seconds.
	Interval float64 `validate:"gt=0"`
	// StartTime anchors frame timestamps. Nil means derive it from the container.
	StartTime *time.Time
	// DurationRatio scales the nominal interval to the measured duration.
	DurationRatio float64 `validate:"gt=0"`
	// Timeout bounds the whole extraction. Zero means no timeout.
	Timeout time.Duration `validate:"gte=0"`
}

// Frame is one sampled image with its derived capture time.
type Frame struct {
	Index       int
	Path        string
	CaptureTime time.Time
}

// Extractor samples frames from a video and stamps their capture times.
type Extractor struct {
	sampler  Sampler
	prober   Prober
	writer   MetadataWriter
	logger   *slog.Logger
	validate *validator.Validate
}

// NewExtractor creates a new Extractor.
func NewExtractor(sampler Sampler, prober Prober, writer MetadataWriter, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{
		sampler:  sampler,
		prober:   prober,
		writer:   writer,
		logger:   logger,
		validate: validator.New(),
	}
}

// SamplingDir returns where frames of videoPath are written. When importRoot
// is empty the directory sits next to the video.
func SamplingDir(importRoot, videoPath string) string {
	root := importRoot
	if root == "" {
		root = filepath.Dir(videoPath)
	}
	return filepath.Join(root, SamplingDirName, Basename(videoPath))
}

// Extract samples videoPath into outDir and writes a capture time into every
// frame. A video that yields no frames is not an error: a warning is logged
// and an empty result returned.
func (e *Extractor) Extract(ctx context.Context, videoPath, outDir string, opts Options) ([]Frame, error) {
	if err := e.validate.Struct(opts); err != nil {
		return nil, fmt.Errorf("%w: %w", apperr.ErrValidation, err)
	}
	if info, err := os.Stat(videoPath); err != nil || info.IsDir() {
		return nil, fmt.Errorf("%w: video %s does not exist", apperr.ErrPath, videoPath)
	}

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	start, err := e.startTime(ctx, videoPath, opts)
	if err != nil {
		return nil, err
	}

	paths, err := e.sampler.Sample(ctx, videoPath, outDir, opts.Interval)
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		e.logger.Warn("no video frames were sampled",
			slog.String("video", videoPath),
			slog.String("output_dir", outDir),
		)
		return nil, nil
	}

	base := Basename(videoPath)
	frames := make([]Frame, 0, len(paths))
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		idx, err := FrameIndex(base, p)
		if err != nil {
			return nil, err
		}
		at := CaptureTime(start, idx, opts.Interval, opts.DurationRatio)
		if err := e.writer.WriteCaptureTime(ctx, p, at); err != nil {
			return nil, fmt.Errorf("write capture time to %s: %w", p, err)
		}
		frames = append(frames, Frame{Index: idx, Path: p, CaptureTime: at})
	}

	e.logger.Debug("video sampled",
		slog.String("video", videoPath),
		slog.Int("frames", len(frames)),
		slog.Time("start_time", start),
	)
	return frames, nil
}

func (e *Extractor) startTime(ctx context.Context, videoPath string, opts Options) (time.Time, error) {
	if opts.StartTime != nil {
		return opts.StartTime.UTC(), nil
	}

	res, err := e.prober.Probe(ctx, videoPath)
	if err != nil {
		return time.Time{}, err
	}
	start, err := StartTime(res.CreationTime, res.Duration)
	if err != nil {
		return time.Time{}, fmt.Errorf("video %s: %w", videoPath, err)
	}
	return start, nil
}
