package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/maauso/geoseq/internal/apperr"
	"github.com/maauso/geoseq/internal/processlog"
	"github.com/maauso/geoseq/internal/scan"
	"github.com/maauso/geoseq/internal/storage"
	"github.com/maauso/geoseq/internal/video"
)

// SampleInput configures a video sampling run.
type SampleInput struct {
	// VideoPath is a video file, a directory of videos, or an s3:// reference.
	VideoPath string `validate:"required"`
	// ImportPath is an existing directory that receives the sampled frames.
	// When empty, frames go under the video source directory; remote videos
	// require it.
	ImportPath     string
	Options        video.Options
	Rerun          bool
	SkipSubfolders bool
}

type samplePayload struct {
	SamplingDir string `json:"sampling_dir"`
	Frames      int    `json:"frames"`
	FirstFrame  string `json:"first_capture_time,omitempty"`
	LastFrame   string `json:"last_capture_time,omitempty"`
}

// SampleVideos samples every pending video and stamps the frames with
// capture times.
func (o *Orchestrator) SampleVideos(ctx context.Context, in SampleInput) (*Summary, error) {
	if err := o.validate.Struct(in); err != nil {
		return nil, fmt.Errorf("%w: %w", apperr.ErrValidation, err)
	}

	videos, err := resolveVideos(in)
	if err != nil {
		return nil, err
	}
	importRoot, err := sampleRoot(in)
	if err != nil {
		return nil, err
	}
	pending, err := o.log.Filter(ctx, videos, processlog.StageVideoSampling, in.Rerun)
	if err != nil {
		return nil, err
	}

	sum := &Summary{Stage: processlog.StageVideoSampling, Candidates: len(pending)}
	o.logger.Info("sampling videos",
		slog.String("video_path", in.VideoPath),
		slog.Int("candidates", len(pending)),
		slog.Float64("interval", in.Options.Interval),
	)

	for _, ref := range pending {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		ok, err := o.sampleVideo(ctx, ref, importRoot, in.Options)
		sum.add(ok)
		if err != nil {
			return sum, err
		}
	}

	o.logger.Info("videos sampled",
		slog.Int("succeeded", sum.Succeeded),
		slog.Int("failed", sum.Failed),
	)
	return sum, nil
}

// sampleVideo reports whether the video succeeded. The returned error is set
// when the outcome could not be recorded or the failure affects every video.
func (o *Orchestrator) sampleVideo(ctx context.Context, ref, importRoot string, opts video.Options) (bool, error) {
	payload, err := o.extract(ctx, ref, importRoot, opts)
	if err != nil {
		o.logger.Warn("failed to sample video",
			slog.String("video", ref),
			slog.String("error", err.Error()),
		)
		if rerr := o.log.Record(ctx, ref, processlog.StageVideoSampling, processlog.StatusFailed, failurePayload{Error: err.Error()}); rerr != nil {
			return false, rerr
		}
		if video.IsToolMissing(err) || ctx.Err() != nil {
			return false, err
		}
		return false, nil
	}
	if err := o.log.Record(ctx, ref, processlog.StageVideoSampling, processlog.StatusSuccess, payload); err != nil {
		return false, err
	}
	return true, nil
}

func (o *Orchestrator) extract(ctx context.Context, ref, importRoot string, opts video.Options) (*samplePayload, error) {
	local := ref
	if storage.IsRemote(ref) {
		fetched, err := o.storage.Fetch(ctx, ref)
		if err != nil {
			return nil, err
		}
		defer o.cleanup(fetched)
		local = fetched
	}

	outDir := video.SamplingDir(importRoot, local)
	frames, err := o.extractor.Extract(ctx, local, outDir, opts)
	if err != nil {
		return nil, err
	}

	p := &samplePayload{SamplingDir: outDir, Frames: len(frames)}
	if len(frames) > 0 {
		p.FirstFrame = frames[0].CaptureTime.UTC().Format(video.CreationTimeLayoutISO)
		p.LastFrame = frames[len(frames)-1].CaptureTime.UTC().Format(video.CreationTimeLayoutISO)
	}
	return p, nil
}

// cleanup removes a fetched temporary file. It runs on its own context so a
// cancelled stage still releases its downloads.
func (o *Orchestrator) cleanup(path string) {
	if err := o.storage.CleanupTemp(context.Background(), []string{path}); err != nil {
		o.logger.Warn("failed to cleanup temp file",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
	}
}

// sampleRoot returns the absolute directory that anchors the sampling
// directory: the import path when given, else the video source directory.
// The import path must already exist.
func sampleRoot(in SampleInput) (string, error) {
	if in.ImportPath == "" {
		if storage.IsRemote(in.VideoPath) {
			return "", fmt.Errorf("%w: an import path is required for remote videos", apperr.ErrValidation)
		}
		return filepath.Abs(SamplingAnchor("", in.VideoPath))
	}
	return existingDir(in.ImportPath)
}

// SamplingAnchor returns the directory under which the sampling directory of
// a video source lives. A directory source anchors on itself and a single
// video on its parent, unless importPath overrides both.
func SamplingAnchor(importPath, videoPath string) string {
	if importPath != "" {
		return importPath
	}
	if info, err := os.Stat(videoPath); err == nil {
		if info.IsDir() {
			return videoPath
		}
		return filepath.Dir(videoPath)
	}
	if scan.IsVideo(videoPath) {
		return filepath.Dir(videoPath)
	}
	return videoPath
}

// resolveVideos expands the video source into the list of videos to consider.
// Local paths are made absolute so process records use stable keys.
func resolveVideos(in SampleInput) ([]string, error) {
	if storage.IsRemote(in.VideoPath) {
		if _, _, err := storage.ParseS3Ref(in.VideoPath); err != nil {
			return nil, fmt.Errorf("%w: %w", apperr.ErrValidation, err)
		}
		return []string{in.VideoPath}, nil
	}

	abs, err := filepath.Abs(in.VideoPath)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", in.VideoPath, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("%w: video path %s does not exist", apperr.ErrPath, in.VideoPath)
	}
	if info.IsDir() {
		return scan.Videos(abs, in.SkipSubfolders)
	}
	return []string{abs}, nil
}
