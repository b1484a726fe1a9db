package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/maauso/geoseq/internal/apperr"
	"github.com/maauso/geoseq/internal/metadata"
	"github.com/maauso/geoseq/internal/processlog"
	"github.com/maauso/geoseq/internal/storage"
	"github.com/maauso/geoseq/internal/video"
)

// ImportMetaInput configures a metadata assembly run.
type ImportMetaInput struct {
	ImportPath string `validate:"required_without=VideoPath"`
	// VideoPath, when set, selects the frames sampled from this video source
	// instead: <import path or video directory>/mapillary_sampled_video_frames.
	VideoPath      string
	Rerun          bool
	SkipSubfolders bool
	Options        metadata.Options
}

// ProcessImportMeta assembles and records a description for every pending
// image under the import path.
func (o *Orchestrator) ProcessImportMeta(ctx context.Context, in ImportMetaInput) (*Summary, error) {
	if err := o.validate.Struct(in); err != nil {
		return nil, fmt.Errorf("%w: %w", apperr.ErrValidation, err)
	}
	root, err := importMetaRoot(in)
	if err != nil {
		return nil, err
	}
	// Malformed custom tags would fail every file; reject them up front.
	if _, err := metadata.ParseCustomTags(in.Options.CustomMetaData); err != nil {
		return nil, err
	}

	opts := in.Options
	if opts.AddImportDate && opts.ImportTime.IsZero() {
		opts.ImportTime = o.now()
	}

	candidates, err := o.log.ListCandidates(ctx, root, processlog.StageImportMeta, in.Rerun, in.SkipSubfolders)
	if err != nil {
		return nil, err
	}

	sum := &Summary{Stage: processlog.StageImportMeta, Candidates: len(candidates)}
	o.logger.Info("processing import metadata",
		slog.String("import_path", root),
		slog.Int("candidates", len(candidates)),
		slog.Bool("rerun", in.Rerun),
	)

	for _, img := range candidates {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		ok, err := o.processImage(ctx, img, root, opts)
		sum.add(ok)
		if err != nil {
			return sum, err
		}
	}

	o.logger.Info("import metadata processed",
		slog.Int("succeeded", sum.Succeeded),
		slog.Int("failed", sum.Failed),
	)
	return sum, nil
}

// processImage reports whether the image succeeded. The returned error is set
// only when the outcome could not be recorded.
func (o *Orchestrator) processImage(ctx context.Context, img, root string, opts metadata.Options) (bool, error) {
	desc, err := o.describe(img, root, opts)
	if err != nil {
		o.logger.Warn("failed to process image metadata",
			slog.String("image", img),
			slog.String("error", err.Error()),
		)
		return false, o.log.Record(ctx, img, processlog.StageImportMeta, processlog.StatusFailed, failurePayload{Error: err.Error()})
	}
	if err := o.log.Record(ctx, img, processlog.StageImportMeta, processlog.StatusSuccess, desc); err != nil {
		return false, err
	}
	return true, nil
}

func (o *Orchestrator) describe(img, root string, opts metadata.Options) (*metadata.Description, error) {
	base, err := o.reader.Read(img)
	if err != nil {
		return nil, err
	}
	return o.assembler.Assemble(base, img, root, opts)
}

// existingDir resolves path and requires it to be a directory.
// SampledFramesDir returns the directory holding the frames sampled from
// videoPath, anchored on importPath when it is set.
func SampledFramesDir(importPath, videoPath string) string {
	return filepath.Join(SamplingAnchor(importPath, videoPath), video.SamplingDirName)
}

func importMetaRoot(in ImportMetaInput) (string, error) {
	if in.VideoPath == "" {
		return existingDir(in.ImportPath)
	}
	if storage.IsRemote(in.VideoPath) {
		if in.ImportPath == "" {
			return "", fmt.Errorf("%w: an import path is required for remote videos", apperr.ErrValidation)
		}
	} else if _, err := os.Stat(in.VideoPath); err != nil {
		return "", fmt.Errorf("%w: video path %s does not exist", apperr.ErrPath, in.VideoPath)
	}
	return existingDir(SampledFramesDir(in.ImportPath, in.VideoPath))
}

func existingDir(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", path, err)
	}
	info, err := os.Stat(abs)
	if err != nil || !info.IsDir() {
		return "", fmt.Errorf("%w: import directory %s does not exist", apperr.ErrPath, path)
	}
	return abs, nil
}
