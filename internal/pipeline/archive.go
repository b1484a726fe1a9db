package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/maauso/geoseq/internal/apperr"
	"github.com/maauso/geoseq/internal/archive"
	"github.com/maauso/geoseq/internal/processlog"
	"github.com/maauso/geoseq/internal/scan"
)

// DefaultArchiveName is where the archive is written, relative to the import
// root, when no output is given.
const DefaultArchiveName = ".geoseq/sequence.zip"

// ArchiveInput configures an archive build.
type ArchiveInput struct {
	ImportPath     string `validate:"required"`
	Output         string
	SkipSubfolders bool
	// PublishKey, when set, also stores the archive under this object key.
	PublishKey string
}

// ArchiveResult describes a built archive.
type ArchiveResult struct {
	archive.Result
	// Skipped counts images left out because they have no successful
	// metadata record.
	Skipped int    `json:"skipped"`
	URL     string `json:"url,omitempty"`
}

// BuildArchive packs every image with a successful metadata record into a
// zip together with its description.
func (o *Orchestrator) BuildArchive(ctx context.Context, in ArchiveInput) (*ArchiveResult, error) {
	if err := o.validate.Struct(in); err != nil {
		return nil, fmt.Errorf("%w: %w", apperr.ErrValidation, err)
	}
	root, err := existingDir(in.ImportPath)
	if err != nil {
		return nil, err
	}
	images, err := scan.Images(root, in.SkipSubfolders)
	if err != nil {
		return nil, err
	}

	entries := make([]archive.Entry, 0, len(images))
	skipped := 0
	for _, img := range images {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rec, err := o.log.Lookup(ctx, img, processlog.StageImportMeta)
		if errors.Is(err, processlog.ErrRecordNotFound) {
			skipped++
			continue
		}
		if err != nil {
			return nil, err
		}
		if rec.Status != processlog.StatusSuccess {
			skipped++
			continue
		}
		entries = append(entries, archive.Entry{Path: img, Description: rec.Payload})
	}

	dst := in.Output
	if dst == "" {
		dst = filepath.Join(root, DefaultArchiveName)
	}
	res, err := archive.Build(ctx, root, entries, dst)
	if err != nil {
		return nil, err
	}

	out := &ArchiveResult{Result: *res, Skipped: skipped}
	o.logger.Info("archive built",
		slog.String("path", res.Path),
		slog.Int("images", res.Images),
		slog.Int("skipped", skipped),
		slog.Int64("size", res.Size),
		slog.String("md5", res.MD5),
	)

	if in.PublishKey != "" {
		url, err := o.storage.Publish(ctx, res.Path, in.PublishKey)
		if err != nil {
			return nil, fmt.Errorf("publish archive: %w", err)
		}
		out.URL = url
		o.logger.Info("archive published", slog.String("url", url))
	}
	return out, nil
}
