package video

import (
	"context"
	"fmt"
	"time"
)

// MetadataWriter stamps a capture time into an image file.
type MetadataWriter interface {
	WriteCaptureTime(ctx context.Context, imagePath string, t time.Time) error
}

// ExiftoolWriter implements MetadataWriter with the exiftool CLI.
type ExiftoolWriter struct {
	exiftoolPath string
}

// NewExiftoolWriter creates a new ExiftoolWriter.
// If exiftoolPath is empty, it defaults to "exiftool" (found via PATH).
func NewExiftoolWriter(exiftoolPath string) *ExiftoolWriter {
	if exiftoolPath == "" {
		exiftoolPath = "exiftool"
	}
	return &ExiftoolWriter{exiftoolPath: exiftoolPath}
}

// WriteCaptureTime sets DateTimeOriginal and SubSecTimeOriginal in place.
func (w *ExiftoolWriter) WriteCaptureTime(ctx context.Context, imagePath string, t time.Time) error {
	_, err := runTool(ctx, "exiftool", w.exiftoolPath, captureTimeArgs(imagePath, t))
	return err
}

func captureTimeArgs(imagePath string, t time.Time) []string {
	t = t.UTC()
	return []string{
		"-q",
		"-overwrite_original",
		"-DateTimeOriginal=" + t.Format("2006:01:02 15:04:05"),
		fmt.Sprintf("-SubSecTimeOriginal=%03d", t.Nanosecond()/int(time.Millisecond)),
		imagePath,
	}
}
