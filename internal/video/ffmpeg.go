package video

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
)

// Sampler extracts frames from a video into a directory.
type Sampler interface {
	// Sample writes frames of videoPath into outDir, one every interval
	// seconds, and returns the emitted frame paths in index order.
	Sample(ctx context.Context, videoPath, outDir string, interval float64) ([]string, error)
}

// FFmpegSampler implements Sampler using the ffmpeg CLI.
type FFmpegSampler struct {
	ffmpegPath string
}

// NewFFmpegSampler creates a new FFmpegSampler.
// If ffmpegPath is empty, it defaults to "ffmpeg" (found via PATH).
func NewFFmpegSampler(ffmpegPath string) *FFmpegSampler {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return &FFmpegSampler{ffmpegPath: ffmpegPath}
}

// Sample implements Sampler. Frames are named <basename>_<NNNNNN>.jpg.
func (s *FFmpegSampler) Sample(ctx context.Context, videoPath, outDir string, interval float64) ([]string, error) {
	if err := os.MkdirAll(outDir, 0o750); err != nil {
		return nil, fmt.Errorf("create sampling directory: %w", err)
	}

	base := Basename(videoPath)
	args := []string{
		"-y",
		"-i", videoPath,
		"-loglevel", "error",
		"-vf", "fps=1/" + strconv.FormatFloat(interval, 'f', -1, 64),
		"-qscale", "1",
		"-nostdin",
		filepath.Join(outDir, base+"_%0"+strconv.Itoa(FrameDigits)+"d.jpg"),
	}

	if _, err := runTool(ctx, "ffmpeg", s.ffmpegPath, args); err != nil {
		return nil, err
	}

	return ListFrames(outDir, base)
}

// ListFrames returns the frames of base found in dir, ordered by index.
// Files that do not follow the frame naming scheme are ignored.
func ListFrames(dir, base string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read sampling directory: %w", err)
	}

	type indexed struct {
		index int
		path  string
	}
	var frames []indexed
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		idx, err := FrameIndex(base, e.Name())
		if err != nil {
			continue
		}
		frames = append(frames, indexed{idx, filepath.Join(dir, e.Name())})
	}
	slices.SortFunc(frames, func(a, b indexed) int { return a.index - b.index })

	paths := make([]string, len(frames))
	for i, f := range frames {
		paths[i] = f.path
	}
	return paths, nil
}
