package video

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/tidwall/gjson"
	"github.com/xfrr/goffmpeg/transcoder"

	"github.com/maauso/geoseq/internal/apperr"
)

// ErrNoCreationTime is returned when a video carries no creation-time tag.
var ErrNoCreationTime = errors.New("video has no creation_time tag")

// ProbeResult holds the container facts needed to anchor frame timestamps.
type ProbeResult struct {
	CreationTime string
	// Duration of the first video stream, in seconds.
	Duration float64
}

// Prober inspects a video container.
type Prober interface {
	Probe(ctx context.Context, videoPath string) (*ProbeResult, error)
}

// FFprobe implements Prober with ffprobe's JSON output. When the video stream
// reports no duration, the container duration read through goffmpeg is used.
type FFprobe struct {
	ffprobePath string
	duration    func(videoPath string) (float64, error)
}

// NewFFprobe creates a new FFprobe.
// If ffprobePath is empty, it defaults to "ffprobe" (found via PATH).
func NewFFprobe(ffprobePath string) *FFprobe {
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &FFprobe{ffprobePath: ffprobePath, duration: containerDuration}
}

// Probe implements Prober.
func (p *FFprobe) Probe(ctx context.Context, videoPath string) (*ProbeResult, error) {
	out, err := runTool(ctx, "ffprobe", p.ffprobePath, []string{
		"-v", "error",
		"-print_format", "json",
		"-show_streams",
		videoPath,
	})
	if err != nil {
		return nil, err
	}

	res, err := parseProbeOutput(out)
	if err != nil {
		return nil, fmt.Errorf("%w: probe %s: %w", apperr.ErrExternalTool, videoPath, err)
	}
	if res.Duration <= 0 {
		if res.Duration, err = p.duration(videoPath); err != nil {
			return nil, fmt.Errorf("%w: probe %s: %w", apperr.ErrExternalTool, videoPath, err)
		}
	}
	return res, nil
}

// parseProbeOutput reads the first video stream of an ffprobe -show_streams
// JSON document. A missing stream duration is reported as zero.
func parseProbeOutput(out []byte) (*ProbeResult, error) {
	if !gjson.ValidBytes(out) {
		return nil, errors.New("ffprobe output is not valid JSON")
	}
	stream := gjson.GetBytes(out, `streams.#(codec_type=="video")`)
	if !stream.Exists() {
		return nil, errors.New("no video stream found")
	}

	creation := stream.Get("tags.creation_time")
	if !creation.Exists() || creation.String() == "" {
		return nil, ErrNoCreationTime
	}

	res := &ProbeResult{CreationTime: creation.String()}
	if d := stream.Get("duration"); d.Exists() {
		v, err := strconv.ParseFloat(d.String(), 64)
		if err != nil {
			return nil, fmt.Errorf("could not parse duration %q: %w", d.String(), err)
		}
		res.Duration = v
	}
	return res, nil
}

// containerDuration reads the container duration using goffmpeg.
func containerDuration(videoPath string) (float64, error) {
	trans := new(transcoder.Transcoder)
	if err := trans.Initialize(videoPath, ""); err != nil {
		return 0, fmt.Errorf("failed to initialize transcoder for metadata: %w", err)
	}

	raw := trans.MediaFile().Metadata().Format.Duration
	if raw == "" {
		return 0, errors.New("empty duration in video metadata")
	}
	seconds, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse duration '%s': %w", raw, err)
	}
	if seconds <= 0 {
		return 0, fmt.Errorf("invalid or zero duration: %f seconds", seconds)
	}
	return seconds, nil
}
