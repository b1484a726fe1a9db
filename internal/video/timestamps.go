package video

import (
	"fmt"
	"math"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/maauso/geoseq/internal/apperr"
)

// FrameDigits is the width of the zero-padded index in frame filenames.
const FrameDigits = 6

// Container creation-time layouts accepted by ParseCreationTime.
const (
	CreationTimeLayout    = "2006-01-02 15:04:05"
	CreationTimeLayoutISO = "2006-01-02T15:04:05.000000Z"
)

// Basename returns the file name of path without its extension.
func Basename(path string) string {
	name := filepath.Base(path)
	return strings.TrimSuffix(name, filepath.Ext(name))
}

// ParseCreationTime parses a container creation-time tag as UTC.
func ParseCreationTime(s string) (time.Time, error) {
	for _, layout := range []string{CreationTimeLayout, CreationTimeLayoutISO} {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: creation time %q matches neither %q nor %q",
		apperr.ErrExternalTool, s, CreationTimeLayout, CreationTimeLayoutISO)
}

// FrameIndex parses the index of a frame named <base>_<NNNNNN>.<ext>.
func FrameIndex(base, filename string) (int, error) {
	name := filepath.Base(filename)
	rest, ok := strings.CutPrefix(name, base+"_")
	if !ok {
		return 0, fmt.Errorf("frame %q does not belong to %q", name, base)
	}
	digits := strings.TrimSuffix(rest, filepath.Ext(rest))
	if len(digits) != FrameDigits {
		return 0, fmt.Errorf("frame %q: index must be %d digits", name, FrameDigits)
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("frame %q: index must be numeric", name)
		}
	}
	return strconv.Atoi(digits)
}

// CaptureTime returns start + (index-1) * interval * ratio seconds.
func CaptureTime(start time.Time, index int, interval, ratio float64) time.Time {
	seconds := float64(index-1) * interval * ratio
	return start.Add(time.Duration(math.Round(seconds * float64(time.Second))))
}

// TimestampFromFilename derives the capture time of a sampled frame of base.
func TimestampFromFilename(base, filename string, start time.Time, interval, ratio float64) (time.Time, error) {
	idx, err := FrameIndex(base, filename)
	if err != nil {
		return time.Time{}, err
	}
	return CaptureTime(start, idx, interval, ratio), nil
}

// StartTime derives the recording start from a creation-time tag, which
// marks the end of the recording, and the measured duration in seconds.
func StartTime(creationTime string, duration float64) (time.Time, error) {
	end, err := ParseCreationTime(creationTime)
	if err != nil {
		return time.Time{}, err
	}
	return end.Add(-time.Duration(math.Round(duration * float64(time.Second)))), nil
}
