package metadata

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/rwcarlsen/goexif/exif"
	"github.com/tidwall/gjson"
)

// ErrExifUnreadable is returned when an image's embedded metadata cannot be decoded.
var ErrExifUnreadable = errors.New("exif unreadable")

// Reader produces the base description of an image from its embedded metadata.
type Reader interface {
	Read(path string) (*Description, error)
}

// ExifReader reads orientation, camera make and model, and any previously
// stored tag history from an image's EXIF block.
type ExifReader struct{}

// Read implements Reader.
func (ExifReader) Read(path string) (*Description, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrExifUnreadable, path, err)
	}
	defer f.Close()

	x, err := exif.Decode(f)
	if err != nil && (x == nil || exif.IsCriticalError(err)) {
		return nil, fmt.Errorf("%w: %s: %w", ErrExifUnreadable, path, err)
	}

	desc := &Description{}
	if tag, err := x.Get(exif.Orientation); err == nil {
		if v, err := tag.Int(0); err == nil {
			desc.Orientation = &v
		}
	}
	if v, ok := exifString(x, exif.Make); ok {
		desc.DeviceMake = &v
	}
	if v, ok := exifString(x, exif.Model); ok {
		desc.DeviceModel = &v
	}

	if raw, ok := exifString(x, exif.ImageDescription); ok {
		history, err := historyFromDescription(raw)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		desc.MetaTags = history
	}
	return desc, nil
}

func exifString(x *exif.Exif, name exif.FieldName) (string, bool) {
	tag, err := x.Get(name)
	if err != nil {
		return "", false
	}
	v, err := tag.StringVal()
	if err != nil {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

// historyFromDescription extracts tag history from an image description.
// Free-text descriptions carry no history. A JSON description holds the
// buckets under MAPMetaTags, or is the bucket object itself when every key
// names a bucket; any other JSON object carries no history.
func historyFromDescription(raw string) (MetaTags, error) {
	if !gjson.Valid(raw) || !gjson.Parse(raw).IsObject() {
		return MetaTags{}, nil
	}
	if nested := gjson.Get(raw, "MAPMetaTags"); nested.Exists() {
		return ParseHistory(nested.Raw)
	}
	if !onlyBuckets(gjson.Parse(raw)) {
		return MetaTags{}, nil
	}
	return ParseHistory(raw)
}

func onlyBuckets(obj gjson.Result) bool {
	all := true
	obj.ForEach(func(k, _ gjson.Result) bool {
		all = Bucket(k.String()).IsValid()
		return all
	})
	return all
}
