package metadata

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/maauso/geoseq/internal/apperr"
)

// Bucket names a MetaTags bucket.
type Bucket string

// Known buckets. Custom tag types are the singular form of these names.
const (
	BucketStrings  Bucket = "strings"
	BucketDoubles  Bucket = "doubles"
	BucketLongs    Bucket = "longs"
	BucketDates    Bucket = "dates"
	BucketBooleans Bucket = "booleans"
)

// IsValid returns true if b is one of the known buckets.
func (b Bucket) IsValid() bool {
	switch b {
	case BucketStrings, BucketDoubles, BucketLongs, BucketDates, BucketBooleans:
		return true
	default:
		return false
	}
}

// TagError reports a custom tag entry that could not be parsed.
type TagError struct {
	Entry  string
	Reason string
}

func (e *TagError) Error() string {
	return fmt.Sprintf("unable to parse tag %q: %s", e.Entry, e.Reason)
}

func (e *TagError) Unwrap() error {
	return apperr.ErrValidation
}

// Add parses raw according to bucket and appends it under key.
func (m *MetaTags) Add(bucket Bucket, key, raw string) error {
	switch bucket {
	case BucketStrings:
		m.Strings = append(m.Strings, Tag[string]{Key: key, Value: raw})
	case BucketDoubles:
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return err
		}
		m.Doubles = append(m.Doubles, Tag[float64]{Key: key, Value: v})
	case BucketLongs:
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return err
		}
		m.Longs = append(m.Longs, Tag[int64]{Key: key, Value: v})
	case BucketDates:
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return err
		}
		m.Dates = append(m.Dates, Tag[int64]{Key: key, Value: v})
	case BucketBooleans:
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return err
		}
		m.Booleans = append(m.Booleans, Tag[bool]{Key: key, Value: v})
	default:
		return fmt.Errorf("invalid tag type %q", bucket)
	}
	return nil
}

// ParseCustomTags parses a "name,type,value;name,type,value" list.
// type is one of string, double, long, date or boolean. Any malformed entry
// fails the whole list with a *TagError naming that entry.
func ParseCustomTags(raw string) (MetaTags, error) {
	var tags MetaTags
	if raw == "" {
		return tags, nil
	}

	for _, entry := range strings.Split(raw, ";") {
		fields := strings.Split(entry, ",")
		if len(fields) != 3 {
			return MetaTags{}, &TagError{Entry: entry, Reason: `it must be "name,type,value"`}
		}
		name := strings.TrimSpace(fields[0])
		bucket := Bucket(strings.TrimSpace(fields[1]) + "s")
		value := strings.TrimSpace(fields[2])

		if !bucket.IsValid() {
			return MetaTags{}, &TagError{Entry: entry, Reason: fmt.Sprintf("invalid tag type %q", fields[1])}
		}
		if err := tags.Add(bucket, name, value); err != nil {
			return MetaTags{}, &TagError{Entry: entry, Reason: fmt.Sprintf("value is not a valid %s", strings.TrimSuffix(string(bucket), "s"))}
		}
	}
	return tags, nil
}
