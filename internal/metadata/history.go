package metadata

import (
	"fmt"

	"github.com/tidwall/gjson"

	"github.com/maauso/geoseq/internal/apperr"
)

// ParseHistory decodes a previously stored tag history. The input must be a
// JSON object whose keys are bucket names and whose values are arrays of
// {"key", "value"} objects typed for that bucket. Anything else is rejected;
// the content is never evaluated.
func ParseHistory(raw string) (MetaTags, error) {
	var tags MetaTags
	if !gjson.Valid(raw) {
		return tags, fmt.Errorf("%w: tag history is not valid JSON", apperr.ErrValidation)
	}
	root := gjson.Parse(raw)
	if !root.IsObject() {
		return tags, fmt.Errorf("%w: tag history must be an object", apperr.ErrValidation)
	}

	var err error
	root.ForEach(func(k, v gjson.Result) bool {
		bucket := Bucket(k.String())
		if !bucket.IsValid() {
			err = fmt.Errorf("%w: unknown tag bucket %q", apperr.ErrValidation, bucket)
			return false
		}
		if !v.IsArray() {
			err = fmt.Errorf("%w: tag bucket %q must be an array", apperr.ErrValidation, bucket)
			return false
		}
		for _, item := range v.Array() {
			if err = addHistoryItem(&tags, bucket, item); err != nil {
				return false
			}
		}
		return true
	})
	if err != nil {
		return MetaTags{}, err
	}
	return tags, nil
}

func addHistoryItem(tags *MetaTags, bucket Bucket, item gjson.Result) error {
	key := item.Get("key")
	value := item.Get("value")
	if key.Type != gjson.String || !value.Exists() {
		return fmt.Errorf("%w: malformed %s entry %s", apperr.ErrValidation, bucket, item.Raw)
	}

	mistyped := func() error {
		return fmt.Errorf("%w: %s entry %q has a mistyped value %s", apperr.ErrValidation, bucket, key.String(), value.Raw)
	}

	switch bucket {
	case BucketStrings:
		if value.Type != gjson.String {
			return mistyped()
		}
		tags.Strings = append(tags.Strings, Tag[string]{Key: key.String(), Value: value.String()})
	case BucketDoubles:
		if value.Type != gjson.Number {
			return mistyped()
		}
		tags.Doubles = append(tags.Doubles, Tag[float64]{Key: key.String(), Value: value.Float()})
	case BucketLongs, BucketDates:
		if value.Type != gjson.Number || value.Float() != float64(value.Int()) {
			return mistyped()
		}
		t := Tag[int64]{Key: key.String(), Value: value.Int()}
		if bucket == BucketLongs {
			tags.Longs = append(tags.Longs, t)
		} else {
			tags.Dates = append(tags.Dates, t)
		}
	case BucketBooleans:
		if !value.IsBool() {
			return mistyped()
		}
		tags.Booleans = append(tags.Booleans, Tag[bool]{Key: key.String(), Value: value.Bool()})
	}
	return nil
}
