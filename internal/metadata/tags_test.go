package metadata

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maauso/geoseq/internal/apperr"
)

func TestParseCustomTags(t *testing.T) {
	t.Run("single string tag", func(t *testing.T) {
		tags, err := ParseCustomTags("lens,string,wide")
		require.NoError(t, err)
		assert.Equal(t, []Tag[string]{{Key: "lens", Value: "wide"}}, tags.Strings)
		assert.Equal(t, 1, tags.Len())
	})

	t.Run("every bucket", func(t *testing.T) {
		tags, err := ParseCustomTags("a,string,x;b,double,1.5;c,long,42;d,date,1700000000000;e,boolean,true")
		require.NoError(t, err)
		assert.Equal(t, []Tag[string]{{Key: "a", Value: "x"}}, tags.Strings)
		assert.Equal(t, []Tag[float64]{{Key: "b", Value: 1.5}}, tags.Doubles)
		assert.Equal(t, []Tag[int64]{{Key: "c", Value: 42}}, tags.Longs)
		assert.Equal(t, []Tag[int64]{{Key: "d", Value: 1700000000000}}, tags.Dates)
		assert.Equal(t, []Tag[bool]{{Key: "e", Value: true}}, tags.Booleans)
	})

	t.Run("duplicates keep order", func(t *testing.T) {
		tags, err := ParseCustomTags("k,string,1;k,string,2")
		require.NoError(t, err)
		assert.Equal(t, []Tag[string]{{Key: "k", Value: "1"}, {Key: "k", Value: "2"}}, tags.Strings)
	})

	t.Run("empty", func(t *testing.T) {
		tags, err := ParseCustomTags("")
		require.NoError(t, err)
		assert.Zero(t, tags.Len())
	})
}

func TestParseCustomTags_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		raw   string
		entry string
	}{
		{"too few fields", "a,b", "a,b"},
		{"too many fields", "a,string,b,c", "a,string,b,c"},
		{"unknown type", "a,color,red", "a,color,red"},
		{"bad double", "a,double,abc", "a,double,abc"},
		{"bad long", "ok,string,x;a,long,1.5", "a,long,1.5"},
		{"bad boolean", "a,boolean,maybe", "a,boolean,maybe"},
		{"trailing separator", "a,string,x;", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseCustomTags(tt.raw)
			require.Error(t, err)
			assert.ErrorIs(t, err, apperr.ErrValidation)

			var tagErr *TagError
			require.ErrorAs(t, err, &tagErr)
			assert.Equal(t, tt.entry, tagErr.Entry)
			assert.Contains(t, err.Error(), `"`+tt.entry+`"`)
		})
	}
}

func TestParseHistory(t *testing.T) {
	raw := `{
		"strings": [{"key": "geoseq_version", "value": "0.1.0"}],
		"doubles": [{"key": "speed", "value": 2.5}],
		"longs": [{"key": "frame", "value": 7}],
		"dates": [{"key": "import_date", "value": 1700000000000}],
		"booleans": [{"key": "night", "value": false}]
	}`

	tags, err := ParseHistory(raw)
	require.NoError(t, err)
	assert.Equal(t, []Tag[string]{{Key: "geoseq_version", Value: "0.1.0"}}, tags.Strings)
	assert.Equal(t, []Tag[float64]{{Key: "speed", Value: 2.5}}, tags.Doubles)
	assert.Equal(t, []Tag[int64]{{Key: "frame", Value: 7}}, tags.Longs)
	assert.Equal(t, []Tag[int64]{{Key: "import_date", Value: 1700000000000}}, tags.Dates)
	assert.Equal(t, []Tag[bool]{{Key: "night", Value: false}}, tags.Booleans)
}

func TestParseHistory_Rejects(t *testing.T) {
	tests := map[string]string{
		"not json":        "{'strings': []}",
		"not an object":   `[1, 2]`,
		"unknown bucket":  `{"colors": []}`,
		"bucket not list": `{"strings": {"key": "a"}}`,
		"missing key":     `{"strings": [{"value": "a"}]}`,
		"mistyped value":  `{"longs": [{"key": "a", "value": "7"}]}`,
		"fractional long": `{"longs": [{"key": "a", "value": 7.5}]}`,
		"mistyped bool":   `{"booleans": [{"key": "a", "value": 1}]}`,
	}

	for name, raw := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseHistory(raw)
			assert.ErrorIs(t, err, apperr.ErrValidation)
		})
	}
}

func TestMetaTags_CloneIsIndependent(t *testing.T) {
	orig := MetaTags{Strings: []Tag[string]{{Key: "a", Value: "1"}}}
	c := orig.Clone()
	c.Strings[0].Value = "changed"
	c.Strings = append(c.Strings, Tag[string]{Key: "b", Value: "2"})

	assert.Equal(t, "1", orig.Strings[0].Value)
	assert.Len(t, orig.Strings, 1)
}
