package metadata

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maauso/geoseq/internal/apperr"
)

type ifdEntry struct {
	tag   uint16
	typ   uint16
	count uint32
	data  []byte
}

func asciiEntry(tag uint16, s string) ifdEntry {
	b := append([]byte(s), 0)
	return ifdEntry{tag: tag, typ: 2, count: uint32(len(b)), data: b}
}

func shortEntry(tag uint16, v uint16) ifdEntry {
	b := make([]byte, 2)
	binary.LittleEndian.PutUint16(b, v)
	return ifdEntry{tag: tag, typ: 3, count: 1, data: b}
}

// writeExifJPEG writes a minimal JPEG carrying a single little-endian IFD.
// Entries must be sorted by tag.
func writeExifJPEG(t *testing.T, path string, entries ...ifdEntry) {
	t.Helper()

	const ifdOffset = 8
	dataOffset := ifdOffset + 2 + 12*len(entries) + 4

	var ifd, data bytes.Buffer
	le := binary.LittleEndian
	binary.Write(&ifd, le, uint16(len(entries)))
	for _, e := range entries {
		binary.Write(&ifd, le, e.tag)
		binary.Write(&ifd, le, e.typ)
		binary.Write(&ifd, le, e.count)
		if len(e.data) <= 4 {
			v := make([]byte, 4)
			copy(v, e.data)
			ifd.Write(v)
			continue
		}
		binary.Write(&ifd, le, uint32(dataOffset+data.Len()))
		data.Write(e.data)
	}
	binary.Write(&ifd, le, uint32(0))

	var tiff bytes.Buffer
	tiff.WriteString("II")
	binary.Write(&tiff, le, uint16(42))
	binary.Write(&tiff, le, uint32(ifdOffset))
	tiff.Write(ifd.Bytes())
	tiff.Write(data.Bytes())

	var jpg bytes.Buffer
	jpg.Write([]byte{0xFF, 0xD8, 0xFF, 0xE1})
	binary.Write(&jpg, binary.BigEndian, uint16(2+6+tiff.Len()))
	jpg.WriteString("Exif\x00\x00")
	jpg.Write(tiff.Bytes())
	jpg.Write([]byte{0xFF, 0xD9})

	require.NoError(t, os.WriteFile(path, jpg.Bytes(), 0o644))
}

func TestExifReader_Read(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.jpg")
	writeExifJPEG(t, path,
		asciiEntry(0x010E, `{"MAPMetaTags":{"strings":[{"key":"geoseq_version","value":"0.0.9"}]}}`),
		asciiEntry(0x010F, "Acme"),
		asciiEntry(0x0110, "Cam 3000"),
		shortEntry(0x0112, 6),
	)

	desc, err := ExifReader{}.Read(path)
	require.NoError(t, err)

	require.NotNil(t, desc.Orientation)
	assert.Equal(t, 6, *desc.Orientation)
	assert.Equal(t, "Acme", *desc.DeviceMake)
	assert.Equal(t, "Cam 3000", *desc.DeviceModel)
	assert.Equal(t, []Tag[string]{{Key: "geoseq_version", Value: "0.0.9"}}, desc.MetaTags.Strings)
}

func TestExifReader_FreeTextDescriptionIgnored(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.jpg")
	writeExifJPEG(t, path,
		asciiEntry(0x010E, "Holiday in the hills"),
		shortEntry(0x0112, 1),
	)

	desc, err := ExifReader{}.Read(path)
	require.NoError(t, err)
	assert.Zero(t, desc.MetaTags.Len())
	assert.Nil(t, desc.DeviceMake)
}

func TestExifReader_JSONDescriptionWithoutHistory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.jpg")
	writeExifJPEG(t, path,
		asciiEntry(0x010E, `{"MAPLatitude":1.5,"MAPLongitude":2.5}`),
		asciiEntry(0x010F, "Acme"),
	)

	desc, err := ExifReader{}.Read(path)
	require.NoError(t, err)
	assert.Zero(t, desc.MetaTags.Len())
	assert.Equal(t, "Acme", *desc.DeviceMake)
}

func TestHistoryFromDescription(t *testing.T) {
	tags, err := historyFromDescription(`{"strings":[{"key":"a","value":"x"}]}`)
	require.NoError(t, err)
	assert.Equal(t, []Tag[string]{{Key: "a", Value: "x"}}, tags.Strings)

	// A bucket next to a foreign key is not a bare history object.
	tags, err = historyFromDescription(`{"strings":[{"key":"a","value":"x"}],"MAPAltitude":3}`)
	require.NoError(t, err)
	assert.Zero(t, tags.Len())

	_, err = historyFromDescription(`{"MAPMetaTags":{"colors":[]}}`)
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestExifReader_MalformedHistory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.jpg")
	writeExifJPEG(t, path,
		asciiEntry(0x010E, `{"longs":[{"key":"a","value":"x"}]}`),
	)

	_, err := ExifReader{}.Read(path)
	assert.Error(t, err)
}

func TestExifReader_Unreadable(t *testing.T) {
	dir := t.TempDir()

	_, err := ExifReader{}.Read(filepath.Join(dir, "missing.jpg"))
	assert.ErrorIs(t, err, ErrExifUnreadable)

	garbage := filepath.Join(dir, "garbage.jpg")
	require.NoError(t, os.WriteFile(garbage, []byte("not an image at all"), 0o644))
	_, err = ExifReader{}.Read(garbage)
	assert.ErrorIs(t, err, ErrExifUnreadable)
}
