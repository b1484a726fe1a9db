// Package archive packs described images into the zip entity that is uploaded.
package archive

import (
	"archive/zip"
	"context"
	"crypto/md5" // #nosec G501 - content fingerprint, not a security boundary
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/tidwall/sjson"

	"github.com/maauso/geoseq/internal/apperr"
)

// DescriptionFile is the name of the description list inside an archive.
const DescriptionFile = "mapillary_image_description.json"

// SessionKeyPrefix prefixes every upload session key.
const SessionKeyPrefix = "mly_tools_"

// ErrNoEntries is returned when there is nothing to archive.
var ErrNoEntries = errors.New("archive: no entries")

// zip entries carry a fixed timestamp so identical inputs produce identical
// archives, and therefore the same session key.
var entryTime = time.Date(1980, 1, 1, 0, 0, 0, 0, time.UTC)

// Entry is one image and its assembled description.
type Entry struct {
	Path        string
	Description json.RawMessage
}

// Result describes a built archive.
type Result struct {
	Path   string `json:"path"`
	Size   int64  `json:"size"`
	MD5    string `json:"md5"`
	Images int    `json:"images"`
}

// SessionKey returns the upload session key for an archive fingerprint.
func SessionKey(md5Hex string) string {
	return SessionKeyPrefix + md5Hex
}

// Build writes entries, named relative to root, and their descriptions to a
// zip file at dst.
func Build(ctx context.Context, root string, entries []Entry, dst string) (*Result, error) {
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: %w", apperr.ErrValidation, ErrNoEntries)
	}

	named := make([]namedEntry, 0, len(entries))
	for _, e := range entries {
		name, err := entryName(root, e.Path)
		if err != nil {
			return nil, err
		}
		named = append(named, namedEntry{Entry: e, name: name})
	}
	slices.SortFunc(named, func(a, b namedEntry) int { return strings.Compare(a.name, b.name) })

	if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
		return nil, fmt.Errorf("archive: create output directory: %w", err)
	}
	f, err := os.Create(dst) // #nosec G304 - destination chosen by the operator
	if err != nil {
		return nil, fmt.Errorf("archive: create %s: %w", dst, err)
	}

	res, err := write(ctx, f, named)
	if cerr := f.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("archive: close %s: %w", dst, cerr)
	}
	if err != nil {
		_ = os.Remove(dst)
		return nil, err
	}
	res.Path = dst
	return res, nil
}

type namedEntry struct {
	Entry
	name string
}

func write(ctx context.Context, w io.Writer, entries []namedEntry) (*Result, error) {
	h := md5.New() // #nosec G401
	cw := &countingWriter{w: io.MultiWriter(w, h)}
	zw := zip.NewWriter(cw)

	descriptions := make([]json.RawMessage, 0, len(entries))
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := addFile(zw, e.name, e.Path); err != nil {
			return nil, err
		}

		desc, err := sjson.SetBytes(e.Description, "MAPFilename", e.name)
		if err != nil {
			return nil, fmt.Errorf("archive: description of %s: %w", e.Path, err)
		}
		descriptions = append(descriptions, desc)
	}
	list, err := json.Marshal(descriptions)
	if err != nil {
		return nil, fmt.Errorf("archive: description list: %w", err)
	}

	dw, err := zw.CreateHeader(&zip.FileHeader{Name: DescriptionFile, Method: zip.Deflate, Modified: entryTime})
	if err != nil {
		return nil, fmt.Errorf("archive: %w", err)
	}
	if _, err := dw.Write(list); err != nil {
		return nil, fmt.Errorf("archive: write descriptions: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("archive: finalize: %w", err)
	}

	return &Result{
		Size:   cw.n,
		MD5:    hex.EncodeToString(h.Sum(nil)),
		Images: len(entries),
	}, nil
}

func addFile(zw *zip.Writer, name, path string) error {
	src, err := os.Open(path) // #nosec G304 - paths come from the import scan
	if err != nil {
		return fmt.Errorf("archive: open %s: %w", path, err)
	}
	defer func() { _ = src.Close() }()

	// JPEG data does not compress further.
	dst, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Store, Modified: entryTime})
	if err != nil {
		return fmt.Errorf("archive: %w", err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("archive: copy %s: %w", path, err)
	}
	return nil
}

// entryName returns path relative to root with forward slashes.
func entryName(root, path string) (string, error) {
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("archive: %s is not inside %s", path, root)
	}
	return filepath.ToSlash(rel), nil
}

// Fingerprint returns the size and MD5 of the file at path.
func Fingerprint(path string) (size int64, md5Hex string, err error) {
	f, err := os.Open(path) // #nosec G304 - path provided by trusted caller
	if err != nil {
		return 0, "", err
	}
	defer func() { _ = f.Close() }()

	h := md5.New() // #nosec G401
	n, err := io.Copy(h, f)
	if err != nil {
		return 0, "", err
	}
	return n, hex.EncodeToString(h.Sum(nil)), nil
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
