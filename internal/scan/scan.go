// Package scan discovers image and video files under an import root.
package scan

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/maauso/geoseq/internal/apperr"
)

var (
	imageExts = map[string]bool{".jpg": true, ".jpeg": true}
	videoExts = map[string]bool{".mp4": true, ".mov": true, ".avi": true, ".mkv": true, ".m4v": true}
)

// Images returns the sorted absolute paths of image files under root.
// When skipSubfolders is set only files directly inside root are returned.
func Images(root string, skipSubfolders bool) ([]string, error) {
	return walk(root, skipSubfolders, imageExts)
}

// Videos returns the sorted absolute paths of video files under root.
func Videos(root string, skipSubfolders bool) ([]string, error) {
	return walk(root, skipSubfolders, videoExts)
}

// IsVideo reports whether path has a known video extension.
func IsVideo(path string) bool {
	return videoExts[strings.ToLower(filepath.Ext(path))]
}

func walk(root string, skipSubfolders bool, exts map[string]bool) ([]string, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", root, err)
	}
	info, err := os.Stat(abs)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: directory %s does not exist", apperr.ErrPath, root)
	}

	files := make([]string, 0, 64)
	err = filepath.WalkDir(abs, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			if path == abs {
				return nil
			}
			// Hidden directories hold tool state such as the process log.
			if skipSubfolders || strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if exts[strings.ToLower(filepath.Ext(d.Name()))] {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Strings(files)
	return files, nil
}
