package pipeline

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/maauso/geoseq/internal/metadata"
	"github.com/maauso/geoseq/internal/processlog"
	"github.com/maauso/geoseq/internal/storage"
)

var fixedNow = time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)

type readerFunc func(path string) (*metadata.Description, error)

func (f readerFunc) Read(path string) (*metadata.Description, error) { return f(path) }

func emptyReader() readerFunc {
	return func(string) (*metadata.Description, error) { return &metadata.Description{}, nil }
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestOrchestrator fills unset dependencies with in-memory or local
// implementations.
func newTestOrchestrator(t *testing.T, d Deps, opts ...Option) *Orchestrator {
	t.Helper()
	if d.Log == nil {
		d.Log = processlog.NewLog(processlog.NewMemoryRepository())
	}
	if d.Reader == nil {
		d.Reader = emptyReader()
	}
	if d.Assembler == nil {
		d.Assembler = metadata.NewAssembler("geoseq test")
	}
	if d.Storage == nil {
		s, err := storage.NewLocalStorage(t.TempDir())
		require.NoError(t, err)
		d.Storage = s
	}
	if d.Logger == nil {
		d.Logger = discardLogger()
	}
	opts = append([]Option{WithClock(func() time.Time { return fixedNow })}, opts...)
	return New(d, opts...)
}

func writeFiles(t *testing.T, root string, names ...string) []string {
	t.Helper()
	paths := make([]string, 0, len(names))
	for _, n := range names {
		p := filepath.Join(root, n)
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte("content of "+n), 0o644))
		paths = append(paths, p)
	}
	return paths
}

func writeContent(path, content string) error {
	return os.WriteFile(path, []byte(content), 0o644)
}
