// Package video samples still frames from video files and stamps each frame
// with a capture time derived from the container metadata.
package video

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os/exec"

	"github.com/maauso/geoseq/internal/apperr"
)

// ToolError represents a failed external tool invocation, including its stderr output.
type ToolError struct {
	Tool   string
	Args   []string
	Stderr string
	Hint   string
	Err    error
}

func (e *ToolError) Error() string {
	msg := fmt.Sprintf("%s error: %v\nargs: %v\nstderr: %s", e.Tool, e.Err, e.Args, e.Stderr)
	if e.Hint != "" {
		msg += "\n" + e.Hint
	}
	return msg
}

func (e *ToolError) Unwrap() []error {
	return []error{apperr.ErrExternalTool, e.Err}
}

// runTool executes bin with args and returns its stdout. A non-zero exit or a
// missing binary yields a *ToolError.
func runTool(ctx context.Context, tool, bin string, args []string) ([]byte, error) {
	// #nosec G204 - bin comes from configuration, not user input
	cmd := exec.CommandContext(ctx, bin, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%s cancelled: %w", tool, ctx.Err())
		}
		te := &ToolError{
			Tool:   tool,
			Args:   args,
			Stderr: stderr.String(),
			Err:    err,
		}
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist) {
			te.Hint = fmt.Sprintf("%s not found: make sure it is installed and on PATH, or point the configuration at the binary", tool)
		}
		return nil, te
	}

	return stdout.Bytes(), nil
}

// IsToolMissing reports whether err was caused by an external binary that
// could not be found. Such failures affect every file, not just one.
func IsToolMissing(err error) bool {
	var te *ToolError
	if !errors.As(err, &te) {
		return false
	}
	return errors.Is(te.Err, exec.ErrNotFound) || errors.Is(te.Err, fs.ErrNotExist)
}
