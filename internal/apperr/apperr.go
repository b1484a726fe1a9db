// Package apperr defines the error kinds shared across the pipeline.
//
// Components wrap one of these sentinels so callers can classify a failure
// with errors.Is without depending on the concrete error type.
package apperr

import "errors"

var (
	// ErrValidation marks malformed caller input: custom tags, sizes, options.
	ErrValidation = errors.New("validation error")
	// ErrProtocolViolation marks a server exchange that broke the upload protocol.
	ErrProtocolViolation = errors.New("protocol violation")
	// ErrExternalTool marks a missing or failing external binary, or output it
	// produced that could not be understood.
	ErrExternalTool = errors.New("external tool error")
	// ErrPath marks a missing import or video source path.
	ErrPath = errors.New("path error")
)

// IsPermanent reports whether err belongs to a kind that retrying cannot fix.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrValidation) || errors.Is(err, ErrProtocolViolation) || errors.Is(err, ErrPath)
}
