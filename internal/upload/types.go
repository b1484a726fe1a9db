// Package upload provides an HTTP client for the resumable chunked upload
// protocol and the completion call that turns an upload into a cluster.
package upload

import (
	"errors"
	"fmt"

	"github.com/maauso/geoseq/internal/apperr"
)

// DefaultChunkSize is the amount of data sent per append request.
const DefaultChunkSize = 64 * 1024 * 1024

// EntityType is the content type declared for every uploaded entity.
const EntityType = "application/zip"

// Static errors for upload operations.
var (
	// ErrSessionKeyRequired is returned when a session has no key.
	ErrSessionKeyRequired = fmt.Errorf("%w: upload: session key is required", apperr.ErrValidation)
	// ErrAccessTokenRequired is returned when a session has no access token.
	ErrAccessTokenRequired = fmt.Errorf("%w: upload: access token is required", apperr.ErrValidation)
	// ErrInvalidEntitySize is returned when the declared entity size is not positive.
	ErrInvalidEntitySize = fmt.Errorf("%w: upload: entity size must be positive", apperr.ErrValidation)
	// ErrInvalidChunkSize is returned when the chunk size is not positive.
	ErrInvalidChunkSize = fmt.Errorf("%w: upload: chunk size must be positive", apperr.ErrValidation)
	// ErrMissingOffset is returned when the offset response carries no offset.
	ErrMissingOffset = fmt.Errorf("%w: upload: offset not found in the server response", apperr.ErrProtocolViolation)
	// ErrMissingFileHandle is returned when the terminal chunk response carries no handle.
	ErrMissingFileHandle = fmt.Errorf("%w: upload: file handle not found in the upload response", apperr.ErrProtocolViolation)
	// ErrMissingClusterID is returned when the completion response carries no cluster id.
	ErrMissingClusterID = fmt.Errorf("%w: upload: failed to create the cluster", apperr.ErrProtocolViolation)
	// ErrSourceTooLong is returned when the data source holds more bytes than the declared entity size.
	ErrSourceTooLong = fmt.Errorf("%w: upload: data source exceeds the entity size", apperr.ErrProtocolViolation)
	// ErrServerError is returned when the server returns a 5xx status code.
	ErrServerError = errors.New("upload: server error")
	// ErrRateLimited is returned when the server returns a 429 status code.
	ErrRateLimited = errors.New("upload: rate limited")
	// ErrRequestFailed is returned when the request fails with a non-2xx status code.
	ErrRequestFailed = errors.New("upload: request failed")
)

// OffsetMismatchError reports an upload whose committed offset does not
// match the declared entity size.
type OffsetMismatchError struct {
	Offset     int64
	EntitySize int64
}

func (e *OffsetMismatchError) Error() string {
	return fmt.Sprintf("upload: offset ends at %d but the entity size is %d", e.Offset, e.EntitySize)
}

func (e *OffsetMismatchError) Unwrap() error {
	return apperr.ErrProtocolViolation
}

// Session identifies one resumable upload. EntitySize is fixed for the
// lifetime of the session.
type Session struct {
	AccessToken string
	Key         string
	EntitySize  int64
}

func (s Session) validate() error {
	switch {
	case s.Key == "":
		return ErrSessionKeyRequired
	case s.AccessToken == "":
		return ErrAccessTokenRequired
	case s.EntitySize <= 0:
		return fmt.Errorf("%w: got %d", ErrInvalidEntitySize, s.EntitySize)
	}
	return nil
}

// ChunkEvent describes one acknowledged append request.
type ChunkEvent struct {
	SessionKey string
	// Offset is where the chunk started.
	Offset int64
	// Size is the chunk length. The terminal chunk has size zero.
	Size int
	// Committed is the offset after the chunk.
	Committed  int64
	EntitySize int64
}

// Observer is notified synchronously after every acknowledged chunk.
type Observer interface {
	OnChunk(ev ChunkEvent)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ev ChunkEvent)

// OnChunk implements Observer.
func (f ObserverFunc) OnChunk(ev ChunkEvent) { f(ev) }

// finishRequest is the body of the completion call.
type finishRequest struct {
	FileHandle     string `json:"file_handle"`
	OrganizationID string `json:"organization_id,omitempty"`
}
