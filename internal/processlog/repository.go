package processlog

import (
	"context"
	"errors"
)

// ErrRecordNotFound is returned when no record exists for a (file, stage) key.
var ErrRecordNotFound = errors.New("process record not found")

// Repository defines the interface for process record persistence.
// The pipeline writes sequentially, so implementations only need to be safe
// for a single writer.
type Repository interface {
	// Get retrieves the record for a file and stage.
	// Returns ErrRecordNotFound if the file was never processed by that stage.
	Get(ctx context.Context, filePath, stage string) (*Record, error)

	// Put stores a record, replacing any prior record with the same key.
	Put(ctx context.Context, record *Record) error
}
