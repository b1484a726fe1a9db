package processlog

import (
	"context"
	"sync"
)

// Compile-time check that MemoryRepository implements Repository.
var _ Repository = (*MemoryRepository)(nil)

// MemoryRepository is an in-memory implementation of Repository.
// Suitable for tests and dry runs; records are lost when the process exits.
type MemoryRepository struct {
	mu      sync.RWMutex
	records map[key]*Record
}

// NewMemoryRepository creates a new in-memory process record repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		records: make(map[key]*Record),
	}
}

// Get retrieves a record by file path and stage.
// Returns a clone to prevent external mutations.
func (r *MemoryRepository) Get(_ context.Context, filePath, stage string) (*Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[key{filePath, stage}]
	if !ok {
		return nil, ErrRecordNotFound
	}
	return rec.Clone(), nil
}

// Put stores a clone of the record, overwriting any prior record for its key.
func (r *MemoryRepository) Put(_ context.Context, record *Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[key{record.FilePath, record.Stage}] = record.Clone()
	return nil
}

// Len returns the number of stored records.
func (r *MemoryRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}
