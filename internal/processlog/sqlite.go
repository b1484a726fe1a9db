package processlog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Compile-time check that SQLiteRepository implements Repository.
var _ Repository = (*SQLiteRepository)(nil)

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the SQLite database at path.
func OpenSQLite(path string) (*sql.DB, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return nil, fmt.Errorf("create process log directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open process log: %w", err)
	}
	// Single writer; avoids "database is locked" across pooled connections.
	db.SetMaxOpenConns(1)
	return db, nil
}

// NewSQLiteRepository creates a new SQLite-based Repository.
func NewSQLiteRepository(db *sql.DB) (*SQLiteRepository, error) {
	repo := &SQLiteRepository{db: db}
	if err := repo.createTables(); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return repo, nil
}

// createTables ensures that the required tables exist
func (r *SQLiteRepository) createTables() error {
	createRecordsTable := `
	CREATE TABLE IF NOT EXISTS process_records (
		file_path TEXT NOT NULL,
		stage TEXT NOT NULL,
		status TEXT NOT NULL,
		payload BLOB,
		recorded_at TEXT NOT NULL,
		PRIMARY KEY (file_path, stage)
	);`

	_, err := r.db.Exec(createRecordsTable)
	return err
}

// Get retrieves the record for a file and stage.
func (r *SQLiteRepository) Get(ctx context.Context, filePath, stage string) (*Record, error) {
	query := `
	SELECT file_path, stage, status, payload, recorded_at
	FROM process_records WHERE file_path = ? AND stage = ?`

	row := r.db.QueryRowContext(ctx, query, filePath, stage)

	rec := &Record{}
	var status, recordedAt string
	var payload []byte
	if err := row.Scan(&rec.FilePath, &rec.Stage, &status, &payload, &recordedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("failed to get process record: %w", err)
	}

	t, err := time.Parse(time.RFC3339Nano, recordedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to parse recorded_at: %w", err)
	}

	rec.Status = Status(status)
	rec.Payload = payload
	rec.RecordedAt = t
	return rec, nil
}

// Put upserts the record, replacing any prior record for its key.
func (r *SQLiteRepository) Put(ctx context.Context, record *Record) error {
	query := `
	INSERT INTO process_records (file_path, stage, status, payload, recorded_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(file_path, stage) DO UPDATE SET
		status = excluded.status,
		payload = excluded.payload,
		recorded_at = excluded.recorded_at`

	_, err := r.db.ExecContext(ctx, query,
		record.FilePath,
		record.Stage,
		string(record.Status),
		[]byte(record.Payload),
		record.RecordedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to put process record: %w", err)
	}
	return nil
}
