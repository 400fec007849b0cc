// Package store persists rendered label artifacts and print-job state
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"

	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned for unknown artifact or job identifiers.
var ErrNotFound = errors.New("not found")

// StorageError reports a persistence failure. Fatal for the affected job:
// without a durable artifact there is nothing to dispatch or reprint.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Store is the SQLite-backed index over on-disk artifacts plus the
// print-job table.
type Store struct {
	db  *sql.DB
	dir string
}

// Open opens (creating if needed) the store at dbPath with artifact bytes
// kept under artifactDir.
func Open(dbPath, artifactDir string) (*Store, error) {
	if err := os.MkdirAll(artifactDir, 0o755); err != nil {
		return nil, &StorageError{Op: "init artifact dir", Err: err}
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, &StorageError{Op: "open database", Err: err}
	}
	// SQLite handles one writer; serialize at the pool level.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := migrate(db); err != nil {
		db.Close()
		return nil, &StorageError{Op: "migrate", Err: err}
	}

	return &Store{db: db, dir: artifactDir}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS artifacts (
			sku        TEXT PRIMARY KEY,
			path       TEXT NOT NULL,
			sha256     TEXT NOT NULL,
			width_mm   REAL NOT NULL,
			height_mm  REAL NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);

		CREATE TABLE IF NOT EXISTS print_jobs (
			id           TEXT PRIMARY KEY,
			artifact_sku TEXT NOT NULL REFERENCES artifacts(sku),
			device       TEXT NOT NULL DEFAULT '',
			status       TEXT NOT NULL,
			retries      INTEGER NOT NULL DEFAULT 0,
			error        TEXT NOT NULL DEFAULT '',
			created_at   DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at   DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			completed_at DATETIME
		);

		CREATE INDEX IF NOT EXISTS idx_print_jobs_status ON print_jobs(status);
		CREATE INDEX IF NOT EXISTS idx_print_jobs_sku ON print_jobs(artifact_sku);
	`)
	return err
}
