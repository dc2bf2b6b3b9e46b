package store

import (
	"database/sql"
	"fmt"
)

// Store is the data access layer for everything this subsystem owns:
// notification rows, the delivery outbox, job locks, and job run status.
type Store struct {
	db *DB
}

// NewStore creates a Store over an open DB.
func NewStore(db *DB) *Store {
	return &Store{db: db}
}

// ExecuteTx runs fn inside a single write transaction. It is the only
// unit-of-work entry point: the persister receives the *sql.Tx, fetchers and
// filters never see one. If fn returns an error the transaction rolls back
// and nothing it wrote survives.
func (s *Store) ExecuteTx(fn func(tx *sql.Tx) error) error {
	tx, err := s.db.Write.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}

	return tx.Commit()
}

// ReadDB returns the read database connection for queries.
func (s *Store) ReadDB() *sql.DB {
	return s.db.Read
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
