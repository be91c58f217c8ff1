// Package ledger is the persistence layer for the AMM core: a SQLite-backed
// store exposing the lock order the trading and settlement engines depend
// on (Market+Event -> Pool option-states -> MarketOption -> Balance ->
// Position).
//
// SQLite has no row-level locking, so this package emulates
// "SELECT ... FOR UPDATE" lock ordering with a single sync.Mutex
// (writeMu) serializing every write transaction on the Store. A write
// transaction holds writeMu for its entire lifetime, so at most one write
// transaction is ever in flight; combined with the store's single pooled
// connection (see Open) this gives the same effective serializability
// a real row-locking engine would produce, while the row fetch order
// inside each transaction still follows the lock order above (so the
// same code would also be correct against a real row-locking engine).
package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"

	_ "modernc.org/sqlite"
)

// Store wraps a SQLite connection and the mutex that serializes writes.
type Store struct {
	db      *sql.DB
	writeMu sync.Mutex
	logger  *slog.Logger
}

// Open creates (or reuses) a SQLite database at path and applies the
// schema. path may be ":memory:" for tests.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("ledger: open sqlite: %w", err)
	}
	// A single-writer model only needs one connection; more would just
	// contend on SQLite's own file lock underneath writeMu anyway.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("ledger: apply schema: %w", err)
	}

	return &Store{db: db, logger: logger.With("component", "ledger")}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Tx is a single transaction, either a serialized write or a read-only
// snapshot. Callers obtain one via BeginWrite or BeginRead and must call
// Commit or Rollback exactly once.
type Tx struct {
	tx       *sql.Tx
	store    *Store
	isWrite  bool
	finished bool
}

// BeginWrite acquires the store-wide write mutex and opens a SQLite
// transaction. The mutex is held until Commit or Rollback is called, so
// callers must not do unrelated blocking work inside the transaction.
func (s *Store) BeginWrite(ctx context.Context) (*Tx, error) {
	s.writeMu.Lock()
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		s.writeMu.Unlock()
		return nil, fmt.Errorf("ledger: begin write tx: %w", err)
	}
	return &Tx{tx: sqlTx, store: s, isWrite: true}, nil
}

// BeginRead opens a read-only transaction. It does not take the write
// mutex, but the store keeps a single pooled connection, so a read waits
// while any other transaction holds that connection, and a write waits
// for an open read to finish.
func (s *Store) BeginRead(ctx context.Context) (*Tx, error) {
	sqlTx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("ledger: begin read tx: %w", err)
	}
	return &Tx{tx: sqlTx, store: s, isWrite: false}, nil
}

// Commit commits the underlying transaction and releases the write mutex
// if this was a write transaction.
func (t *Tx) Commit() error {
	if t.finished {
		return nil
	}
	t.finished = true
	err := t.tx.Commit()
	if t.isWrite {
		t.store.writeMu.Unlock()
	}
	if err != nil {
		return fmt.Errorf("ledger: commit: %w", err)
	}
	return nil
}

// Rollback aborts the underlying transaction and releases the write mutex
// if this was a write transaction. Calling Rollback after Commit is a
// harmless no-op, matching the defer tx.Rollback() idiom.
func (t *Tx) Rollback() error {
	if t.finished {
		return nil
	}
	t.finished = true
	err := t.tx.Rollback()
	if t.isWrite {
		t.store.writeMu.Unlock()
	}
	if err != nil && err != sql.ErrTxDone {
		return fmt.Errorf("ledger: rollback: %w", err)
	}
	return nil
}
