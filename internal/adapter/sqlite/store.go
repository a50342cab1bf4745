// Package sqlite implements the ledger store on an embedded SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/pscheid92/pollbook/internal/domain"
	"github.com/pscheid92/pollbook/internal/platform/retry"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"
)

// Store keeps ledger entries in one SQLite table. The pool holds a single
// connection, so units of work are serialized within the process; another
// process holding the write lock surfaces as SQLITE_BUSY and is retried.
type Store struct {
	db     *sql.DB
	policy retry.Policy
}

var _ domain.UnitOfWork = (*Store)(nil)

// Open opens (creating if needed) the database at path and applies the
// embedded migrations.
func Open(ctx context.Context, path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite path is required")
	}

	dsn := filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_txlock=immediate"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Store{db: db, policy: retry.TxConflictPolicy}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Run(ctx context.Context, fn func(ctx context.Context, kv domain.KVStore) error) error {
	err := retry.DoVoid(ctx, s.policy, retry.RetryIf(isBusy), func() error {
		return s.attempt(ctx, fn)
	})
	if pe, ok := errors.AsType[*retry.PermanentError](err); ok {
		return pe.Err
	}
	if err != nil && isBusy(err) {
		return fmt.Errorf("%w: %w", domain.ErrStorageWrite, err)
	}
	return err
}

func (s *Store) attempt(ctx context.Context, fn func(ctx context.Context, kv domain.KVStore) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin: %w", domain.ErrStorageRead, err)
	}

	if err := fn(ctx, &txView{tx: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		if isBusy(err) {
			return err
		}
		return fmt.Errorf("%w: commit: %w", domain.ErrStorageWrite, err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func isBusy(err error) bool {
	sqliteErr, ok := errors.AsType[*msqlite.Error](err)
	if !ok {
		return false
	}
	code := sqliteErr.Code() & 0xff
	return code == sqlite3lib.SQLITE_BUSY || code == sqlite3lib.SQLITE_LOCKED
}

type txView struct {
	tx *sql.Tx
}

func (v *txView) Has(ctx context.Context, key string) (bool, error) {
	var exists bool
	err := v.tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM ledger_entries WHERE key = ?)`, key).Scan(&exists)
	return exists, err
}

func (v *txView) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	err := v.tx.QueryRowContext(ctx, `SELECT value FROM ledger_entries WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

func (v *txView) Put(ctx context.Context, key string, value []byte) error {
	_, err := v.tx.ExecContext(ctx, `
		INSERT INTO ledger_entries (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UTC().UnixMilli())
	return err
}
