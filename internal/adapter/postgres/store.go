package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pscheid92/pollbook/internal/domain"
	"github.com/pscheid92/pollbook/internal/platform/retry"
)

const backendName = "postgres"

// SQLSTATE codes for transactions PostgreSQL aborted to keep serializability.
const (
	sqlstateSerializationFailure = "40001"
	sqlstateDeadlockDetected     = "40P01"
)

// ConflictObserver is notified whenever a transaction is retried.
type ConflictObserver interface {
	ObserveConflict(backend string)
}

// Store runs each unit of work in a SERIALIZABLE transaction and retries
// transactions that PostgreSQL aborted because of a concurrent writer.
type Store struct {
	pool      *pgxpool.Pool
	policy    retry.Policy
	conflicts ConflictObserver
}

var _ domain.UnitOfWork = (*Store)(nil)

// NewStore creates a store. conflicts may be nil.
func NewStore(pool *pgxpool.Pool, conflicts ConflictObserver) *Store {
	return &Store{pool: pool, policy: retry.TxConflictPolicy, conflicts: conflicts}
}

func (s *Store) Run(ctx context.Context, fn func(ctx context.Context, kv domain.KVStore) error) error {
	classify := retry.RetryIf(func(err error) bool {
		if isSerializationFailure(err) {
			if s.conflicts != nil {
				s.conflicts.ObserveConflict(backendName)
			}
			return true
		}
		return false
	})

	err := retry.DoVoid(ctx, s.policy, classify, func() error {
		return s.attempt(ctx, fn)
	})
	if pe, ok := errors.AsType[*retry.PermanentError](err); ok {
		return pe.Err
	}
	if err != nil && isSerializationFailure(err) {
		return fmt.Errorf("%w: %w", domain.ErrStorageWrite, err)
	}
	return err
}

func (s *Store) attempt(ctx context.Context, fn func(ctx context.Context, kv domain.KVStore) error) error {
	var fnErr error

	err := pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{IsoLevel: pgx.Serializable}, func(tx pgx.Tx) error {
		fnErr = fn(ctx, &txView{tx: tx})
		return fnErr
	})

	if fnErr != nil {
		return fnErr
	}
	if err != nil && !isSerializationFailure(err) {
		return fmt.Errorf("%w: transaction: %w", domain.ErrStorageWrite, err)
	}
	return err
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func isSerializationFailure(err error) bool {
	pgErr, ok := errors.AsType[*pgconn.PgError](err)
	if !ok {
		return false
	}
	return pgErr.Code == sqlstateSerializationFailure || pgErr.Code == sqlstateDeadlockDetected
}

type txView struct {
	tx pgx.Tx
}

func (v *txView) Has(ctx context.Context, key string) (bool, error) {
	var exists bool
	err := v.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM ledger_entries WHERE key = $1)`, key).Scan(&exists)
	return exists, err
}

func (v *txView) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	err := v.tx.QueryRow(ctx, `SELECT value FROM ledger_entries WHERE key = $1`, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

func (v *txView) Put(ctx context.Context, key string, value []byte) error {
	_, err := v.tx.Exec(ctx, `
		INSERT INTO ledger_entries (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`,
		key, value)
	return err
}
