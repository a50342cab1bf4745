// Package redis implements the ledger store, event relay and client hooks on
// Redis.
package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/pscheid92/pollbook/internal/domain"
	"github.com/pscheid92/pollbook/internal/platform/retry"
	goredis "github.com/redis/go-redis/v9"
)

const keyPrefix = "pollbook:"

// ConflictObserver is notified whenever a transaction lost a race and is
// about to be retried.
type ConflictObserver interface {
	ObserveConflict(backend string)
}

// Store runs each unit of work as an optimistic transaction: every key read
// is WATCHed, writes are buffered and committed with MULTI/EXEC. A commit
// aborted by a concurrent write is retried from scratch.
type Store struct {
	rdb       *goredis.Client
	policy    retry.Policy
	conflicts ConflictObserver
}

var _ domain.UnitOfWork = (*Store)(nil)

// NewStore creates a store. conflicts may be nil.
func NewStore(rdb *goredis.Client, conflicts ConflictObserver) *Store {
	return &Store{rdb: rdb, policy: retry.TxConflictPolicy, conflicts: conflicts}
}

func (s *Store) Run(ctx context.Context, fn func(ctx context.Context, kv domain.KVStore) error) error {
	classify := retry.RetryIf(func(err error) bool {
		if errors.Is(err, goredis.TxFailedErr) {
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
	if errors.Is(err, goredis.TxFailedErr) {
		return fmt.Errorf("%w: %w", domain.ErrStorageWrite, err)
	}
	return err
}

func (s *Store) attempt(ctx context.Context, fn func(ctx context.Context, kv domain.KVStore) error) error {
	var fnErr error

	err := s.rdb.Watch(ctx, func(tx *goredis.Tx) error {
		view := &txView{tx: tx, writes: make(map[string][]byte)}
		if fnErr = fn(ctx, view); fnErr != nil {
			return nil
		}
		if len(view.writes) == 0 {
			return nil
		}

		_, err := tx.TxPipelined(ctx, func(p goredis.Pipeliner) error {
			for key, value := range view.writes {
				p.Set(ctx, keyPrefix+key, value, 0)
			}
			return nil
		})
		return err
	})

	if fnErr != nil {
		return fnErr
	}
	if err != nil && !errors.Is(err, goredis.TxFailedErr) {
		return fmt.Errorf("%w: commit: %w", domain.ErrStorageWrite, err)
	}
	return err
}

func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

type txView struct {
	tx     *goredis.Tx
	writes map[string][]byte
}

func (v *txView) Has(ctx context.Context, key string) (bool, error) {
	if _, ok := v.writes[key]; ok {
		return true, nil
	}
	if err := v.tx.Watch(ctx, keyPrefix+key).Err(); err != nil {
		return false, err
	}
	n, err := v.tx.Exists(ctx, keyPrefix+key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (v *txView) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if value, ok := v.writes[key]; ok {
		return value, true, nil
	}
	if err := v.tx.Watch(ctx, keyPrefix+key).Err(); err != nil {
		return nil, false, err
	}
	value, err := v.tx.Get(ctx, keyPrefix+key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

func (v *txView) Put(_ context.Context, key string, value []byte) error {
	v.writes[key] = value
	return nil
}
