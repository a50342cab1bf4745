// Package memory provides an in-process ledger store.
package memory

import (
	"context"
	"maps"
	"slices"
	"sync"

	"github.com/pscheid92/pollbook/internal/domain"
)

// Store keeps ledger entries in a map. Run holds an exclusive lock for the
// whole unit of work, so invocations are serialized.
type Store struct {
	mu   sync.Mutex
	data map[string][]byte
}

var _ domain.UnitOfWork = (*Store)(nil)

func NewStore() *Store {
	return &Store{data: make(map[string][]byte)}
}

// Run executes fn against a write buffer that is applied only when fn
// succeeds.
func (s *Store) Run(ctx context.Context, fn func(ctx context.Context, kv domain.KVStore) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	tx := &txView{base: s.data, writes: make(map[string][]byte)}
	if err := fn(ctx, tx); err != nil {
		return err
	}

	maps.Copy(s.data, tx.writes)
	return nil
}

func (s *Store) Ping(context.Context) error {
	return nil
}

// Keys returns the stored keys in sorted order.
func (s *Store) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Sorted(maps.Keys(s.data))
}

type txView struct {
	base   map[string][]byte
	writes map[string][]byte
}

func (t *txView) Has(_ context.Context, key string) (bool, error) {
	if _, ok := t.writes[key]; ok {
		return true, nil
	}
	_, ok := t.base[key]
	return ok, nil
}

func (t *txView) Get(_ context.Context, key string) ([]byte, bool, error) {
	if v, ok := t.writes[key]; ok {
		return slices.Clone(v), true, nil
	}
	v, ok := t.base[key]
	if !ok {
		return nil, false, nil
	}
	return slices.Clone(v), true, nil
}

func (t *txView) Put(_ context.Context, key string, value []byte) error {
	t.writes[key] = slices.Clone(value)
	return nil
}
