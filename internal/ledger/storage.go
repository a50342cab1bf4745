package ledger

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/pscheid92/pollbook/internal/domain"
)

const (
	configKey       = "config"
	contractInfoKey = "contract_info"
	pollsNamespace  = "polls"
)

var (
	configItem       = item[domain.Config]{key: configKey, notFound: domain.ErrConfigNotFound}
	contractInfoItem = item[domain.ContractInfo]{key: contractInfoKey, notFound: domain.ErrNotFound}
	pollsMap         = mapping[domain.Poll]{namespace: pollsNamespace, notFound: domain.ErrPollNotFound}
)

// item is a single typed record stored under a fixed key.
type item[T any] struct {
	key      string
	notFound error
}

func (i item[T]) load(ctx context.Context, kv domain.KVStore) (T, error) {
	v, err := i.mayLoad(ctx, kv)
	if err != nil {
		var zero T
		return zero, err
	}
	if v == nil {
		var zero T
		return zero, i.notFound
	}
	return *v, nil
}

func (i item[T]) mayLoad(ctx context.Context, kv domain.KVStore) (*T, error) {
	return read[T](ctx, kv, i.key)
}

func (i item[T]) save(ctx context.Context, kv domain.KVStore, v T) error {
	return write(ctx, kv, i.key, v)
}

// mapping is a namespace of typed records keyed by string.
type mapping[T any] struct {
	namespace string
	notFound  error
}

func (m mapping[T]) key(k string) string {
	return m.namespace + "/" + k
}

func (m mapping[T]) has(ctx context.Context, kv domain.KVStore, k string) (bool, error) {
	ok, err := kv.Has(ctx, m.key(k))
	if err != nil {
		return false, fmt.Errorf("%w: has %q: %w", domain.ErrStorageRead, m.key(k), err)
	}
	return ok, nil
}

func (m mapping[T]) load(ctx context.Context, kv domain.KVStore, k string) (T, error) {
	v, err := m.mayLoad(ctx, kv, k)
	if err != nil {
		var zero T
		return zero, err
	}
	if v == nil {
		var zero T
		return zero, m.notFound
	}
	return *v, nil
}

func (m mapping[T]) mayLoad(ctx context.Context, kv domain.KVStore, k string) (*T, error) {
	return read[T](ctx, kv, m.key(k))
}

func (m mapping[T]) save(ctx context.Context, kv domain.KVStore, k string, v T) error {
	return write(ctx, kv, m.key(k), v)
}

func read[T any](ctx context.Context, kv domain.KVStore, key string) (*T, error) {
	data, ok, err := kv.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("%w: get %q: %w", domain.ErrStorageRead, key, err)
	}
	if !ok {
		return nil, nil
	}

	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("%w: decode %q: %w", domain.ErrStorageRead, key, err)
	}
	return &v, nil
}

func write[T any](ctx context.Context, kv domain.KVStore, key string, v T) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: encode %q: %w", domain.ErrStorageWrite, key, err)
	}
	if err := kv.Put(ctx, key, data); err != nil {
		return fmt.Errorf("%w: put %q: %w", domain.ErrStorageWrite, key, err)
	}
	return nil
}
