package domain

import "context"

// KVStore is the view of ledger storage handed to a single invocation.
// Keys are plain strings; values are opaque encoded records.
type KVStore interface {
	Has(ctx context.Context, key string) (bool, error)
	// Get returns (nil, false, nil) when the key is absent.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, value []byte) error
}

// UnitOfWork runs fn as one atomic transaction. All writes issued through kv
// are committed when fn returns nil and discarded when it returns an error.
// The error returned by fn is passed through unchanged.
type UnitOfWork interface {
	Run(ctx context.Context, fn func(ctx context.Context, kv KVStore) error) error
	Ping(ctx context.Context) error
}
