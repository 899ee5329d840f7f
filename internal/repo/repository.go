package repo

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when the key has never been written or was
// deleted.
var ErrNotFound = errors.New("repo: key not found")

// KV is the durable port behind the state store. Values are opaque JSON
// documents; every key is written whole.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Close() error
}
