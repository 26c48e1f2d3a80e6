// Package cache defines the key-value blob cache shared by the rule manager
// and the externally-loaded data sources, with memory and valkey backends.
package cache

import (
	"context"
	"time"
)

// KVCache stores string-keyed blobs with an optional TTL. A ttl of zero or
// less stores the entry without expiry. First-fill races are last-writer-wins;
// every cached value is a deterministic function of the backing store, so no
// locking is required across processes.
type KVCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, payload []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Size(ctx context.Context) (int64, error)
	Close(ctx context.Context) error
}
