package cache

import (
	"context"
	"strings"
	"time"

	"github.com/wildfire-lending/guardrail/internal/metrics"
)

// Instrumented decorates a KVCache with lookup and store metrics, labeled by
// the key's prefix (the portion before the first colon).
type Instrumented struct {
	inner    KVCache
	recorder *metrics.Recorder
}

// NewInstrumented wraps an existing cache. A nil recorder records nothing but
// keeps the cache fully functional.
func NewInstrumented(inner KVCache, recorder *metrics.Recorder) *Instrumented {
	return &Instrumented{inner: inner, recorder: recorder}
}

func keyPrefix(key string) string {
	if head, _, ok := strings.Cut(key, ":"); ok {
		return head
	}
	return key
}

func (c *Instrumented) Get(ctx context.Context, key string) ([]byte, bool, error) {
	start := time.Now()
	payload, hit, err := c.inner.Get(ctx, key)
	outcome := metrics.CacheLookupMiss
	switch {
	case err != nil:
		outcome = metrics.CacheLookupError
	case hit:
		outcome = metrics.CacheLookupHit
	}
	c.recorder.ObserveCacheLookup(keyPrefix(key), outcome, time.Since(start))
	return payload, hit, err
}

func (c *Instrumented) Set(ctx context.Context, key string, payload []byte, ttl time.Duration) error {
	start := time.Now()
	err := c.inner.Set(ctx, key, payload, ttl)
	c.recorder.ObserveCacheStore(keyPrefix(key), err, time.Since(start))
	return err
}

func (c *Instrumented) Delete(ctx context.Context, key string) error {
	return c.inner.Delete(ctx, key)
}

func (c *Instrumented) Size(ctx context.Context) (int64, error) {
	return c.inner.Size(ctx)
}

func (c *Instrumented) Close(ctx context.Context) error {
	return c.inner.Close(ctx)
}
