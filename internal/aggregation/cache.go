package aggregation

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"

	"ledger-payment-stats/internal/domain"
	"ledger-payment-stats/internal/storage"
)

// bucketCache holds the buckets referenced by recent cycles.
// It is owned by the worker goroutine and is not safe for concurrent use.
type bucketCache struct {
	entries map[domain.BucketKey]*domain.AggregateEntry
}

func newBucketCache() *bucketCache {
	return &bucketCache{entries: make(map[domain.BucketKey]*domain.AggregateEntry)}
}

func (c *bucketCache) get(key domain.BucketKey) (*domain.AggregateEntry, bool) {
	e, ok := c.entries[key]
	return e, ok
}

func (c *bucketCache) put(key domain.BucketKey, e *domain.AggregateEntry) {
	c.entries[key] = e
}

func (c *bucketCache) len() int {
	return len(c.entries)
}

// evictBefore removes every bucket whose day is strictly before cutoff.
func (c *bucketCache) evictBefore(cutoff time.Time) int {
	evicted := 0
	for key := range c.entries {
		if key.Day.Before(cutoff) {
			delete(c.entries, key)
			evicted++
		}
	}
	return evicted
}

// missing returns the distinct bucket keys of batch that are not cached,
// in first-reference order.
func (c *bucketCache) missing(batch []domain.PaymentEvent) []domain.BucketKey {
	seen := make(map[domain.BucketKey]struct{})
	var keys []domain.BucketKey
	for i := range batch {
		key := batch[i].BucketKey()
		if _, ok := c.entries[key]; ok {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		keys = append(keys, key)
	}
	return keys
}

// loadBuckets loads every uncached bucket of batch, one store read per key.
// A store miss yields a zero entry. Nothing is cached unless every load succeeds.
func (a *Aggregator) loadBuckets(ctx context.Context, batch []domain.PaymentEvent) error {
	keys := a.cache.missing(batch)
	if len(keys) == 0 {
		return nil
	}

	loaded := make([]*domain.AggregateEntry, len(keys))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.loadConcurrency)
	for i, key := range keys {
		g.Go(func() error {
			return storeCall(gctx, a.callTimeout, "load", ErrStoreRead, func(ctx context.Context) error {
				e, err := a.aggregates.Load(ctx, key.Day, key.Account)
				if errors.Is(err, storage.ErrNotFound) || (err == nil && e == nil) {
					loaded[i] = domain.NewAggregateEntry()
					return nil
				}
				if err != nil {
					return err
				}
				loaded[i] = e
				return nil
			})
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for i, key := range keys {
		a.cache.put(key, loaded[i])
	}
	return nil
}
