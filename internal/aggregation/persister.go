package aggregation

import (
	"context"
	"fmt"

	"ledger-payment-stats/internal/domain"
	"ledger-payment-stats/internal/storage"
)

// buildRows maps every touched bucket to its row key and a snapshot of its entry.
func buildRows(cache *bucketCache, touched []domain.BucketKey) (map[string]*domain.AggregateEntry, error) {
	rows := make(map[string]*domain.AggregateEntry, len(touched))
	for _, key := range touched {
		entry, ok := cache.get(key)
		if !ok {
			return nil, fmt.Errorf("persist: bucket %s not cached", key)
		}
		rows[key.RowKey()] = entry.Clone()
	}
	return rows, nil
}

// persist writes all touched buckets in a single PutBatch call.
func (a *Aggregator) persist(ctx context.Context, touched []domain.BucketKey) error {
	if len(touched) == 0 {
		return nil
	}

	rows, err := buildRows(a.cache, touched)
	if err != nil {
		return err
	}

	return storeCall(ctx, a.callTimeout, "put_batch", ErrStoreWrite, func(ctx context.Context) error {
		return a.aggregates.PutBatch(ctx, storage.AccountPaymentsTable, rows)
	})
}
