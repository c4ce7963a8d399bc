package aggregation

import (
	"fmt"

	"github.com/shopspring/decimal"

	"ledger-payment-stats/internal/domain"
)

// adjust applies batch to the cached buckets in enqueue order and returns
// the touched keys in first-touch order. normalized is index-aligned with batch.
func adjust(cache *bucketCache, batch []domain.PaymentEvent, normalized []decimal.Decimal) ([]domain.BucketKey, error) {
	if len(normalized) != len(batch) {
		return nil, fmt.Errorf("adjust: %d events, %d normalized values", len(batch), len(normalized))
	}

	touched := make(map[domain.BucketKey]struct{})
	var order []domain.BucketKey

	for i := range batch {
		ev := &batch[i]
		key := ev.BucketKey()

		entry, ok := cache.get(key)
		if !ok {
			return order, fmt.Errorf("adjust: bucket %s not loaded", key)
		}

		if ev.IsSenderView() {
			entry.RecordSent(ev.Destination, normalized[i])
		} else {
			entry.RecordReceived(ev.Source, normalized[i])
		}

		if _, seen := touched[key]; !seen {
			touched[key] = struct{}{}
			order = append(order, key)
		}
	}

	return order, nil
}
