package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"ledger-payment-stats/internal/domain"
	"ledger-payment-stats/internal/storage"
)

// ExchangeStore is an in-memory implementation of storage.ExchangeStore.
type ExchangeStore struct {
	mu      sync.RWMutex
	data    []*domain.Exchange
	queries int
}

// NewExchangeStore creates a new in-memory exchange store.
func NewExchangeStore() *ExchangeStore {
	return &ExchangeStore{}
}

// InsertBulk adds multiple trades.
func (s *ExchangeStore) InsertBulk(_ context.Context, exchanges []*domain.Exchange) error {
	for _, e := range exchanges {
		if e == nil || e.BaseCurrency == "" || e.CounterCurrency == "" {
			return storage.ErrInvalidInput
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range exchanges {
		cp := *e
		s.data = append(s.data, &cp)
	}
	return nil
}

// VWAP reduces the trades selected by q.
func (s *ExchangeStore) VWAP(_ context.Context, q domain.ExchangeQuery) (decimal.Decimal, bool, error) {
	if err := storage.ValidateQuery(q); err != nil {
		return decimal.Zero, false, err
	}

	s.mu.Lock()
	s.queries++
	var matched []*domain.Exchange
	for _, e := range s.data {
		if e.BaseCurrency != q.BaseCurrency ||
			e.CounterCurrency != q.CounterCurrency ||
			e.CounterIssuer != q.CounterIssuer {
			continue
		}
		if e.ExecutedAt.Before(q.Start) || !e.ExecutedAt.Before(q.End) {
			continue
		}
		matched = append(matched, e)
	}
	s.mu.Unlock()

	sort.SliceStable(matched, func(i, j int) bool {
		if q.Descending {
			return matched[i].ExecutedAt.After(matched[j].ExecutedAt)
		}
		return matched[i].ExecutedAt.Before(matched[j].ExecutedAt)
	})
	if len(matched) > q.Limit {
		matched = matched[:q.Limit]
	}

	vwap, ok := storage.ReduceVWAP(matched)
	return vwap, ok, nil
}

// Queries returns the number of VWAP calls served.
func (s *ExchangeStore) Queries() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queries
}

var _ storage.ExchangeStore = (*ExchangeStore)(nil)
