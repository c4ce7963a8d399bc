package storage

import (
	"github.com/shopspring/decimal"

	"ledger-payment-stats/internal/domain"
)

// ReduceVWAP computes sum(counter)/sum(base) over trades.
// ok is false for an empty set or zero base volume.
func ReduceVWAP(trades []*domain.Exchange) (decimal.Decimal, bool) {
	if len(trades) == 0 {
		return decimal.Zero, false
	}

	base := decimal.Zero
	counter := decimal.Zero
	for _, t := range trades {
		base = base.Add(t.BaseAmount)
		counter = counter.Add(t.CounterAmount)
	}

	return VWAPFromSums(base, counter, int64(len(trades)))
}

// VWAPFromSums turns backend-side volume sums into a VWAP.
func VWAPFromSums(baseSum, counterSum decimal.Decimal, count int64) (decimal.Decimal, bool) {
	if count == 0 || baseSum.IsZero() {
		return decimal.Zero, false
	}
	return counterSum.Div(baseSum), true
}

// ValidateQuery checks the fields every backend needs to run q.
func ValidateQuery(q domain.ExchangeQuery) error {
	if q.BaseCurrency == "" || q.CounterCurrency == "" || q.Limit <= 0 || !q.End.After(q.Start) {
		return ErrInvalidInput
	}
	return nil
}
