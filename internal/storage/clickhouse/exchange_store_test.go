package clickhouse

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ledger-payment-stats/internal/domain"
)

func TestExchangeStore_VWAP(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewExchangeStore(conn)
	ctx := context.Background()
	base := time.Date(2015, 1, 14, 0, 0, 0, 0, time.UTC)

	mk := func(at time.Time, xrp, usd int64) *domain.Exchange {
		return &domain.Exchange{
			BaseCurrency:    domain.CanonicalCurrency,
			CounterCurrency: "USD",
			CounterIssuer:   "rIssuer",
			BaseAmount:      decimal.NewFromInt(xrp),
			CounterAmount:   decimal.NewFromInt(usd),
			ExecutedAt:      at,
		}
	}

	require.NoError(t, store.InsertBulk(ctx, []*domain.Exchange{
		mk(base, 10, 20),
		mk(base.Add(time.Minute), 30, 60),
	}))

	vwap, ok, err := store.VWAP(ctx, domain.NewRateQuery("USD", "rIssuer", base.Add(time.Hour)))
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, vwap.Equal(decimal.NewFromInt(2)), "vwap %s", vwap)

	_, ok, err = store.VWAP(ctx, domain.NewRateQuery("USD", "rOther", base.Add(time.Hour)))
	require.NoError(t, err)
	assert.False(t, ok)
}
