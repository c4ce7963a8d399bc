package storage

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"ledger-payment-stats/internal/domain"
)

func TestReduceVWAP(t *testing.T) {
	trades := []*domain.Exchange{
		{BaseAmount: decimal.NewFromInt(100), CounterAmount: decimal.NewFromInt(200)},
		{BaseAmount: decimal.NewFromInt(300), CounterAmount: decimal.NewFromInt(600)},
		{BaseAmount: decimal.NewFromInt(100), CounterAmount: decimal.NewFromInt(400)},
	}

	vwap, ok := ReduceVWAP(trades)
	assert.True(t, ok)
	// (200+600+400) / (100+300+100) = 2.4
	assert.True(t, vwap.Equal(decimal.RequireFromString("2.4")), "got %s", vwap)
}

func TestReduceVWAP_Empty(t *testing.T) {
	_, ok := ReduceVWAP(nil)
	assert.False(t, ok)
}

func TestVWAPFromSums_ZeroCounterIsZeroVWAP(t *testing.T) {
	vwap, ok := VWAPFromSums(decimal.NewFromInt(10), decimal.Zero, 3)
	assert.True(t, ok)
	assert.True(t, vwap.IsZero())
}

func TestVWAPFromSums_ZeroBase(t *testing.T) {
	_, ok := VWAPFromSums(decimal.Zero, decimal.NewFromInt(10), 3)
	assert.False(t, ok)
}

func TestValidateQuery(t *testing.T) {
	at := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

	assert.NoError(t, ValidateQuery(domain.NewRateQuery("USD", "rIssuer", at)))

	bad := domain.NewRateQuery("USD", "rIssuer", at)
	bad.Limit = 0
	assert.True(t, errors.Is(ValidateQuery(bad), ErrInvalidInput))

	bad = domain.NewRateQuery("USD", "rIssuer", time.Unix(0, 0))
	assert.True(t, errors.Is(ValidateQuery(bad), ErrInvalidInput))
}
