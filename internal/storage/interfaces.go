package storage

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"ledger-payment-stats/internal/domain"
)

// AccountPaymentsTable is the table holding per-day account payment aggregates.
const AccountPaymentsTable = "agg_account_payments"

// AggregateStore provides access to per-day account aggregates, addressed by row key.
type AggregateStore interface {
	// Load retrieves the aggregate for (day, account) from AccountPaymentsTable.
	// Returns ErrNotFound if no row exists.
	Load(ctx context.Context, day time.Time, account string) (*domain.AggregateEntry, error)

	// PutBatch writes all rows (row key -> entry) into table in a single call,
	// replacing existing rows. The write is not guaranteed atomic across rows.
	// Returns ErrInvalidInput for an unknown table or malformed row key.
	PutBatch(ctx context.Context, table string, rows map[string]*domain.AggregateEntry) error
}

// ExchangeStore provides access to historical trades.
type ExchangeStore interface {
	// InsertBulk adds multiple trades. The aggregator never writes trades;
	// they are imported by a separate process.
	InsertBulk(ctx context.Context, exchanges []*domain.Exchange) error

	// VWAP reduces the trades selected by q into a volume-weighted average
	// price (counter per base). ok is false when no trade matches.
	VWAP(ctx context.Context, q domain.ExchangeQuery) (vwap decimal.Decimal, ok bool, err error)
}

// KnownTable reports whether table is a table PutBatch accepts.
func KnownTable(table string) bool {
	return table == AccountPaymentsTable
}
