package postgres

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"ledger-payment-stats/internal/domain"
	"ledger-payment-stats/internal/storage"
)

// ExchangeStore implements storage.ExchangeStore using PostgreSQL.
type ExchangeStore struct {
	pool *Pool
}

// NewExchangeStore creates a new ExchangeStore.
func NewExchangeStore(pool *Pool) *ExchangeStore {
	return &ExchangeStore{pool: pool}
}

// Compile-time interface check.
var _ storage.ExchangeStore = (*ExchangeStore)(nil)

// InsertBulk adds multiple trades atomically.
func (s *ExchangeStore) InsertBulk(ctx context.Context, exchanges []*domain.Exchange) error {
	if len(exchanges) == 0 {
		return nil
	}
	for _, e := range exchanges {
		if e == nil || e.BaseCurrency == "" || e.CounterCurrency == "" {
			return storage.ErrInvalidInput
		}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO exchanges (
			base_currency, base_issuer, counter_currency, counter_issuer,
			base_amount, counter_amount, executed_at, tx_hash, ledger_index
		) VALUES (
			$1, $2, $3, $4,
			$5::numeric, $6::numeric, $7, $8, $9
		)
	`

	for _, e := range exchanges {
		_, err := tx.Exec(ctx, query,
			e.BaseCurrency, e.BaseIssuer, e.CounterCurrency, e.CounterIssuer,
			e.BaseAmount.String(), e.CounterAmount.String(), e.ExecutedAt, e.TxHash, e.LedgerIndex,
		)
		if err != nil {
			return fmt.Errorf("insert exchange in bulk: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	return nil
}

// VWAP sums the selected window server-side and divides in Go.
func (s *ExchangeStore) VWAP(ctx context.Context, q domain.ExchangeQuery) (decimal.Decimal, bool, error) {
	if err := storage.ValidateQuery(q); err != nil {
		return decimal.Zero, false, err
	}

	order := "ASC"
	if q.Descending {
		order = "DESC"
	}

	query := fmt.Sprintf(`
		SELECT
			COALESCE(SUM(base_amount), 0)::text,
			COALESCE(SUM(counter_amount), 0)::text,
			COUNT(*)
		FROM (
			SELECT base_amount, counter_amount
			FROM exchanges
			WHERE base_currency = $1
			  AND counter_currency = $2
			  AND counter_issuer = $3
			  AND executed_at >= $4
			  AND executed_at < $5
			ORDER BY executed_at %s, id %s
			LIMIT $6
		) window_trades
	`, order, order)

	var baseSum, counterSum string
	var count int64
	err := s.pool.QueryRow(ctx, query,
		q.BaseCurrency, q.CounterCurrency, q.CounterIssuer, q.Start, q.End, q.Limit,
	).Scan(&baseSum, &counterSum, &count)
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("query exchange vwap: %w", err)
	}

	base, err := parseNumeric("base_amount sum", baseSum)
	if err != nil {
		return decimal.Zero, false, err
	}
	counter, err := parseNumeric("counter_amount sum", counterSum)
	if err != nil {
		return decimal.Zero, false, err
	}

	vwap, ok := storage.VWAPFromSums(base, counter, count)
	return vwap, ok, nil
}
