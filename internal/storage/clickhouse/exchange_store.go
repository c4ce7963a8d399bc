package clickhouse

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"ledger-payment-stats/internal/domain"
	"ledger-payment-stats/internal/storage"
)

// ExchangeStore implements storage.ExchangeStore using ClickHouse.
type ExchangeStore struct {
	conn *Conn
}

// NewExchangeStore creates a new ExchangeStore.
func NewExchangeStore(conn *Conn) *ExchangeStore {
	return &ExchangeStore{conn: conn}
}

// Compile-time interface check.
var _ storage.ExchangeStore = (*ExchangeStore)(nil)

// InsertBulk adds multiple trades in one insert block.
func (s *ExchangeStore) InsertBulk(ctx context.Context, exchanges []*domain.Exchange) error {
	if len(exchanges) == 0 {
		return nil
	}
	for _, e := range exchanges {
		if e == nil || e.BaseCurrency == "" || e.CounterCurrency == "" {
			return storage.ErrInvalidInput
		}
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO exchanges (
			base_currency, base_issuer, counter_currency, counter_issuer,
			base_amount, counter_amount, executed_at, tx_hash, ledger_index
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, e := range exchanges {
		err := batch.Append(
			e.BaseCurrency, e.BaseIssuer, e.CounterCurrency, e.CounterIssuer,
			e.BaseAmount, e.CounterAmount, e.ExecutedAt, e.TxHash, e.LedgerIndex,
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
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
		SELECT sum(base_amount), sum(counter_amount), count()
		FROM (
			SELECT base_amount, counter_amount
			FROM exchanges
			WHERE base_currency = ?
			  AND counter_currency = ?
			  AND counter_issuer = ?
			  AND executed_at >= ?
			  AND executed_at < ?
			ORDER BY executed_at %s
			LIMIT ?
		)
	`, order)

	var baseSum, counterSum decimal.Decimal
	var count uint64
	err := s.conn.QueryRow(ctx, query,
		q.BaseCurrency, q.CounterCurrency, q.CounterIssuer, q.Start, q.End, q.Limit,
	).Scan(&baseSum, &counterSum, &count)
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("query exchange vwap: %w", err)
	}

	vwap, ok := storage.VWAPFromSums(baseSum, counterSum, int64(count))
	return vwap, ok, nil
}
