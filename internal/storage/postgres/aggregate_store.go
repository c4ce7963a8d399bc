package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"ledger-payment-stats/internal/daykey"
	"ledger-payment-stats/internal/domain"
	"ledger-payment-stats/internal/storage"
)

// AggregateStore implements storage.AggregateStore using PostgreSQL.
type AggregateStore struct {
	pool *Pool
}

// NewAggregateStore creates a new AggregateStore.
func NewAggregateStore(pool *Pool) *AggregateStore {
	return &AggregateStore{pool: pool}
}

// Compile-time interface check.
var _ storage.AggregateStore = (*AggregateStore)(nil)

// Load retrieves the aggregate for (day, account). Returns ErrNotFound if not exists.
func (s *AggregateStore) Load(ctx context.Context, day time.Time, account string) (*domain.AggregateEntry, error) {
	if account == "" {
		return nil, storage.ErrInvalidInput
	}

	query := `
		SELECT
			payments_sent, payments_received,
			total_value_sent::text, total_value_received::text, total_value::text,
			high_value_sent::text, high_value_received::text,
			sending_counterparties, receiving_counterparties
		FROM agg_account_payments
		WHERE row_key = $1
	`

	row := s.pool.QueryRow(ctx, query, daykey.RowKey(day, account))
	entry, err := scanAggregateEntry(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("load account aggregate: %w", err)
	}
	return entry, nil
}

// PutBatch upserts all rows in one round trip.
func (s *AggregateStore) PutBatch(ctx context.Context, table string, rows map[string]*domain.AggregateEntry) error {
	if !storage.KnownTable(table) {
		return storage.ErrInvalidInput
	}
	if len(rows) == 0 {
		return nil
	}

	query := `
		INSERT INTO agg_account_payments (
			row_key, day, account,
			payments_sent, payments_received,
			total_value_sent, total_value_received, total_value,
			high_value_sent, high_value_received,
			sending_counterparties, receiving_counterparties,
			updated_at
		) VALUES (
			$1, $2, $3,
			$4, $5,
			$6::numeric, $7::numeric, $8::numeric,
			$9::numeric, $10::numeric,
			$11, $12,
			NOW()
		)
		ON CONFLICT (row_key) DO UPDATE SET
			payments_sent = EXCLUDED.payments_sent,
			payments_received = EXCLUDED.payments_received,
			total_value_sent = EXCLUDED.total_value_sent,
			total_value_received = EXCLUDED.total_value_received,
			total_value = EXCLUDED.total_value,
			high_value_sent = EXCLUDED.high_value_sent,
			high_value_received = EXCLUDED.high_value_received,
			sending_counterparties = EXCLUDED.sending_counterparties,
			receiving_counterparties = EXCLUDED.receiving_counterparties,
			updated_at = EXCLUDED.updated_at
	`

	batch := &pgx.Batch{}
	for key, e := range rows {
		if e == nil {
			return storage.ErrInvalidInput
		}
		day, account, err := daykey.ParseRowKey(key)
		if err != nil {
			return fmt.Errorf("%w: %v", storage.ErrInvalidInput, err)
		}
		batch.Queue(query,
			key, day, account,
			e.PaymentsSent, e.PaymentsReceived,
			e.TotalValueSent.String(), e.TotalValueReceived.String(), e.TotalValue.String(),
			e.HighValueSent.String(), e.HighValueReceived.String(),
			e.SendingCounterparties.Slice(), e.ReceivingCounterparties.Slice(),
		)
	}

	if err := s.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("upsert account aggregates: %w", err)
	}
	return nil
}

func scanAggregateEntry(row pgx.Row) (*domain.AggregateEntry, error) {
	var e domain.AggregateEntry
	var sentTotal, recvTotal, total, highSent, highRecv string
	var sendingParties, receivingParties []string

	err := row.Scan(
		&e.PaymentsSent, &e.PaymentsReceived,
		&sentTotal, &recvTotal, &total,
		&highSent, &highRecv,
		&sendingParties, &receivingParties,
	)
	if err != nil {
		return nil, err
	}

	if e.TotalValueSent, err = parseNumeric("total_value_sent", sentTotal); err != nil {
		return nil, err
	}
	if e.TotalValueReceived, err = parseNumeric("total_value_received", recvTotal); err != nil {
		return nil, err
	}
	if e.TotalValue, err = parseNumeric("total_value", total); err != nil {
		return nil, err
	}
	if e.HighValueSent, err = parseNumeric("high_value_sent", highSent); err != nil {
		return nil, err
	}
	if e.HighValueReceived, err = parseNumeric("high_value_received", highRecv); err != nil {
		return nil, err
	}
	e.SendingCounterparties = domain.NewAccountSet(sendingParties...)
	e.ReceivingCounterparties = domain.NewAccountSet(receivingParties...)

	return &e, nil
}
