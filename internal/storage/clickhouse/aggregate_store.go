package clickhouse

import (
	"context"
	"fmt"
	"sync"
	"time"

	"ledger-payment-stats/internal/daykey"
	"ledger-payment-stats/internal/domain"
	"ledger-payment-stats/internal/storage"
)

// AggregateStore implements storage.AggregateStore on a ReplacingMergeTree.
// Every PutBatch writes a fresh version, so reads with FINAL see the latest row.
type AggregateStore struct {
	conn *Conn

	mu          sync.Mutex
	lastVersion uint64
}

// NewAggregateStore creates a new AggregateStore.
func NewAggregateStore(conn *Conn) *AggregateStore {
	return &AggregateStore{conn: conn}
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
			total_value_sent, total_value_received, total_value,
			high_value_sent, high_value_received,
			sending_counterparties, receiving_counterparties
		FROM agg_account_payments FINAL
		WHERE row_key = ?
		LIMIT 1
	`

	var e domain.AggregateEntry
	var sendingParties, receivingParties []string

	err := s.conn.QueryRow(ctx, query, daykey.RowKey(day, account)).Scan(
		&e.PaymentsSent, &e.PaymentsReceived,
		&e.TotalValueSent, &e.TotalValueReceived, &e.TotalValue,
		&e.HighValueSent, &e.HighValueReceived,
		&sendingParties, &receivingParties,
	)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("load account aggregate: %w", err)
	}

	e.SendingCounterparties = domain.NewAccountSet(sendingParties...)
	e.ReceivingCounterparties = domain.NewAccountSet(receivingParties...)
	return &e, nil
}

// PutBatch appends one new version of every row in a single insert block.
func (s *AggregateStore) PutBatch(ctx context.Context, table string, rows map[string]*domain.AggregateEntry) error {
	if !storage.KnownTable(table) {
		return storage.ErrInvalidInput
	}
	if len(rows) == 0 {
		return nil
	}

	type parsed struct {
		day     time.Time
		account string
	}
	keys := make(map[string]parsed, len(rows))
	for key, e := range rows {
		if e == nil {
			return storage.ErrInvalidInput
		}
		day, account, err := daykey.ParseRowKey(key)
		if err != nil {
			return fmt.Errorf("%w: %v", storage.ErrInvalidInput, err)
		}
		keys[key] = parsed{day: day, account: account}
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO agg_account_payments (
			row_key, day, account,
			payments_sent, payments_received,
			total_value_sent, total_value_received, total_value,
			high_value_sent, high_value_received,
			sending_counterparties, receiving_counterparties,
			version
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	version := s.nextVersion()
	for key, e := range rows {
		k := keys[key]
		err := batch.Append(
			key, k.day, k.account,
			e.PaymentsSent, e.PaymentsReceived,
			e.TotalValueSent, e.TotalValueReceived, e.TotalValue,
			e.HighValueSent, e.HighValueReceived,
			e.SendingCounterparties.Slice(), e.ReceivingCounterparties.Slice(),
			version,
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

// nextVersion returns a strictly increasing version based on wall time.
func (s *AggregateStore) nextVersion() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	v := uint64(time.Now().UnixNano())
	if v <= s.lastVersion {
		v = s.lastVersion + 1
	}
	s.lastVersion = v
	return v
}
