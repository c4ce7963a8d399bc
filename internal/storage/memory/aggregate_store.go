package memory

import (
	"context"
	"sync"
	"time"

	"ledger-payment-stats/internal/daykey"
	"ledger-payment-stats/internal/domain"
	"ledger-payment-stats/internal/storage"
)

// AggregateStore is an in-memory implementation of storage.AggregateStore.
type AggregateStore struct {
	mu     sync.RWMutex
	tables map[string]map[string]*domain.AggregateEntry // table -> row key -> entry
	puts   int
}

// NewAggregateStore creates a new in-memory aggregate store.
func NewAggregateStore() *AggregateStore {
	return &AggregateStore{
		tables: make(map[string]map[string]*domain.AggregateEntry),
	}
}

// Load retrieves the aggregate for (day, account). Returns ErrNotFound if not exists.
func (s *AggregateStore) Load(_ context.Context, day time.Time, account string) (*domain.AggregateEntry, error) {
	if account == "" {
		return nil, storage.ErrInvalidInput
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, exists := s.tables[storage.AccountPaymentsTable][daykey.RowKey(day, account)]
	if !exists {
		return nil, storage.ErrNotFound
	}
	return entry.Clone(), nil
}

// PutBatch writes all rows in one call, replacing existing rows.
// Rows are validated before any is written.
func (s *AggregateStore) PutBatch(_ context.Context, table string, rows map[string]*domain.AggregateEntry) error {
	if !storage.KnownTable(table) {
		return storage.ErrInvalidInput
	}
	for key, entry := range rows {
		if entry == nil {
			return storage.ErrInvalidInput
		}
		if _, _, err := daykey.ParseRowKey(key); err != nil {
			return storage.ErrInvalidInput
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tables[table]
	if !ok {
		t = make(map[string]*domain.AggregateEntry)
		s.tables[table] = t
	}
	for key, entry := range rows {
		t[key] = entry.Clone()
	}
	s.puts++

	return nil
}

// Row returns a copy of the row stored under key in table, if any.
func (s *AggregateStore) Row(table, key string) (*domain.AggregateEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.tables[table][key]
	if !ok {
		return nil, false
	}
	return entry.Clone(), true
}

// Len returns the number of rows in table.
func (s *AggregateStore) Len(table string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tables[table])
}

// Puts returns the number of successful PutBatch calls.
func (s *AggregateStore) Puts() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.puts
}

var _ storage.AggregateStore = (*AggregateStore)(nil)
