package aggregation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"ledger-payment-stats/internal/domain"
	"ledger-payment-stats/internal/logger"
	"ledger-payment-stats/internal/storage"
	"ledger-payment-stats/internal/storage/memory"
)

var (
	dayD  = time.Date(2015, 1, 14, 0, 0, 0, 0, time.UTC)
	noonD = dayD.Add(12 * time.Hour)
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// payment returns both perspectives of one ledger payment: sender view first.
func payment(source, dest, currency, issuer, amount string, at time.Time) (domain.PaymentEvent, domain.PaymentEvent) {
	ev := domain.PaymentEvent{
		Source:      source,
		Destination: dest,
		Currency:    currency,
		Issuer:      issuer,
		Amount:      dec(amount),
		Time:        at,
		Account:     source,
	}
	recv := ev
	recv.Account = dest
	return ev, recv
}

func xrpSent(source, dest, amount string, at time.Time) domain.PaymentEvent {
	ev, _ := payment(source, dest, domain.CanonicalCurrency, "", amount, at)
	return ev
}

// fakeClock is the part of clockwork's fake clock the tests drive.
type fakeClock interface {
	clockwork.Clock
	Advance(d time.Duration)
	BlockUntilContext(ctx context.Context, n int) error
}

type testEnv struct {
	agg       *Aggregator
	store     *memory.AggregateStore
	exchanges *memory.ExchangeStore
	clock     fakeClock
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := memory.NewAggregateStore()
	exchanges := memory.NewExchangeStore()
	return newTestEnvWith(t, store, exchanges, store, exchanges)
}

func newTestEnvWith(t *testing.T, aggStore storage.AggregateStore, exStore storage.ExchangeStore,
	store *memory.AggregateStore, exchanges *memory.ExchangeStore) *testEnv {
	t.Helper()

	clock := clockwork.NewFakeClockAt(dayD.Add(9 * time.Hour))
	agg, err := New(Options{
		AggregateStore: aggStore,
		ExchangeStore:  exStore,
		Logger:         logger.Discard(),
		Clock:          clock,
		CallTimeout:    time.Second,
	})
	require.NoError(t, err)

	return &testEnv{agg: agg, store: store, exchanges: exchanges, clock: clock}
}

// seedRate inserts one XRP/currency trade one hour before at with the given
// counter-per-XRP price.
func (e *testEnv) seedRate(t *testing.T, currency, issuer, price string, at time.Time) {
	t.Helper()
	err := e.exchanges.InsertBulk(context.Background(), []*domain.Exchange{{
		BaseCurrency:    domain.CanonicalCurrency,
		CounterCurrency: currency,
		CounterIssuer:   issuer,
		BaseAmount:      dec("1"),
		CounterAmount:   dec(price),
		ExecutedAt:      at.Add(-time.Hour),
	}})
	require.NoError(t, err)
}

// storedRow returns the persisted entry for (day, account).
func (e *testEnv) storedRow(t *testing.T, day time.Time, account string) *domain.AggregateEntry {
	t.Helper()
	row, ok := e.store.Row(storage.AccountPaymentsTable, domain.NewBucketKey(day, account).RowKey())
	require.True(t, ok, "no stored row for %s on %s", account, day.Format("2006-01-02"))
	return row
}

// recordingStore records every PutBatch's row keys and can hold the first
// write open until released.
type recordingStore struct {
	*memory.AggregateStore

	entered chan struct{}
	release chan struct{}

	mu      sync.Mutex
	batches [][]string
}

func newRecordingStore(block bool) *recordingStore {
	s := &recordingStore{
		AggregateStore: memory.NewAggregateStore(),
		entered:        make(chan struct{}, 16),
		release:        make(chan struct{}),
	}
	if !block {
		close(s.release)
	}
	return s
}

func (s *recordingStore) PutBatch(ctx context.Context, table string, rows map[string]*domain.AggregateEntry) error {
	keys := make([]string, 0, len(rows))
	for k := range rows {
		keys = append(keys, k)
	}
	s.mu.Lock()
	s.batches = append(s.batches, keys)
	s.mu.Unlock()

	s.entered <- struct{}{}
	<-s.release
	return s.AggregateStore.PutBatch(ctx, table, rows)
}

func (s *recordingStore) Batches() [][]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]string, len(s.batches))
	copy(out, s.batches)
	return out
}

// slowStore holds every PutBatch for delay unless ctx ends first, like a
// network store would. It records the context error it observed.
type slowStore struct {
	*memory.AggregateStore

	delay   time.Duration
	entered chan struct{}

	mu     sync.Mutex
	ctxErr error
}

func newSlowStore(delay time.Duration) *slowStore {
	return &slowStore{
		AggregateStore: memory.NewAggregateStore(),
		delay:          delay,
		entered:        make(chan struct{}, 16),
	}
}

func (s *slowStore) PutBatch(ctx context.Context, table string, rows map[string]*domain.AggregateEntry) error {
	s.entered <- struct{}{}

	timer := time.NewTimer(s.delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return s.AggregateStore.PutBatch(ctx, table, rows)
	case <-ctx.Done():
		s.mu.Lock()
		s.ctxErr = ctx.Err()
		s.mu.Unlock()
		return ctx.Err()
	}
}

func (s *slowStore) CtxErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctxErr
}

// sparseStore returns entries whose counterparty sets were never allocated.
type sparseStore struct {
	*memory.AggregateStore
}

func (s *sparseStore) Load(_ context.Context, _ time.Time, _ string) (*domain.AggregateEntry, error) {
	return &domain.AggregateEntry{PaymentsSent: 3}, nil
}

// failingStore fails selected operations.
type failingStore struct {
	*memory.AggregateStore
	loadErr error
	putErr  error
}

func (s *failingStore) Load(ctx context.Context, day time.Time, account string) (*domain.AggregateEntry, error) {
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	return s.AggregateStore.Load(ctx, day, account)
}

func (s *failingStore) PutBatch(ctx context.Context, table string, rows map[string]*domain.AggregateEntry) error {
	if s.putErr != nil {
		return s.putErr
	}
	return s.AggregateStore.PutBatch(ctx, table, rows)
}

// countingExchanges counts VWAP calls and can fail or stall them.
type countingExchanges struct {
	*memory.ExchangeStore

	mu    sync.Mutex
	calls int
	err   error
	stall bool
}

func (s *countingExchanges) VWAP(ctx context.Context, q domain.ExchangeQuery) (decimal.Decimal, bool, error) {
	s.mu.Lock()
	s.calls++
	err, stall := s.err, s.stall
	s.mu.Unlock()

	if stall {
		<-ctx.Done()
		return decimal.Zero, false, ctx.Err()
	}
	if err != nil {
		return decimal.Zero, false, err
	}
	return s.ExchangeStore.VWAP(ctx, q)
}

func (s *countingExchanges) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

var errBoom = errors.New("boom")
