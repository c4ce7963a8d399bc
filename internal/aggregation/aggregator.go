// Package aggregation turns a stream of payment events into per-account,
// per-day statistics normalized into XRP.
//
// A single worker goroutine owns the bucket cache. It drains the queue into
// a batch, loads uncached buckets, normalizes amounts, applies them in
// enqueue order and writes the touched buckets back in one call. The same
// goroutine evicts stale days, so a cycle and an eviction never overlap.
package aggregation

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"ledger-payment-stats/internal/daykey"
	"ledger-payment-stats/internal/domain"
	"ledger-payment-stats/internal/observability"
	"ledger-payment-stats/internal/storage"
)

// NoRetentionOffset makes the reaper drop everything before the current UTC
// day. A zero RetentionOffset selects the default instead.
const NoRetentionOffset time.Duration = -1

// Options contains configuration for creating an Aggregator.
type Options struct {
	AggregateStore storage.AggregateStore
	ExchangeStore  storage.ExchangeStore
	Logger         *slog.Logger
	Clock          clockwork.Clock // Default: real clock

	PollInterval      time.Duration // Default: 200ms - idle re-check delay
	ReapInterval      time.Duration // Default: 1h
	RetentionOffset   time.Duration // Default: 12h - kept before the current UTC day; NoRetentionOffset for none
	CallTimeout       time.Duration // Default: 30s - per store call
	ShutdownTimeout   time.Duration // Default: 10s - budget for the in-flight cycle and final drain
	LoadConcurrency   int           // Default: 16
	LookupConcurrency int           // Default: 16
	RateCacheSize     int           // Default: 4096
}

// Stats is a point-in-time snapshot for health reporting.
type Stats struct {
	Queued        int
	Enqueued      int64
	Cycles        int64
	FailedCycles  int64
	CachedBuckets int
	LastCycleAt   time.Time
}

// Aggregator accumulates payment events into daily account buckets.
type Aggregator struct {
	aggregates storage.AggregateStore
	normalizer *Normalizer
	logger     *slog.Logger
	clock      clockwork.Clock

	pollInterval    time.Duration
	reapInterval    time.Duration
	retentionOffset time.Duration
	callTimeout     time.Duration
	shutdownTimeout time.Duration
	loadConcurrency int

	queue *queue
	cache *bucketCache // owned by the Run goroutine

	enqueued      atomic.Int64
	cycles        atomic.Int64
	failedCycles  atomic.Int64
	cachedBuckets atomic.Int64
	lastCycleAt   atomic.Int64 // UnixNano
}

// New creates an Aggregator. Both stores are required.
func New(opts Options) (*Aggregator, error) {
	if opts.AggregateStore == nil {
		return nil, fmt.Errorf("aggregate store is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	pollInterval := opts.PollInterval
	if pollInterval == 0 {
		pollInterval = 200 * time.Millisecond
	}
	reapInterval := opts.ReapInterval
	if reapInterval == 0 {
		reapInterval = time.Hour
	}
	retentionOffset := opts.RetentionOffset
	switch {
	case retentionOffset == 0:
		retentionOffset = 12 * time.Hour
	case retentionOffset < 0:
		retentionOffset = 0
	}
	callTimeout := opts.CallTimeout
	if callTimeout == 0 {
		callTimeout = 30 * time.Second
	}
	shutdownTimeout := opts.ShutdownTimeout
	if shutdownTimeout == 0 {
		shutdownTimeout = 10 * time.Second
	}
	loadConcurrency := opts.LoadConcurrency
	if loadConcurrency <= 0 {
		loadConcurrency = 16
	}

	normalizer, err := NewNormalizer(opts.ExchangeStore, NormalizerOptions{
		CallTimeout: callTimeout,
		Concurrency: opts.LookupConcurrency,
		CacheSize:   opts.RateCacheSize,
		Logger:      logger,
	})
	if err != nil {
		return nil, err
	}

	return &Aggregator{
		aggregates:      opts.AggregateStore,
		normalizer:      normalizer,
		logger:          logger,
		clock:           clock,
		pollInterval:    pollInterval,
		reapInterval:    reapInterval,
		retentionOffset: retentionOffset,
		callTimeout:     callTimeout,
		shutdownTimeout: shutdownTimeout,
		loadConcurrency: loadConcurrency,
		queue:           newQueue(),
		cache:           newBucketCache(),
	}, nil
}

// Enqueue adds ev to the next batch. It never blocks and never rejects.
// Safe for concurrent use.
func (a *Aggregator) Enqueue(ev domain.PaymentEvent) {
	depth := a.queue.push(ev)
	a.enqueued.Add(1)
	observability.RecordEnqueued(depth)
}

// Run processes queued events until ctx is cancelled, then drains what is
// left once more before returning ctx.Err().
//
// Cycles do not inherit ctx's cancellation: a batch that is mid-flight when
// ctx is cancelled still completes, and so does the final drain. Both share
// a budget of ShutdownTimeout counted from the cancellation.
func (a *Aggregator) Run(ctx context.Context) error {
	cycleCtx, cancelCycles := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelCycles()

	var budget atomic.Pointer[time.Timer]
	stopBudget := context.AfterFunc(ctx, func() {
		budget.Store(time.AfterFunc(a.shutdownTimeout, cancelCycles))
	})
	defer func() {
		stopBudget()
		if t := budget.Load(); t != nil {
			t.Stop()
		}
	}()

	poll := a.clock.NewTicker(a.pollInterval)
	defer poll.Stop()
	reap := a.clock.NewTicker(a.reapInterval)
	defer reap.Stop()

	a.logger.Info("aggregator started",
		"poll_interval", a.pollInterval,
		"reap_interval", a.reapInterval,
		"retention_offset", a.retentionOffset,
	)

	for {
		// Backlog is processed back to back; eviction gets a turn between cycles.
		if ctx.Err() == nil && a.queue.len() > 0 {
			_ = a.runCycle(cycleCtx)
			select {
			case <-reap.Chan():
				a.reap()
			default:
			}
			continue
		}

		select {
		case <-ctx.Done():
			a.shutdown(cycleCtx)
			return ctx.Err()
		case <-a.queue.notify:
		case <-poll.Chan():
		case <-reap.Chan():
			a.reap()
		}
	}
}

// shutdown runs one last cycle for events queued before cancellation.
// ctx is the cycle context, already bounded by the shutdown budget.
func (a *Aggregator) shutdown(ctx context.Context) {
	if a.queue.len() > 0 {
		_ = a.runCycle(ctx)
	}
	a.logger.Info("aggregator stopped", "dropped", a.queue.len())
}

// runCycle drains the queue and runs one batch through the pipeline.
// A failed batch is logged once and not retried; mutations applied to
// cached buckets before the failure are kept.
func (a *Aggregator) runCycle(ctx context.Context) error {
	batch := a.queue.drain()
	observability.SetQueueDepth(a.queue.len())
	if len(batch) == 0 {
		return nil
	}

	cycleID := uuid.NewString()
	start := a.clock.Now()

	touched, err := a.process(ctx, batch)

	finished := a.clock.Now()
	a.cycles.Add(1)
	a.lastCycleAt.Store(finished.UnixNano())
	a.cachedBuckets.Store(int64(a.cache.len()))
	observability.SetCachedBuckets(a.cache.len())

	if err != nil {
		a.failedCycles.Add(1)
		observability.RecordCycle("failure", finished.Sub(start).Seconds(), len(batch), len(touched), finished.Unix())
		a.logger.Error("aggregation cycle failed",
			"cycle_id", cycleID,
			"batch_size", len(batch),
			"err", err,
		)
		return err
	}

	observability.RecordCycle("success", finished.Sub(start).Seconds(), len(batch), len(touched), finished.Unix())
	if a.logger.Enabled(ctx, slog.LevelDebug) {
		keys := make([]string, len(touched))
		for i, k := range touched {
			keys[i] = k.RowKey()
		}
		a.logger.Debug("aggregation cycle complete",
			"cycle_id", cycleID,
			"batch_size", len(batch),
			"touched", keys,
			"duration", finished.Sub(start),
		)
	}
	return nil
}

// process is the cycle pipeline: load, normalize, adjust, persist.
func (a *Aggregator) process(ctx context.Context, batch []domain.PaymentEvent) ([]domain.BucketKey, error) {
	if err := a.loadBuckets(ctx, batch); err != nil {
		return nil, fmt.Errorf("load buckets: %w", err)
	}

	normalized, err := a.normalizer.NormalizeBatch(ctx, batch)
	if err != nil {
		return nil, fmt.Errorf("normalize: %w", err)
	}

	touched, err := adjust(a.cache, batch, normalized)
	if err != nil {
		return touched, err
	}

	if err := a.persist(ctx, touched); err != nil {
		return touched, fmt.Errorf("persist %d buckets: %w", len(touched), err)
	}
	return touched, nil
}

// reap evicts cached days strictly older than the start of the current UTC
// day minus the retention offset. The store is never touched.
func (a *Aggregator) reap() int {
	cutoff := daykey.StartOfDay(a.clock.Now()).Add(-a.retentionOffset)
	evicted := a.cache.evictBefore(cutoff)

	a.cachedBuckets.Store(int64(a.cache.len()))
	observability.SetCachedBuckets(a.cache.len())
	observability.RecordEvictions(evicted)

	if evicted > 0 {
		a.logger.Info("evicted stale buckets",
			"evicted", evicted,
			"cutoff", cutoff,
			"remaining", a.cache.len(),
		)
	}
	return evicted
}

// Stats returns a snapshot of the aggregator's counters. Safe for concurrent use.
func (a *Aggregator) Stats() Stats {
	s := Stats{
		Queued:        a.queue.len(),
		Enqueued:      a.enqueued.Load(),
		Cycles:        a.cycles.Load(),
		FailedCycles:  a.failedCycles.Load(),
		CachedBuckets: int(a.cachedBuckets.Load()),
	}
	if ns := a.lastCycleAt.Load(); ns != 0 {
		s.LastCycleAt = time.Unix(0, ns).UTC()
	}
	return s
}
