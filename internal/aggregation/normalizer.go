package aggregation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"ledger-payment-stats/internal/domain"
	"ledger-payment-stats/internal/observability"
	"ledger-payment-stats/internal/storage"
)

// rateKey identifies one historical rate lookup. Both perspectives of a
// payment produce the same key.
type rateKey struct {
	currency string
	issuer   string
	at       int64 // UnixNano of the payment time
}

type rateResult struct {
	vwap decimal.Decimal
	ok   bool // false: no trade history
}

// NormalizerOptions contains configuration for creating a Normalizer.
type NormalizerOptions struct {
	CallTimeout time.Duration // Default: 30s
	Concurrency int           // Default: 16 concurrent lookups per batch
	CacheSize   int           // Default: 4096 memoized rates
	Logger      *slog.Logger
}

// Normalizer converts delivered amounts into canonical units using the
// VWAP of recent trades before the payment.
type Normalizer struct {
	exchanges   storage.ExchangeStore
	memo        *lru.Cache[rateKey, rateResult]
	callTimeout time.Duration
	concurrency int
	logger      *slog.Logger
}

// NewNormalizer creates a Normalizer backed by exchanges.
func NewNormalizer(exchanges storage.ExchangeStore, opts NormalizerOptions) (*Normalizer, error) {
	if exchanges == nil {
		return nil, fmt.Errorf("exchange store is required")
	}

	callTimeout := opts.CallTimeout
	if callTimeout == 0 {
		callTimeout = 30 * time.Second
	}
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = 16
	}
	cacheSize := opts.CacheSize
	if cacheSize <= 0 {
		cacheSize = 4096
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	memo, err := lru.New[rateKey, rateResult](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("create rate cache: %w", err)
	}

	return &Normalizer{
		exchanges:   exchanges,
		memo:        memo,
		callTimeout: callTimeout,
		concurrency: concurrency,
		logger:      logger,
	}, nil
}

// normalizeOne returns the canonical-unit value of a single event, going
// through the same memo as NormalizeBatch.
func (n *Normalizer) normalizeOne(ctx context.Context, ev domain.PaymentEvent) (decimal.Decimal, error) {
	key, needsRate := n.rateKeyFor(ev)
	if !needsRate {
		return n.resolve(ev, rateResult{}), nil
	}

	res, err := n.lookup(ctx, key)
	if err != nil {
		observability.RecordNormalization(observability.OutcomeLookupError)
		return decimal.Zero, err
	}
	return n.resolve(ev, res), nil
}

// NormalizeBatch normalizes every event of batch. The result is index-aligned
// with batch. Each distinct rate is fetched at most once; lookups run
// concurrently and the first failure aborts the batch.
func (n *Normalizer) NormalizeBatch(ctx context.Context, batch []domain.PaymentEvent) ([]decimal.Decimal, error) {
	if len(batch) == 1 {
		v, err := n.normalizeOne(ctx, batch[0])
		if err != nil {
			return nil, err
		}
		return []decimal.Decimal{v}, nil
	}

	var pending []rateKey
	seen := make(map[rateKey]struct{})
	for i := range batch {
		key, needsRate := n.rateKeyFor(batch[i])
		if !needsRate {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		pending = append(pending, key)
	}

	rates := make(map[rateKey]rateResult, len(pending))
	results := make([]rateResult, len(pending))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(n.concurrency)
	for i, key := range pending {
		g.Go(func() error {
			res, err := n.lookup(gctx, key)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		observability.RecordNormalization(observability.OutcomeLookupError)
		return nil, err
	}
	for i, key := range pending {
		rates[key] = results[i]
	}

	normalized := make([]decimal.Decimal, len(batch))
	for i := range batch {
		key, _ := n.rateKeyFor(batch[i])
		normalized[i] = n.resolve(batch[i], rates[key])
	}
	return normalized, nil
}

// rateKeyFor reports whether ev needs a historical rate, and which.
func (n *Normalizer) rateKeyFor(ev domain.PaymentEvent) (rateKey, bool) {
	if ev.IsCanonical() || ev.Issuer == "" {
		return rateKey{}, false
	}
	return rateKey{currency: ev.Currency, issuer: ev.Issuer, at: ev.Time.UnixNano()}, true
}

// resolve applies the normalization rules to ev given its looked-up rate.
func (n *Normalizer) resolve(ev domain.PaymentEvent, res rateResult) decimal.Decimal {
	switch {
	case ev.IsCanonical():
		observability.RecordNormalization(observability.OutcomeCanonical)
		return ev.Amount

	case ev.Issuer == "":
		observability.RecordNormalization(observability.OutcomeMissingIssuer)
		n.logger.Warn("payment normalized to zero",
			"err", ErrMissingIssuer,
			"tx_hash", ev.TxHash,
			"currency", ev.Currency,
			"account", ev.Account,
		)
		return decimal.Zero

	case !res.ok:
		observability.RecordNormalization(observability.OutcomeNoHistory)
		return decimal.Zero

	case res.vwap.IsZero():
		observability.RecordNormalization(observability.OutcomeZeroVWAP)
		n.logger.Warn("payment normalized to zero",
			"err", ErrZeroVWAP,
			"tx_hash", ev.TxHash,
			"currency", ev.Currency,
			"issuer", ev.Issuer,
		)
		return decimal.Zero

	default:
		observability.RecordNormalization(observability.OutcomeConverted)
		return ev.Amount.Div(res.vwap)
	}
}

// lookup returns the memoized rate for key, querying the store on a miss.
// Only completed lookups are memoized.
func (n *Normalizer) lookup(ctx context.Context, key rateKey) (rateResult, error) {
	if res, ok := n.memo.Get(key); ok {
		observability.RecordRateCacheHit()
		return res, nil
	}

	at := time.Unix(0, key.at).UTC()
	q := domain.NewRateQuery(key.currency, key.issuer, at)
	// Nothing can trade before the epoch.
	if !q.End.After(q.Start) {
		res := rateResult{}
		n.memo.Add(key, res)
		return res, nil
	}

	var res rateResult
	err := storeCall(ctx, n.callTimeout, "vwap", ErrRateLookup, func(ctx context.Context) error {
		vwap, ok, err := n.exchanges.VWAP(ctx, q)
		if err != nil {
			return err
		}
		res = rateResult{vwap: vwap, ok: ok}
		return nil
	})
	if err != nil {
		return rateResult{}, fmt.Errorf("%s.%s at %s: %w", key.currency, key.issuer, at.Format(time.RFC3339), err)
	}

	n.memo.Add(key, res)
	return res, nil
}
