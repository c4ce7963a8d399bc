package aggregation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ledger-payment-stats/internal/observability"
)

// Aggregation errors. The first and third are absorbed by the normalizer
// and only ever appear in logs; the rest abort the cycle that hit them.
var (
	// ErrMissingIssuer marks a non-canonical payment that carries no issuer.
	ErrMissingIssuer = errors.New("non-canonical currency without issuer")

	// ErrRateLookup wraps a store failure while querying trade history.
	ErrRateLookup = errors.New("rate lookup failed")

	// ErrZeroVWAP marks trade history whose volume-weighted price is zero.
	ErrZeroVWAP = errors.New("zero vwap")

	// ErrStoreRead wraps a failure loading a bucket.
	ErrStoreRead = errors.New("store read failed")

	// ErrStoreWrite wraps a failure writing touched buckets.
	ErrStoreWrite = errors.New("store write failed")

	// ErrCallTimeout marks an external call that exceeded its deadline.
	ErrCallTimeout = errors.New("store call timed out")
)

// storeCall runs fn under timeout (if positive), records its latency as op
// and classifies a failure as kind, adding ErrCallTimeout on a deadline.
func storeCall(ctx context.Context, timeout time.Duration, op string, kind error, fn func(context.Context) error) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	err := fn(ctx)
	observability.RecordStoreCall(op, time.Since(start).Seconds(), err)

	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %w: %s: %w", kind, ErrCallTimeout, op, err)
	default:
		return fmt.Errorf("%w: %s: %w", kind, op, err)
	}
}
