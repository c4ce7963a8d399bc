package domain

import (
	"time"

	"github.com/shopspring/decimal"

	"ledger-payment-stats/internal/daykey"
)

// CanonicalCurrency is the unit every normalized value is expressed in.
// It has no issuer.
const CanonicalCurrency = "XRP"

// PaymentEvent is one queued payment, seen from the perspective of a single participant.
// The producer enqueues each ledger payment twice: once with Account = Source
// and once with Account = Destination.
type PaymentEvent struct {
	Source      string          // sending account
	Destination string          // receiving account
	Currency    string          // currency code of the delivered amount
	Issuer      string          // issuing account; empty for CanonicalCurrency
	Amount      decimal.Decimal // delivered amount in Currency
	Time        time.Time       // ledger close time of the payment
	Account     string          // perspective account
	TxHash      string          // ledger transaction hash, informational
}

// IsSenderView reports whether the event updates the sender's bucket.
func (p *PaymentEvent) IsSenderView() bool {
	return p.Account == p.Source
}

// BucketAccount returns the account whose bucket this event updates.
// Any perspective other than the source is treated as the receiver view.
func (p *PaymentEvent) BucketAccount() string {
	if p.IsSenderView() {
		return p.Source
	}
	return p.Destination
}

// BucketKey returns the (day, account) key of the bucket this event updates.
func (p *PaymentEvent) BucketKey() BucketKey {
	return NewBucketKey(p.Time, p.BucketAccount())
}

// IsCanonical reports whether the delivered amount is already in canonical units.
func (p *PaymentEvent) IsCanonical() bool {
	return p.Currency == CanonicalCurrency
}

// BucketKey identifies one AggregateEntry: a UTC calendar day and an account.
// Day is always the UTC start of the day, so keys compare with ==.
type BucketKey struct {
	Day     time.Time
	Account string
}

// NewBucketKey builds a key for the UTC day containing t.
func NewBucketKey(t time.Time, account string) BucketKey {
	return BucketKey{Day: daykey.StartOfDay(t), Account: account}
}

// RowKey returns the sortable store row key for this bucket.
func (k BucketKey) RowKey() string {
	return daykey.RowKey(k.Day, k.Account)
}

func (k BucketKey) String() string {
	return k.RowKey()
}
