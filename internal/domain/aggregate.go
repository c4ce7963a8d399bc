package domain

import (
	"sort"

	"github.com/shopspring/decimal"
)

// AggregateEntry is the per-day, per-account running payment statistics record.
// Corresponds to the agg_account_payments table.
// Invariant: TotalValue == TotalValueSent + TotalValueReceived.
type AggregateEntry struct {
	PaymentsSent            int64
	PaymentsReceived        int64
	TotalValueSent          decimal.Decimal
	TotalValueReceived      decimal.Decimal
	TotalValue              decimal.Decimal
	HighValueSent           decimal.Decimal
	HighValueReceived       decimal.Decimal
	SendingCounterparties   AccountSet // accounts that paid this account
	ReceivingCounterparties AccountSet // accounts this account paid
}

// NewAggregateEntry returns a zero-valued entry. The zero AggregateEntry is
// also usable; its sets are allocated on first insert.
func NewAggregateEntry() *AggregateEntry {
	return &AggregateEntry{
		SendingCounterparties:   NewAccountSet(),
		ReceivingCounterparties: NewAccountSet(),
	}
}

// RecordSent applies an outgoing payment of value to destination.
func (e *AggregateEntry) RecordSent(destination string, value decimal.Decimal) {
	e.PaymentsSent++
	e.TotalValueSent = e.TotalValueSent.Add(value)
	e.TotalValue = e.TotalValue.Add(value)
	e.ReceivingCounterparties.Add(destination)

	if value.GreaterThan(e.HighValueSent) {
		e.HighValueSent = value
	}
}

// RecordReceived applies an incoming payment of value from source.
func (e *AggregateEntry) RecordReceived(source string, value decimal.Decimal) {
	e.PaymentsReceived++
	e.TotalValueReceived = e.TotalValueReceived.Add(value)
	e.TotalValue = e.TotalValue.Add(value)
	e.SendingCounterparties.Add(source)

	if value.GreaterThan(e.HighValueReceived) {
		e.HighValueReceived = value
	}
}

// Clone returns a deep copy of the entry.
func (e *AggregateEntry) Clone() *AggregateEntry {
	c := *e
	c.SendingCounterparties = e.SendingCounterparties.Clone()
	c.ReceivingCounterparties = e.ReceivingCounterparties.Clone()
	return &c
}

// AccountSet is a deduplicated set of account ids. Order is irrelevant.
type AccountSet map[string]struct{}

// NewAccountSet creates a set holding the given accounts.
func NewAccountSet(accounts ...string) AccountSet {
	s := make(AccountSet, len(accounts))
	for _, a := range accounts {
		s.Add(a)
	}
	return s
}

// Add inserts account; adding an existing member is a no-op.
// A nil set is allocated on first insert.
func (s *AccountSet) Add(account string) {
	if *s == nil {
		*s = make(AccountSet)
	}
	(*s)[account] = struct{}{}
}

// Has reports membership.
func (s AccountSet) Has(account string) bool {
	_, ok := s[account]
	return ok
}

// Slice returns the members sorted ascending.
func (s AccountSet) Slice() []string {
	out := make([]string, 0, len(s))
	for a := range s {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}

// Clone returns an independent copy.
func (s AccountSet) Clone() AccountSet {
	c := make(AccountSet, len(s))
	for a := range s {
		c[a] = struct{}{}
	}
	return c
}
