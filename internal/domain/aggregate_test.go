package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestAggregateEntry_RecordSent(t *testing.T) {
	e := NewAggregateEntry()

	e.RecordSent("rBob", dec("100"))
	e.RecordSent("rBob", dec("40"))
	e.RecordSent("rCarol", dec("2.5"))

	assert.Equal(t, int64(3), e.PaymentsSent)
	assert.Equal(t, int64(0), e.PaymentsReceived)
	assert.True(t, e.TotalValueSent.Equal(dec("142.5")))
	assert.True(t, e.TotalValue.Equal(dec("142.5")))
	assert.True(t, e.HighValueSent.Equal(dec("100")))
	assert.Equal(t, []string{"rBob", "rCarol"}, e.ReceivingCounterparties.Slice())
	assert.Empty(t, e.SendingCounterparties)
}

func TestAggregateEntry_RecordReceived(t *testing.T) {
	e := NewAggregateEntry()

	e.RecordReceived("rAlice", dec("7"))
	e.RecordReceived("rAlice", dec("9"))

	assert.Equal(t, int64(2), e.PaymentsReceived)
	assert.True(t, e.TotalValueReceived.Equal(dec("16")))
	assert.True(t, e.HighValueReceived.Equal(dec("9")))
	assert.Equal(t, []string{"rAlice"}, e.SendingCounterparties.Slice())
}

func TestAggregateEntry_TotalValueInvariant(t *testing.T) {
	e := NewAggregateEntry()
	values := []string{"1.1", "0", "3.33", "12", "0.000001"}

	for i, v := range values {
		if i%2 == 0 {
			e.RecordSent("rX", dec(v))
		} else {
			e.RecordReceived("rY", dec(v))
		}
		assert.True(t, e.TotalValue.Equal(e.TotalValueSent.Add(e.TotalValueReceived)))
	}
}

func TestAggregateEntry_HighValueStrictlyGreater(t *testing.T) {
	e := NewAggregateEntry()

	e.RecordSent("rA", dec("5"))
	e.RecordSent("rB", dec("5.000"))
	e.RecordSent("rC", dec("4"))

	assert.True(t, e.HighValueSent.Equal(dec("5")))
	assert.Equal(t, int32(0), e.HighValueSent.Exponent(), "equal value must not replace the mark")

	e.RecordSent("rD", dec("5.01"))
	assert.True(t, e.HighValueSent.Equal(dec("5.01")))
}

func TestAggregateEntry_CloneIsIndependent(t *testing.T) {
	e := NewAggregateEntry()
	e.RecordSent("rBob", dec("1"))

	c := e.Clone()
	c.RecordSent("rCarol", dec("2"))

	assert.Equal(t, int64(1), e.PaymentsSent)
	assert.False(t, e.ReceivingCounterparties.Has("rCarol"))
	assert.True(t, c.ReceivingCounterparties.Has("rCarol"))
}

func TestAggregateEntry_ZeroValueAcceptsPayments(t *testing.T) {
	e := &AggregateEntry{PaymentsSent: 3}

	assert.NotPanics(t, func() {
		e.RecordSent("rBob", dec("1"))
		e.RecordReceived("rCarol", dec("2"))
	})

	assert.Equal(t, int64(4), e.PaymentsSent)
	assert.Equal(t, []string{"rBob"}, e.ReceivingCounterparties.Slice())
	assert.Equal(t, []string{"rCarol"}, e.SendingCounterparties.Slice())
}

func TestPaymentEvent_BucketKey(t *testing.T) {
	at := time.Date(2024, 5, 1, 22, 10, 0, 0, time.UTC)
	ev := PaymentEvent{Source: "rA", Destination: "rB", Account: "rA", Time: at}

	assert.True(t, ev.IsSenderView())
	assert.Equal(t, BucketKey{Day: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC), Account: "rA"}, ev.BucketKey())

	ev.Account = "rB"
	assert.False(t, ev.IsSenderView())
	assert.Equal(t, "rB", ev.BucketKey().Account)
	assert.Equal(t, "20240501000000|rB", ev.BucketKey().RowKey())
}

func TestNewRateQuery(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	q := NewRateQuery("USD", "rIssuer", at)

	assert.Equal(t, CanonicalCurrency, q.BaseCurrency)
	assert.Equal(t, "USD", q.CounterCurrency)
	assert.Equal(t, "rIssuer", q.CounterIssuer)
	assert.Equal(t, int64(0), q.Start.Unix())
	assert.True(t, q.End.Equal(at))
	assert.Equal(t, 50, q.Limit)
	assert.True(t, q.Descending)
}
