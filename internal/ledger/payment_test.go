package ledger

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ledger-payment-stats/internal/domain"
)

var (
	alice   = EncodeAccountID(AccountID{0xa1})
	bob     = EncodeAccountID(AccountID{0xb0})
	gateway = EncodeAccountID(AccountID{0x9a})
)

// paymentFrame builds a validated transactions-stream frame.
func paymentFrame(from, to, delivered, result string) []byte {
	return []byte(fmt.Sprintf(`{
		"type": "transaction",
		"validated": true,
		"engine_result": %q,
		"ledger_index": 12345,
		"transaction": {
			"TransactionType": "Payment",
			"Account": %q,
			"Destination": %q,
			"date": 474552000,
			"hash": "ABC123"
		},
		"meta": {"TransactionResult": %q, "delivered_amount": %s}
	}`, result, from, to, result, delivered))
}

func TestParsePayment_NativeAmount(t *testing.T) {
	events, ok, err := ParsePayment(paymentFrame(alice, bob, `"2500000"`, "tesSUCCESS"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, events, 2)

	sender, receiver := events[0], events[1]
	assert.Equal(t, alice, sender.Account)
	assert.True(t, sender.IsSenderView())
	assert.Equal(t, bob, receiver.Account)
	assert.False(t, receiver.IsSenderView())

	for _, ev := range events {
		assert.Equal(t, alice, ev.Source)
		assert.Equal(t, bob, ev.Destination)
		assert.Equal(t, domain.CanonicalCurrency, ev.Currency)
		assert.Empty(t, ev.Issuer)
		assert.Equal(t, "2.5", ev.Amount.String())
		assert.Equal(t, "ABC123", ev.TxHash)
		// 474552000 seconds after 2000-01-01.
		assert.True(t, ev.Time.Equal(time.Date(2015, 1, 14, 12, 0, 0, 0, time.UTC)), ev.Time)
	}
}

func TestParsePayment_IssuedAmount(t *testing.T) {
	delivered := fmt.Sprintf(`{"currency":"usd","issuer":%q,"value":"12.75"}`, gateway)
	events, ok, err := ParsePayment(paymentFrame(alice, bob, delivered, "tesSUCCESS"))
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, "USD", events[0].Currency)
	assert.Equal(t, gateway, events[0].Issuer)
	assert.Equal(t, "12.75", events[0].Amount.String())
}

func TestParsePayment_InvalidIssuerBecomesMissing(t *testing.T) {
	delivered := `{"currency":"USD","issuer":"not-an-address","value":"1"}`
	events, ok, err := ParsePayment(paymentFrame(alice, bob, delivered, "tesSUCCESS"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Empty(t, events[0].Issuer)
}

func TestParsePayment_V2Layout(t *testing.T) {
	frame := []byte(fmt.Sprintf(`{
		"type": "transaction",
		"validated": true,
		"hash": "DEF456",
		"close_time_iso": "2015-01-14T23:59:59Z",
		"tx_json": {"TransactionType": "Payment", "Account": %q, "Destination": %q},
		"meta": {"TransactionResult": "tesSUCCESS", "delivered_amount": "1"}
	}`, alice, bob))

	events, ok, err := ParsePayment(frame)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "DEF456", events[0].TxHash)
	assert.Equal(t, "0.000001", events[0].Amount.String())
	assert.True(t, events[0].Time.Equal(time.Date(2015, 1, 14, 23, 59, 59, 0, time.UTC)))
}

func TestParsePayment_Skipped(t *testing.T) {
	tests := []struct {
		name  string
		frame string
	}{
		{"ledger close", `{"type":"ledgerClosed","ledger_index":1}`},
		{"not validated", `{"type":"transaction","validated":false,"transaction":{"TransactionType":"Payment"},"meta":{}}`},
		{"offer", `{"type":"transaction","validated":true,"transaction":{"TransactionType":"OfferCreate"},"meta":{"TransactionResult":"tesSUCCESS"}}`},
		{"failed payment", string(paymentFrame(alice, bob, `"1"`, "tecPATH_DRY"))},
		{"unavailable amount", string(paymentFrame(alice, bob, `"unavailable"`, "tesSUCCESS"))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			events, ok, err := ParsePayment([]byte(tt.frame))
			require.NoError(t, err)
			assert.False(t, ok)
			assert.Nil(t, events)
		})
	}
}

func TestParsePayment_Malformed(t *testing.T) {
	tests := []struct {
		name  string
		frame []byte
	}{
		{"not json", []byte(`{`)},
		{"bad source", paymentFrame("rBogus", bob, `"1"`, "tesSUCCESS")},
		{"bad destination", paymentFrame(alice, "", `"1"`, "tesSUCCESS")},
		{"bad drops", paymentFrame(alice, bob, `"12x"`, "tesSUCCESS")},
		{"bad value", paymentFrame(alice, bob, `{"currency":"USD","value":"abc"}`, "tesSUCCESS")},
		{"no currency", paymentFrame(alice, bob, `{"value":"1"}`, "tesSUCCESS")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok, err := ParsePayment(tt.frame)
			assert.Error(t, err)
			assert.False(t, ok)
		})
	}
}
