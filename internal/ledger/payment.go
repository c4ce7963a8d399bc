package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"ledger-payment-stats/internal/domain"
)

// rippleEpoch is 2000-01-01T00:00:00Z; ledger "date" fields count seconds from it.
const rippleEpoch = 946684800

// dropsExponent shifts native drop amounts into XRP.
const dropsExponent = -6

// streamMessage covers the fields of a "transactions" stream message that
// payments need. Both the v1 ("transaction") and v2 ("tx_json") layouts are accepted.
type streamMessage struct {
	Type         string          `json:"type"`
	Status       string          `json:"status"`
	Error        string          `json:"error"`
	Validated    bool            `json:"validated"`
	EngineResult string          `json:"engine_result"`
	LedgerIndex  int64           `json:"ledger_index"`
	Hash         string          `json:"hash"`
	CloseTimeISO string          `json:"close_time_iso"`
	Transaction  *transaction    `json:"transaction"`
	TxJSON       *transaction    `json:"tx_json"`
	Meta         json.RawMessage `json:"meta"`
}

type transaction struct {
	TransactionType string `json:"TransactionType"`
	Account         string `json:"Account"`
	Destination     string `json:"Destination"`
	Date            int64  `json:"date"`
	Hash            string `json:"hash"`
}

type transactionMeta struct {
	TransactionResult string          `json:"TransactionResult"`
	DeliveredAmount   json.RawMessage `json:"delivered_amount"`
}

type issuedAmount struct {
	Currency string `json:"currency"`
	Issuer   string `json:"issuer"`
	Value    string `json:"value"`
}

var errUnavailableAmount = errors.New("delivered amount unavailable")

// ParsePayment extracts a validated, successful payment from one stream
// message and returns it once per participant: the sender view first,
// then the receiver view. ok is false for anything that is not such a payment.
func ParsePayment(msg []byte) ([]domain.PaymentEvent, bool, error) {
	var m streamMessage
	if err := json.Unmarshal(msg, &m); err != nil {
		return nil, false, fmt.Errorf("decode stream message: %w", err)
	}
	if m.Type != "transaction" || !m.Validated {
		return nil, false, nil
	}

	tx := m.Transaction
	if tx == nil {
		tx = m.TxJSON
	}
	if tx == nil || tx.TransactionType != "Payment" || len(m.Meta) == 0 {
		return nil, false, nil
	}

	var meta transactionMeta
	if err := json.Unmarshal(m.Meta, &meta); err != nil {
		return nil, false, fmt.Errorf("decode transaction meta: %w", err)
	}
	result := meta.TransactionResult
	if result == "" {
		result = m.EngineResult
	}
	if result != "tesSUCCESS" {
		return nil, false, nil
	}

	if err := ValidateAddress(tx.Account); err != nil {
		return nil, false, fmt.Errorf("payment source: %w", err)
	}
	if err := ValidateAddress(tx.Destination); err != nil {
		return nil, false, fmt.Errorf("payment destination: %w", err)
	}

	currency, issuer, amount, err := parseAmount(meta.DeliveredAmount)
	if errors.Is(err, errUnavailableAmount) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	at, err := closeTime(tx.Date, m.CloseTimeISO)
	if err != nil {
		return nil, false, err
	}

	hash := tx.Hash
	if hash == "" {
		hash = m.Hash
	}

	sender := domain.PaymentEvent{
		Source:      tx.Account,
		Destination: tx.Destination,
		Currency:    currency,
		Issuer:      issuer,
		Amount:      amount,
		Time:        at,
		Account:     tx.Account,
		TxHash:      hash,
	}
	receiver := sender
	receiver.Account = tx.Destination

	return []domain.PaymentEvent{sender, receiver}, true, nil
}

// parseAmount decodes a native amount (a string of drops) or an issued
// amount object.
func parseAmount(raw json.RawMessage) (currency, issuer string, amount decimal.Decimal, err error) {
	if len(raw) == 0 {
		return "", "", decimal.Zero, errUnavailableAmount
	}

	var drops string
	if err := json.Unmarshal(raw, &drops); err == nil {
		if drops == "unavailable" {
			return "", "", decimal.Zero, errUnavailableAmount
		}
		d, err := decimal.NewFromString(drops)
		if err != nil {
			return "", "", decimal.Zero, fmt.Errorf("parse drops %q: %w", drops, err)
		}
		return domain.CanonicalCurrency, "", d.Shift(dropsExponent), nil
	}

	var issued issuedAmount
	if err := json.Unmarshal(raw, &issued); err != nil {
		return "", "", decimal.Zero, fmt.Errorf("decode delivered amount: %w", err)
	}
	if issued.Currency == "" {
		return "", "", decimal.Zero, fmt.Errorf("delivered amount without currency")
	}
	v, err := decimal.NewFromString(issued.Value)
	if err != nil {
		return "", "", decimal.Zero, fmt.Errorf("parse amount value %q: %w", issued.Value, err)
	}
	// An issuer that does not decode is passed through as missing.
	if issued.Issuer != "" && ValidateAddress(issued.Issuer) != nil {
		issued.Issuer = ""
	}
	return strings.ToUpper(issued.Currency), issued.Issuer, v, nil
}

func closeTime(date int64, iso string) (time.Time, error) {
	if date > 0 {
		return time.Unix(date+rippleEpoch, 0).UTC(), nil
	}
	if iso != "" {
		t, err := time.Parse(time.RFC3339, iso)
		if err != nil {
			return time.Time{}, fmt.Errorf("parse close_time_iso %q: %w", iso, err)
		}
		return t.UTC(), nil
	}
	return time.Time{}, fmt.Errorf("payment without close time")
}
