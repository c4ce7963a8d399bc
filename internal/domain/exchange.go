package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Exchange is one executed trade between a base and a counter currency.
// Corresponds to the exchanges table.
type Exchange struct {
	BaseCurrency    string
	BaseIssuer      string // empty for CanonicalCurrency
	CounterCurrency string
	CounterIssuer   string
	BaseAmount      decimal.Decimal // amount of base currency traded
	CounterAmount   decimal.Decimal // amount of counter currency traded
	ExecutedAt      time.Time
	TxHash          string
	LedgerIndex     int64
}

// Rate returns the counter-per-base price of the trade.
func (e *Exchange) Rate() decimal.Decimal {
	if e.BaseAmount.IsZero() {
		return decimal.Zero
	}
	return e.CounterAmount.Div(e.BaseAmount)
}

// ExchangeQuery selects the trades a VWAP is computed over.
// Trades are matched on [Start, End) and the Limit trades closest to End
// (Descending) or Start (ascending) are reduced.
type ExchangeQuery struct {
	BaseCurrency    string
	CounterCurrency string
	CounterIssuer   string
	Start           time.Time
	End             time.Time
	Limit           int
	Descending      bool
}

// DefaultTradeWindow is the number of most recent trades a payment's
// exchange rate is derived from.
const DefaultTradeWindow = 50

// NewRateQuery builds the historical rate query for a non-canonical payment:
// the DefaultTradeWindow most recent (CanonicalCurrency, currency+issuer)
// trades strictly before at.
func NewRateQuery(currency, issuer string, at time.Time) ExchangeQuery {
	return ExchangeQuery{
		BaseCurrency:    CanonicalCurrency,
		CounterCurrency: currency,
		CounterIssuer:   issuer,
		Start:           time.Unix(0, 0).UTC(),
		End:             at,
		Limit:           DefaultTradeWindow,
		Descending:      true,
	}
}
