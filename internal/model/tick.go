package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Tick is a normalized market data update for one instrument.
// Prices are rupees; feeds that deliver paise are converted at the edge.
type Tick struct {
	Token     string          `json:"instrument_token"`
	Exchange  string          `json:"exchange,omitempty"`
	LastPrice decimal.Decimal `json:"last_price"`
	Change    decimal.Decimal `json:"change"`            // absolute change vs previous close
	TickTS    time.Time       `json:"tick_ts,omitempty"` // exchange timestamp when known
}

// PaiseToRupees converts an integer paise amount to a rupee decimal.
func PaiseToRupees(paise int64) decimal.Decimal {
	return decimal.New(paise, -2)
}
