package model

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Position is an open equity position held by the trader.
// All monetary fields are rupees.
type Position struct {
	Token      string          `json:"token"`
	Symbol     string          `json:"symbol"`
	Exchange   string          `json:"exchange,omitempty"`
	EntryPrice decimal.Decimal `json:"entry_price"`
	CurrentQty int64           `json:"current_qty"`
	InitialQty int64           `json:"initial_qty"`
	BookedPnL  decimal.Decimal `json:"booked_pnl"`
	StopLoss   decimal.Decimal `json:"stop_loss"`
	Target     decimal.Decimal `json:"target"`
	EntryTime  time.Time       `json:"entry_time"`
	AutoExit   bool            `json:"auto_exit"`
	LastPrice  decimal.Decimal `json:"last_price"`
	Change     decimal.Decimal `json:"change"`

	// RiskAllocated is the share of the risk pool's used_risk committed
	// to this position by confirmed increases.
	RiskAllocated decimal.Decimal `json:"risk_allocated"`
}

var (
	ErrEmptyToken       = errors.New("position: empty token")
	ErrNegativeQuantity = errors.New("position: negative quantity")
)

// Validate checks the structural invariants of a position.
// A zero LastPrice is replaced by EntryPrice.
func (p *Position) Validate() error {
	if p.Token == "" {
		return ErrEmptyToken
	}
	if p.CurrentQty < 0 || p.InitialQty < 0 {
		return ErrNegativeQuantity
	}
	if p.LastPrice.IsZero() {
		p.LastPrice = p.EntryPrice
	}
	if p.InitialQty == 0 {
		p.InitialQty = p.CurrentQty
	}
	return nil
}

// Key returns the ledger key for this position.
func (p *Position) Key() string {
	return p.Token
}

// Clone returns a detached copy safe to hand to readers.
func (p *Position) Clone() *Position {
	cp := *p
	return &cp
}
