package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side is the transaction direction of a quantity order.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// FillKind says which ledger field a confirmed order mutates.
type FillKind string

const (
	FillIncrease FillKind = "INCREASE"
	FillReduce   FillKind = "REDUCE"
	FillExit     FillKind = "EXIT"
	FillStopLoss FillKind = "STOP_LOSS"
	FillTarget   FillKind = "TARGET"
)

// Fill is an execution-boundary confirmation. Only fills mutate
// quantities, levels, booked P&L and the risk pool.
type Fill struct {
	OrderID string          `json:"order_id"`
	Kind    FillKind        `json:"kind"`
	Token   string          `json:"token"`
	Symbol  string          `json:"symbol"`
	Side    Side            `json:"side,omitempty"`
	Qty     int64           `json:"qty"`
	Price   decimal.Decimal `json:"price"` // fill price, or the new level for STOP_LOSS/TARGET

	// RiskAmount is the risk committed by an INCREASE fill.
	RiskAmount decimal.Decimal `json:"risk_amount"`
	Slippage   decimal.Decimal `json:"slippage"`
	FilledAt   time.Time       `json:"filled_at"`
}
