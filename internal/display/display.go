// Package display scales figures shown to non-admin roles.
//
// Scaling is presentation only. The views built here are never read back
// by the ledger or the sizing translator.
package display

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"trading-riskv1/internal/model"
	"trading-riskv1/internal/portfolio"
	"trading-riskv1/internal/sizing"
)

// RoleAdmin sees unscaled figures.
const RoleAdmin = "admin"

// DefaultFactor is the multiplier applied for every role except admin.
const DefaultFactor = 0.2

// Scaler applies a role-dependent multiplier.
type Scaler struct {
	Factor decimal.Decimal
}

// NewScaler returns a scaler using factor for non-admin roles, or
// DefaultFactor when factor is not positive.
func NewScaler(factor float64) Scaler {
	if factor <= 0 {
		factor = DefaultFactor
	}
	return Scaler{Factor: decimal.NewFromFloat(factor)}
}

// IsAdmin reports whether role names the admin role, ignoring case and
// surrounding whitespace.
func IsAdmin(role string) bool {
	return strings.EqualFold(strings.TrimSpace(role), RoleAdmin)
}

// Multiplier returns 1 for admin and the scaler's factor otherwise.
func (s Scaler) Multiplier(role string) decimal.Decimal {
	if IsAdmin(role) {
		return decimal.NewFromInt(1)
	}
	return s.Factor
}

// Scale returns value * Multiplier(role).
func (s Scaler) Scale(value decimal.Decimal, role string) decimal.Decimal {
	return value.Mul(s.Multiplier(role))
}

// ScaleQty scales a share count, rounding half away from zero so displayed
// quantities stay whole.
func (s Scaler) ScaleQty(qty int64, role string) int64 {
	return s.Scale(decimal.NewFromInt(qty), role).Round(0).IntPart()
}

// PositionView is a position as shown to a role. Prices are not scaled;
// quantities and money amounts are.
type PositionView struct {
	Token       string          `json:"token"`
	Symbol      string          `json:"symbol"`
	Qty         int64           `json:"qty"`
	EntryPrice  decimal.Decimal `json:"entry_price"`
	LastPrice   decimal.Decimal `json:"last_price"`
	StopLoss    decimal.Decimal `json:"stop_loss"`
	Target      decimal.Decimal `json:"target"`
	BookedPnL   decimal.Decimal `json:"booked_pnl"`
	CapitalUsed decimal.Decimal `json:"capital_used"`
	PnL         decimal.Decimal `json:"pnl"`
	PnLPercent  decimal.Decimal `json:"pnl_percent"`
	Risk        decimal.Decimal `json:"risk"`
	Reward      decimal.Decimal `json:"reward"`
	AutoExit    bool            `json:"auto_exit"`
}

// AggregatesView is the portfolio summary as shown to a role.
type AggregatesView struct {
	Role          string          `json:"role"`
	TotalPnL      decimal.Decimal `json:"total_pnl"`
	CapitalUsed   decimal.Decimal `json:"capital_used"`
	PnLPercent    decimal.Decimal `json:"pnl_percent"`
	TotalRisk     decimal.Decimal `json:"total_risk"`
	AvailableRisk decimal.Decimal `json:"available_risk"`
	UsedRisk      decimal.Decimal `json:"used_risk"`
	OpenPositions int             `json:"open_positions"`
	Positions     []PositionView  `json:"positions"`
	Version       uint64          `json:"version"`
}

// Positions scales per-position metrics for role.
func (s Scaler) Positions(ms []portfolio.PositionMetrics, role string) []PositionView {
	out := make([]PositionView, 0, len(ms))
	for _, m := range ms {
		out = append(out, PositionView{
			Token:       m.Token,
			Symbol:      m.Symbol,
			Qty:         s.ScaleQty(m.Qty, role),
			EntryPrice:  m.EntryPrice,
			LastPrice:   m.LastPrice,
			StopLoss:    m.StopLoss,
			Target:      m.Target,
			BookedPnL:   s.Scale(m.BookedPnL, role),
			CapitalUsed: s.Scale(m.CapitalUsed, role),
			PnL:         s.Scale(m.PnL, role),
			PnLPercent:  m.PnLPercent, // ratio, unchanged by scaling
			Risk:        s.Scale(m.Risk, role),
			Reward:      s.Scale(m.Reward, role),
			AutoExit:    m.AutoExit,
		})
	}
	return out
}

// Aggregates scales a portfolio summary for role.
func (s Scaler) Aggregates(a portfolio.Aggregates, role string) AggregatesView {
	return AggregatesView{
		Role:          role,
		TotalPnL:      s.Scale(a.TotalPnL, role),
		CapitalUsed:   s.Scale(a.CapitalUsed, role),
		PnLPercent:    a.PnLPercent,
		TotalRisk:     s.Scale(a.TotalRisk, role),
		AvailableRisk: s.Scale(a.AvailableRisk, role),
		UsedRisk:      s.Scale(a.UsedRisk, role),
		OpenPositions: a.OpenPositions,
		Positions:     s.Positions(a.Positions, role),
		Version:       a.Version,
	}
}

// OrderView is a sized order as echoed back to a role.
type OrderView struct {
	ID         string          `json:"id"`
	Intent     sizing.Kind     `json:"intent"`
	Token      string          `json:"token"`
	Symbol     string          `json:"symbol"`
	Side       string          `json:"side,omitempty"`
	Qty        int64           `json:"qty,omitempty"`
	Price      decimal.Decimal `json:"price"`
	RiskAmount decimal.Decimal `json:"risk_amount"`
}

// Order scales the quantity and risk of an already translated order for
// display. The order itself is left untouched.
func (s Scaler) Order(o sizing.ConcreteOrder, role string) OrderView {
	return OrderView{
		ID:         o.ID,
		Intent:     o.Intent,
		Token:      o.Token,
		Symbol:     o.Symbol,
		Side:       string(o.Side),
		Qty:        s.ScaleQty(o.Qty, role),
		Price:      o.Price,
		RiskAmount: s.Scale(o.RiskAmount, role),
	}
}

// FillView is a journaled fill as shown to a role.
type FillView struct {
	OrderID    string          `json:"order_id"`
	Kind       model.FillKind  `json:"kind"`
	Token      string          `json:"token"`
	Symbol     string          `json:"symbol"`
	Side       model.Side      `json:"side,omitempty"`
	Qty        int64           `json:"qty"`
	Price      decimal.Decimal `json:"price"`
	RiskAmount decimal.Decimal `json:"risk_amount"`
	FilledAt   time.Time       `json:"filled_at"`
}

// Fill scales the quantity and committed risk of a fill for role.
func (s Scaler) Fill(f model.Fill, role string) FillView {
	return FillView{
		OrderID:    f.OrderID,
		Kind:       f.Kind,
		Token:      f.Token,
		Symbol:     f.Symbol,
		Side:       f.Side,
		Qty:        s.ScaleQty(f.Qty, role),
		Price:      f.Price,
		RiskAmount: s.Scale(f.RiskAmount, role),
		FilledAt:   f.FilledAt,
	}
}
