package portfolio

import (
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// PositionMetrics are the derived figures for one position.
type PositionMetrics struct {
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

// Aggregates are the portfolio-wide figures derived from a Snapshot.
type Aggregates struct {
	TotalPnL      decimal.Decimal   `json:"total_pnl"`
	CapitalUsed   decimal.Decimal   `json:"capital_used"`
	PnLPercent    decimal.Decimal   `json:"pnl_percent"`
	TotalRisk     decimal.Decimal   `json:"total_risk"`
	AvailableRisk decimal.Decimal   `json:"available_risk"`
	UsedRisk      decimal.Decimal   `json:"used_risk"`
	OpenPositions int               `json:"open_positions"`
	Positions     []PositionMetrics `json:"positions"`
	Version       uint64            `json:"version"`
}

// Recompute derives Aggregates from a snapshot. It is pure: the same
// snapshot always yields the same result and nothing is mutated. An empty
// snapshot yields zeroed aggregates.
func Recompute(s Snapshot) Aggregates {
	agg := Aggregates{
		TotalPnL:      decimal.Zero,
		CapitalUsed:   decimal.Zero,
		TotalRisk:     s.RiskPool.Total(),
		AvailableRisk: s.RiskPool.AvailableRisk,
		UsedRisk:      s.RiskPool.UsedRisk,
		OpenPositions: len(s.Positions),
		Positions:     make([]PositionMetrics, 0, len(s.Positions)),
		Version:       s.Version,
	}

	for i := range s.Positions {
		p := &s.Positions[i]
		qty := decimal.NewFromInt(p.CurrentQty)

		m := PositionMetrics{
			Token:       p.Token,
			Symbol:      p.Symbol,
			Qty:         p.CurrentQty,
			EntryPrice:  p.EntryPrice,
			LastPrice:   p.LastPrice,
			StopLoss:    p.StopLoss,
			Target:      p.Target,
			BookedPnL:   p.BookedPnL,
			CapitalUsed: p.EntryPrice.Mul(qty),
			PnL:         p.LastPrice.Sub(p.EntryPrice).Mul(qty).Add(p.BookedPnL),
			Risk:        p.StopLoss.Sub(p.EntryPrice).Mul(qty).Add(p.BookedPnL),
			Reward:      p.Target.Sub(p.EntryPrice).Mul(qty).Add(p.BookedPnL),
			AutoExit:    p.AutoExit,
		}
		m.PnLPercent = percentOf(m.PnL, m.CapitalUsed)

		agg.TotalPnL = agg.TotalPnL.Add(m.PnL)
		agg.CapitalUsed = agg.CapitalUsed.Add(m.CapitalUsed)
		agg.Positions = append(agg.Positions, m)
	}

	agg.PnLPercent = percentOf(agg.TotalPnL, agg.CapitalUsed)
	return agg
}

// percentOf returns part/whole*100, or zero when whole is zero.
func percentOf(part, whole decimal.Decimal) decimal.Decimal {
	if whole.IsZero() {
		return decimal.Zero
	}
	return part.Div(whole).Mul(hundred)
}
