package execution

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"trading-riskv1/internal/model"
	"trading-riskv1/internal/sizing"
)

var bpsDivisor = decimal.NewFromInt(10000)

// PaperExecutor simulates order execution without real broker calls.
// Quantity orders fill at the order's reference price adjusted by the
// configured slippage; level orders are accepted as given.
type PaperExecutor struct {
	mu    sync.RWMutex
	fills []model.Fill

	// slippage in basis points (e.g., 5 = 0.05%)
	slippageBps decimal.Decimal
	now         func() time.Time
}

// NewPaperExecutor creates a paper trading executor.
func NewPaperExecutor(slippageBps int64) *PaperExecutor {
	return &PaperExecutor{
		fills:       make([]model.Fill, 0, 128),
		slippageBps: decimal.NewFromInt(slippageBps),
		now:         time.Now,
	}
}

// Execute fills order immediately.
func (p *PaperExecutor) Execute(ctx context.Context, order sizing.ConcreteOrder) (model.Fill, error) {
	if err := ctx.Err(); err != nil {
		return model.Fill{}, err
	}
	if order.ID == "" {
		order.ID = "PAPER-" + uuid.NewString()
	}

	var fill model.Fill
	switch order.Kind {
	case model.FillStopLoss, model.FillTarget:
		fill = order.Fill(order.Price)
	default:
		if order.Qty <= 0 {
			return model.Fill{}, fmt.Errorf("%w: nothing to fill for %s", ErrRejected, order.Token)
		}
		if !order.RefPrice.IsPositive() {
			return model.Fill{}, fmt.Errorf("%w: no reference price for %s", ErrRejected, order.Token)
		}
		slippage := order.RefPrice.Mul(p.slippageBps).Div(bpsDivisor)
		price := order.RefPrice
		if order.Side == model.SideBuy {
			price = price.Add(slippage) // buy higher
		} else {
			price = price.Sub(slippage) // sell lower
		}
		fill = order.Fill(price)
		fill.Slippage = slippage
	}
	fill.FilledAt = p.now()

	p.mu.Lock()
	p.fills = append(p.fills, fill)
	p.mu.Unlock()

	log.Printf("[paper] %s %s %s qty=%d price=%s (slip=%s) order=%s",
		fill.Kind, fill.Side, fill.Symbol, fill.Qty, fill.Price, fill.Slippage, fill.OrderID)
	return fill, nil
}

// GetFills returns a snapshot of all fills.
func (p *PaperExecutor) GetFills() []model.Fill {
	p.mu.RLock()
	defer p.mu.RUnlock()
	cp := make([]model.Fill, len(p.fills))
	copy(cp, p.fills)
	return cp
}
