package execution

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"trading-riskv1/internal/model"
	"trading-riskv1/internal/sizing"
	smartconnect "trading-riskv1/pkg/smartconnect"
)

// OrderAPI is the subset of the SmartAPI client used for execution.
type OrderAPI interface {
	PlaceOrder(ctx context.Context, p smartconnect.OrderParams) (string, error)
	OrderDetails(ctx context.Context, uniqueOrderID string) (smartconnect.OrderStatus, error)
	GTTCreateRule(ctx context.Context, r smartconnect.GTTRule) (string, error)
}

// BrokerConfig configures the broker executor.
type BrokerConfig struct {
	ProductType  string        // default DELIVERY
	SymbolSuffix string        // appended to NSE symbols without one, default "-EQ"
	PollInterval time.Duration // default 500ms
	PollTimeout  time.Duration // default 30s
}

// BrokerExecutor places market orders through SmartAPI and waits for them
// to complete. Stop-loss and target levels are placed as GTT rules.
type BrokerExecutor struct {
	api OrderAPI
	cfg BrokerConfig
}

// NewBrokerExecutor creates a broker executor.
func NewBrokerExecutor(api OrderAPI, cfg BrokerConfig) *BrokerExecutor {
	if cfg.ProductType == "" {
		cfg.ProductType = "DELIVERY"
	}
	if cfg.SymbolSuffix == "" {
		cfg.SymbolSuffix = "-EQ"
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	if cfg.PollTimeout == 0 {
		cfg.PollTimeout = 30 * time.Second
	}
	return &BrokerExecutor{api: api, cfg: cfg}
}

// Execute sends order to the broker.
func (b *BrokerExecutor) Execute(ctx context.Context, order sizing.ConcreteOrder) (model.Fill, error) {
	switch order.Kind {
	case model.FillStopLoss, model.FillTarget:
		return b.placeLevel(ctx, order)
	}

	side := "BUY"
	if order.Side == model.SideSell {
		side = "SELL"
	}
	id, err := b.api.PlaceOrder(ctx, smartconnect.OrderParams{
		TradingSymbol:   b.tradingSymbol(order),
		SymbolToken:     order.Token,
		TransactionType: side,
		Exchange:        exchangeOf(order),
		OrderType:       "MARKET",
		ProductType:     b.cfg.ProductType,
		Quantity:        order.Qty,
	})
	if err != nil {
		return model.Fill{}, err
	}
	log.Printf("[broker] placed %s %s qty=%d broker_id=%s order=%s", side, order.Symbol, order.Qty, id, order.ID)

	st, err := b.await(ctx, id)
	if err != nil {
		return model.Fill{}, err
	}
	if !strings.EqualFold(st.Status, "complete") {
		return model.Fill{}, fmt.Errorf("%w: %s %s", ErrRejected, st.Status, st.Text)
	}

	price := decimal.NewFromFloat(st.AveragePrice)
	if !price.IsPositive() {
		price = order.RefPrice
	}
	fill := order.Fill(price)
	if n, err := strconv.ParseInt(st.FilledShares, 10, 64); err == nil && n > 0 {
		fill.Qty = n
	}
	fill.Slippage = price.Sub(order.RefPrice).Abs()
	fill.FilledAt = time.Now()
	return fill, nil
}

// await polls order details until the order is final or the poll timeout
// elapses.
func (b *BrokerExecutor) await(ctx context.Context, id string) (smartconnect.OrderStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, b.cfg.PollTimeout)
	defer cancel()

	ticker := time.NewTicker(b.cfg.PollInterval)
	defer ticker.Stop()
	for {
		st, err := b.api.OrderDetails(ctx, id)
		if err == nil && st.Final() {
			return st, nil
		}
		if err != nil {
			log.Printf("[broker] order %s status poll failed: %v", id, err)
		}
		select {
		case <-ctx.Done():
			return smartconnect.OrderStatus{}, fmt.Errorf("%w: %s", ErrTimeout, id)
		case <-ticker.C:
		}
	}
}

func (b *BrokerExecutor) placeLevel(ctx context.Context, order sizing.ConcreteOrder) (model.Fill, error) {
	if order.Qty <= 0 {
		return model.Fill{}, fmt.Errorf("%w: no quantity to protect for %s", ErrRejected, order.Token)
	}
	id, err := b.api.GTTCreateRule(ctx, smartconnect.GTTRule{
		TradingSymbol:   b.tradingSymbol(order),
		SymbolToken:     order.Token,
		Exchange:        exchangeOf(order),
		TransactionType: "SELL",
		ProductType:     b.cfg.ProductType,
		Price:           order.Price.String(),
		TriggerPrice:    order.Price.String(),
		Qty:             order.Qty,
	})
	if err != nil {
		return model.Fill{}, err
	}
	log.Printf("[broker] %s rule %s at %s for %s qty=%d", order.Kind, id, order.Price, order.Symbol, order.Qty)

	fill := order.Fill(order.Price)
	fill.FilledAt = time.Now()
	return fill, nil
}

func (b *BrokerExecutor) tradingSymbol(o sizing.ConcreteOrder) string {
	if exchangeOf(o) == "NSE" && !strings.Contains(o.Symbol, "-") {
		return o.Symbol + b.cfg.SymbolSuffix
	}
	return o.Symbol
}

func exchangeOf(o sizing.ConcreteOrder) string {
	if o.Exchange == "" {
		return "NSE"
	}
	return o.Exchange
}
