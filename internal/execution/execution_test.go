package execution

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trading-riskv1/internal/model"
	"trading-riskv1/internal/sizing"
	smartconnect "trading-riskv1/pkg/smartconnect"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func increase() sizing.ConcreteOrder {
	return sizing.ConcreteOrder{
		ID: "ord-1", Kind: model.FillIncrease, Token: "2031", Symbol: "M&M",
		Side: model.SideBuy, Qty: 150, RefPrice: d("100"), RiskAmount: d("1500"),
	}
}

func TestParseMode(t *testing.T) {
	for in, want := range map[string]Mode{" Broker ": ModeBroker, "gateway": ModeGateway, "": ModePaper, "PAPER": ModePaper} {
		got, err := ParseMode(in)
		require.NoError(t, err)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseMode("live")
	assert.Error(t, err)
}

func TestPaperExecutor_Slippage(t *testing.T) {
	p := NewPaperExecutor(5)

	fill, err := p.Execute(context.Background(), increase())
	require.NoError(t, err)
	assert.True(t, fill.Price.Equal(d("100.05")), "buy fills higher, got %s", fill.Price)
	assert.True(t, fill.Slippage.Equal(d("0.05")))
	assert.Equal(t, "ord-1", fill.OrderID)
	assert.Equal(t, int64(150), fill.Qty)
	assert.True(t, fill.RiskAmount.Equal(d("1500")))

	sell := increase()
	sell.Kind, sell.Side = model.FillReduce, model.SideSell
	fill, err = p.Execute(context.Background(), sell)
	require.NoError(t, err)
	assert.True(t, fill.Price.Equal(d("99.95")))

	assert.Len(t, p.GetFills(), 2)
}

func TestPaperExecutor_LevelsAndRejects(t *testing.T) {
	p := NewPaperExecutor(5)

	fill, err := p.Execute(context.Background(), sizing.ConcreteOrder{Kind: model.FillStopLoss, Token: "1", Price: d("92.5")})
	require.NoError(t, err)
	assert.True(t, fill.Price.Equal(d("92.5")))
	assert.NotEmpty(t, fill.OrderID)

	noPrice := increase()
	noPrice.RefPrice = decimal.Zero
	_, err = p.Execute(context.Background(), noPrice)
	assert.ErrorIs(t, err, ErrRejected)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = p.Execute(ctx, increase())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestGatewayExecutor_EncodesSymbol(t *testing.T) {
	var gotPath, gotQuery, gotID string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath, gotQuery, gotID = r.URL.Path, r.URL.RawQuery, r.Header.Get("X-Order-ID")
		w.Write([]byte(`{"status":"success","order_id":"G1","price":"101.25"}`))
	}))
	defer srv.Close()

	g := NewGatewayExecutor(srv.URL+"/orders/", time.Second)
	order := sizing.ConcreteOrder{ID: "ord-9", Kind: model.FillExit, Token: "2031", Symbol: "M&M", Side: model.SideSell, Qty: 40, RefPrice: d("100")}

	fill, err := g.Execute(context.Background(), order)
	require.NoError(t, err)
	assert.Equal(t, "/orders/exit", gotPath)
	assert.Equal(t, "symbol=M%26M", gotQuery)
	assert.Equal(t, "ord-9", gotID)
	assert.True(t, fill.Price.Equal(d("101.25")))
	assert.Equal(t, int64(40), fill.Qty)
}

func TestGatewayExecutor_Failures(t *testing.T) {
	status := http.StatusOK
	body := `{"status":"error","message":"insufficient margin"}`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	defer srv.Close()
	g := NewGatewayExecutor(srv.URL, time.Second)

	_, err := g.Execute(context.Background(), increase())
	assert.ErrorIs(t, err, ErrRejected)

	status, body = http.StatusBadGateway, `{"message":"upstream down"}`
	_, err = g.Execute(context.Background(), increase())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

// fakeBroker scripts OrderAPI responses.
type fakeBroker struct {
	mu       sync.Mutex
	placed   []smartconnect.OrderParams
	rules    []smartconnect.GTTRule
	statuses []smartconnect.OrderStatus
	polls    int
}

func (f *fakeBroker) PlaceOrder(_ context.Context, p smartconnect.OrderParams) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.placed = append(f.placed, p)
	return "U-1", nil
}

func (f *fakeBroker) OrderDetails(_ context.Context, id string) (smartconnect.OrderStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.polls
	if i >= len(f.statuses) {
		i = len(f.statuses) - 1
	}
	f.polls++
	return f.statuses[i], nil
}

func (f *fakeBroker) GTTCreateRule(_ context.Context, r smartconnect.GTTRule) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rules = append(f.rules, r)
	return "777", nil
}

func TestBrokerExecutor_PollsUntilComplete(t *testing.T) {
	api := &fakeBroker{statuses: []smartconnect.OrderStatus{
		{Status: "open"},
		{Status: "complete", AveragePrice: 100.4, FilledShares: "150"},
	}}
	b := NewBrokerExecutor(api, BrokerConfig{PollInterval: time.Millisecond})

	fill, err := b.Execute(context.Background(), increase())
	require.NoError(t, err)
	assert.True(t, fill.Price.Equal(d("100.4")))
	assert.True(t, fill.Slippage.Equal(d("0.4")))
	assert.Equal(t, 2, api.polls)

	require.Len(t, api.placed, 1)
	p := api.placed[0]
	assert.Equal(t, "M&M-EQ", p.TradingSymbol)
	assert.Equal(t, "BUY", p.TransactionType)
	assert.Equal(t, "NSE", p.Exchange)
	assert.Equal(t, int64(150), p.Quantity)
}

func TestBrokerExecutor_RejectedAndTimeout(t *testing.T) {
	api := &fakeBroker{statuses: []smartconnect.OrderStatus{{Status: "rejected", Text: "RMS: margin"}}}
	b := NewBrokerExecutor(api, BrokerConfig{PollInterval: time.Millisecond})
	_, err := b.Execute(context.Background(), increase())
	assert.ErrorIs(t, err, ErrRejected)

	api = &fakeBroker{statuses: []smartconnect.OrderStatus{{Status: "open"}}}
	b = NewBrokerExecutor(api, BrokerConfig{PollInterval: time.Millisecond, PollTimeout: 20 * time.Millisecond})
	_, err = b.Execute(context.Background(), increase())
	assert.True(t, errors.Is(err, ErrTimeout), "got %v", err)
}

func TestBrokerExecutor_StopLossCreatesGTT(t *testing.T) {
	api := &fakeBroker{}
	b := NewBrokerExecutor(api, BrokerConfig{})

	order := sizing.ConcreteOrder{Kind: model.FillStopLoss, Token: "2031", Symbol: "M&M", Exchange: "NSE", Qty: 40, Price: d("460")}
	fill, err := b.Execute(context.Background(), order)
	require.NoError(t, err)
	assert.True(t, fill.Price.Equal(d("460")))

	require.Len(t, api.rules, 1)
	assert.Equal(t, "460", api.rules[0].TriggerPrice)
	assert.Equal(t, int64(40), api.rules[0].Qty)
	assert.Empty(t, api.placed)
}
