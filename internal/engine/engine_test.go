package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trading-riskv1/internal/model"
	"trading-riskv1/internal/portfolio"
	"trading-riskv1/internal/sizing"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// fakeExecutor fills at the order's reference price unless err is set.
type fakeExecutor struct {
	mu     sync.Mutex
	err    error
	orders []sizing.ConcreteOrder
}

func (f *fakeExecutor) Execute(_ context.Context, o sizing.ConcreteOrder) (model.Fill, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orders = append(f.orders, o)
	if f.err != nil {
		return model.Fill{}, f.err
	}
	return o.Fill(o.RefPrice), nil
}

type memRecorder struct {
	mu    sync.Mutex
	fills []model.Fill
}

func (m *memRecorder) RecordFill(_ context.Context, f model.Fill) error {
	m.mu.Lock()
	m.fills = append(m.fills, f)
	m.mu.Unlock()
	return nil
}

func newEngine(t *testing.T, exec Executor, rec FillRecorder) *Engine {
	t.Helper()
	ledger, err := portfolio.NewLedger(model.RiskPool{AvailableRisk: d("10000"), UsedRisk: d("5000")})
	require.NoError(t, err)
	require.NoError(t, ledger.Open(model.Position{
		Token: "2885", Symbol: "RELIANCE", EntryPrice: d("100"), CurrentQty: 200,
	}))
	return New(Config{}, ledger, exec, rec, portfolio.NewQuoteBoard("2885", "99926000"))
}

func drain(ch <-chan Update) []Update {
	var out []Update
	for {
		select {
		case u := <-ch:
			out = append(out, u)
		default:
			return out
		}
	}
}

func TestEngine_IngestRecomputesOnlyOnChange(t *testing.T) {
	e := newEngine(t, &fakeExecutor{}, nil)

	changed := e.Ingest([]model.Tick{{Token: "2885", LastPrice: d("100")}, {Token: "1", LastPrice: d("5")}})
	assert.Empty(t, changed)
	assert.Empty(t, drain(e.Updates()))

	changed = e.Ingest([]model.Tick{{Token: "2885", LastPrice: d("105")}})
	assert.Equal(t, []string{"2885"}, changed)

	ups := drain(e.Updates())
	require.Len(t, ups, 1)
	assert.Equal(t, "ticks", ups[0].Reason)
	assert.True(t, ups[0].Aggregates.TotalPnL.Equal(d("1000")))
	assert.True(t, e.Aggregates().TotalPnL.Equal(d("1000")))
}

func TestEngine_QuoteBoardSeesUnheldTokens(t *testing.T) {
	e := newEngine(t, &fakeExecutor{}, nil)

	e.Ingest([]model.Tick{{Token: "99926000", LastPrice: d("22000"), Change: d("-12.5")}})
	quotes := e.Quotes()
	require.Len(t, quotes, 2)
	assert.True(t, quotes[1].LastPrice.Equal(d("22000")))
}

func TestEngine_SubmitAppliesConfirmedFill(t *testing.T) {
	exec := &fakeExecutor{}
	rec := &memRecorder{}
	e := newEngine(t, exec, rec)

	order, err := e.Submit(context.Background(), sizing.Intent{
		Kind: sizing.IncreaseByRiskPoolPercent, Token: "2885", Percent: d("10"),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(150), order.Qty)
	assert.NotEmpty(t, order.ID)

	p, ok := e.Positions().Position("2885")
	require.True(t, ok)
	assert.Equal(t, int64(350), p.CurrentQty)
	assert.True(t, p.RiskAllocated.Equal(d("1500")))

	agg := e.Aggregates()
	assert.True(t, agg.AvailableRisk.Equal(d("8500")))
	assert.True(t, agg.UsedRisk.Equal(d("6500")))
	assert.True(t, agg.TotalRisk.Equal(d("15000")))

	require.Len(t, rec.fills, 1)
	assert.Equal(t, order.ID, rec.fills[0].OrderID)
}

func TestEngine_SubmitFailureLeavesLedgerUnchanged(t *testing.T) {
	exec := &fakeExecutor{err: errors.New("broker timeout")}
	rec := &memRecorder{}
	e := newEngine(t, exec, rec)
	before := e.Positions()

	var outcomes []string
	e.OnIntent = func(_ sizing.Kind, outcome string) { outcomes = append(outcomes, outcome) }

	_, err := e.Submit(context.Background(), sizing.Intent{Kind: sizing.Exit, Token: "2885"})
	assert.ErrorIs(t, err, ErrExecution)
	assert.Equal(t, before, e.Positions())
	assert.Empty(t, rec.fills)
	assert.Equal(t, []string{"failed"}, outcomes)
}

func TestEngine_SubmitRejectsBeforeExecution(t *testing.T) {
	exec := &fakeExecutor{}
	e := newEngine(t, exec, nil)

	_, err := e.Submit(context.Background(), sizing.Intent{Kind: sizing.Exit, Token: "404"})
	assert.ErrorIs(t, err, sizing.ErrMissingPosition)

	_, err = e.Submit(context.Background(), sizing.Intent{Kind: sizing.ReduceByQtyPercent, Token: "2885", Percent: d("-3")})
	var verr *sizing.ValidationError
	assert.True(t, errors.As(err, &verr))

	assert.Empty(t, exec.orders)
}

func TestEngine_ExitRemovesPosition(t *testing.T) {
	e := newEngine(t, &fakeExecutor{}, nil)
	e.Ingest([]model.Tick{{Token: "2885", LastPrice: d("110")}})

	_, err := e.Submit(context.Background(), sizing.Intent{Kind: sizing.Exit, Token: "2885"})
	require.NoError(t, err)

	_, ok := e.Positions().Position("2885")
	assert.False(t, ok)
	agg := e.Aggregates()
	assert.Equal(t, 0, agg.OpenPositions)
	assert.True(t, agg.TotalPnL.IsZero(), "booked P&L leaves with the position")

	// later ticks for the exited token are ignored
	assert.Empty(t, e.Ingest([]model.Tick{{Token: "2885", LastPrice: d("120")}}))
}

func TestEngine_RunConsumesBatches(t *testing.T) {
	e := newEngine(t, &fakeExecutor{}, nil)
	batches := make(chan []model.Tick, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		e.Run(ctx, batches)
		close(done)
	}()

	batches <- []model.Tick{{Token: "2885", LastPrice: d("90")}}
	select {
	case u := <-e.Updates():
		assert.True(t, u.Aggregates.TotalPnL.Equal(d("-2000")))
	case <-time.After(time.Second):
		t.Fatal("no update published")
	}

	close(batches)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after batches closed")
	}
}

func TestEngine_DroppedUpdateHook(t *testing.T) {
	ledger, err := portfolio.NewLedger(model.RiskPool{})
	require.NoError(t, err)
	require.NoError(t, ledger.Open(model.Position{Token: "1", EntryPrice: d("10"), CurrentQty: 1}))
	e := New(Config{UpdateBuffer: 1}, ledger, &fakeExecutor{}, nil, nil)

	drops := 0
	e.OnDroppedUpdate = func() { drops++ }
	e.Ingest([]model.Tick{{Token: "1", LastPrice: d("11")}})
	e.Ingest([]model.Tick{{Token: "1", LastPrice: d("12")}})

	assert.Equal(t, 1, drops)
	assert.True(t, e.Aggregates().TotalPnL.Equal(d("2")), "latest aggregates are kept even when the update is dropped")
	assert.Nil(t, e.Quotes())
}

func TestEngine_RestorePublishesHeldTokens(t *testing.T) {
	e := newEngine(t, &fakeExecutor{}, nil)
	e.Restore()

	got := drain(e.Updates())
	require.Len(t, got, 1)
	assert.Equal(t, "restore", got[0].Reason)
	assert.Equal(t, []string{"2885"}, got[0].Changed)
	assert.Equal(t, 1, got[0].Aggregates.OpenPositions)
}

func TestEngine_ZeroTickSizesAgainstZero(t *testing.T) {
	e := newEngine(t, &fakeExecutor{}, nil)
	e.Ingest([]model.Tick{{Token: "2885", LastPrice: decimal.Zero}})

	_, err := e.Translate(sizing.Intent{Kind: sizing.IncreaseByRiskPoolPercent, Token: "2885", Percent: d("10")})
	assert.ErrorIs(t, err, sizing.ErrDivisionByZero)
}

func TestEngine_OversizedReduceSellsOnlyHeld(t *testing.T) {
	exec := &fakeExecutor{}
	e := newEngine(t, exec, nil)

	_, err := e.Submit(context.Background(), sizing.Intent{Kind: sizing.ReduceAbsolute, Token: "2885", Qty: 5000})
	require.NoError(t, err)

	require.Len(t, exec.orders, 1)
	assert.Equal(t, int64(200), exec.orders[0].Qty)
	assert.Empty(t, e.Positions().Positions)
}
