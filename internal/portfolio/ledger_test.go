package portfolio

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trading-riskv1/internal/model"
	"trading-riskv1/internal/sizing"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newTestLedger(t *testing.T, positions ...model.Position) *Ledger {
	t.Helper()
	l, err := NewLedger(model.RiskPool{AvailableRisk: d("1000"), UsedRisk: d("0")})
	require.NoError(t, err)
	for _, p := range positions {
		require.NoError(t, l.Open(p))
	}
	return l
}

func pos(token, entry string, qty int64) model.Position {
	return model.Position{Token: token, Symbol: "SYM" + token, EntryPrice: d(entry), CurrentQty: qty}
}

func TestLedger_OpenDefaultsAndDuplicates(t *testing.T) {
	l := newTestLedger(t, pos("2885", "100", 10))

	p, ok := l.Get("2885")
	require.True(t, ok)
	assert.True(t, p.LastPrice.Equal(d("100")), "last_price defaults to entry_price")

	err := l.Open(pos("2885", "1", 1))
	assert.ErrorIs(t, err, ErrPositionExists)
	assert.Equal(t, 1, l.Len())
}

func TestLedger_NewLedgerRejectsNegativePool(t *testing.T) {
	_, err := NewLedger(model.RiskPool{AvailableRisk: d("-1")})
	assert.ErrorIs(t, err, model.ErrNegativeRisk)
}

func TestLedger_SnapshotIsDetached(t *testing.T) {
	l := newTestLedger(t, pos("b", "10", 1), pos("a", "20", 2))

	snap := l.Snapshot()
	require.Len(t, snap.Positions, 2)
	assert.Equal(t, "a", snap.Positions[0].Token)

	snap.Positions[0].CurrentQty = 999
	p, _ := l.Get("a")
	assert.Equal(t, int64(2), p.CurrentQty)

	got, ok := snap.Position("b")
	require.True(t, ok)
	assert.Equal(t, int64(1), got.CurrentQty)
	_, ok = snap.Position("zzz")
	assert.False(t, ok)
}

func TestLedger_FillLifecycle(t *testing.T) {
	l := newTestLedger(t, pos("2885", "100", 10))

	// increase 10 @ 110 committing 200 of risk
	require.NoError(t, l.ApplyFill(model.Fill{
		Kind: model.FillIncrease, Token: "2885", Qty: 10, Price: d("110"), RiskAmount: d("200"),
	}))
	p, _ := l.Get("2885")
	assert.Equal(t, int64(20), p.CurrentQty)
	assert.True(t, p.EntryPrice.Equal(d("105")), "weighted entry, got %s", p.EntryPrice)
	assert.True(t, p.RiskAllocated.Equal(d("200")))
	pool := l.RiskPool()
	assert.True(t, pool.AvailableRisk.Equal(d("800")))
	assert.True(t, pool.UsedRisk.Equal(d("200")))

	// reduce 5 @ 120 books 75 and releases a quarter of the allocation
	require.NoError(t, l.ApplyFill(model.Fill{Kind: model.FillReduce, Token: "2885", Qty: 5, Price: d("120")}))
	p, _ = l.Get("2885")
	assert.Equal(t, int64(15), p.CurrentQty)
	assert.True(t, p.BookedPnL.Equal(d("75")))
	assert.True(t, p.RiskAllocated.Equal(d("150")))
	assert.True(t, l.RiskPool().AvailableRisk.Equal(d("850")))

	// stop-loss and target
	require.NoError(t, l.ApplyFill(model.Fill{Kind: model.FillStopLoss, Token: "2885", Price: d("96.6")}))
	require.NoError(t, l.ApplyFill(model.Fill{Kind: model.FillTarget, Token: "2885", Price: d("130")}))
	p, _ = l.Get("2885")
	assert.True(t, p.StopLoss.Equal(d("96.6")))
	assert.True(t, p.Target.Equal(d("130")))

	// exit removes the position and returns all risk
	require.NoError(t, l.ApplyFill(model.Fill{Kind: model.FillExit, Token: "2885", Price: d("100")}))
	_, ok := l.Get("2885")
	assert.False(t, ok)
	pool = l.RiskPool()
	assert.True(t, pool.AvailableRisk.Equal(d("1000")))
	assert.True(t, pool.UsedRisk.IsZero())
}

func TestLedger_ReduceToZeroRemoves(t *testing.T) {
	l := newTestLedger(t, pos("1", "50", 4))
	require.NoError(t, l.ApplyFill(model.Fill{Kind: model.FillReduce, Token: "1", Qty: 10, Price: d("55")}))

	_, ok := l.Get("1")
	assert.False(t, ok, "over-sized reduce is clamped and closes the position")
}

func TestLedger_ApplyFillErrorsLeaveStateUnchanged(t *testing.T) {
	l := newTestLedger(t, pos("1", "50", 4))
	before := l.Snapshot()

	assert.ErrorIs(t, l.ApplyFill(model.Fill{Kind: model.FillReduce, Token: "nope", Qty: 1}), ErrUnknownPosition)
	assert.ErrorIs(t, l.ApplyFill(model.Fill{Kind: model.FillIncrease, Token: "1", Qty: 0, Price: d("1")}), ErrInvalidFill)
	assert.ErrorIs(t, l.ApplyFill(model.Fill{Kind: model.FillReduce, Token: "1", Qty: -1}), ErrInvalidFill)
	assert.ErrorIs(t, l.ApplyFill(model.Fill{Kind: "BOGUS", Token: "1"}), ErrInvalidFill)
	assert.ErrorIs(t, l.ApplyFill(model.Fill{Kind: model.FillStopLoss, Token: "1", Price: d("-1")}), ErrInvalidFill)

	assert.Equal(t, before, l.Snapshot())
}

func TestLedger_TickAfterExitIsDropped(t *testing.T) {
	l := newTestLedger(t, pos("1", "50", 4), pos("2", "10", 1))
	require.NoError(t, l.ApplyFill(model.Fill{Kind: model.FillExit, Token: "1", Price: d("50")}))

	changed := l.Reconcile([]model.Tick{
		{Token: "1", LastPrice: d("60")},
		{Token: "2", LastPrice: d("11")},
	})
	assert.Equal(t, []string{"2"}, changed)
	_, ok := l.Get("1")
	assert.False(t, ok, "reconcile never recreates a position")
}

func TestLedger_VersionAdvancesOnlyOnChange(t *testing.T) {
	l := newTestLedger(t, pos("1", "50", 4))
	v := l.Snapshot().Version

	l.Reconcile([]model.Tick{{Token: "1", LastPrice: d("50")}})
	assert.Equal(t, v, l.Snapshot().Version)

	l.Reconcile([]model.Tick{{Token: "1", LastPrice: d("51")}})
	assert.Equal(t, v+1, l.Snapshot().Version)
}

func TestLedger_ChangeOnlyTickAdvancesVersion(t *testing.T) {
	l := newTestLedger(t, pos("1", "50", 4))
	v := l.Snapshot().Version

	changed := l.Reconcile([]model.Tick{{Token: "1", LastPrice: d("50"), Change: d("-2")}})
	assert.Empty(t, changed, "change alone does not trigger a recompute")
	snap := l.Snapshot()
	assert.Equal(t, v+1, snap.Version)
	p, _ := snap.Position("1")
	assert.True(t, p.Change.Equal(d("-2")))

	l.Reconcile([]model.Tick{{Token: "1", LastPrice: d("50"), Change: d("-2")}})
	assert.Equal(t, v+1, l.Snapshot().Version)
}

func TestLedger_ZeroTickReachesTranslator(t *testing.T) {
	l := newTestLedger(t, pos("519", "500", 200))
	l.Reconcile([]model.Tick{{Token: "519", LastPrice: decimal.Zero}})

	snap := l.Snapshot()
	p, ok := snap.Position("519")
	require.True(t, ok)
	assert.True(t, p.LastPrice.IsZero())

	intent := sizing.Intent{Kind: sizing.IncreaseByRiskPoolPercent, Token: "519", Percent: d("10")}
	_, err := sizing.Translate(intent, &p, snap.RiskPool)
	assert.ErrorIs(t, err, sizing.ErrDivisionByZero)
}
