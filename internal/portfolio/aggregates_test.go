package portfolio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trading-riskv1/internal/model"
)

func sampleSnapshot() Snapshot {
	return Snapshot{
		Positions: []model.Position{
			{
				Token: "a", Symbol: "AAA", EntryPrice: d("100"), CurrentQty: 10,
				LastPrice: d("110"), BookedPnL: d("50"), StopLoss: d("95"), Target: d("120"),
			},
			{
				Token: "b", Symbol: "BBB", EntryPrice: d("200"), CurrentQty: 5,
				LastPrice: d("190"), StopLoss: d("180"), Target: d("240"),
			},
		},
		RiskPool: model.RiskPool{AvailableRisk: d("10000"), UsedRisk: d("5000")},
		Version:  7,
	}
}

func TestRecompute_Figures(t *testing.T) {
	agg := Recompute(sampleSnapshot())

	require.Len(t, agg.Positions, 2)
	a := agg.Positions[0]
	assert.True(t, a.PnL.Equal(d("150")), "pnl a = %s", a.PnL)
	assert.True(t, a.CapitalUsed.Equal(d("1000")))
	assert.True(t, a.PnLPercent.Equal(d("15")))
	assert.True(t, a.Risk.Equal(d("0")))
	assert.True(t, a.Reward.Equal(d("250")))

	b := agg.Positions[1]
	assert.True(t, b.PnL.Equal(d("-50")))
	assert.True(t, b.Risk.Equal(d("-100")))
	assert.True(t, b.Reward.Equal(d("200")))

	assert.True(t, agg.TotalPnL.Equal(d("100")))
	assert.True(t, agg.CapitalUsed.Equal(d("2000")))
	assert.True(t, agg.PnLPercent.Equal(d("5")))
	assert.True(t, agg.TotalRisk.Equal(d("15000")))
	assert.Equal(t, 2, agg.OpenPositions)
	assert.Equal(t, uint64(7), agg.Version)
}

func TestRecompute_DeterministicAndPure(t *testing.T) {
	snap := sampleSnapshot()
	before := sampleSnapshot()

	first := Recompute(snap)
	second := Recompute(snap)

	assert.Equal(t, first, second)
	assert.Equal(t, before, snap)
}

func TestRecompute_ZeroCapitalGuard(t *testing.T) {
	snap := Snapshot{
		Positions: []model.Position{
			// fully reduced position still carrying booked P&L
			{Token: "z", EntryPrice: d("100"), CurrentQty: 0, LastPrice: d("120"), BookedPnL: d("40")},
		},
	}
	agg := Recompute(snap)

	assert.True(t, agg.CapitalUsed.IsZero())
	assert.True(t, agg.PnLPercent.IsZero())
	assert.True(t, agg.Positions[0].PnLPercent.IsZero())
	assert.True(t, agg.TotalPnL.Equal(d("40")))
}

func TestRecompute_EmptyLedger(t *testing.T) {
	agg := Recompute(Snapshot{})

	assert.True(t, agg.TotalPnL.IsZero())
	assert.True(t, agg.CapitalUsed.IsZero())
	assert.True(t, agg.PnLPercent.IsZero())
	assert.True(t, agg.TotalRisk.IsZero())
	assert.Empty(t, agg.Positions)
}
