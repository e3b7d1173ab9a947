package model

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestPosition_ValidateDefaultsLastPrice(t *testing.T) {
	p := Position{Token: "2885", EntryPrice: d("2450.5"), CurrentQty: 10}
	require.NoError(t, p.Validate())
	assert.True(t, p.LastPrice.Equal(d("2450.5")))
	assert.Equal(t, int64(10), p.InitialQty)
}

func TestPosition_ValidateRejects(t *testing.T) {
	p := Position{EntryPrice: d("10"), CurrentQty: 1}
	assert.ErrorIs(t, p.Validate(), ErrEmptyToken)

	p = Position{Token: "1", CurrentQty: -1}
	assert.ErrorIs(t, p.Validate(), ErrNegativeQuantity)
}

func TestPosition_CloneIsDetached(t *testing.T) {
	p := &Position{Token: "1", CurrentQty: 5}
	cp := p.Clone()
	cp.CurrentQty = 1
	assert.Equal(t, int64(5), p.CurrentQty)
}

func TestRiskPool_AllocateRelease(t *testing.T) {
	pool := RiskPool{AvailableRisk: d("1000"), UsedRisk: d("0")}

	moved := pool.Allocate(d("300"))
	assert.True(t, moved.Equal(d("300")))
	assert.True(t, pool.AvailableRisk.Equal(d("700")))
	assert.True(t, pool.UsedRisk.Equal(d("300")))

	// capped at what is available
	moved = pool.Allocate(d("5000"))
	assert.True(t, moved.Equal(d("700")))
	assert.True(t, pool.AvailableRisk.IsZero())
	assert.True(t, pool.Total().Equal(d("1000")))

	moved = pool.Release(d("250"))
	assert.True(t, moved.Equal(d("250")))
	assert.True(t, pool.AvailableRisk.Equal(d("250")))
	assert.True(t, pool.Total().Equal(d("1000")))

	assert.True(t, pool.Release(d("-5")).IsZero())
	require.NoError(t, pool.Validate())
}

func TestRiskPool_ValidateNegative(t *testing.T) {
	pool := RiskPool{AvailableRisk: d("-1")}
	assert.ErrorIs(t, pool.Validate(), ErrNegativeRisk)
}

func TestPaiseToRupees(t *testing.T) {
	assert.True(t, PaiseToRupees(245050).Equal(d("2450.50")))
}
