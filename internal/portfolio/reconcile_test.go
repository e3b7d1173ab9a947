package portfolio

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"trading-riskv1/internal/model"
)

func positionsMap(ps ...model.Position) map[string]*model.Position {
	m := make(map[string]*model.Position, len(ps))
	for _, p := range ps {
		p := p
		p.LastPrice = p.EntryPrice
		m[p.Token] = &p
	}
	return m
}

func TestReconcile_UntouchedPositionsKeepPrice(t *testing.T) {
	m := positionsMap(pos("1", "100", 1), pos("2", "200", 1))

	changed := Reconcile(m, []model.Tick{{Token: "1", LastPrice: d("101")}})

	assert.Equal(t, []string{"1"}, changed)
	assert.True(t, m["1"].LastPrice.Equal(d("101")))
	assert.True(t, m["2"].LastPrice.Equal(d("200")))
}

func TestReconcile_Idempotent(t *testing.T) {
	m := positionsMap(pos("1", "100", 1), pos("2", "200", 1))
	batch := []model.Tick{
		{Token: "1", LastPrice: d("101"), Change: d("1")},
		{Token: "2", LastPrice: d("199")},
	}

	first := Reconcile(m, batch)
	state := map[string]model.Position{"1": *m["1"], "2": *m["2"]}

	second := Reconcile(m, batch)
	assert.Len(t, first, 2)
	assert.Empty(t, second)
	assert.Equal(t, state["1"], *m["1"])
	assert.Equal(t, state["2"], *m["2"])
}

func TestReconcile_ValueCompare(t *testing.T) {
	m := positionsMap(pos("1", "100", 1))

	// 100.00 equals 100 by value even though the representation differs
	changed := Reconcile(m, []model.Tick{{Token: "1", LastPrice: d("100.00")}})
	assert.Empty(t, changed)
}

func TestReconcile_UnknownTokensIgnored(t *testing.T) {
	m := positionsMap(pos("1", "100", 1))

	changed := Reconcile(m, []model.Tick{{Token: "999", LastPrice: d("5")}})
	assert.Empty(t, changed)
	assert.Len(t, m, 1)
}

func TestReconcile_ChangeAloneIsNotReported(t *testing.T) {
	m := positionsMap(pos("1", "100", 1))

	changed := Reconcile(m, []model.Tick{{Token: "1", LastPrice: d("100"), Change: d("3")}})
	assert.Empty(t, changed)
	assert.True(t, m["1"].Change.Equal(d("3")))
}

func TestReconcile_DuplicateTokenReportedOnce(t *testing.T) {
	m := positionsMap(pos("1", "100", 1))

	changed := Reconcile(m, []model.Tick{
		{Token: "1", LastPrice: d("101")},
		{Token: "1", LastPrice: d("102")},
	})
	assert.Equal(t, []string{"1"}, changed)
	assert.True(t, m["1"].LastPrice.Equal(d("102")))
}
