package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trading-riskv1/internal/display"
	"trading-riskv1/internal/engine"
	"trading-riskv1/internal/model"
	"trading-riskv1/internal/portfolio"
	"trading-riskv1/internal/sizing"
	sqlitestore "trading-riskv1/internal/store/sqlite"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type stubExecutor struct{ err error }

func (s *stubExecutor) Execute(_ context.Context, o sizing.ConcreteOrder) (model.Fill, error) {
	if s.err != nil {
		return model.Fill{}, s.err
	}
	return o.Fill(o.RefPrice), nil
}

type fixture struct {
	srv     *httptest.Server
	exec    *stubExecutor
	journal *sqlitestore.Journal
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ledger, err := portfolio.NewLedger(model.RiskPool{AvailableRisk: d("10000"), UsedRisk: d("5000")})
	require.NoError(t, err)
	require.NoError(t, ledger.Open(model.Position{Token: "2885", Symbol: "RELIANCE", EntryPrice: d("100"), CurrentQty: 200}))
	require.NoError(t, ledger.Open(model.Position{Token: "1", Symbol: "ZERO", CurrentQty: 10}))

	journal, err := sqlitestore.New(sqlitestore.Config{DBPath: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { journal.Close() })

	exec := &stubExecutor{}
	eng := engine.New(engine.Config{}, ledger, exec, journal, portfolio.NewQuoteBoard("99926000"))
	s := NewServer(Config{}, eng, journal, display.NewScaler(0.2))

	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return &fixture{srv: srv, exec: exec, journal: journal}
}

func (f *fixture) do(t *testing.T, method, path, role string, body any) (*http.Response, []byte) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, f.srv.URL+path, &buf)
	require.NoError(t, err)
	if role != "" {
		req.Header.Set(RoleHeader, role)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var out bytes.Buffer
	_, err = out.ReadFrom(resp.Body)
	require.NoError(t, err)
	return resp, out.Bytes()
}

func TestAggregates_ScaledByRole(t *testing.T) {
	f := newFixture(t)

	_, body := f.do(t, http.MethodGet, "/api/aggregates", "admin", nil)
	var admin display.AggregatesView
	require.NoError(t, json.Unmarshal(body, &admin))
	assert.True(t, admin.CapitalUsed.Equal(d("20000")), admin.CapitalUsed.String())
	assert.True(t, admin.TotalRisk.Equal(d("15000")))

	_, body = f.do(t, http.MethodGet, "/api/aggregates", "viewer", nil)
	var viewer display.AggregatesView
	require.NoError(t, json.Unmarshal(body, &viewer))
	assert.True(t, viewer.CapitalUsed.Equal(d("4000")), viewer.CapitalUsed.String())
	assert.True(t, viewer.TotalRisk.Equal(d("3000")))
	assert.Equal(t, admin.OpenPositions, viewer.OpenPositions)
}

func TestPositionsAndQuotes(t *testing.T) {
	f := newFixture(t)

	resp, body := f.do(t, http.MethodGet, "/api/positions", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var positions []display.PositionView
	require.NoError(t, json.Unmarshal(body, &positions))
	require.Len(t, positions, 2)
	assert.Equal(t, int64(40), positions[1].Qty, "no role is scaled")
	assert.True(t, positions[1].EntryPrice.Equal(d("100")), "prices are not scaled")

	resp, body = f.do(t, http.MethodGet, "/api/quotes", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var quotes []portfolio.Quote
	require.NoError(t, json.Unmarshal(body, &quotes))
	require.Len(t, quotes, 1)
	assert.Equal(t, "99926000", quotes[0].Token)
}

func TestSubmitIntent_FilledAndJournaled(t *testing.T) {
	f := newFixture(t)

	resp, body := f.do(t, http.MethodPost, "/api/positions/2885/intents", "Admin",
		IntentRequest{Kind: "increase_absolute", Value: "50"})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var out IntentResponse
	require.NoError(t, json.Unmarshal(body, &out))
	assert.Equal(t, "filled", out.Status)
	assert.Equal(t, int64(50), out.Order.Qty)
	assert.NotEmpty(t, out.Order.ID)
	assert.Equal(t, "qty=50&symbol=RELIANCE", out.Query)

	_, body = f.do(t, http.MethodGet, "/api/fills?token=2885", "viewer", nil)
	var fills []display.FillView
	require.NoError(t, json.Unmarshal(body, &fills))
	require.Len(t, fills, 1)
	assert.Equal(t, out.Order.ID, fills[0].OrderID)
	assert.Equal(t, int64(10), fills[0].Qty)
}

func TestSubmitIntent_DryRunDoesNotExecute(t *testing.T) {
	f := newFixture(t)
	f.exec.err = errors.New("must not be called")

	resp, body := f.do(t, http.MethodPost, "/api/positions/2885/intents", "viewer",
		IntentRequest{Kind: "REDUCE_QTY_PERCENT", Value: "25%", DryRun: true})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var out IntentResponse
	require.NoError(t, json.Unmarshal(body, &out))
	assert.Equal(t, "preview", out.Status)
	assert.Equal(t, int64(10), out.Order.Qty, "50 scaled by 0.2")
	assert.Equal(t, "qty=50&symbol=RELIANCE", out.Query, "query carries the unscaled order")
}

func TestSubmitIntent_ErrorMapping(t *testing.T) {
	f := newFixture(t)

	cases := []struct {
		name   string
		token  string
		req    any
		status int
		code   string
	}{
		{"bad json", "2885", "not an object", http.StatusBadRequest, "validation"},
		{"unknown kind", "2885", IntentRequest{Kind: "DOUBLE_DOWN", Value: "1"}, http.StatusBadRequest, "validation"},
		{"zero qty", "2885", IntentRequest{Kind: "INCREASE_ABSOLUTE", Value: "0"}, http.StatusBadRequest, "validation"},
		{"missing position", "404", IntentRequest{Kind: "EXIT"}, http.StatusNotFound, "missing_position"},
		{"division by zero", "1", IntentRequest{Kind: "INCREASE_RISK_PERCENT", Value: "10"}, http.StatusUnprocessableEntity, "division_by_zero"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, body := f.do(t, http.MethodPost, "/api/positions/"+tc.token+"/intents", "", tc.req)
			assert.Equal(t, tc.status, resp.StatusCode, string(body))
			var e ErrorResponse
			require.NoError(t, json.Unmarshal(body, &e))
			assert.Equal(t, tc.code, e.Error)
		})
	}
}

func TestSubmitIntent_ExecutionFailure(t *testing.T) {
	f := newFixture(t)
	f.exec.err = errors.New("broker down")

	resp, body := f.do(t, http.MethodPost, "/api/positions/2885/intents", "admin", IntentRequest{Kind: "EXIT"})
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode, string(body))

	_, body = f.do(t, http.MethodGet, "/api/aggregates", "admin", nil)
	var agg display.AggregatesView
	require.NoError(t, json.Unmarshal(body, &agg))
	assert.Equal(t, 2, agg.OpenPositions, "ledger unchanged")
}

func TestFills_BadLimit(t *testing.T) {
	f := newFixture(t)
	resp, _ := f.do(t, http.MethodGet, "/api/fills?limit=0", "", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCORSPreflight(t *testing.T) {
	f := newFixture(t)
	req, err := http.NewRequest(http.MethodOptions, f.srv.URL+"/api/positions/2885/intents", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", RoleHeader)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}
