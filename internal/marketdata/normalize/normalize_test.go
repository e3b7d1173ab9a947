package normalize

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trading-riskv1/internal/model"
)

func tick(token, price string) model.Tick {
	return model.Tick{Token: token, LastPrice: decimal.RequireFromString(price)}
}

func TestNormalize_LastValueWins(t *testing.T) {
	batch := []model.Tick{
		tick("2885", "100"),
		tick("1594", "50"),
		tick("2885", "101"),
		tick("2885", "102.5"),
	}

	out := Normalize(batch)
	require.Len(t, out, 2)
	assert.Equal(t, "2885", out[0].Token)
	assert.True(t, out[0].LastPrice.Equal(decimal.RequireFromString("102.5")))
	assert.Equal(t, "1594", out[1].Token)

	// input untouched
	assert.True(t, batch[0].LastPrice.Equal(decimal.RequireFromString("100")))
}

func TestNormalize_Empty(t *testing.T) {
	assert.Nil(t, Normalize(nil))
}

func TestFromFeed_BrokerFrame(t *testing.T) {
	msg := map[string]any{
		"token":              "3045",
		"exchange_type":      1,
		"last_traded_price":  int64(81025),
		"closed_price":       int64(80000),
		"exchange_timestamp": int64(1760000000000),
	}

	tk, err := FromFeed(msg)
	require.NoError(t, err)
	assert.Equal(t, "3045", tk.Token)
	assert.Equal(t, "NSE", tk.Exchange)
	assert.True(t, tk.LastPrice.Equal(decimal.RequireFromString("810.25")))
	assert.True(t, tk.Change.Equal(decimal.RequireFromString("10.25")))
	assert.Equal(t, time.UnixMilli(1760000000000).UTC(), tk.TickTS)
}

func TestFromFeed_UnknownExchangeType(t *testing.T) {
	tk, err := FromFeed(map[string]any{"token": "1", "exchange_type": 42, "last_traded_price": 100})
	require.NoError(t, err)
	assert.Equal(t, "EX_42", tk.Exchange)
	assert.True(t, tk.Change.IsZero())
}

func TestFromFeed_JSONShape(t *testing.T) {
	tk, err := FromFeed(map[string]any{
		"instrument_token": float64(738561),
		"last_price":       "2450.55",
		"change":           -1.5,
	})
	require.NoError(t, err)
	assert.Equal(t, "738561", tk.Token)
	assert.True(t, tk.LastPrice.Equal(decimal.RequireFromString("2450.55")))
	assert.True(t, tk.Change.Equal(decimal.RequireFromString("-1.5")))
}

func TestFromFeed_Errors(t *testing.T) {
	_, err := FromFeed(map[string]any{"last_price": "1"})
	assert.ErrorIs(t, err, ErrMissingToken)

	_, err = FromFeed(map[string]any{"instrument_token": "1", "last_price": "abc"})
	assert.Error(t, err)

	_, err = FromFeed(map[string]any{"instrument_token": "1"})
	assert.Error(t, err)
}
