// Package normalize adapts raw market feed messages into model.Tick records
// and collapses a batch to at most one tick per instrument token.
package normalize

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"trading-riskv1/internal/model"
)

// exchangeTypeToName maps SmartAPI exchange_type ints to exchange names.
var exchangeTypeToName = map[int]string{
	1:  "NSE",
	2:  "NFO",
	3:  "BSE",
	4:  "BFO",
	5:  "MCX",
	7:  "NCX",
	13: "CDE",
}

var ErrMissingToken = errors.New("normalize: missing token")

// FromFeed converts one decoded feed message into a Tick.
//
// Two shapes are accepted. Broker binary frames decoded by smartconnect carry
// "token", "exchange_type", "last_traded_price" and optionally "closed_price",
// all prices in paise. JSON feeds carry "instrument_token", "last_price" and
// "change" in rupees.
func FromFeed(msg map[string]any) (model.Tick, error) {
	token := toString(msg["token"])
	if token == "" {
		token = toString(msg["instrument_token"])
	}
	if token == "" {
		return model.Tick{}, ErrMissingToken
	}

	tick := model.Tick{Token: token, Exchange: toString(msg["exchange"])}
	if tick.Exchange == "" {
		if _, ok := msg["exchange_type"]; ok {
			exType := toInt(msg["exchange_type"])
			tick.Exchange = exchangeTypeToName[exType]
			if tick.Exchange == "" {
				tick.Exchange = fmt.Sprintf("EX_%d", exType)
			}
		}
	}

	if raw, ok := msg["last_traded_price"]; ok {
		tick.LastPrice = model.PaiseToRupees(toInt64(raw))
		if closed := toInt64(msg["closed_price"]); closed > 0 {
			tick.Change = tick.LastPrice.Sub(model.PaiseToRupees(closed))
		}
	} else {
		price, err := toDecimal(msg["last_price"])
		if err != nil {
			return model.Tick{}, fmt.Errorf("normalize: last_price for %s: %w", token, err)
		}
		tick.LastPrice = price
		if raw, ok := msg["change"]; ok {
			change, err := toDecimal(raw)
			if err != nil {
				return model.Tick{}, fmt.Errorf("normalize: change for %s: %w", token, err)
			}
			tick.Change = change
		}
	}

	// SmartAPI sends epoch milliseconds.
	if exTS := toInt64(msg["exchange_timestamp"]); exTS > 0 {
		tick.TickTS = time.UnixMilli(exTS).UTC()
	}
	return tick, nil
}

// Normalize collapses batch to one tick per token. The last tick for a token
// wins; tokens keep the position of their first appearance. The input slice
// is not modified.
func Normalize(batch []model.Tick) []model.Tick {
	if len(batch) == 0 {
		return nil
	}
	index := make(map[string]int, len(batch))
	out := make([]model.Tick, 0, len(batch))
	for _, t := range batch {
		if i, ok := index[t.Token]; ok {
			out[i] = t
			continue
		}
		index[t.Token] = len(out)
		out = append(out, t)
	}
	return out
}

func toString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	default:
		return ""
	}
}

func toInt(v any) int {
	return int(toInt64(v))
}

func toInt64(v any) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case int:
		return int64(t)
	case float64:
		return int64(t)
	case string:
		n, _ := strconv.ParseInt(t, 10, 64)
		return n
	default:
		return 0
	}
}

func toDecimal(v any) (decimal.Decimal, error) {
	switch t := v.(type) {
	case decimal.Decimal:
		return t, nil
	case float64:
		return decimal.NewFromFloat(t), nil
	case int:
		return decimal.NewFromInt(int64(t)), nil
	case int64:
		return decimal.NewFromInt(t), nil
	case string:
		return decimal.NewFromString(t)
	case nil:
		return decimal.Zero, errors.New("missing value")
	default:
		return decimal.Zero, fmt.Errorf("unsupported type %T", v)
	}
}
