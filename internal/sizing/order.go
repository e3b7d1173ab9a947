package sizing

import (
	"net/url"
	"strconv"

	"github.com/shopspring/decimal"

	"trading-riskv1/internal/model"
)

// ConcreteOrder is what the execution boundary receives.
//
// Qty is the traded quantity for INCREASE, REDUCE and EXIT orders and the
// protected quantity for STOP_LOSS and TARGET orders, whose level is in
// Price. RefPrice is the last price the order was sized against.
// ID is left empty by the translator and assigned at submission.
type ConcreteOrder struct {
	ID         string          `json:"id,omitempty"`
	Intent     Kind            `json:"intent"`
	Kind       model.FillKind  `json:"kind"`
	Token      string          `json:"token"`
	Symbol     string          `json:"symbol"`
	Exchange   string          `json:"exchange,omitempty"`
	Side       model.Side      `json:"side,omitempty"`
	Qty        int64           `json:"qty,omitempty"`
	Price      decimal.Decimal `json:"price"`
	RefPrice   decimal.Decimal `json:"ref_price"`
	RiskAmount decimal.Decimal `json:"risk_amount"`
}

// Query returns the order as an encoded query string. The symbol is
// percent-encoded, so "M&M" becomes "M%26M".
//
//	INCREASE / REDUCE  qty=...&symbol=...
//	EXIT               symbol=...
//	STOP_LOSS          sl=...&symbol=...
//	TARGET             symbol=...&target=...
func (o ConcreteOrder) Query() string {
	v := url.Values{}
	v.Set("symbol", o.Symbol)
	switch o.Kind {
	case model.FillIncrease, model.FillReduce:
		v.Set("qty", strconv.FormatInt(o.Qty, 10))
	case model.FillStopLoss:
		v.Set("sl", o.Price.String())
	case model.FillTarget:
		v.Set("target", o.Price.String())
	}
	return v.Encode()
}

// Action is the path segment naming the order at an HTTP execution
// gateway.
func (o ConcreteOrder) Action() string {
	switch o.Kind {
	case model.FillIncrease:
		return "increase"
	case model.FillReduce:
		return "reduce"
	case model.FillExit:
		return "exit"
	case model.FillStopLoss:
		return "stoploss"
	case model.FillTarget:
		return "target"
	}
	return "unknown"
}

// Fill builds the confirmation for this order at the given execution
// price. Level orders confirm with their own price.
func (o ConcreteOrder) Fill(price decimal.Decimal) model.Fill {
	f := model.Fill{
		OrderID:    o.ID,
		Kind:       o.Kind,
		Token:      o.Token,
		Symbol:     o.Symbol,
		Side:       o.Side,
		Qty:        o.Qty,
		Price:      price,
		RiskAmount: o.RiskAmount,
	}
	if o.Kind == model.FillStopLoss || o.Kind == model.FillTarget {
		f.Price = o.Price
	}
	return f
}
