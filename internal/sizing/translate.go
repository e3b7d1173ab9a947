package sizing

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"trading-riskv1/internal/model"
)

// DefaultStopDistancePct is the stop distance assumed when sizing an
// increase from a share of the risk pool: the stop sits 10% below LTP.
const DefaultStopDistancePct = 0.10

var (
	hundred = decimal.NewFromInt(100)
	maxQty  = decimal.NewFromInt(math.MaxInt64)
)

// Translator converts intents to orders.
type Translator struct {
	// StopDistancePct is the assumed stop distance as a fraction of LTP.
	StopDistancePct decimal.Decimal
}

// NewTranslator returns a translator using stopDistancePct, or the default
// when it is not positive.
func NewTranslator(stopDistancePct float64) Translator {
	if stopDistancePct <= 0 {
		stopDistancePct = DefaultStopDistancePct
	}
	return Translator{StopDistancePct: decimal.NewFromFloat(stopDistancePct)}
}

// Translate sizes intent against the default translator.
func Translate(intent Intent, pos *model.Position, pool model.RiskPool) (ConcreteOrder, error) {
	return NewTranslator(DefaultStopDistancePct).Translate(intent, pos, pool)
}

// StopPoints returns ltp - (ltp - ltp*StopDistancePct), the assumed
// per-share risk of an increase.
func (t Translator) StopPoints(ltp decimal.Decimal) decimal.Decimal {
	sl := ltp.Sub(ltp.Mul(t.StopDistancePct))
	return ltp.Sub(sl)
}

// Translate computes the concrete order for intent. pos must be the
// position the intent targets; nil means it is not in the ledger.
//
// Errors are a *ValidationError for bad input, ErrMissingPosition when pos
// is nil or belongs to another token, and ErrDivisionByZero when the stop
// distance collapses to zero. Reduces larger than the held quantity are
// clamped to it.
func (t Translator) Translate(intent Intent, pos *model.Position, pool model.RiskPool) (ConcreteOrder, error) {
	if err := intent.Validate(); err != nil {
		return ConcreteOrder{}, err
	}
	if pos == nil || (intent.Token != "" && intent.Token != pos.Token) {
		return ConcreteOrder{}, fmt.Errorf("%w: %s", ErrMissingPosition, intent.Token)
	}

	// A zero LTP is a real quote here; Position.Validate already seeds
	// LastPrice from EntryPrice for positions that never ticked.
	ltp := pos.LastPrice
	o := ConcreteOrder{
		Intent:   intent.Kind,
		Token:    pos.Token,
		Symbol:   pos.Symbol,
		Exchange: pos.Exchange,
		RefPrice: ltp,
	}

	switch intent.Kind {
	case IncreaseAbsolute:
		o.Kind, o.Side, o.Qty = model.FillIncrease, model.SideBuy, intent.Qty
		o.RiskAmount = t.StopPoints(ltp).Mul(decimal.NewFromInt(o.Qty))

	case IncreaseByRiskPoolPercent:
		absoluteRisk := pool.Total().Mul(intent.Percent).Div(hundred)
		slPoints := t.StopPoints(ltp)
		if slPoints.IsZero() {
			return ConcreteOrder{}, fmt.Errorf("%w: ltp=%s stop=%s", ErrDivisionByZero, ltp, t.StopDistancePct)
		}
		shares := absoluteRisk.Div(slPoints).Round(0)
		if shares.GreaterThan(maxQty) {
			return ConcreteOrder{}, invalid("percent", "%s%% of risk pool sizes to %s shares", intent.Percent, shares)
		}
		qty := shares.IntPart()
		if qty <= 0 {
			return ConcreteOrder{}, invalid("percent", "%s%% of risk pool sizes to %d shares", intent.Percent, qty)
		}
		o.Kind, o.Side, o.Qty = model.FillIncrease, model.SideBuy, qty
		o.RiskAmount = slPoints.Mul(decimal.NewFromInt(qty))

	case ReduceAbsolute:
		qty := min(intent.Qty, pos.CurrentQty)
		if qty <= 0 {
			return ConcreteOrder{}, invalid("qty", "nothing to reduce, %d shares held", pos.CurrentQty)
		}
		o.Kind, o.Side, o.Qty = model.FillReduce, model.SideSell, qty

	case ReduceByQtyPercent:
		held := decimal.NewFromInt(pos.CurrentQty)
		shares := intent.Percent.Div(hundred).Mul(held).Round(0)
		if shares.GreaterThan(held) {
			shares = held
		}
		qty := shares.IntPart()
		if qty <= 0 {
			return ConcreteOrder{}, invalid("percent", "%s%% of %d shares rounds to zero", intent.Percent, pos.CurrentQty)
		}
		o.Kind, o.Side, o.Qty = model.FillReduce, model.SideSell, qty

	case Exit:
		if pos.Symbol == "" {
			return ConcreteOrder{}, invalid("symbol", "exit requires a symbol")
		}
		o.Kind, o.Side, o.Qty = model.FillExit, model.SideSell, pos.CurrentQty

	case ModifyStopLossAbsolute:
		o.Kind, o.Price = model.FillStopLoss, intent.Price

	case ModifyStopLossByPercent:
		o.Kind = model.FillStopLoss
		o.Price = pos.EntryPrice.Sub(pos.EntryPrice.Mul(intent.Percent).Div(hundred))

	case ModifyTargetAbsolute:
		o.Kind, o.Price = model.FillTarget, intent.Price

	case ModifyTargetByPercent:
		o.Kind = model.FillTarget
		o.Price = pos.EntryPrice.Add(pos.EntryPrice.Mul(intent.Percent).Div(hundred))
	}
	if o.Kind == model.FillStopLoss || o.Kind == model.FillTarget {
		// levels protect the whole position by closing it
		o.Side, o.Qty = model.SideSell, pos.CurrentQty
	}
	return o, nil
}
