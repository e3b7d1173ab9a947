// Package sizing translates sizing intents into concrete order parameters.
//
// Everything here is pure computation over a position and the risk pool:
// nothing is sent, nothing is mutated, and the same inputs always produce
// the same order.
package sizing

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Kind identifies an intent variant.
type Kind string

const (
	IncreaseAbsolute          Kind = "INCREASE_ABSOLUTE"
	IncreaseByRiskPoolPercent Kind = "INCREASE_RISK_PERCENT"
	ReduceAbsolute            Kind = "REDUCE_ABSOLUTE"
	ReduceByQtyPercent        Kind = "REDUCE_QTY_PERCENT"
	Exit                      Kind = "EXIT"
	ModifyStopLossAbsolute    Kind = "STOP_LOSS_ABSOLUTE"
	ModifyStopLossByPercent   Kind = "STOP_LOSS_PERCENT"
	ModifyTargetAbsolute      Kind = "TARGET_ABSOLUTE"
	ModifyTargetByPercent     Kind = "TARGET_PERCENT"
)

// Kinds lists every intent kind in a stable order.
var Kinds = []Kind{
	IncreaseAbsolute, IncreaseByRiskPoolPercent,
	ReduceAbsolute, ReduceByQtyPercent, Exit,
	ModifyStopLossAbsolute, ModifyStopLossByPercent,
	ModifyTargetAbsolute, ModifyTargetByPercent,
}

// IsPercent reports whether the kind carries a percent.
func (k Kind) IsPercent() bool {
	switch k {
	case IncreaseByRiskPoolPercent, ReduceByQtyPercent, ModifyStopLossByPercent, ModifyTargetByPercent:
		return true
	}
	return false
}

// IsQuantity reports whether the kind carries an absolute quantity.
func (k Kind) IsQuantity() bool {
	return k == IncreaseAbsolute || k == ReduceAbsolute
}

// IsPrice reports whether the kind carries an absolute price.
func (k Kind) IsPrice() bool {
	return k == ModifyStopLossAbsolute || k == ModifyTargetAbsolute
}

func (k Kind) valid() bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}

var (
	ErrDivisionByZero  = errors.New("sizing: division by zero (degenerate stop distance)")
	ErrMissingPosition = errors.New("sizing: position not found")
)

// ValidationError reports bad intent input. It is returned before any
// computation takes place.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("sizing: invalid %s: %s", e.Field, e.Reason)
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// Intent is a user request to change a position's size or levels. Only
// the field matching Kind is meaningful: Qty for absolute quantity kinds,
// Price for absolute price kinds, Percent for percent kinds. Exit uses none.
type Intent struct {
	Kind    Kind            `json:"kind"`
	Token   string          `json:"token"`
	Qty     int64           `json:"qty,omitempty"`
	Percent decimal.Decimal `json:"percent"`
	Price   decimal.Decimal `json:"price"`
}

// Validate checks the intent's payload without looking at any position.
func (in Intent) Validate() error {
	if !in.Kind.valid() {
		return invalid("kind", "unknown intent kind %q", in.Kind)
	}
	switch {
	case in.Kind.IsQuantity():
		if in.Qty <= 0 {
			return invalid("qty", "must be positive, got %d", in.Qty)
		}
	case in.Kind.IsPrice():
		if in.Price.IsZero() {
			return invalid("price", "required")
		}
		if in.Price.IsNegative() {
			return invalid("price", "must be positive, got %s", in.Price)
		}
	case in.Kind == ModifyTargetByPercent:
		// sign picks the side of entry; only zero is meaningless
		if in.Percent.IsZero() {
			return invalid("percent", "must be non-zero")
		}
	case in.Kind.IsPercent():
		if !in.Percent.IsPositive() {
			return invalid("percent", "must be greater than zero, got %s", in.Percent)
		}
	}
	return nil
}

// ParseIntent builds an intent from loosely typed input such as a form
// field or a CLI argument. kind is matched case-insensitively. value is
// ignored for Exit.
func ParseIntent(token, kind, value string) (Intent, error) {
	in := Intent{Kind: Kind(strings.ToUpper(strings.TrimSpace(kind))), Token: token}
	if !in.Kind.valid() {
		return Intent{}, invalid("kind", "unknown intent kind %q", kind)
	}
	value = strings.TrimSpace(value)

	switch {
	case in.Kind.IsQuantity():
		q, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return Intent{}, invalid("qty", "not a whole number: %q", value)
		}
		in.Qty = q
	case in.Kind.IsPrice():
		p, err := decimal.NewFromString(value)
		if err != nil {
			return Intent{}, invalid("price", "not numeric: %q", value)
		}
		in.Price = p
	case in.Kind.IsPercent():
		p, err := decimal.NewFromString(strings.TrimSuffix(value, "%"))
		if err != nil {
			return Intent{}, invalid("percent", "not numeric: %q", value)
		}
		in.Percent = p
	}

	if err := in.Validate(); err != nil {
		return Intent{}, err
	}
	return in, nil
}
