package model

import (
	"errors"

	"github.com/shopspring/decimal"
)

// RiskPool is the trader's risk budget split into unallocated and
// committed parts.
type RiskPool struct {
	AvailableRisk decimal.Decimal `json:"available_risk"`
	UsedRisk      decimal.Decimal `json:"used_risk"`
}

var ErrNegativeRisk = errors.New("risk pool: negative component")

// Total returns available_risk + used_risk.
func (r RiskPool) Total() decimal.Decimal {
	return r.AvailableRisk.Add(r.UsedRisk)
}

// Validate rejects negative components.
func (r RiskPool) Validate() error {
	if r.AvailableRisk.IsNegative() || r.UsedRisk.IsNegative() {
		return ErrNegativeRisk
	}
	return nil
}

// Allocate moves up to amount from available to used and returns the
// amount actually moved.
func (r *RiskPool) Allocate(amount decimal.Decimal) decimal.Decimal {
	if !amount.IsPositive() {
		return decimal.Zero
	}
	moved := decimal.Min(amount, r.AvailableRisk)
	r.AvailableRisk = r.AvailableRisk.Sub(moved)
	r.UsedRisk = r.UsedRisk.Add(moved)
	return moved
}

// Release moves up to amount from used back to available and returns the
// amount actually moved.
func (r *RiskPool) Release(amount decimal.Decimal) decimal.Decimal {
	if !amount.IsPositive() {
		return decimal.Zero
	}
	moved := decimal.Min(amount, r.UsedRisk)
	r.UsedRisk = r.UsedRisk.Sub(moved)
	r.AvailableRisk = r.AvailableRisk.Add(moved)
	return moved
}
