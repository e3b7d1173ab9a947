// Package execution implements the execution boundary: it sends sized
// orders to a broker, an order gateway or a paper simulator and reports
// back the confirmed fill.
//
// Every executor blocks until the order is final. A nil error means the
// returned fill may be applied to the ledger.
package execution

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrRejected is returned when the venue refused the order.
	ErrRejected = errors.New("execution: order rejected")
	// ErrTimeout is returned when the order did not reach a final state in time.
	ErrTimeout = errors.New("execution: order not confirmed in time")
)

// Mode selects an executor.
type Mode string

const (
	ModePaper   Mode = "paper"
	ModeBroker  Mode = "broker"
	ModeGateway Mode = "gateway"
)

// ParseMode returns the mode named by s. An empty s is paper.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return ModePaper, nil
	case ModePaper, ModeBroker, ModeGateway:
		return m, nil
	}
	return ModePaper, fmt.Errorf("execution: unknown mode %q", s)
}
