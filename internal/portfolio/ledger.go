// Package portfolio holds the position ledger and the pure calculations
// derived from it.
//
// The Ledger is the single source of truth for quantities, entry prices,
// stop-loss/target levels, booked P&L and the risk pool. Every mutation goes
// through its lock; readers work on Snapshots, which never alias ledger state.
package portfolio

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"trading-riskv1/internal/model"
)

var (
	ErrPositionExists  = errors.New("portfolio: position already open")
	ErrUnknownPosition = errors.New("portfolio: unknown position")
	ErrInvalidFill     = errors.New("portfolio: invalid fill")
)

// Snapshot is an immutable copy of ledger state taken under the ledger lock.
type Snapshot struct {
	Positions []model.Position `json:"positions"` // sorted by token
	RiskPool  model.RiskPool   `json:"risk_pool"`
	Version   uint64           `json:"version"`
}

// Position returns the snapshot copy of the position for token.
func (s Snapshot) Position(token string) (model.Position, bool) {
	i := sort.Search(len(s.Positions), func(i int) bool { return s.Positions[i].Token >= token })
	if i < len(s.Positions) && s.Positions[i].Token == token {
		return s.Positions[i], true
	}
	return model.Position{}, false
}

// Ledger maps instrument tokens to open positions and owns the risk pool.
type Ledger struct {
	mu        sync.RWMutex
	positions map[string]*model.Position
	pool      model.RiskPool
	version   uint64
}

// NewLedger creates an empty ledger with the given risk pool.
func NewLedger(pool model.RiskPool) (*Ledger, error) {
	if err := pool.Validate(); err != nil {
		return nil, err
	}
	return &Ledger{
		positions: make(map[string]*model.Position),
		pool:      pool,
	}, nil
}

// Open adds a position opened outside the engine.
func (l *Ledger) Open(p model.Position) error {
	if err := p.Validate(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.positions[p.Token]; ok {
		return fmt.Errorf("%w: %s", ErrPositionExists, p.Token)
	}
	l.positions[p.Token] = p.Clone()
	l.version++
	return nil
}

// Get returns a copy of the position for token.
func (l *Ledger) Get(token string) (model.Position, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	p, ok := l.positions[token]
	if !ok {
		return model.Position{}, false
	}
	return *p, true
}

// Len returns the number of open positions.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.positions)
}

// Tokens returns the tokens of all open positions, sorted.
func (l *Ledger) Tokens() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]string, 0, len(l.positions))
	for token := range l.positions {
		out = append(out, token)
	}
	sort.Strings(out)
	return out
}

// RiskPool returns the current risk pool.
func (l *Ledger) RiskPool() model.RiskPool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.pool
}

// SetRiskPool replaces the risk pool. Used when the execution boundary
// reports a new budget (and on restore).
func (l *Ledger) SetRiskPool(pool model.RiskPool) error {
	if err := pool.Validate(); err != nil {
		return err
	}
	l.mu.Lock()
	l.pool = pool
	l.version++
	l.mu.Unlock()
	return nil
}

// Snapshot copies the full ledger state.
func (l *Ledger) Snapshot() Snapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := Snapshot{
		Positions: make([]model.Position, 0, len(l.positions)),
		RiskPool:  l.pool,
		Version:   l.version,
	}
	for _, p := range l.positions {
		out.Positions = append(out.Positions, *p)
	}
	sort.Slice(out.Positions, func(i, j int) bool {
		return out.Positions[i].Token < out.Positions[j].Token
	})
	return out
}

// Reconcile merges a tick batch into the ledger and returns the tokens
// whose last_price changed. The whole batch is applied under one lock so
// snapshots never observe a half-applied batch. The version advances on
// any stored change, a change-only tick included.
func (l *Ledger) Reconcile(batch []model.Tick) []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	changed, moved := reconcile(l.positions, batch)
	if moved {
		l.version++
	}
	return changed
}

// Remove deletes a position without booking anything.
func (l *Ledger) Remove(token string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.positions[token]; !ok {
		return false
	}
	delete(l.positions, token)
	l.version++
	return true
}

// ApplyFill mutates the ledger to reflect a confirmed execution. Nothing is
// changed when an error is returned.
func (l *Ledger) ApplyFill(f model.Fill) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	p, ok := l.positions[f.Token]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPosition, f.Token)
	}

	switch f.Kind {
	case model.FillIncrease:
		if f.Qty <= 0 || !f.Price.IsPositive() {
			return fmt.Errorf("%w: increase qty=%d price=%s", ErrInvalidFill, f.Qty, f.Price)
		}
		total := p.CurrentQty + f.Qty
		// Weighted average entry
		cost := p.EntryPrice.Mul(decimal.NewFromInt(p.CurrentQty)).Add(f.Price.Mul(decimal.NewFromInt(f.Qty)))
		p.EntryPrice = cost.Div(decimal.NewFromInt(total))
		p.CurrentQty = total
		p.RiskAllocated = p.RiskAllocated.Add(l.pool.Allocate(f.RiskAmount))

	case model.FillReduce, model.FillExit:
		if f.Kind == model.FillReduce && f.Qty <= 0 {
			return fmt.Errorf("%w: reduce qty=%d", ErrInvalidFill, f.Qty)
		}
		closed := f.Qty
		if f.Kind == model.FillExit || closed > p.CurrentQty {
			closed = p.CurrentQty
		}
		if closed > 0 {
			p.BookedPnL = p.BookedPnL.Add(f.Price.Sub(p.EntryPrice).Mul(decimal.NewFromInt(closed)))
			share := p.RiskAllocated.Mul(decimal.NewFromInt(closed)).Div(decimal.NewFromInt(p.CurrentQty))
			p.RiskAllocated = p.RiskAllocated.Sub(l.pool.Release(share))
			p.CurrentQty -= closed
		}
		if p.CurrentQty == 0 {
			// Fully exited: whatever is still allocated goes back to the pool.
			l.pool.Release(p.RiskAllocated)
			delete(l.positions, p.Token)
		}

	case model.FillStopLoss:
		if f.Price.IsNegative() {
			return fmt.Errorf("%w: stop-loss %s", ErrInvalidFill, f.Price)
		}
		p.StopLoss = f.Price

	case model.FillTarget:
		if f.Price.IsNegative() {
			return fmt.Errorf("%w: target %s", ErrInvalidFill, f.Price)
		}
		p.Target = f.Price

	default:
		return fmt.Errorf("%w: kind %q", ErrInvalidFill, f.Kind)
	}

	l.version++
	return nil
}
