// Package engine is the position and risk session: it owns the ledger,
// merges tick batches into it, recomputes aggregates when something moved
// and routes sizing intents to the execution boundary.
//
// All ledger mutation happens through the engine. Tick batches are applied
// whole under the ledger lock; intents are serialized so each one is sized
// against the state left by the previous confirmation.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"trading-riskv1/internal/logger"
	"trading-riskv1/internal/model"
	"trading-riskv1/internal/portfolio"
	"trading-riskv1/internal/sizing"
)

// Executor is the execution boundary. Execute blocks until the order is
// confirmed or has failed; a nil error means the returned fill is final.
type Executor interface {
	Execute(ctx context.Context, order sizing.ConcreteOrder) (model.Fill, error)
}

// FillRecorder persists confirmed fills. Recording is best effort: a
// failure is logged and does not undo the ledger update.
type FillRecorder interface {
	RecordFill(ctx context.Context, f model.Fill) error
}

// ErrExecution wraps every failure reported by the executor.
var ErrExecution = errors.New("engine: execution failed")

// Update is published after every recompute.
type Update struct {
	Seq        uint64               `json:"seq"`
	Reason     string               `json:"reason"` // ticks, fill, open, restore
	Changed    []string             `json:"changed"`
	Aggregates portfolio.Aggregates `json:"aggregates"`
	At         time.Time            `json:"at"`
}

// Config holds engine settings.
type Config struct {
	Translator   sizing.Translator
	UpdateBuffer int // capacity of the Updates channel
}

// Engine is safe for concurrent use.
type Engine struct {
	ledger     *portfolio.Ledger
	quotes     *portfolio.QuoteBoard
	translator sizing.Translator
	exec       Executor
	recorder   FillRecorder

	submitMu sync.Mutex

	mu     sync.RWMutex
	latest portfolio.Aggregates
	seq    uint64

	updates chan Update
	now     func() time.Time

	// Optional hooks, set before Run.
	OnBatch         func(ticks, changed int)
	OnRecompute     func(d time.Duration)
	OnIntent        func(kind sizing.Kind, outcome string)
	OnFill          func(f model.Fill)
	OnDroppedUpdate func()
}

// New creates an engine around ledger. recorder and quotes may be nil.
func New(cfg Config, ledger *portfolio.Ledger, exec Executor, recorder FillRecorder, quotes *portfolio.QuoteBoard) *Engine {
	if cfg.Translator.StopDistancePct.IsZero() {
		cfg.Translator = sizing.NewTranslator(sizing.DefaultStopDistancePct)
	}
	if cfg.UpdateBuffer <= 0 {
		cfg.UpdateBuffer = 64
	}
	e := &Engine{
		ledger:     ledger,
		quotes:     quotes,
		translator: cfg.Translator,
		exec:       exec,
		recorder:   recorder,
		updates:    make(chan Update, cfg.UpdateBuffer),
		now:        time.Now,
	}
	e.latest = portfolio.Recompute(ledger.Snapshot())
	return e
}

// Updates returns the channel of published updates.
func (e *Engine) Updates() <-chan Update {
	return e.updates
}

// Run applies tick batches until ctx is cancelled or batches is closed.
func (e *Engine) Run(ctx context.Context, batches <-chan []model.Tick) {
	log.Printf("[engine] running with %d open positions", e.ledger.Len())
	for {
		select {
		case <-ctx.Done():
			return
		case batch, ok := <-batches:
			if !ok {
				return
			}
			e.Ingest(batch)
		}
	}
}

// Ingest reconciles one normalized batch into the ledger and recomputes
// aggregates when at least one position changed. It returns the changed
// tokens.
func (e *Engine) Ingest(batch []model.Tick) []string {
	changed := e.ledger.Reconcile(batch)
	if e.quotes != nil {
		e.quotes.Reconcile(batch)
	}
	if e.OnBatch != nil {
		e.OnBatch(len(batch), len(changed))
	}
	if len(changed) > 0 {
		e.recompute("ticks", changed)
	}
	return changed
}

// Open adds an externally opened position.
func (e *Engine) Open(p model.Position) error {
	if err := e.ledger.Open(p); err != nil {
		return err
	}
	e.recompute("open", []string{p.Token})
	return nil
}

// Submit sizes intent against the current ledger, sends the order to the
// executor and applies the resulting fill. The ledger is touched only after
// the executor confirms; on any error it is left unchanged.
func (e *Engine) Submit(ctx context.Context, intent sizing.Intent) (sizing.ConcreteOrder, error) {
	e.submitMu.Lock()
	defer e.submitMu.Unlock()

	if logger.TraceID(ctx) == "" {
		ctx = logger.WithTraceID(ctx, logger.GenerateTraceID(intent.Token, e.now()))
	}

	order, err := e.Translate(intent)
	if err != nil {
		e.intentOutcome(intent.Kind, "rejected")
		slog.Warn("intent rejected", append(logger.LogWithTrace(ctx),
			slog.String("token", intent.Token),
			slog.String("kind", string(intent.Kind)),
			slog.String("error", err.Error()))...)
		return sizing.ConcreteOrder{}, err
	}
	order.ID = uuid.NewString()

	slog.Info("order submitted", append(logger.LogWithTrace(ctx),
		slog.String("order_id", order.ID),
		slog.String("token", order.Token),
		slog.String("kind", string(order.Kind)),
		slog.Int64("qty", order.Qty),
		slog.String("price", order.Price.String()))...)

	fill, err := e.exec.Execute(ctx, order)
	if err != nil {
		e.intentOutcome(intent.Kind, "failed")
		slog.Error("execution failed, ledger unchanged", append(logger.LogWithTrace(ctx),
			slog.String("order_id", order.ID),
			slog.String("error", err.Error()))...)
		return order, fmt.Errorf("%w: %v", ErrExecution, err)
	}
	if fill.OrderID == "" {
		fill.OrderID = order.ID
	}
	if fill.FilledAt.IsZero() {
		fill.FilledAt = e.now()
	}

	if err := e.ApplyFill(ctx, fill); err != nil {
		e.intentOutcome(intent.Kind, "failed")
		return order, err
	}
	e.intentOutcome(intent.Kind, "filled")
	return order, nil
}

// Translate sizes intent against a ledger snapshot without executing it.
func (e *Engine) Translate(intent sizing.Intent) (sizing.ConcreteOrder, error) {
	snap := e.ledger.Snapshot()
	var pos *model.Position
	if p, ok := snap.Position(intent.Token); ok {
		pos = &p
	}
	return e.translator.Translate(intent, pos, snap.RiskPool)
}

// ApplyFill applies a confirmation from the execution boundary, records it
// and recomputes aggregates.
func (e *Engine) ApplyFill(ctx context.Context, f model.Fill) error {
	if err := e.ledger.ApplyFill(f); err != nil {
		slog.Error("fill rejected by ledger", append(logger.LogWithTrace(ctx),
			slog.String("order_id", f.OrderID),
			slog.String("error", err.Error()))...)
		return err
	}
	slog.Info("fill applied", append(logger.LogWithTrace(ctx),
		slog.String("order_id", f.OrderID),
		slog.String("token", f.Token),
		slog.String("kind", string(f.Kind)),
		slog.Int64("qty", f.Qty),
		slog.String("price", f.Price.String()))...)

	if e.OnFill != nil {
		e.OnFill(f)
	}
	if e.recorder != nil {
		if err := e.recorder.RecordFill(ctx, f); err != nil {
			slog.Warn("fill journal write failed", append(logger.LogWithTrace(ctx),
				slog.String("order_id", f.OrderID),
				slog.String("error", err.Error()))...)
		}
	}
	e.recompute("fill", []string{f.Token})
	return nil
}

// SetRiskPool replaces the risk pool as reported by the execution boundary.
func (e *Engine) SetRiskPool(pool model.RiskPool) error {
	if err := e.ledger.SetRiskPool(pool); err != nil {
		return err
	}
	e.recompute("risk_pool", nil)
	return nil
}

// Restore publishes the current state with reason "restore". Called once
// after a ledger is rebuilt from the journal or a seed.
func (e *Engine) Restore() {
	e.recompute("restore", e.ledger.Tokens())
}

// Aggregates returns the most recently computed aggregates.
func (e *Engine) Aggregates() portfolio.Aggregates {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.latest
}

// Positions returns a snapshot of the ledger.
func (e *Engine) Positions() portfolio.Snapshot {
	return e.ledger.Snapshot()
}

// Quotes returns the watch-list quotes, or nil when no board is attached.
func (e *Engine) Quotes() []portfolio.Quote {
	if e.quotes == nil {
		return nil
	}
	return e.quotes.Quotes()
}

func (e *Engine) recompute(reason string, changed []string) {
	start := e.now()
	agg := portfolio.Recompute(e.ledger.Snapshot())
	if e.OnRecompute != nil {
		e.OnRecompute(time.Since(start))
	}

	e.mu.Lock()
	// a slower recompute must not overwrite a newer one
	if agg.Version < e.latest.Version {
		e.mu.Unlock()
		return
	}
	e.latest = agg
	e.seq++
	u := Update{Seq: e.seq, Reason: reason, Changed: changed, Aggregates: agg, At: e.now()}
	defer e.mu.Unlock()

	select {
	case e.updates <- u:
	default:
		if e.OnDroppedUpdate != nil {
			e.OnDroppedUpdate()
		} else {
			log.Printf("[engine] update channel full, dropping update seq=%d", u.Seq)
		}
	}
}

func (e *Engine) intentOutcome(kind sizing.Kind, outcome string) {
	if e.OnIntent != nil {
		e.OnIntent(kind, outcome)
	}
}
