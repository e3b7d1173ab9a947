package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"trading-riskv1/internal/logger"
	"trading-riskv1/internal/notification"
	"trading-riskv1/internal/portfolio"
	"trading-riskv1/internal/sizing"
)

// Alerter receives level alerts. *notification.Dispatcher implements it.
type Alerter interface {
	Notify(a notification.Alert)
}

type firedLevels struct {
	stop   decimal.Decimal // stop level that fired, zero when armed
	target decimal.Decimal
}

// LevelWatcher checks every update for positions trading through their
// stop loss or target. A breached stop on an auto-exit position submits
// an exit; everything else raises an alert. Each level fires once until
// the price moves back across it or the level is modified.
type LevelWatcher struct {
	engine *Engine
	alerts Alerter
	fired  map[string]*firedLevels
}

// NewLevelWatcher creates a watcher. alerts may be nil.
func NewLevelWatcher(e *Engine, alerts Alerter) *LevelWatcher {
	return &LevelWatcher{engine: e, alerts: alerts, fired: make(map[string]*firedLevels)}
}

// Run checks updates until ctx is done or updates is closed.
func (w *LevelWatcher) Run(ctx context.Context, updates <-chan Update) {
	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-updates:
			if !ok {
				return
			}
			w.Check(ctx, u.Aggregates)
		}
	}
}

// Check evaluates one aggregates snapshot. It is not safe for concurrent use.
func (w *LevelWatcher) Check(ctx context.Context, agg portfolio.Aggregates) {
	seen := make(map[string]bool, len(agg.Positions))
	for _, m := range agg.Positions {
		seen[m.Token] = true
		f := w.fired[m.Token]
		if f == nil {
			f = &firedLevels{}
			w.fired[m.Token] = f
		}
		w.checkStop(ctx, m, f)
		w.checkTarget(m, f)
	}
	for token := range w.fired {
		if !seen[token] {
			delete(w.fired, token)
		}
	}
}

func (w *LevelWatcher) checkStop(ctx context.Context, m portfolio.PositionMetrics, f *firedLevels) {
	if !m.StopLoss.IsPositive() {
		f.stop = decimal.Zero
		return
	}
	breached := m.LastPrice.LessThanOrEqual(m.StopLoss)
	if !breached || !f.stop.Equal(m.StopLoss) {
		f.stop = decimal.Zero
	}
	if !breached || !f.stop.IsZero() {
		return
	}
	f.stop = m.StopLoss

	if !m.AutoExit {
		w.alert(notification.Alert{
			Level: notification.AlertWarning, Kind: "stop_loss_breached",
			Token: m.Token, Symbol: m.Symbol,
			Title:   "Stop loss breached",
			Message: fmt.Sprintf("%s last %s at or below stop %s, qty %d", m.Symbol, m.LastPrice, m.StopLoss, m.Qty),
		})
		return
	}

	ctx = logger.WithTraceID(ctx, logger.GenerateTraceID(m.Token, w.engine.now()))
	slog.Warn("stop loss breached, exiting", append(logger.LogWithTrace(ctx),
		slog.String("token", m.Token),
		slog.String("last_price", m.LastPrice.String()),
		slog.String("stop_loss", m.StopLoss.String()))...)

	order, err := w.engine.Submit(ctx, sizing.Intent{Kind: sizing.Exit, Token: m.Token})
	if err != nil {
		w.alert(notification.Alert{
			Level: notification.AlertCritical, Kind: "auto_exit_failed",
			Token: m.Token, Symbol: m.Symbol,
			Title:   "Auto exit failed",
			Message: fmt.Sprintf("%s stop %s breached at %s: %v", m.Symbol, m.StopLoss, m.LastPrice, err),
		})
		return
	}
	w.alert(notification.Alert{
		Level: notification.AlertCritical, Kind: "auto_exit",
		Token: m.Token, Symbol: m.Symbol,
		Title:   "Auto exit",
		Message: fmt.Sprintf("%s exited %d at stop %s (order %s)", m.Symbol, m.Qty, m.StopLoss, order.ID),
	})
}

func (w *LevelWatcher) checkTarget(m portfolio.PositionMetrics, f *firedLevels) {
	if !m.Target.IsPositive() {
		f.target = decimal.Zero
		return
	}
	reached := m.LastPrice.GreaterThanOrEqual(m.Target)
	if !reached || !f.target.Equal(m.Target) {
		f.target = decimal.Zero
	}
	if !reached || !f.target.IsZero() {
		return
	}
	f.target = m.Target
	w.alert(notification.Alert{
		Level: notification.AlertInfo, Kind: "target_reached",
		Token: m.Token, Symbol: m.Symbol,
		Title:   "Target reached",
		Message: fmt.Sprintf("%s last %s at or above target %s, pnl %s", m.Symbol, m.LastPrice, m.Target, m.PnL),
	})
}

func (w *LevelWatcher) alert(a notification.Alert) {
	if w.alerts == nil {
		notification.NewLogNotifier().Send(context.Background(), a)
		return
	}
	w.alerts.Notify(a)
}
