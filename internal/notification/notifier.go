// Package notification delivers position alerts (stop loss breached,
// target reached, automatic exits) to external channels.
package notification

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"time"
)

// AlertLevel is the severity of an alert.
type AlertLevel string

const (
	AlertInfo     AlertLevel = "INFO"
	AlertWarning  AlertLevel = "WARNING"
	AlertCritical AlertLevel = "CRITICAL"
)

// Alert is a notification about one position.
type Alert struct {
	Level   AlertLevel `json:"level"`
	Kind    string     `json:"kind"` // stop_loss_breached, target_reached, auto_exit, auto_exit_failed
	Token   string     `json:"token,omitempty"`
	Symbol  string     `json:"symbol,omitempty"`
	Title   string     `json:"title"`
	Message string     `json:"message"`
	At      time.Time  `json:"at"`
}

// Notifier is implemented by every delivery backend.
type Notifier interface {
	Send(ctx context.Context, alert Alert) error
}

// LogNotifier writes alerts to the structured log.
type LogNotifier struct{}

func NewLogNotifier() *LogNotifier { return &LogNotifier{} }

func (n *LogNotifier) Send(_ context.Context, a Alert) error {
	level := slog.LevelInfo
	switch a.Level {
	case AlertWarning:
		level = slog.LevelWarn
	case AlertCritical:
		level = slog.LevelError
	}
	slog.Log(context.Background(), level, a.Title,
		slog.String("kind", a.Kind),
		slog.String("token", a.Token),
		slog.String("symbol", a.Symbol),
		slog.String("message", a.Message))
	return nil
}

// Multi sends every alert to all of its notifiers and joins their errors.
type Multi []Notifier

func (m Multi) Send(ctx context.Context, a Alert) error {
	var errs []error
	for _, n := range m {
		if err := n.Send(ctx, a); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Dispatcher queues alerts and delivers them off the caller's goroutine.
type Dispatcher struct {
	notifier Notifier
	queue    chan Alert
	timeout  time.Duration

	// Optional hooks.
	OnSent    func(a Alert)
	OnDropped func(a Alert)
}

// NewDispatcher creates a dispatcher with a queue of size buf.
func NewDispatcher(n Notifier, buf int) *Dispatcher {
	if buf <= 0 {
		buf = 64
	}
	return &Dispatcher{notifier: n, queue: make(chan Alert, buf), timeout: 10 * time.Second}
}

// Notify enqueues a without blocking. The alert is dropped when the queue
// is full.
func (d *Dispatcher) Notify(a Alert) {
	if a.At.IsZero() {
		a.At = time.Now()
	}
	select {
	case d.queue <- a:
	default:
		log.Printf("[notify] queue full, dropping alert %q", a.Title)
		if d.OnDropped != nil {
			d.OnDropped(a)
		}
	}
}

// Run delivers queued alerts until ctx is done.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case a := <-d.queue:
			sendCtx, cancel := context.WithTimeout(ctx, d.timeout)
			err := d.notifier.Send(sendCtx, a)
			cancel()
			if err != nil {
				log.Printf("[notify] delivery failed for %q: %v", a.Title, err)
				continue
			}
			if d.OnSent != nil {
				d.OnSent(a)
			}
		}
	}
}
