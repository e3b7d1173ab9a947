// Package batcher coalesces a high-frequency tick stream into normalized
// batches so reconciliation runs at a bounded rate regardless of feed rate.
package batcher

import (
	"context"
	"log"
	"time"

	"trading-riskv1/internal/marketdata/normalize"
	"trading-riskv1/internal/model"
)

// DefaultWindow is the coalescing window used when none is configured.
const DefaultWindow = 250 * time.Millisecond

// Batcher collects ticks for one window and emits them as a single
// deduplicated batch. It runs in a single goroutine.
type Batcher struct {
	window  time.Duration
	pending []model.Tick

	// Metrics hooks (optional, set externally)
	OnBatch         func(raw, normalized int)
	OnDeferredBatch func()
}

// New creates a Batcher. A non-positive window falls back to DefaultWindow.
func New(window time.Duration) *Batcher {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Batcher{
		window:  window,
		pending: make([]model.Tick, 0, 256),
	}
}

// Window returns the coalescing window.
func (b *Batcher) Window() time.Duration { return b.window }

// Run consumes ticks from tickCh and sends a normalized batch to batchCh at
// most once per window. Pending ticks are flushed when ctx is cancelled or
// tickCh is closed. Blocks until then.
func (b *Batcher) Run(ctx context.Context, tickCh <-chan model.Tick, batchCh chan<- []model.Tick) {
	ticker := time.NewTicker(b.window)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			b.flush(batchCh)
			return

		case tick, ok := <-tickCh:
			if !ok {
				b.flush(batchCh)
				return
			}
			b.pending = append(b.pending, tick)

		case <-ticker.C:
			b.flush(batchCh)
		}
	}
}

// flush emits the pending ticks. Non-blocking: when batchCh is full the
// normalized batch stays pending and is coalesced with the next window, so
// a token that stops ticking still delivers its last price.
func (b *Batcher) flush(batchCh chan<- []model.Tick) {
	if len(b.pending) == 0 {
		return
	}
	raw := len(b.pending)
	batch := normalize.Normalize(b.pending)

	select {
	case batchCh <- batch:
		b.pending = b.pending[:0]
		if b.OnBatch != nil {
			b.OnBatch(raw, len(batch))
		}
	default:
		b.pending = append(b.pending[:0], batch...)
		if b.OnDeferredBatch != nil {
			b.OnDeferredBatch()
		} else {
			log.Printf("[batcher] batchCh full, holding %d ticks for the next window", len(batch))
		}
	}
}
