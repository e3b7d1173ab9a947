package redis

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"trading-riskv1/internal/engine"
)

// Sink is where serialized updates go. *Publisher implements it.
type Sink interface {
	Publish(ctx context.Context, payload []byte) error
}

// BufferedPublisher sends updates to a Sink through a Breaker. Updates that
// are rejected by the open breaker or that fail are kept in a bounded
// buffer and replayed once the breaker closes. Replayed updates may arrive
// after newer ones; readers order by seq.
type BufferedPublisher struct {
	sink    Sink
	breaker *Breaker
	timeout time.Duration

	mu      sync.Mutex
	pending [][]byte
	maxBuf  int

	// Optional hooks.
	OnBuffer func()
	OnFlush  func(count int)
}

// NewBufferedPublisher wraps sink. maxBuffer <= 0 means 1000.
func NewBufferedPublisher(sink Sink, breaker *Breaker, maxBuffer int) *BufferedPublisher {
	if maxBuffer <= 0 {
		maxBuffer = 1000
	}
	bp := &BufferedPublisher{
		sink:    sink,
		breaker: breaker,
		timeout: 2 * time.Second,
		maxBuf:  maxBuffer,
	}

	prev := breaker.OnStateChange
	breaker.OnStateChange = func(from, to State) {
		if prev != nil {
			prev(from, to)
		}
		if to == StateClosed {
			go bp.flush()
		}
	}
	return bp
}

// Run publishes every update from in until ctx is done or in is closed.
func (bp *BufferedPublisher) Run(ctx context.Context, in <-chan engine.Update) {
	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-in:
			if !ok {
				return
			}
			if err := bp.Publish(ctx, u); err != nil {
				log.Printf("[redis] publish seq=%d: %v", u.Seq, err)
			}
		}
	}
}

// Publish serializes u and sends it. Only a marshal failure is returned;
// send failures are buffered.
func (bp *BufferedPublisher) Publish(ctx context.Context, u engine.Update) error {
	payload, err := json.Marshal(u)
	if err != nil {
		return err
	}

	err = bp.breaker.Do(func() error {
		sendCtx, cancel := context.WithTimeout(ctx, bp.timeout)
		defer cancel()
		return bp.sink.Publish(sendCtx, payload)
	})
	if err != nil {
		if !errors.Is(err, ErrCircuitOpen) {
			log.Printf("[redis] publish failed, buffering: %v", err)
		}
		bp.buffer(payload)
	}
	return nil
}

func (bp *BufferedPublisher) buffer(payload []byte) {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	if len(bp.pending) >= bp.maxBuf {
		bp.pending = bp.pending[1:]
	}
	bp.pending = append(bp.pending, payload)
	if bp.OnBuffer != nil {
		bp.OnBuffer()
	}
}

// flush replays buffered payloads oldest first. On the first failure the
// rest are put back in front of anything buffered meanwhile.
func (bp *BufferedPublisher) flush() {
	bp.mu.Lock()
	toFlush := bp.pending
	bp.pending = nil
	bp.mu.Unlock()

	if len(toFlush) == 0 {
		return
	}

	sent := 0
	for i, payload := range toFlush {
		ctx, cancel := context.WithTimeout(context.Background(), bp.timeout)
		err := bp.sink.Publish(ctx, payload)
		cancel()
		if err != nil {
			log.Printf("[redis] flush stopped after %d of %d: %v", sent, len(toFlush), err)
			bp.requeue(toFlush[i:])
			break
		}
		sent++
	}

	if sent > 0 {
		log.Printf("[redis] flushed %d buffered updates", sent)
		if bp.OnFlush != nil {
			bp.OnFlush(sent)
		}
	}
}

func (bp *BufferedPublisher) requeue(rest [][]byte) {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	merged := append(append([][]byte{}, rest...), bp.pending...)
	if over := len(merged) - bp.maxBuf; over > 0 {
		merged = merged[over:]
	}
	bp.pending = merged
}

// PendingCount returns the number of buffered updates.
func (bp *BufferedPublisher) PendingCount() int {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	return len(bp.pending)
}
