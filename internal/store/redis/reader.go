package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	goredis "github.com/go-redis/redis/v8"

	"trading-riskv1/internal/engine"
)

// ErrNoSnapshot is returned by Latest when nothing has been published.
var ErrNoSnapshot = errors.New("redis: no aggregates snapshot")

// Reader reads what a Publisher wrote.
type Reader struct {
	client    *goredis.Client
	latestKey string
	channel   string
}

// NewReader connects and pings the server.
func NewReader(cfg Config) (*Reader, error) {
	cfg.defaults()
	client, err := dial(cfg)
	if err != nil {
		return nil, err
	}
	return &Reader{client: client, latestKey: cfg.LatestKey, channel: cfg.Channel}, nil
}

// Latest returns the last published update.
func (r *Reader) Latest(ctx context.Context) (engine.Update, error) {
	var u engine.Update
	data, err := r.client.Get(ctx, r.latestKey).Bytes()
	if err != nil {
		if err == goredis.Nil {
			return u, ErrNoSnapshot
		}
		return u, fmt.Errorf("redis GET %s: %w", r.latestKey, err)
	}
	if err := json.Unmarshal(data, &u); err != nil {
		return u, fmt.Errorf("decode snapshot: %w", err)
	}
	return u, nil
}

// Watch calls fn for every update published on the channel until ctx is
// done. Undecodable messages are logged and skipped.
func (r *Reader) Watch(ctx context.Context, fn func(engine.Update)) error {
	pubsub := r.client.Subscribe(ctx, r.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("redis subscribe %s: %w", r.channel, err)
	}

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var u engine.Update
			if err := json.Unmarshal([]byte(msg.Payload), &u); err != nil {
				log.Printf("[redis] bad message on %s: %v", r.channel, err)
				continue
			}
			fn(u)
		}
	}
}

// Close closes the client.
func (r *Reader) Close() error {
	return r.client.Close()
}
