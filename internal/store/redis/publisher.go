// Package redis publishes the latest risk aggregates for out-of-process
// readers: a SET of the latest snapshot plus a PUBLISH per recompute.
package redis

import (
	"context"
	"fmt"
	"log"
	"time"

	goredis "github.com/go-redis/redis/v8"
)

const (
	DefaultLatestKey = "risk:aggregates:latest"
	DefaultChannel   = "pub:risk:aggregates"
	defaultLatestTTL = 24 * time.Hour
)

// Config configures the redis connection and key names.
type Config struct {
	Addr      string // e.g. "localhost:6379"
	Password  string
	DB        int
	LatestKey string
	Channel   string
}

func (c *Config) defaults() {
	if c.LatestKey == "" {
		c.LatestKey = DefaultLatestKey
	}
	if c.Channel == "" {
		c.Channel = DefaultChannel
	}
}

func dial(cfg Config) (*goredis.Client, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	log.Printf("[redis] connected to %s", cfg.Addr)
	return client, nil
}

// Publisher writes serialized aggregate updates.
type Publisher struct {
	client    *goredis.Client
	latestKey string
	channel   string
}

// New connects and pings the server.
func New(cfg Config) (*Publisher, error) {
	cfg.defaults()
	client, err := dial(cfg)
	if err != nil {
		return nil, err
	}
	return &Publisher{client: client, latestKey: cfg.LatestKey, channel: cfg.Channel}, nil
}

// Client returns the underlying client for health checks.
func (p *Publisher) Client() *goredis.Client { return p.client }

// Publish stores payload as the latest snapshot and announces it on the
// channel in one pipeline round trip.
func (p *Publisher) Publish(ctx context.Context, payload []byte) error {
	data := string(payload)
	pipe := p.client.Pipeline()
	pipe.Set(ctx, p.latestKey, data, defaultLatestTTL)
	pipe.Publish(ctx, p.channel, data)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis publish pipeline: %w", err)
	}
	return nil
}

// Close closes the client.
func (p *Publisher) Close() error {
	return p.client.Close()
}
