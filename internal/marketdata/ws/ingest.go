// Package ws streams ticks from the SmartAPI market feed.
package ws

import (
	"context"
	"fmt"
	"log"
	"time"

	"trading-riskv1/internal/marketdata/normalize"
	"trading-riskv1/internal/model"
	smartconnect "trading-riskv1/pkg/smartconnect"
)

// IngestConfig holds configuration for the feed ingest.
type IngestConfig struct {
	Feed smartconnect.FeedConfig

	// Tokens to subscribe, grouped by exchange type. QUOTE mode is used by
	// default so the previous close is available for the change field.
	SubscribeMode int
	TokenList     []smartconnect.TokenListEntry

	ReconnectDelay    time.Duration // default 2s
	MaxReconnectDelay time.Duration // default 30s
}

// Ingest connects to the market feed and pushes normalized ticks into a
// channel, reconnecting with exponential backoff.
type Ingest struct {
	cfg IngestConfig

	// Optional hooks
	OnReconnect   func()
	OnConnected   func(connected bool)
	OnDroppedTick func()
}

// New creates a new Ingest instance.
func New(cfg IngestConfig) (*Ingest, error) {
	if len(cfg.TokenList) == 0 {
		return nil, fmt.Errorf("ws ingest: no tokens to subscribe")
	}
	if cfg.SubscribeMode == 0 {
		cfg.SubscribeMode = smartconnect.ModeQuote
	}
	if cfg.ReconnectDelay == 0 {
		cfg.ReconnectDelay = 2 * time.Second
	}
	if cfg.MaxReconnectDelay == 0 {
		cfg.MaxReconnectDelay = 30 * time.Second
	}
	return &Ingest{cfg: cfg}, nil
}

// Start streams ticks into tickCh until ctx is cancelled.
func (ing *Ingest) Start(ctx context.Context, tickCh chan<- model.Tick) error {
	delay := ing.cfg.ReconnectDelay
	for {
		err := ing.runOnce(ctx, tickCh)
		if ctx.Err() != nil {
			return nil
		}
		if ing.OnConnected != nil {
			ing.OnConnected(false)
		}
		log.Printf("[ws] disconnected (%v), reconnecting in %s...", err, delay)
		if ing.OnReconnect != nil {
			ing.OnReconnect()
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
		delay *= 2
		if delay > ing.cfg.MaxReconnectDelay {
			delay = ing.cfg.MaxReconnectDelay
		}
	}
}

func (ing *Ingest) runOnce(ctx context.Context, tickCh chan<- model.Tick) error {
	feed, err := smartconnect.DialFeed(ctx, ing.cfg.Feed)
	if err != nil {
		return err
	}
	if err := feed.Subscribe("risk_ingest", ing.cfg.SubscribeMode, ing.cfg.TokenList); err != nil {
		feed.Close()
		return fmt.Errorf("subscribe: %w", err)
	}
	log.Printf("[ws] connected, subscribed mode=%d tokens=%+v", ing.cfg.SubscribeMode, ing.cfg.TokenList)
	if ing.OnConnected != nil {
		ing.OnConnected(true)
	}

	return feed.Run(ctx, func(msg map[string]any) {
		tick, err := normalize.FromFeed(msg)
		if err != nil {
			log.Printf("[ws] parse error: %v", err)
			return
		}
		select {
		case tickCh <- tick:
		default:
			if ing.OnDroppedTick != nil {
				ing.OnDroppedTick()
			} else {
				log.Println("[ws] tickCh full, dropping tick")
			}
		}
	})
}
