package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/pquerna/otp/totp"

	"trading-riskv1/config"
	"trading-riskv1/internal/marketdata/ws"
	"trading-riskv1/internal/marketdata/wssim"
	"trading-riskv1/internal/markethours"
	"trading-riskv1/internal/metrics"
	"trading-riskv1/internal/model"
	smartconnect "trading-riskv1/pkg/smartconnect"
)

const loginRetryDelay = 30 * time.Second

// login generates a fresh TOTP and opens a SmartAPI session on sc.
func login(ctx context.Context, cfg *config.Config, sc *smartconnect.SmartConnect) (smartconnect.Session, error) {
	if sc == nil {
		return smartconnect.Session{}, errors.New("no broker client configured")
	}
	code, err := totp.GenerateCode(cfg.AngelTOTPSecret, time.Now())
	if err != nil {
		return smartconnect.Session{}, fmt.Errorf("totp: %w", err)
	}
	sess, err := sc.GenerateSession(ctx, cfg.AngelClientCode, cfg.AngelPassword, code)
	if err != nil {
		return smartconnect.Session{}, err
	}
	if sess.FeedToken == "" {
		return smartconnect.Session{}, errors.New("login: empty feed token")
	}
	return sess, nil
}

// feedRunner streams ticks into the pipeline.
type feedRunner struct {
	cfg       *config.Config
	cal       *markethours.Calendar
	sc        *smartconnect.SmartConnect
	tokenList []smartconnect.TokenListEntry
	prom      *metrics.Metrics
	health    *metrics.HealthStatus
}

func (f feedRunner) connected(v bool) {
	f.health.SetWSConnected(v)
	if v {
		f.prom.WSConnected.Set(1)
	} else {
		f.prom.WSConnected.Set(0)
	}
}

// runSim reads the tickserver feed until ctx is done.
func (f feedRunner) runSim(ctx context.Context, tickCh chan<- model.Tick) error {
	log.Printf("[riskengine] staging tick source: %s", f.cfg.SimWSURL)
	ingest, err := wssim.New(wssim.Config{URL: f.cfg.SimWSURL})
	if err != nil {
		return fmt.Errorf("wssim init: %w", err)
	}
	ingest.OnReconnect = f.prom.WSReconnects.Inc
	ingest.OnConnected = f.connected
	ingest.OnDroppedTick = f.prom.DroppedTicks.Inc
	return ingest.Start(ctx, tickCh)
}

// runLive connects to the broker feed for each trading session. Outside
// market hours it sleeps until the next open; each session starts with a
// fresh login and ends at the close.
func (f feedRunner) runLive(ctx context.Context, tickCh chan<- model.Tick) error {
	for {
		now := time.Now()
		if !f.cal.IsOpen(now) {
			next := f.cal.NextOpen(now)
			log.Printf("[riskengine] market closed. %s", f.cal.Status(now))
			f.connected(false)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(next.Sub(now)):
			}
		}

		log.Println("[riskengine] market open, generating fresh session...")
		sess, err := login(ctx, f.cfg, f.sc)
		if err != nil {
			log.Printf("[riskengine] login failed: %v, retrying in %s", err, loginRetryDelay)
			if !sleep(ctx, loginRetryDelay) {
				return nil
			}
			continue
		}

		closeTime := f.cal.Close(time.Now())
		wsCtx, wsCancel := context.WithDeadline(ctx, closeTime)
		ingest, err := ws.New(ws.IngestConfig{
			Feed: smartconnect.FeedConfig{
				AuthToken:  sess.JWTToken,
				APIKey:     f.cfg.AngelAPIKey,
				ClientCode: f.cfg.AngelClientCode,
				FeedToken:  sess.FeedToken,
			},
			TokenList: f.tokenList,
		})
		if err != nil {
			wsCancel()
			return fmt.Errorf("ws init: %w", err)
		}
		ingest.OnReconnect = f.prom.WSReconnects.Inc
		ingest.OnConnected = f.connected
		ingest.OnDroppedTick = f.prom.DroppedTicks.Inc

		log.Printf("[riskengine] feed session until %s", closeTime.In(markethours.IST).Format("15:04:05"))
		if err := ingest.Start(wsCtx, tickCh); err != nil {
			log.Printf("[riskengine] feed session ended: %v", err)
		}
		wsCancel()
		f.connected(false)

		if ctx.Err() != nil {
			return nil
		}
		log.Println("[riskengine] feed disconnected, market close")
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
