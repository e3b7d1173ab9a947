// Command riskengine keeps the position ledger in step with the market
// feed, serves scaled portfolio figures and turns user intents into orders.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"golang.org/x/sync/errgroup"

	"trading-riskv1/config"
	"trading-riskv1/internal/api"
	"trading-riskv1/internal/bus"
	"trading-riskv1/internal/display"
	"trading-riskv1/internal/engine"
	"trading-riskv1/internal/execution"
	"trading-riskv1/internal/gateway"
	"trading-riskv1/internal/logger"
	"trading-riskv1/internal/marketdata/batcher"
	"trading-riskv1/internal/markethours"
	"trading-riskv1/internal/metrics"
	"trading-riskv1/internal/model"
	"trading-riskv1/internal/notification"
	"trading-riskv1/internal/portfolio"
	"trading-riskv1/internal/sizing"
	redisstore "trading-riskv1/internal/store/redis"
	sqlitestore "trading-riskv1/internal/store/sqlite"
	smartconnect "trading-riskv1/pkg/smartconnect"
)

func main() {
	envPath := flag.String("env", "", "path to a .env file (default ./.env)")
	flag.Parse()

	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	log.Println("[riskengine] starting...")

	cfg, err := config.Load(*envPath)
	if err != nil {
		log.Fatalf("[riskengine] %v", err)
	}
	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Fatalf("[riskengine] %v", err)
	}
	logger.Init("riskengine", level)
	if cfg.StagingMode {
		log.Println("[riskengine] *** STAGING MODE: ticks from tickserver, no broker feed ***")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	start := time.Now()

	// ---- Metrics & health ----
	prom := metrics.NewMetrics(nil)
	health := metrics.NewHealthStatus()
	health.SetRedisEnabled(cfg.RedisEnabled)
	metricsSrv := metrics.NewServer(cfg.MetricsAddr, health)
	metricsSrv.Start()

	cal := markethours.NSE()
	for _, day := range cfg.MarketHolidays {
		if err := cal.AddHoliday(day, "configured closure"); err != nil {
			log.Fatalf("[riskengine] MARKET_HOLIDAYS: %v", err)
		}
	}

	// ---- Journal ----
	if dir := filepath.Dir(cfg.SQLitePath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			log.Fatalf("[riskengine] %v", err)
		}
	}
	journal, err := sqlitestore.New(sqlitestore.Config{DBPath: cfg.SQLitePath})
	if err != nil {
		log.Fatalf("[riskengine] sqlite init failed: %v", err)
	}
	defer journal.Close()
	journal.OnCommit = func(d time.Duration) { prom.SQLiteCommitDur.Observe(d.Seconds()) }

	positions, pool, err := restore(ctx, cfg, journal)
	if err != nil {
		log.Fatalf("[riskengine] restore failed: %v", err)
	}
	ledger, err := portfolio.NewLedger(pool)
	if err != nil {
		log.Fatalf("[riskengine] %v", err)
	}
	for _, p := range positions {
		if err := ledger.Open(p); err != nil {
			log.Fatalf("[riskengine] open %s: %v", p.Token, err)
		}
	}

	tokenList, err := cfg.TokenList(positions)
	if err != nil {
		log.Fatalf("[riskengine] %v", err)
	}
	var watched []string
	for _, group := range tokenList {
		watched = append(watched, group.Tokens...)
	}
	quotes := portfolio.NewQuoteBoard(watched...)

	// ---- Executor ----
	var sc *smartconnect.SmartConnect
	if cfg.NeedsBrokerSession() {
		sc = smartconnect.NewSmartConnect(smartconnect.Config{APIKey: cfg.AngelAPIKey})
	}
	exec, err := newExecutor(ctx, cfg, sc)
	if err != nil {
		log.Fatalf("[riskengine] executor: %v", err)
	}

	// ---- Engine ----
	eng := engine.New(engine.Config{
		Translator:   sizing.NewTranslator(cfg.DefaultStopDistancePct),
		UpdateBuffer: 256,
	}, ledger, exec, journal, quotes)
	eng.OnBatch = func(ticks, changed int) {
		prom.ObserveBatch(ticks, changed)
		health.SetLastTickTime(time.Now())
	}
	eng.OnRecompute = func(d time.Duration) { prom.RecomputeDur.Observe(d.Seconds()) }
	eng.OnIntent = func(kind sizing.Kind, outcome string) {
		prom.IntentsTotal.WithLabelValues(string(kind), outcome).Inc()
	}
	eng.OnFill = func(f model.Fill) { prom.FillsTotal.WithLabelValues(string(f.Kind)).Inc() }
	eng.OnDroppedUpdate = prom.UpdatesDropped.Inc

	scaler := display.NewScaler(cfg.DisplayMultiplier)

	// ---- Websocket hub & alerts ----
	hub := gateway.NewHub(scaler, 256)
	hub.OnDrop = func(role string) { prom.FanoutDropsTotal.WithLabelValues("ws:" + role).Inc() }

	notifiers := notification.Multi{notification.NewLogNotifier(), hub}
	if cfg.NotifyWebhookURL != "" {
		notifiers = append(notifiers, notification.NewWebhookNotifier(cfg.NotifyWebhookURL))
	}
	if cfg.TelegramBotToken != "" {
		notifiers = append(notifiers, notification.NewTelegramNotifier(cfg.TelegramBotToken, cfg.TelegramChatID))
	}
	alerts := notification.NewDispatcher(notifiers, 64)
	alerts.OnSent = func(a notification.Alert) { prom.AlertsTotal.WithLabelValues(string(a.Level)).Inc() }
	alerts.OnDropped = func(a notification.Alert) {
		slog.Warn("alert dropped, queue full", "kind", a.Kind, "token", a.Token)
	}
	levels := engine.NewLevelWatcher(eng, alerts)

	// ---- Redis publisher ----
	var rdb *goredis.Client
	var publisher *redisstore.BufferedPublisher
	if cfg.RedisEnabled {
		pub, err := redisstore.New(redisstore.Config{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		if err != nil {
			log.Printf("[riskengine] WARNING: redis init failed: %v (continuing without redis)", err)
		} else {
			defer pub.Close()
			rdb = pub.Client()
			breaker := redisstore.NewBreaker(5, 10*time.Second)
			breaker.OnStateChange = func(from, to redisstore.State) {
				prom.RedisCircuitBreakerState.Set(float64(to))
				if to == redisstore.StateOpen {
					prom.RedisCircuitBreakerTrips.Inc()
				}
				log.Printf("[riskengine] redis breaker %s -> %s", from, to)
			}
			publisher = redisstore.NewBufferedPublisher(pub, breaker, 1000)
			publisher.OnBuffer = prom.RedisBufferedWrites.Inc
			log.Println("[riskengine] redis publisher ready")
		}
	}
	health.StartLivenessChecker(ctx, rdb, journal.DB(), 10*time.Second)

	// ---- Update fan-out ----
	fanout := bus.New[engine.Update](256)
	fanout.OnDrop = func(name string) { prom.FanoutDropsTotal.WithLabelValues(name).Inc() }
	hubIn := fanout.Subscribe("gateway")
	levelsIn := fanout.Subscribe("levels")
	metricsIn := fanout.Subscribe("metrics")
	var redisIn <-chan engine.Update
	if publisher != nil {
		redisIn = fanout.Subscribe("redis")
	}

	// ---- REST API ----
	apiSrv := api.NewServer(api.Config{Addr: cfg.HTTPAddr, AllowedOrigins: cfg.CORSOrigins}, eng, journal, scaler)
	apiSrv.Mount("/ws", hub)
	apiSrv.Start()

	// ---- Pipeline ----
	tickCh := make(chan model.Tick, 10000)
	batchCh := make(chan []model.Tick, 64)
	b := batcher.New(cfg.TickBatchWindow)
	b.OnDeferredBatch = prom.DeferredBatches.Inc

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { b.Run(gctx, tickCh, batchCh); return nil })
	g.Go(func() error { eng.Run(gctx, batchCh); return nil })
	g.Go(func() error { fanout.Run(gctx, eng.Updates()); return nil })
	g.Go(func() error { hub.Run(gctx, hubIn); return nil })
	g.Go(func() error { levels.Run(gctx, levelsIn); return nil })
	g.Go(func() error { alerts.Run(gctx); return nil })
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case u, ok := <-metricsIn:
				if !ok {
					return nil
				}
				prom.ObserveAggregates(u.Aggregates)
				health.SetOpenPositions(u.Aggregates.OpenPositions)
			}
		}
	})
	if publisher != nil {
		g.Go(func() error { publisher.Run(gctx, redisIn); return nil })
	}
	g.Go(func() error {
		journal.RunCheckpoint(gctx, cfg.CheckpointInterval, eng.Positions)
		return nil
	})
	g.Go(func() error {
		hub.StartStatusBroadcast(gctx, 2*time.Second, cal, start)
		return nil
	})
	g.Go(func() error {
		reportSaturation(gctx, prom, fanout, tickCh, batchCh)
		return nil
	})
	g.Go(func() error {
		first := true
		cal.Watch(gctx, 30*time.Second, func(open bool) {
			health.SetMarketOpen(open)
			if open {
				prom.MarketState.Set(1)
			} else {
				prom.MarketState.Set(0)
			}
			if first {
				first = false
				return
			}
			if open {
				prom.SessionTransitions.WithLabelValues("open").Inc()
			} else {
				prom.SessionTransitions.WithLabelValues("close").Inc()
			}
			log.Printf("[riskengine] market %s", cal.Status(time.Now()))
		})
		return nil
	})

	// ---- Feed ----
	feed := feedRunner{cfg: cfg, cal: cal, sc: sc, tokenList: tokenList, prom: prom, health: health}
	if cfg.StagingMode {
		g.Go(func() error { return feed.runSim(gctx, tickCh) })
	} else {
		g.Go(func() error { return feed.runLive(gctx, tickCh) })
	}

	eng.Restore()

	log.Printf("[riskengine] ready: %d positions, mode=%s, api=%s, metrics=%s",
		ledger.Len(), cfg.ExecutionMode, cfg.HTTPAddr, cfg.MetricsAddr)
	log.Printf("[riskengine] %s", cal.Status(time.Now()))

	// ---- Shutdown ----
	<-gctx.Done()
	log.Println("[riskengine] shutdown signal received, cleaning up...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := apiSrv.Stop(shutdownCtx); err != nil {
		log.Printf("[riskengine] api shutdown: %v", err)
	}
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("[riskengine] pipeline error: %v", err)
	}
	if err := metricsSrv.Stop(shutdownCtx); err != nil {
		log.Printf("[riskengine] metrics shutdown: %v", err)
	}
	if sc != nil && sc.AccessToken() != "" {
		if err := sc.TerminateSession(shutdownCtx); err != nil {
			log.Printf("[riskengine] logout: %v", err)
		}
	}
	log.Println("[riskengine] shutdown complete.")
}

// restore rebuilds the ledger from the last journal checkpoint, falling
// back to the positions file and then to an empty ledger with TOTAL_RISK
// available.
func restore(ctx context.Context, cfg *config.Config, journal *sqlitestore.Journal) ([]model.Position, model.RiskPool, error) {
	positions, pool, ok, err := journal.LoadPositions(ctx)
	if err != nil {
		return nil, model.RiskPool{}, err
	}
	if ok {
		log.Printf("[riskengine] restored %d positions from journal", len(positions))
		return positions, pool, nil
	}
	if cfg.PositionsFile != "" {
		seed, err := config.LoadSeed(cfg.PositionsFile)
		if err != nil {
			return nil, model.RiskPool{}, err
		}
		positions, err := seed.ModelPositions()
		if err != nil {
			return nil, model.RiskPool{}, err
		}
		log.Printf("[riskengine] seeded %d positions from %s", len(positions), cfg.PositionsFile)
		return positions, seed.Pool(), nil
	}
	log.Printf("[riskengine] starting flat with total risk %s", cfg.TotalRisk)
	return nil, model.RiskPool{AvailableRisk: cfg.TotalRisk}, nil
}

// newExecutor builds the executor for cfg.ExecutionMode. Broker mode logs
// in first so orders can be placed before the feed session starts.
func newExecutor(ctx context.Context, cfg *config.Config, sc *smartconnect.SmartConnect) (engine.Executor, error) {
	switch cfg.ExecutionMode {
	case execution.ModeBroker:
		if _, err := login(ctx, cfg, sc); err != nil {
			return nil, err
		}
		log.Println("[riskengine] orders routed to broker")
		return execution.NewBrokerExecutor(sc, execution.BrokerConfig{}), nil
	case execution.ModeGateway:
		log.Printf("[riskengine] orders routed to gateway %s", cfg.GatewayURL)
		return execution.NewGatewayExecutor(cfg.GatewayURL, 0), nil
	default:
		log.Printf("[riskengine] paper trading, slippage %d bps", cfg.PaperSlippageBps)
		return execution.NewPaperExecutor(cfg.PaperSlippageBps), nil
	}
}

// reportSaturation samples channel fill levels every 5s.
func reportSaturation(ctx context.Context, prom *metrics.Metrics, fanout *bus.FanOut[engine.Update], tickCh chan model.Tick, batchCh chan []model.Tick) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			prom.ObserveChannel("ticks", len(tickCh), cap(tickCh))
			prom.ObserveChannel("batches", len(batchCh), cap(batchCh))
			for _, s := range fanout.ChannelStats() {
				prom.ObserveChannel("fanout_"+s.Name, s.Len, s.Cap)
			}
		}
	}
}
