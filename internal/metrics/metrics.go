package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"trading-riskv1/internal/portfolio"
)

// Metrics holds the Prometheus collectors for the risk engine.
type Metrics struct {
	// Feed
	TicksTotal   prometheus.Counter
	TicksIgnored prometheus.Counter // ticks that moved no held position
	DroppedTicks prometheus.Counter
	WSReconnects prometheus.Counter
	WSConnected  prometheus.Gauge

	// Engine
	BatchesTotal     prometheus.Counter
	ChangedPositions prometheus.Counter
	RecomputeDur     prometheus.Histogram
	UpdatesDropped   prometheus.Counter
	IntentsTotal     *prometheus.CounterVec // labels: kind, outcome
	FillsTotal       *prometheus.CounterVec // labels: kind

	// Portfolio
	OpenPositions prometheus.Gauge
	TotalPnL      prometheus.Gauge
	CapitalUsed   prometheus.Gauge
	AvailableRisk prometheus.Gauge
	UsedRisk      prometheus.Gauge

	// Backpressure
	FanoutDropsTotal     *prometheus.CounterVec // labels: subscriber
	DeferredBatches      prometheus.Counter     // batches carried into the next window
	ChannelSaturationPct *prometheus.GaugeVec   // labels: channel_name

	// Stores
	RedisCircuitBreakerState prometheus.Gauge // 0=closed, 1=open, 2=half-open
	RedisCircuitBreakerTrips prometheus.Counter
	RedisBufferedWrites      prometheus.Counter
	SQLiteCommitDur          prometheus.Histogram

	// Alerts
	AlertsTotal *prometheus.CounterVec // labels: level

	// Market session
	MarketState        prometheus.Gauge       // 0=closed, 1=open
	SessionTransitions *prometheus.CounterVec // labels: type=open|close
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// means the default registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	latency := []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05}

	m := &Metrics{
		TicksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "riskengine_ticks_total",
			Help: "Ticks received in reconciled batches",
		}),
		TicksIgnored: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "riskengine_ticks_ignored_total",
			Help: "Ticks that changed no held position",
		}),
		DroppedTicks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "riskengine_dropped_ticks_total",
			Help: "Ticks dropped because the ingest channel was full",
		}),
		WSReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "riskengine_ws_reconnects_total",
			Help: "Feed websocket reconnection attempts",
		}),
		WSConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "riskengine_ws_connected",
			Help: "1 while the feed websocket is connected",
		}),

		BatchesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "riskengine_batches_total",
			Help: "Tick batches applied to the ledger",
		}),
		ChangedPositions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "riskengine_changed_positions_total",
			Help: "Positions whose last price changed, summed over batches",
		}),
		RecomputeDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "riskengine_recompute_duration_seconds",
			Help:    "Aggregate recompute latency",
			Buckets: latency,
		}),
		UpdatesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "riskengine_updates_dropped_total",
			Help: "Aggregate updates dropped because the updates channel was full",
		}),
		IntentsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "riskengine_intents_total",
			Help: "Sizing intents by kind and outcome",
		}, []string{"kind", "outcome"}),
		FillsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "riskengine_fills_total",
			Help: "Confirmed fills applied to the ledger",
		}, []string{"kind"}),

		OpenPositions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "riskengine_open_positions",
			Help: "Open positions in the ledger",
		}),
		TotalPnL: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "riskengine_total_pnl_rupees",
			Help: "Unrealized P&L across open positions",
		}),
		CapitalUsed: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "riskengine_capital_used_rupees",
			Help: "Capital deployed across open positions",
		}),
		AvailableRisk: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "riskengine_available_risk_rupees",
			Help: "Unallocated risk budget",
		}),
		UsedRisk: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "riskengine_used_risk_rupees",
			Help: "Risk committed to open positions",
		}),

		FanoutDropsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "riskengine_fanout_drops_total",
			Help: "Updates dropped per slow fan-out subscriber",
		}, []string{"subscriber"}),
		DeferredBatches: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "riskengine_deferred_batches_total",
			Help: "Tick batches held back because the engine queue was full",
		}),
		ChannelSaturationPct: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "riskengine_channel_saturation_pct",
			Help: "Channel occupancy as a percentage of capacity",
		}, []string{"channel_name"}),

		RedisCircuitBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "riskengine_redis_circuit_breaker_state",
			Help: "Redis breaker state: 0=closed, 1=open, 2=half-open",
		}),
		RedisCircuitBreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "riskengine_redis_circuit_breaker_trips_total",
			Help: "Times the redis breaker opened",
		}),
		RedisBufferedWrites: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "riskengine_redis_buffered_writes_total",
			Help: "Updates buffered locally while redis was unavailable",
		}),
		SQLiteCommitDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "riskengine_sqlite_commit_duration_seconds",
			Help:    "Ledger checkpoint commit latency",
			Buckets: prometheus.DefBuckets,
		}),

		AlertsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "riskengine_alerts_total",
			Help: "Alerts raised by level",
		}, []string{"level"}),

		MarketState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "riskengine_market_state",
			Help: "1 during the trading session, 0 otherwise",
		}),
		SessionTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "riskengine_session_transitions_total",
			Help: "Market session open/close transitions",
		}, []string{"type"}),
	}

	reg.MustRegister(
		m.TicksTotal, m.TicksIgnored, m.DroppedTicks, m.WSReconnects, m.WSConnected,
		m.BatchesTotal, m.ChangedPositions, m.RecomputeDur, m.UpdatesDropped,
		m.IntentsTotal, m.FillsTotal,
		m.OpenPositions, m.TotalPnL, m.CapitalUsed, m.AvailableRisk, m.UsedRisk,
		m.FanoutDropsTotal, m.DeferredBatches, m.ChannelSaturationPct,
		m.RedisCircuitBreakerState, m.RedisCircuitBreakerTrips, m.RedisBufferedWrites, m.SQLiteCommitDur,
		m.AlertsTotal,
		m.MarketState, m.SessionTransitions,
	)
	return m
}

// ObserveBatch records one reconciled tick batch.
func (m *Metrics) ObserveBatch(ticks, changed int) {
	m.BatchesTotal.Inc()
	m.TicksTotal.Add(float64(ticks))
	m.ChangedPositions.Add(float64(changed))
	if ignored := ticks - changed; ignored > 0 {
		m.TicksIgnored.Add(float64(ignored))
	}
}

// ObserveAggregates sets the portfolio gauges.
func (m *Metrics) ObserveAggregates(a portfolio.Aggregates) {
	m.OpenPositions.Set(float64(a.OpenPositions))
	m.TotalPnL.Set(a.TotalPnL.InexactFloat64())
	m.CapitalUsed.Set(a.CapitalUsed.InexactFloat64())
	m.AvailableRisk.Set(a.AvailableRisk.InexactFloat64())
	m.UsedRisk.Set(a.UsedRisk.InexactFloat64())
}

// ObserveChannel records how full a channel is.
func (m *Metrics) ObserveChannel(name string, length, capacity int) {
	if capacity <= 0 {
		return
	}
	m.ChannelSaturationPct.WithLabelValues(name).Set(float64(length) / float64(capacity) * 100)
}
