package gateway

import (
	"context"
	"encoding/json"
	"runtime"
	"time"

	"trading-riskv1/internal/markethours"
)

// Status is the periodic heartbeat sent to every client.
type Status struct {
	MarketOpen   bool    `json:"market_open"`
	MarketStatus string  `json:"market_status"`
	Clients      int     `json:"clients"`
	LastSeq      uint64  `json:"last_seq"`
	Goroutines   int     `json:"goroutines"`
	HeapAllocMB  float64 `json:"heap_alloc_mb"`
	GCRuns       uint32  `json:"gc_runs"`
	UptimeSec    int64   `json:"uptime_sec"`
	LatencyP50Ms float64 `json:"latency_p50_ms"`
	LatencyP95Ms float64 `json:"latency_p95_ms"`
	LatencyP99Ms float64 `json:"latency_p99_ms"`
}

// CollectStatus gathers the current heartbeat.
func (h *Hub) CollectStatus(cal *markethours.Calendar, start, now time.Time) Status {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	s := Status{
		MarketOpen:   cal.IsOpen(now),
		MarketStatus: cal.Status(now),
		Goroutines:   runtime.NumGoroutine(),
		HeapAllocMB:  float64(mem.HeapAlloc) / (1 << 20),
		GCRuns:       mem.NumGC,
		UptimeSec:    int64(now.Sub(start).Seconds()),
	}
	h.mu.RLock()
	s.Clients = len(h.clients)
	if h.latest != nil {
		s.LastSeq = h.latest.Seq
	}
	h.mu.RUnlock()

	if h.Latency != nil {
		p50, p95, p99 := h.Latency.Percentiles()
		s.LatencyP50Ms = ms(p50)
		s.LatencyP95Ms = ms(p95)
		s.LatencyP99Ms = ms(p99)
	}
	return s
}

// StartStatusBroadcast sends a Status to all clients every interval until
// ctx is cancelled.
func (h *Hub) StartStatusBroadcast(ctx context.Context, interval time.Duration, cal *markethours.Calendar, start time.Time) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			msg, err := json.Marshal(Envelope{Type: TypeStatus, Data: h.CollectStatus(cal, start, now), TS: now.UTC()})
			if err != nil {
				continue
			}
			h.mu.RLock()
			for c := range h.clients {
				c.enqueue(msg)
			}
			h.mu.RUnlock()
		}
	}
}

func ms(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}
