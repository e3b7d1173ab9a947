// Command tickserver broadcasts simulated ticks over a websocket so the
// risk engine can run in staging without broker credentials.
//
// Each message is one JSON tick, prices in rupees:
//
//	{"instrument_token":"2885","exchange":"NSE","last_price":"2450.55","change":"12.30","exchange_timestamp":1760000000000}
//
// Config (env vars):
//
//	TICK_SERVER_ADDR  listen address (default ":9001")
//	TICK_TOKENS       comma-separated TOKEN:EXCHANGE[:START_PRICE] (default "99926000:NSE,2885:NSE")
//	TICK_INTERVAL_MS  broadcast interval in milliseconds (default 250)
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
)

var tickSize = decimal.RequireFromString("0.05")

type tickMsg struct {
	Token     string          `json:"instrument_token"`
	Exchange  string          `json:"exchange"`
	LastPrice decimal.Decimal `json:"last_price"`
	Change    decimal.Decimal `json:"change"`
	Timestamp int64           `json:"exchange_timestamp"`
}

// instrument is the simulation state of one token.
type instrument struct {
	Token     string
	Exchange  string
	PrevClose decimal.Decimal
	Price     decimal.Decimal
}

// step moves the price by up to ±0.1%, rounded to the tick size and kept
// at or above one tick.
func (in *instrument) step(rng *rand.Rand) tickMsg {
	pct := decimal.NewFromFloat((rng.Float64()*0.2 - 0.1) / 100)
	next := in.Price.Add(in.Price.Mul(pct)).Div(tickSize).Round(0).Mul(tickSize)
	if next.LessThan(tickSize) {
		next = tickSize
	}
	in.Price = next
	return tickMsg{
		Token:     in.Token,
		Exchange:  in.Exchange,
		LastPrice: in.Price,
		Change:    in.Price.Sub(in.PrevClose),
		Timestamp: time.Now().UnixMilli(),
	}
}

type hub struct {
	mu      sync.RWMutex
	clients map[*websocket.Conn]chan []byte
}

func newHub() *hub {
	return &hub{clients: make(map[*websocket.Conn]chan []byte)}
}

func (h *hub) register(conn *websocket.Conn) chan []byte {
	ch := make(chan []byte, 256)
	h.mu.Lock()
	h.clients[conn] = ch
	h.mu.Unlock()
	return ch
}

func (h *hub) unregister(conn *websocket.Conn) {
	h.mu.Lock()
	if ch, ok := h.clients[conn]; ok {
		close(ch)
		delete(h.clients, conn)
	}
	h.mu.Unlock()
}

func (h *hub) broadcast(msg []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.clients {
		select {
		case ch <- msg:
		default: // slow client, drop
		}
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(_ *http.Request) bool { return true },
}

func wsHandler(h *hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("[tickserver] upgrade error: %v", err)
			return
		}
		log.Printf("[tickserver] client connected: %s", r.RemoteAddr)

		ch := h.register(conn)
		defer func() {
			h.unregister(conn)
			conn.Close()
			log.Printf("[tickserver] client disconnected: %s", r.RemoteAddr)
		}()

		// Drain reads so close frames are noticed.
		go func() {
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					h.unregister(conn)
					return
				}
			}
		}()

		for msg := range ch {
			conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		}
	}
}

func runGenerator(ctx context.Context, h *hub, instruments []*instrument, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, in := range instruments {
				b, err := json.Marshal(in.step(rng))
				if err != nil {
					continue
				}
				h.broadcast(b)
			}
		}
	}
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	log.Println("[tickserver] starting demo tick server...")

	addr := envOrDefault("TICK_SERVER_ADDR", ":9001")
	interval := time.Duration(envIntOrDefault("TICK_INTERVAL_MS", 250)) * time.Millisecond

	instruments, err := parseInstruments(envOrDefault("TICK_TOKENS", "99926000:NSE,2885:NSE"))
	if err != nil {
		log.Fatalf("[tickserver] TICK_TOKENS: %v", err)
	}
	for _, in := range instruments {
		log.Printf("[tickserver] %s:%s from %s", in.Exchange, in.Token, in.Price)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	h := newHub()
	go runGenerator(ctx, h, instruments, interval)

	router := mux.NewRouter()
	router.HandleFunc("/ws", wsHandler(h))
	router.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintln(w, `{"status":"ok","service":"tickserver"}`)
	}).Methods(http.MethodGet)

	srv := &http.Server{Addr: addr, Handler: router, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		log.Printf("[tickserver] listening on %s (ws://localhost%s/ws, every %s)", addr, addr, interval)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("[tickserver] server error: %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	srv.Shutdown(shutdownCtx)
	log.Println("[tickserver] stopped")
}

// defaultPrices are starting prices in rupees.
var defaultPrices = map[string]string{
	"2885":     "2450.00", // RELIANCE
	"1594":     "1480.00", // INFY
	"11536":    "3900.00", // TCS
	"99926000": "25660.00",
}

func parseInstruments(s string) ([]*instrument, error) {
	var out []*instrument
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		seg := strings.Split(part, ":")
		if len(seg) < 2 || len(seg) > 3 {
			return nil, fmt.Errorf("bad entry %q, want TOKEN:EXCHANGE[:PRICE]", part)
		}
		token, exchange := strings.TrimSpace(seg[0]), strings.TrimSpace(seg[1])

		raw := defaultPrices[token]
		if len(seg) == 3 {
			raw = strings.TrimSpace(seg[2])
		}
		if raw == "" {
			raw = "1000.00"
		}
		price, err := decimal.NewFromString(raw)
		if err != nil || !price.IsPositive() {
			return nil, fmt.Errorf("bad start price in %q", part)
		}
		out = append(out, &instrument{Token: token, Exchange: exchange, PrevClose: price, Price: price})
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no instruments configured")
	}
	return out, nil
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envIntOrDefault(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}
