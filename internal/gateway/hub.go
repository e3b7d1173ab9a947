// Package gateway pushes portfolio aggregates to websocket clients. Each
// client connects with a role and receives figures scaled for that role.
package gateway

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"trading-riskv1/internal/display"
	"trading-riskv1/internal/engine"
	"trading-riskv1/internal/notification"

	"github.com/gorilla/websocket"
)

// RoleHeader carries the client's role on the upgrade request. Browsers
// cannot set headers on websocket requests, so ?role= is accepted too.
const RoleHeader = "X-Role"

// Message types sent to clients.
const (
	TypeAggregates = "aggregates"
	TypeAlert      = "alert"
	TypeStatus     = "status"
	TypePong       = "pong"
	TypeError      = "error"
)

// Envelope is the JSON frame written to clients.
type Envelope struct {
	Type    string    `json:"type"`
	Seq     uint64    `json:"seq,omitempty"`
	Reason  string    `json:"reason,omitempty"`
	Initial bool      `json:"initial,omitempty"`
	Replay  bool      `json:"replay,omitempty"`
	Data    any       `json:"data,omitempty"`
	TS      time.Time `json:"ts"`
}

// Hub tracks websocket clients and fans engine updates out to them.
type Hub struct {
	scaler   display.Scaler
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*Client]bool
	latest  *engine.Update
	replay  *ReplayBuffer

	// Latency tracks the delay between an update's recompute and its
	// fan-out to clients.
	Latency *LatencyTracker

	// OnDrop is called when a message is dropped for a slow client.
	OnDrop func(role string)
}

// NewHub creates a hub that keeps the last replaySize updates for resume.
func NewHub(scaler display.Scaler, replaySize int) *Hub {
	return &Hub{
		scaler: scaler,
		upgrader: websocket.Upgrader{
			CheckOrigin:       func(r *http.Request) bool { return true },
			EnableCompression: true,
		},
		clients: make(map[*Client]bool),
		replay:  NewReplayBuffer(replaySize),
		Latency: NewLatencyTracker(4096),
	}
}

// Run broadcasts every update until ctx is cancelled, then disconnects
// all clients.
func (h *Hub) Run(ctx context.Context, updates <-chan engine.Update) {
	defer h.disconnectAll()
	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-updates:
			if !ok {
				return
			}
			h.Broadcast(u)
		}
	}
}

// Broadcast records u as the latest state and sends it to every client.
// The envelope is built once per distinct role.
func (h *Hub) Broadcast(u engine.Update) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.latest = &u
	h.replay.Push(u)

	frames := make(map[string][]byte)
	for c := range h.clients {
		msg, ok := frames[c.role]
		if !ok {
			msg = h.aggregatesFrame(u, c.role, false, false)
			frames[c.role] = msg
		}
		if msg != nil && !c.enqueue(msg) && h.OnDrop != nil {
			h.OnDrop(c.role)
		}
	}

	if !u.At.IsZero() && h.Latency != nil {
		h.Latency.Observe(time.Since(u.At))
	}
}

// Send delivers an alert to admin clients. Alerts carry unscaled figures,
// so other roles never see them. It implements notification.Notifier.
func (h *Hub) Send(_ context.Context, a notification.Alert) error {
	msg, err := json.Marshal(Envelope{Type: TypeAlert, Data: a, TS: time.Now().UTC()})
	if err != nil {
		return err
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if display.IsAdmin(c.role) {
			c.enqueue(msg)
		}
	}
	return nil
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request and registers the client. A last_seq
// query parameter resumes from the replay buffer; without it the client
// gets the latest snapshot.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	role := r.Header.Get(RoleHeader)
	if role == "" {
		role = r.URL.Query().Get("role")
	}

	var lastSeq uint64
	resume := false
	if v := r.URL.Query().Get("last_seq"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			http.Error(w, "invalid last_seq", http.StatusBadRequest)
			return
		}
		lastSeq, resume = n, true
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[gateway] upgrade failed: %v", err)
		return
	}
	conn.EnableWriteCompression(true)

	c := newClient(h, conn, role)

	h.mu.Lock()
	h.clients[c] = true
	count := len(h.clients)
	h.catchUp(c, lastSeq, resume)
	h.mu.Unlock()

	log.Printf("[gateway] ws client connected role=%q (%d total)", role, count)

	go c.writePump()
	go c.readPump()
}

// removeClient unregisters c and closes its send queue.
func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

// resync replays updates after lastSeq to c.
func (h *Hub) resync(c *Client, lastSeq uint64) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.clients[c]; ok {
		h.catchUp(c, lastSeq, true)
	}
}

// catchUp queues the backlog for c. Callers hold h.mu.
func (h *Hub) catchUp(c *Client, lastSeq uint64, resume bool) {
	if h.latest == nil {
		return
	}
	if resume {
		if lastSeq >= h.latest.Seq {
			return
		}
		if missed, ok := h.replay.Since(lastSeq); ok {
			for _, u := range missed {
				if msg := h.aggregatesFrame(u, c.role, false, true); msg != nil {
					c.enqueue(msg)
				}
			}
			return
		}
	}
	if msg := h.aggregatesFrame(*h.latest, c.role, true, false); msg != nil {
		c.enqueue(msg)
	}
}

func (h *Hub) aggregatesFrame(u engine.Update, role string, initial, replay bool) []byte {
	msg, err := json.Marshal(Envelope{
		Type:    TypeAggregates,
		Seq:     u.Seq,
		Reason:  u.Reason,
		Initial: initial,
		Replay:  replay,
		Data:    h.scaler.Aggregates(u.Aggregates, role),
		TS:      u.At,
	})
	if err != nil {
		log.Printf("[gateway] marshal seq=%d: %v", u.Seq, err)
		return nil
	}
	return msg
}

func (h *Hub) disconnectAll() {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		c.conn.Close()
	}
}
