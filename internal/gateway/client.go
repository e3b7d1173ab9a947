package gateway

import (
	"encoding/json"
	"log"
	"time"

	"github.com/gorilla/websocket"
)

const (
	sendBuffer   = 256
	writeTimeout = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = 30 * time.Second
)

// Client is a single websocket peer.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	role string
}

func newClient(h *Hub, conn *websocket.Conn, role string) *Client {
	return &Client{hub: h, conn: conn, send: make(chan []byte, sendBuffer), role: role}
}

// enqueue queues msg without blocking. It reports false when the client
// is too slow and the message was dropped. Callers hold the hub lock.
func (c *Client) enqueue(msg []byte) bool {
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			// Queued messages share one frame, newline separated.
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(msg)
			n := len(c.send)
			for i := 0; i < n; i++ {
				next, ok := <-c.send
				if !ok {
					break
				}
				w.Write([]byte{'\n'})
				w.Write(next)
			}
			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// clientMessage is what clients may send: {"type":"resync","last_seq":N}
// or a latency probe {"ping":<unix ms>}.
type clientMessage struct {
	Type    string `json:"type"`
	LastSeq uint64 `json:"last_seq"`
	Ping    int64  `json:"ping"`
}

func (c *Client) readPump() {
	defer func() {
		c.hub.removeClient(c)
		c.conn.Close()
		log.Printf("[gateway] ws client disconnected role=%q", c.role)
	}()

	c.conn.SetReadLimit(1024)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var m clientMessage
		if err := json.Unmarshal(raw, &m); err != nil {
			c.reply(Envelope{Type: TypeError, Data: "invalid message"})
			continue
		}
		switch {
		case m.Type == "resync":
			c.hub.resync(c, m.LastSeq)
		case m.Ping > 0:
			c.reply(Envelope{Type: TypePong, Data: map[string]int64{
				"ping":      m.Ping,
				"server_ts": time.Now().UnixMilli(),
			}})
		default:
			c.reply(Envelope{Type: TypeError, Data: "unknown message type " + m.Type})
		}
	}
}

// reply queues a direct response. It runs on the read goroutine, which is
// the only one that closes send.
func (c *Client) reply(e Envelope) {
	e.TS = time.Now().UTC()
	msg, err := json.Marshal(e)
	if err != nil {
		return
	}
	c.enqueue(msg)
}
