package smartconnect

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	FeedURL           = "wss://smartapisocket.angelone.in/smart-stream"
	HeartBeatMessage  = "ping"
	HeartBeatInterval = 10 * time.Second
)

// Subscription actions, modes and exchange types.
const (
	SubscribeAction   = 1
	UnsubscribeAction = 0

	ModeLTP       = 1
	ModeQuote     = 2
	ModeSnapQuote = 3

	NSE_CM = 1
	NSE_FO = 2
	BSE_CM = 3
	BSE_FO = 4
	MCX_FO = 5
)

// TokenListEntry groups tokens by exchange type for subscribe requests.
type TokenListEntry struct {
	ExchangeType int      `json:"exchangeType"`
	Tokens       []string `json:"tokens"`
}

type subscribeRequest struct {
	CorrelationID string `json:"correlationID,omitempty"`
	Action        int    `json:"action"`
	Params        struct {
		Mode      int              `json:"mode"`
		TokenList []TokenListEntry `json:"tokenList"`
	} `json:"params"`
}

// FeedConfig configures a market feed connection.
type FeedConfig struct {
	URL        string // default FeedURL
	AuthToken  string
	APIKey     string
	ClientCode string
	FeedToken  string
}

// Feed is one SmartAPI market feed connection. It does not reconnect;
// callers dial a new Feed after Run returns an error.
type Feed struct {
	cfg  FeedConfig
	conn *websocket.Conn

	writeMu sync.Mutex

	mu       sync.Mutex
	lastPong time.Time
}

// DialFeed connects to the market feed.
func DialFeed(ctx context.Context, cfg FeedConfig) (*Feed, error) {
	if cfg.AuthToken == "" || cfg.APIKey == "" || cfg.ClientCode == "" || cfg.FeedToken == "" {
		return nil, errors.New("smartapi feed: auth token, api key, client code and feed token are required")
	}
	if cfg.URL == "" {
		cfg.URL = FeedURL
	}

	header := http.Header{}
	header.Add("Authorization", cfg.AuthToken)
	header.Add("x-api-key", cfg.APIKey)
	header.Add("x-client-code", cfg.ClientCode)
	header.Add("x-feed-token", cfg.FeedToken)

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, cfg.URL, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("smartapi feed: dial failed, status %s: %w", resp.Status, err)
		}
		return nil, fmt.Errorf("smartapi feed: dial: %w", err)
	}

	f := &Feed{cfg: cfg, conn: conn, lastPong: time.Now()}
	conn.SetPongHandler(func(string) error {
		f.mu.Lock()
		f.lastPong = time.Now()
		f.mu.Unlock()
		return nil
	})
	return f, nil
}

// Subscribe requests updates for tokenList in mode.
func (f *Feed) Subscribe(correlationID string, mode int, tokenList []TokenListEntry) error {
	return f.send(correlationID, SubscribeAction, mode, tokenList)
}

// Unsubscribe stops updates for tokenList in mode.
func (f *Feed) Unsubscribe(correlationID string, mode int, tokenList []TokenListEntry) error {
	return f.send(correlationID, UnsubscribeAction, mode, tokenList)
}

func (f *Feed) send(correlationID string, action, mode int, tokenList []TokenListEntry) error {
	var req subscribeRequest
	req.CorrelationID = correlationID
	req.Action = action
	req.Params.Mode = mode
	req.Params.TokenList = tokenList

	f.writeMu.Lock()
	defer f.writeMu.Unlock()
	return f.conn.WriteJSON(req)
}

// LastPong returns when the server last answered a heartbeat.
func (f *Feed) LastPong() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastPong
}

// Run reads frames until ctx is cancelled or the connection fails, calling
// onData for every decoded market data message. It returns nil on ctx
// cancellation.
func (f *Feed) Run(ctx context.Context, onData func(map[string]any)) error {
	go func() {
		<-ctx.Done()
		f.Close()
	}()
	go f.heartbeat(ctx)

	for {
		mt, message, err := f.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		switch mt {
		case websocket.BinaryMessage:
			parsed, err := ParseFrame(message)
			if err != nil {
				log.Printf("[smartapi] frame parse error: %v", err)
				continue
			}
			onData(parsed)
		case websocket.TextMessage:
			if string(message) == "pong" {
				f.mu.Lock()
				f.lastPong = time.Now()
				f.mu.Unlock()
				continue
			}
			var obj map[string]any
			if err := json.Unmarshal(message, &obj); err == nil {
				onData(obj)
			}
		}
	}
}

func (f *Feed) heartbeat(ctx context.Context) {
	ticker := time.NewTicker(HeartBeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.writeMu.Lock()
			err := f.conn.WriteMessage(websocket.TextMessage, []byte(HeartBeatMessage))
			f.writeMu.Unlock()
			if err != nil {
				log.Printf("[smartapi] heartbeat write error: %v", err)
				return
			}
		}
	}
}

// Close closes the connection.
func (f *Feed) Close() error {
	f.writeMu.Lock()
	_ = f.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	f.writeMu.Unlock()
	return f.conn.Close()
}

// ParseFrame decodes a little-endian binary feed frame. Prices are integer
// paise. LTP frames carry the header fields; QUOTE and SNAP_QUOTE frames
// add the day's OHLC, volume and previous close.
func ParseFrame(b []byte) (map[string]any, error) {
	if len(b) < 51 {
		return nil, fmt.Errorf("binary payload too short: %d bytes", len(b))
	}
	out := map[string]any{
		"subscription_mode":  int(b[0]),
		"exchange_type":      int(b[1]),
		"token":              cString(b[2:27]),
		"sequence_number":    int64(binary.LittleEndian.Uint64(b[27:35])),
		"exchange_timestamp": int64(binary.LittleEndian.Uint64(b[35:43])),
		"last_traded_price":  int64(binary.LittleEndian.Uint64(b[43:51])),
	}

	mode := int(b[0])
	if (mode == ModeQuote || mode == ModeSnapQuote) && len(b) >= 123 {
		out["last_traded_quantity"] = int64(binary.LittleEndian.Uint64(b[51:59]))
		out["average_traded_price"] = int64(binary.LittleEndian.Uint64(b[59:67]))
		out["volume_trade_for_the_day"] = int64(binary.LittleEndian.Uint64(b[67:75]))
		out["total_buy_quantity"] = math.Float64frombits(binary.LittleEndian.Uint64(b[75:83]))
		out["total_sell_quantity"] = math.Float64frombits(binary.LittleEndian.Uint64(b[83:91]))
		out["open_price_of_the_day"] = int64(binary.LittleEndian.Uint64(b[91:99]))
		out["high_price_of_the_day"] = int64(binary.LittleEndian.Uint64(b[99:107]))
		out["low_price_of_the_day"] = int64(binary.LittleEndian.Uint64(b[107:115]))
		out["closed_price"] = int64(binary.LittleEndian.Uint64(b[115:123]))
	}
	if mode == ModeSnapQuote && len(b) >= 147 {
		out["last_traded_timestamp"] = int64(binary.LittleEndian.Uint64(b[123:131]))
		out["open_interest"] = int64(binary.LittleEndian.Uint64(b[131:139]))
	}
	return out, nil
}

func cString(b []byte) string {
	for i := 0; i < len(b); i++ {
		if b[i] == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}
