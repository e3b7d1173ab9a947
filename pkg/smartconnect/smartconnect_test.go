package smartconnect

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func quoteFrame(token string, ltp, closed int64) []byte {
	b := make([]byte, 123)
	b[0] = ModeQuote
	b[1] = NSE_CM
	copy(b[2:27], token)
	binary.LittleEndian.PutUint64(b[35:43], 1700000000000)
	binary.LittleEndian.PutUint64(b[43:51], uint64(ltp))
	binary.LittleEndian.PutUint64(b[115:123], uint64(closed))
	return b
}

func TestParseFrame_Quote(t *testing.T) {
	m, err := ParseFrame(quoteFrame("2885", 245050, 240000))
	if err != nil {
		t.Fatal(err)
	}
	if m["token"] != "2885" {
		t.Errorf("token = %v", m["token"])
	}
	if m["last_traded_price"] != int64(245050) {
		t.Errorf("ltp = %v", m["last_traded_price"])
	}
	if m["closed_price"] != int64(240000) {
		t.Errorf("closed_price = %v", m["closed_price"])
	}
	if m["exchange_type"] != NSE_CM {
		t.Errorf("exchange_type = %v", m["exchange_type"])
	}
}

func TestParseFrame_LTPOnlyAndShort(t *testing.T) {
	b := quoteFrame("1", 100, 90)[:51]
	b[0] = ModeLTP
	m, err := ParseFrame(b)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := m["closed_price"]; ok {
		t.Error("LTP frame should not carry closed_price")
	}

	if _, err := ParseFrame(make([]byte, 10)); err == nil {
		t.Error("expected error for short frame")
	}
}

func newTestServer(t *testing.T, handler http.HandlerFunc) *SmartConnect {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewSmartConnect(Config{APIKey: "key", RootURL: srv.URL, ClientLocalIP: "127.0.0.1", ClientMAC: "aa:bb"})
}

func TestSessionAndOrderFlow(t *testing.T) {
	sc := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/loginByPassword"):
			w.Write([]byte(`{"status":true,"data":{"jwtToken":"jwt","refreshToken":"rt","feedToken":"ft"}}`))
		case strings.HasSuffix(r.URL.Path, "/placeOrder"):
			if r.Header.Get("Authorization") != "Bearer jwt" {
				w.WriteHeader(http.StatusForbidden)
				w.Write([]byte(`{"error_type":"TokenException","message":"bad token"}`))
				return
			}
			var p OrderParams
			if err := json.NewDecoder(r.Body).Decode(&p); err != nil || p.Quantity != 150 || p.Variety != "NORMAL" {
				w.Write([]byte(`{"status":false,"message":"bad body","errorcode":"AB1000"}`))
				return
			}
			w.Write([]byte(`{"status":true,"data":{"orderid":"O1","uniqueorderid":"U-1"}}`))
		case strings.Contains(r.URL.Path, "/details/U-1"):
			w.Write([]byte(`{"status":true,"data":{"orderid":"O1","uniqueorderid":"U-1","status":"complete","averageprice":101.5,"filledshares":"150"}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"status":false,"message":"not found"}`))
		}
	})

	ctx := context.Background()
	if _, err := sc.PlaceOrder(ctx, OrderParams{Quantity: 1}); !errors.Is(err, ErrNoSession) {
		t.Fatalf("expected ErrNoSession before login, got %v", err)
	}

	sess, err := sc.GenerateSession(ctx, "C1", "pw", "123456")
	if err != nil {
		t.Fatal(err)
	}
	if sess.FeedToken != "ft" || sc.FeedToken() != "ft" || sc.UserID() != "C1" {
		t.Errorf("unexpected session %+v", sess)
	}

	id, err := sc.PlaceOrder(ctx, OrderParams{TradingSymbol: "M&M-EQ", SymbolToken: "2031", Quantity: 150})
	if err != nil {
		t.Fatal(err)
	}
	if id != "U-1" {
		t.Errorf("order id = %s", id)
	}

	st, err := sc.OrderDetails(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if !st.Final() || st.AveragePrice != 101.5 {
		t.Errorf("unexpected status %+v", st)
	}
}

func TestAPIErrors(t *testing.T) {
	expired := false
	sc := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"error_type":"TokenException","message":"expired"}`))
	})
	sc.SessionExpiryHook = func() { expired = true }
	sc.accessToken = "stale"

	_, err := sc.PlaceOrder(context.Background(), OrderParams{Quantity: 1})
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.ErrorType != "TokenException" {
		t.Fatalf("expected TokenException APIError, got %v", err)
	}
	if !expired {
		t.Error("expected session expiry hook to fire")
	}
}
