// Package smartconnect is a small client for the Angel One SmartAPI REST and
// market feed endpoints: session login, order placement, order status and
// GTT (good-till-triggered) rules.
//
// Usage:
//
//	sc := smartconnect.NewSmartConnect(smartconnect.Config{APIKey: "your_api_key"})
//	sess, err := sc.GenerateSession(ctx, "CLIENTID", "PASSWORD", "TOTP")
//	if err != nil { log.Fatal(err) }
//	orderID, err := sc.PlaceOrder(ctx, smartconnect.OrderParams{
//	    TradingSymbol: "SBIN-EQ", SymbolToken: "3045", TransactionType: "BUY",
//	    Exchange: "NSE", OrderType: "MARKET", ProductType: "DELIVERY", Quantity: 1,
//	})
package smartconnect

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// Config configures the REST client.
type Config struct {
	APIKey      string
	AccessToken string

	RootURL        string        // default: https://apiconnect.angelone.in
	Debug          bool          // log requests and responses
	Timeout        time.Duration // default: 7s
	ProxyURL       string        // optional HTTP proxy URL
	DisableSSL     bool          // if true, InsecureSkipVerify
	ClientPublicIP string        // default 106.193.147.98
	ClientLocalIP  string        // default resolved, else 127.0.0.1
	ClientMAC      string        // default from interface MAC
}

// SmartConnect is safe for concurrent use once a session is established.
type SmartConnect struct {
	apiKey  string
	rootURL string
	debug   bool

	httpClient *http.Client

	clientPublicIP string
	clientLocalIP  string
	clientMAC      string

	mu           sync.RWMutex
	accessToken  string
	refreshToken string
	feedToken    string
	userID       string

	// Optional callback for 403 TokenException
	SessionExpiryHook func()
}

// APIError is a SmartAPI error payload or a status=false response.
type APIError struct {
	StatusCode int
	ErrorType  string
	ErrorCode  string
	Message    string
}

func (e *APIError) Error() string {
	if e.ErrorType != "" {
		return fmt.Sprintf("smartapi %s: %s", e.ErrorType, e.Message)
	}
	return fmt.Sprintf("smartapi error %s (http %d): %s", e.ErrorCode, e.StatusCode, e.Message)
}

// ErrNoSession is returned by secure calls made before GenerateSession.
var ErrNoSession = errors.New("smartapi: no active session")

const defaultRoot = "https://apiconnect.angelone.in"

var routes = map[string]string{
	"api.login":        "/rest/auth/angelbroking/user/v1/loginByPassword",
	"api.logout":       "/rest/secure/angelbroking/user/v1/logout",
	"api.token":        "/rest/auth/angelbroking/jwt/v1/generateTokens",
	"api.user.profile": "/rest/secure/angelbroking/user/v1/getProfile",

	"api.order.place":   "/rest/secure/angelbroking/order/v1/placeOrder",
	"api.order.modify":  "/rest/secure/angelbroking/order/v1/modifyOrder",
	"api.order.cancel":  "/rest/secure/angelbroking/order/v1/cancelOrder",
	"api.order.details": "/rest/secure/angelbroking/order/v1/details/",
	"api.rms.limit":     "/rest/secure/angelbroking/user/v1/getRMS",

	"api.gtt.create": "/gtt-service/rest/secure/angelbroking/gtt/v1/createRule",
	"api.gtt.modify": "/gtt-service/rest/secure/angelbroking/gtt/v1/modifyRule",
}

// NewSmartConnect initializes the client.
func NewSmartConnect(cfg Config) *SmartConnect {
	if cfg.RootURL == "" {
		cfg.RootURL = defaultRoot
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 7 * time.Second
	}
	if cfg.ClientPublicIP == "" {
		cfg.ClientPublicIP = "106.193.147.98"
	}
	if cfg.ClientLocalIP == "" {
		cfg.ClientLocalIP = localIP()
	}
	if cfg.ClientMAC == "" {
		cfg.ClientMAC = macAddress()
	}

	tr := &http.Transport{
		TLSClientConfig: &tls.Config{
			MinVersion:         tls.VersionTLS12,
			InsecureSkipVerify: cfg.DisableSSL,
		},
	}
	if cfg.ProxyURL != "" {
		if purl, err := url.Parse(cfg.ProxyURL); err == nil {
			tr.Proxy = http.ProxyURL(purl)
		}
	}

	return &SmartConnect{
		apiKey:         cfg.APIKey,
		accessToken:    cfg.AccessToken,
		rootURL:        strings.TrimRight(cfg.RootURL, "/"),
		debug:          cfg.Debug,
		httpClient:     &http.Client{Transport: tr, Timeout: cfg.Timeout},
		clientPublicIP: cfg.ClientPublicIP,
		clientLocalIP:  cfg.ClientLocalIP,
		clientMAC:      cfg.ClientMAC,
	}
}

func localIP() string {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "127.0.0.1"
	}
	defer conn.Close()
	if addr, ok := conn.LocalAddr().(*net.UDPAddr); ok {
		return addr.IP.String()
	}
	return "127.0.0.1"
}

func macAddress() string {
	ifs, _ := net.Interfaces()
	for _, ifc := range ifs {
		if len(ifc.HardwareAddr) > 0 {
			return ifc.HardwareAddr.String()
		}
	}
	return "00:11:22:33:44:55"
}

// ---- Session ----

// Session holds the tokens returned by a successful login.
type Session struct {
	ClientCode   string
	JWTToken     string
	RefreshToken string
	FeedToken    string
}

// AccessToken returns the current JWT.
func (sc *SmartConnect) AccessToken() string {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.accessToken
}

// FeedToken returns the current market feed token.
func (sc *SmartConnect) FeedToken() string {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.feedToken
}

// APIKey returns the configured API key.
func (sc *SmartConnect) APIKey() string { return sc.apiKey }

// UserID returns the logged-in client code.
func (sc *SmartConnect) UserID() string {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.userID
}

// GenerateSession logs in with client code, password and a current TOTP
// and stores the returned tokens.
func (sc *SmartConnect) GenerateSession(ctx context.Context, clientCode, password, totp string) (Session, error) {
	var data struct {
		JWTToken     string `json:"jwtToken"`
		RefreshToken string `json:"refreshToken"`
		FeedToken    string `json:"feedToken"`
	}
	params := map[string]any{"clientcode": clientCode, "password": password, "totp": totp}
	if err := sc.call(ctx, http.MethodPost, "api.login", "", params, &data); err != nil {
		return Session{}, fmt.Errorf("login: %w", err)
	}
	if data.JWTToken == "" {
		return Session{}, errors.New("login: empty jwt in response")
	}

	sc.mu.Lock()
	sc.accessToken = data.JWTToken
	sc.refreshToken = data.RefreshToken
	sc.feedToken = data.FeedToken
	sc.userID = clientCode
	sc.mu.Unlock()

	return Session{
		ClientCode:   clientCode,
		JWTToken:     data.JWTToken,
		RefreshToken: data.RefreshToken,
		FeedToken:    data.FeedToken,
	}, nil
}

// TerminateSession logs the client out.
func (sc *SmartConnect) TerminateSession(ctx context.Context) error {
	return sc.call(ctx, http.MethodPost, "api.logout", "", map[string]any{"clientcode": sc.UserID()}, nil)
}

// ---- Orders ----

// OrderParams is a placeOrder / modifyOrder request body.
type OrderParams struct {
	Variety         string `json:"variety"`
	OrderID         string `json:"orderid,omitempty"`
	TradingSymbol   string `json:"tradingsymbol"`
	SymbolToken     string `json:"symboltoken"`
	TransactionType string `json:"transactiontype"`
	Exchange        string `json:"exchange"`
	OrderType       string `json:"ordertype"`
	ProductType     string `json:"producttype"`
	Duration        string `json:"duration"`
	Price           string `json:"price,omitempty"`
	TriggerPrice    string `json:"triggerprice,omitempty"`
	Quantity        int64  `json:"quantity,string"`
}

func (p *OrderParams) defaults() {
	if p.Variety == "" {
		p.Variety = "NORMAL"
	}
	if p.Duration == "" {
		p.Duration = "DAY"
	}
	if p.Price == "" {
		p.Price = "0"
	}
}

// PlaceOrder places an order and returns its unique order id, which is the
// key for OrderDetails.
func (sc *SmartConnect) PlaceOrder(ctx context.Context, p OrderParams) (string, error) {
	p.defaults()
	var data struct {
		OrderID       string `json:"orderid"`
		UniqueOrderID string `json:"uniqueorderid"`
	}
	if err := sc.call(ctx, http.MethodPost, "api.order.place", "", p, &data); err != nil {
		return "", fmt.Errorf("place order: %w", err)
	}
	if data.UniqueOrderID != "" {
		return data.UniqueOrderID, nil
	}
	if data.OrderID != "" {
		return data.OrderID, nil
	}
	return "", errors.New("place order: no order id in response")
}

// OrderStatus is the subset of order details used to confirm a fill.
type OrderStatus struct {
	OrderID       string  `json:"orderid"`
	UniqueOrderID string  `json:"uniqueorderid"`
	Status        string  `json:"status"` // open, complete, rejected, cancelled, ...
	Text          string  `json:"text"`
	FilledShares  string  `json:"filledshares"`
	AveragePrice  float64 `json:"averageprice"`
}

// Final reports whether the order will not change any more.
func (s OrderStatus) Final() bool {
	switch strings.ToLower(s.Status) {
	case "complete", "rejected", "cancelled":
		return true
	}
	return false
}

// OrderDetails fetches the status of a single order by unique order id.
func (sc *SmartConnect) OrderDetails(ctx context.Context, uniqueOrderID string) (OrderStatus, error) {
	var st OrderStatus
	err := sc.call(ctx, http.MethodGet, "api.order.details", url.PathEscape(uniqueOrderID), nil, &st)
	if err != nil {
		return OrderStatus{}, fmt.Errorf("order details %s: %w", uniqueOrderID, err)
	}
	return st, nil
}

// CancelOrder cancels an open order.
func (sc *SmartConnect) CancelOrder(ctx context.Context, orderID, variety string) error {
	return sc.call(ctx, http.MethodPost, "api.order.cancel", "", map[string]any{"variety": variety, "orderid": orderID}, nil)
}

// ---- GTT ----

// GTTRule is a createRule / modifyRule request body.
type GTTRule struct {
	ID              string `json:"id,omitempty"`
	TradingSymbol   string `json:"tradingsymbol"`
	SymbolToken     string `json:"symboltoken"`
	Exchange        string `json:"exchange"`
	TransactionType string `json:"transactiontype"`
	ProductType     string `json:"producttype"`
	Price           string `json:"price"`
	Qty             int64  `json:"qty,string"`
	TriggerPrice    string `json:"triggerprice"`
	DisclosedQty    int64  `json:"disclosedqty,string"`
}

// GTTCreateRule creates a GTT rule and returns its id.
func (sc *SmartConnect) GTTCreateRule(ctx context.Context, r GTTRule) (string, error) {
	return sc.gtt(ctx, "api.gtt.create", r)
}

// GTTModifyRule updates an existing rule and returns its id.
func (sc *SmartConnect) GTTModifyRule(ctx context.Context, r GTTRule) (string, error) {
	return sc.gtt(ctx, "api.gtt.modify", r)
}

func (sc *SmartConnect) gtt(ctx context.Context, route string, r GTTRule) (string, error) {
	var data struct {
		ID json.Number `json:"id"`
	}
	if err := sc.call(ctx, http.MethodPost, route, "", r, &data); err != nil {
		return "", fmt.Errorf("gtt: %w", err)
	}
	if data.ID == "" {
		return "", errors.New("gtt: no rule id in response")
	}
	return data.ID.String(), nil
}

// ---- Transport ----

type envelope struct {
	Status    *bool           `json:"status"`
	Message   string          `json:"message"`
	ErrorCode string          `json:"errorcode"`
	ErrorType string          `json:"error_type"`
	Data      json.RawMessage `json:"data"`
}

func (sc *SmartConnect) requestHeaders() http.Header {
	h := http.Header{}
	h.Set("Content-Type", "application/json")
	h.Set("Accept", "application/json")
	h.Set("X-ClientLocalIP", sc.clientLocalIP)
	h.Set("X-ClientPublicIP", sc.clientPublicIP)
	h.Set("X-MACAddress", sc.clientMAC)
	h.Set("X-PrivateKey", sc.apiKey)
	h.Set("X-UserType", "USER")
	h.Set("X-SourceID", "WEB")
	if tok := sc.AccessToken(); tok != "" {
		h.Set("Authorization", "Bearer "+tok)
	}
	return h
}

// call performs a request on route (plus an optional path suffix) and
// decodes the envelope's data field into out.
func (sc *SmartConnect) call(ctx context.Context, method, route, suffix string, body any, out any) error {
	uri, ok := routes[route]
	if !ok {
		return fmt.Errorf("unknown route: %s", route)
	}
	if strings.Contains(uri, "/secure/") && sc.AccessToken() == "" {
		return ErrNoSession
	}

	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(b)
	}

	reqURL := sc.rootURL + uri + suffix
	req, err := http.NewRequestWithContext(ctx, method, reqURL, rd)
	if err != nil {
		return err
	}
	req.Header = sc.requestHeaders()

	if sc.debug {
		log.Printf("[smartapi] request: %s %s", method, reqURL)
	}

	resp, err := sc.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if sc.debug {
		log.Printf("[smartapi] response: code=%d body=%s", resp.StatusCode, string(raw))
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("couldn't parse JSON response (http %d): %w", resp.StatusCode, err)
	}
	if env.ErrorType != "" {
		if sc.SessionExpiryHook != nil && resp.StatusCode == http.StatusForbidden && env.ErrorType == "TokenException" {
			sc.SessionExpiryHook()
		}
		return &APIError{StatusCode: resp.StatusCode, ErrorType: env.ErrorType, Message: env.Message}
	}
	if (env.Status != nil && !*env.Status) || resp.StatusCode >= http.StatusBadRequest {
		return &APIError{StatusCode: resp.StatusCode, ErrorCode: env.ErrorCode, Message: env.Message}
	}
	if out == nil || len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	return json.Unmarshal(env.Data, out)
}
