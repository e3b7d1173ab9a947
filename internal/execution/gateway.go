package execution

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"trading-riskv1/internal/model"
	"trading-riskv1/internal/sizing"
)

// GatewayExecutor posts orders to an HTTP order gateway as
// POST {base}/{action}?{query}, e.g. POST /exit?symbol=M%26M.
type GatewayExecutor struct {
	baseURL string
	client  *http.Client
}

type gatewayResponse struct {
	Status  string          `json:"status"`
	OrderID string          `json:"order_id"`
	Price   decimal.Decimal `json:"price"`
	Qty     int64           `json:"qty"`
	Message string          `json:"message"`
}

// NewGatewayExecutor creates a gateway executor.
func NewGatewayExecutor(baseURL string, timeout time.Duration) *GatewayExecutor {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &GatewayExecutor{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// Execute sends order and waits for the gateway's answer.
func (g *GatewayExecutor) Execute(ctx context.Context, order sizing.ConcreteOrder) (model.Fill, error) {
	reqURL := g.baseURL + "/" + order.Action() + "?" + order.Query()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, nil)
	if err != nil {
		return model.Fill{}, fmt.Errorf("gateway: create request: %w", err)
	}
	req.Header.Set("X-Order-ID", order.ID)
	req.Header.Set("X-Instrument-Token", order.Token)

	resp, err := g.client.Do(req)
	if err != nil {
		return model.Fill{}, fmt.Errorf("gateway: send: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return model.Fill{}, fmt.Errorf("gateway: read: %w", err)
	}
	var out gatewayResponse
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &out); err != nil {
			return model.Fill{}, fmt.Errorf("gateway: decode (http %d): %w", resp.StatusCode, err)
		}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return model.Fill{}, fmt.Errorf("gateway: unexpected status %d: %s", resp.StatusCode, out.Message)
	}
	if !strings.EqualFold(out.Status, "success") {
		return model.Fill{}, fmt.Errorf("%w: %s", ErrRejected, out.Message)
	}

	price := out.Price
	if !price.IsPositive() {
		price = order.RefPrice
	}
	fill := order.Fill(price)
	if out.Qty > 0 {
		fill.Qty = out.Qty
	}
	fill.FilledAt = time.Now()
	return fill, nil
}
