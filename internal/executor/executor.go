package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/mukhametgalin/predict-trading-system/execution-engine/internal/types"
)

// maxBuyPlaces is the precision used when maxBuy is estimated from the
// available quote balance.
const maxBuyPlaces = 8

// Client talks to an OKX-style exchange gateway over JSON. It serves as
// both the live Venue and the live Account.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewClient builds a client paced at rps requests per second. A zero rps
// disables pacing.
func NewClient(baseURL, apiKey string, rps float64) *Client {
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		limiter: rate.NewLimiter(limit, 1),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// envelope is the gateway's response wrapper. Code "0" means success.
type envelope struct {
	Code string          `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

type placeOrderBody struct {
	InstID  string `json:"instId"`
	TdMode  string `json:"tdMode"`
	Side    string `json:"side"`
	OrdType string `json:"ordType"`
	Size    string `json:"sz"`
	ClOrdID string `json:"clOrdId,omitempty"`
	// sizes are always base currency
	TgtCcy string `json:"tgtCcy,omitempty"`
}

type orderIDData struct {
	OrdID   string `json:"ordId"`
	ClOrdID string `json:"clOrdId"`
	SCode   string `json:"sCode"`
	SMsg    string `json:"sMsg"`
}

type orderData struct {
	OrdID     string `json:"ordId"`
	AccFillSz string `json:"accFillSz"`
	AvgPx     string `json:"avgPx"`
	State     string `json:"state"`
}

type maxSizeData struct {
	MaxBuy    string `json:"maxBuy"`
	MaxSell   string `json:"maxSell"`
	AvailBuy  string `json:"availBuy"`
	AvailSell string `json:"availSell"`
}

func (c *Client) Available() bool {
	return c != nil && c.baseURL != ""
}

// PlaceOrder submits a market or limit order. Rejections by the gateway
// come back as an unsuccessful ack, transport failures as an error.
func (c *Client) PlaceOrder(ctx context.Context, req types.OrderRequest) (types.OrderAck, error) {
	body := placeOrderBody{
		InstID:  req.Symbol,
		TdMode:  req.TdMode,
		Side:    string(req.Side),
		OrdType: req.Type,
		Size:    req.Size.String(),
		ClOrdID: req.ClientOrderID,
	}
	if body.TdMode == "" {
		body.TdMode = "cash"
	}
	if body.OrdType == "" {
		body.OrdType = "market"
	}
	if body.OrdType == "market" {
		body.TgtCcy = "base_ccy"
	}

	env, err := c.do(ctx, http.MethodPost, "/api/v5/trade/order", nil, body)
	if err != nil {
		return types.OrderAck{}, fmt.Errorf("failed to place order: %w", err)
	}

	var data []orderIDData
	if err := decodeData(env, &data); err != nil {
		return types.OrderAck{}, err
	}
	if env.Code != "0" {
		msg := env.Msg
		if len(data) > 0 && data[0].SMsg != "" {
			msg = data[0].SMsg
		}
		return types.OrderAck{Success: false, Error: fmt.Sprintf("%s (code %s)", msg, env.Code)}, nil
	}
	if len(data) == 0 {
		return types.OrderAck{Success: false, Error: "empty order response"}, nil
	}

	log.Info().
		Str("symbol", req.Symbol).
		Str("side", string(req.Side)).
		Str("size", body.Size).
		Str("order_id", data[0].OrdID).
		Msg("Order placed successfully")

	return types.OrderAck{Success: true, OrderID: data[0].OrdID}, nil
}

func (c *Client) CancelOrder(ctx context.Context, symbol, orderID string) error {
	body := map[string]string{"instId": symbol, "ordId": orderID}
	env, err := c.do(ctx, http.MethodPost, "/api/v5/trade/cancel-order", nil, body)
	if err != nil {
		return fmt.Errorf("failed to cancel order: %w", err)
	}
	if env.Code != "0" {
		return fmt.Errorf("cancel rejected: %s (code %s)", env.Msg, env.Code)
	}
	return nil
}

// OrderDetail returns nil, nil when the gateway knows nothing about the
// order.
func (c *Client) OrderDetail(ctx context.Context, symbol, orderID string) (*types.OrderDetail, error) {
	q := url.Values{"instId": {symbol}, "ordId": {orderID}}
	env, err := c.do(ctx, http.MethodGet, "/api/v5/trade/order", q, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch order: %w", err)
	}
	if env.Code != "0" {
		return nil, nil
	}

	var data []orderData
	if err := decodeData(env, &data); err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, nil
	}
	return &types.OrderDetail{
		OrderID:    data[0].OrdID,
		FilledSize: parseFloat(data[0].AccFillSz),
		AvgPrice:   parseFloat(data[0].AvgPx),
		State:      data[0].State,
	}, nil
}

// MaxAvailableSize returns buy and sell limits in base currency. When the
// gateway only reports the available quote balance, maxBuy is estimated
// from lastPrice and rounded down.
func (c *Client) MaxAvailableSize(ctx context.Context, symbol string, lastPrice float64) (types.MaxSize, error) {
	q := url.Values{"instId": {symbol}, "tdMode": {"cash"}}
	env, err := c.do(ctx, http.MethodGet, "/api/v5/account/max-avail-size", q, nil)
	if err != nil {
		return types.MaxSize{}, fmt.Errorf("failed to fetch max size: %w", err)
	}
	if env.Code != "0" {
		return types.MaxSize{}, fmt.Errorf("max size rejected: %s (code %s)", env.Msg, env.Code)
	}

	var data []maxSizeData
	if err := decodeData(env, &data); err != nil {
		return types.MaxSize{}, err
	}
	if len(data) == 0 {
		return types.MaxSize{}, nil
	}
	d := data[0]
	if d.MaxBuy != "" || d.MaxSell != "" {
		return types.MaxSize{MaxBuy: parseFloat(d.MaxBuy), MaxSell: parseFloat(d.MaxSell)}, nil
	}

	out := types.MaxSize{MaxSell: parseFloat(d.AvailSell)}
	if quote, err := decimal.NewFromString(d.AvailBuy); err == nil && quote.IsPositive() && lastPrice > 0 {
		out.MaxBuy = quote.Div(decimal.NewFromFloat(lastPrice)).Truncate(maxBuyPlaces).InexactFloat64()
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, payload interface{}) (*envelope, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var body io.Reader
	if payload != nil {
		jsonData, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal payload: %w", err)
		}
		body = bytes.NewReader(jsonData)
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("gateway returned status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &env, nil
}

func decodeData(env *envelope, v interface{}) error {
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, v); err != nil {
		return fmt.Errorf("failed to decode data: %w", err)
	}
	return nil
}

func parseFloat(s string) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}
