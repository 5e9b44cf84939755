// Package binance implements the exchange.Gateway port against the
// Binance spot REST API, grounded on the teacher's
// pkg/exchanges/binance/spot/binance.go HMAC-signed request pattern.
package binance

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"spotbot-core/internal/model"
	"spotbot-core/pkg/exchange"
)

// Config holds the venue credentials and mode.
type Config struct {
	APIKey     string
	APISecret  string
	Sandbox    bool
	RecvWindow int64 // ms
}

// Client is a Binance spot REST client implementing exchange.Gateway.
type Client struct {
	cfg         Config
	baseURL     string
	httpClient  *http.Client
	timeSync    *exchange.TimeSync
	rateLimiter *exchange.RateLimiter
}

// New builds a client. Sandbox routes to testnet.binance.vision.
func New(cfg Config) *Client {
	base := "https://api.binance.com"
	if cfg.Sandbox {
		base = "https://testnet.binance.vision"
	}
	if cfg.RecvWindow == 0 {
		cfg.RecvWindow = 5000
	}
	c := &Client{
		cfg:         cfg,
		baseURL:     base,
		httpClient:  &http.Client{Timeout: exchange.CallTimeout},
		rateLimiter: exchange.NewRateLimiter(1200, time.Minute),
	}
	c.timeSync = exchange.NewTimeSync(c.serverTime)
	return c
}

var _ exchange.Gateway = (*Client)(nil)

// Initialize syncs the server clock and validates that credentials
// cannot withdraw, per spec.md §4.C.
func (c *Client) Initialize(ctx context.Context) error {
	if err := c.timeSync.Sync(); err != nil {
		return fmt.Errorf("binance: time sync: %w", err)
	}
	ok, err := c.ValidateAPIKeyPermissions(ctx)
	if err != nil {
		return fmt.Errorf("binance: validate permissions: %w", err)
	}
	if !ok {
		return errors.New("binance: credentials grant withdrawal capability, refusing to initialize")
	}
	return nil
}

// ValidateAPIKeyPermissions returns false when the account can withdraw.
func (c *Client) ValidateAPIKeyPermissions(ctx context.Context) (bool, error) {
	if c.cfg.APIKey == "" || c.cfg.APISecret == "" {
		return false, errors.New("binance: API key/secret required")
	}
	info, err := c.accountInfo(ctx)
	if err != nil {
		return false, err
	}
	return !info.CanWithdraw, nil
}

func (c *Client) FetchTickers(ctx context.Context) ([]model.Ticker, error) {
	body, err := c.get(ctx, "/api/v3/ticker/24hr", nil)
	if err != nil {
		return nil, err
	}
	var raw []struct {
		Symbol             string `json:"symbol"`
		LastPrice          string `json:"lastPrice"`
		Volume             string `json:"volume"`
		QuoteVolume        string `json:"quoteVolume"`
		PriceChangePercent string `json:"priceChangePercent"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("binance: decode tickers: %w", err)
	}
	out := make([]model.Ticker, 0, len(raw))
	for _, r := range raw {
		last := parseFloat(r.LastPrice)
		if last <= 0 {
			continue
		}
		out = append(out, model.Ticker{
			Symbol:      r.Symbol,
			Last:        last,
			BaseVolume:  parseFloat(r.Volume),
			QuoteVolume: parseFloat(r.QuoteVolume),
			Percentage:  parseFloat(r.PriceChangePercent),
		})
	}
	return out, nil
}

func (c *Client) FetchOHLCV(ctx context.Context, symbol, timeframe string, limit int) ([]model.OHLCV, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("interval", timeframe)
	params.Set("limit", strconv.Itoa(limit))

	body, err := c.get(ctx, "/api/v3/klines", params)
	if err != nil {
		return nil, err
	}
	var raw [][]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("binance: decode klines: %w", err)
	}
	out := make([]model.OHLCV, 0, len(raw))
	for _, row := range raw {
		if len(row) < 6 {
			continue
		}
		out = append(out, model.OHLCV{
			OpenTime: time.UnixMilli(toInt64(row[0])),
			Open:     toFloat(row[1]),
			High:     toFloat(row[2]),
			Low:      toFloat(row[3]),
			Close:    toFloat(row[4]),
			Volume:   toFloat(row[5]),
		})
	}
	return out, nil
}

func (c *Client) GetBalance(ctx context.Context) (map[string]model.Balance, error) {
	info, err := c.accountInfo(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]model.Balance, len(info.Balances))
	for _, b := range info.Balances {
		free := parseFloat(b.Free)
		locked := parseFloat(b.Locked)
		out[b.Asset] = model.Balance{Free: free, Used: locked, Total: free + locked}
	}
	return out, nil
}

func (c *Client) PlaceOrder(ctx context.Context, symbol string, side exchange.Side, amount float64, _ float64) (model.FilledOrder, error) {
	if c.cfg.APIKey == "" || c.cfg.APISecret == "" {
		return model.FilledOrder{}, errors.New("binance: API key/secret required")
	}
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("side", strings.ToUpper(string(side)))
	params.Set("type", "MARKET")
	params.Set("quantity", formatFloat(amount))

	body, err := c.doSigned(ctx, http.MethodPost, "/api/v3/order", params)
	if err != nil {
		return model.FilledOrder{}, err
	}
	var resp struct {
		OrderID             int64  `json:"orderId"`
		Price               string `json:"price"`
		ExecutedQty         string `json:"executedQty"`
		CummulativeQuoteQty string `json:"cummulativeQuoteQty"`
		Fills               []struct {
			Price string `json:"price"`
			Qty   string `json:"qty"`
		} `json:"fills"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return model.FilledOrder{}, fmt.Errorf("binance: decode order response: %w", err)
	}

	filled := parseFloat(resp.ExecutedQty)
	cost := parseFloat(resp.CummulativeQuoteQty)
	avg := 0.0
	if filled > 0 {
		avg = cost / filled
	} else if len(resp.Fills) > 0 {
		avg = parseFloat(resp.Fills[0].Price)
	}

	return model.FilledOrder{
		ID:      strconv.FormatInt(resp.OrderID, 10),
		Price:   parseFloat(resp.Price),
		Average: avg,
		Filled:  filled,
		Amount:  amount,
		Cost:    cost,
	}, nil
}

type accountInfoResp struct {
	CanWithdraw bool `json:"canWithdraw"`
	Balances    []struct {
		Asset  string `json:"asset"`
		Free   string `json:"free"`
		Locked string `json:"locked"`
	} `json:"balances"`
}

func (c *Client) accountInfo(ctx context.Context) (*accountInfoResp, error) {
	body, err := c.doSigned(ctx, http.MethodGet, "/api/v3/account", url.Values{})
	if err != nil {
		return nil, err
	}
	var info accountInfoResp
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("binance: decode account info: %w", err)
	}
	return &info, nil
}

func (c *Client) serverTime() (int64, error) {
	body, err := c.get(context.Background(), "/api/v3/time", nil)
	if err != nil {
		return 0, err
	}
	var resp struct {
		ServerTime int64 `json:"serverTime"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, err
	}
	return resp.ServerTime, nil
}

func (c *Client) get(ctx context.Context, path string, params url.Values) ([]byte, error) {
	u := c.baseURL + path
	if params != nil && len(params) > 0 {
		u += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	return c.do(req)
}

func (c *Client) doSigned(ctx context.Context, method, path string, params url.Values) ([]byte, error) {
	timestamp := time.Now().UnixMilli()
	if c.timeSync != nil && c.timeSync.Offset() != 0 {
		timestamp = c.timeSync.Now()
	}
	params.Set("timestamp", strconv.FormatInt(timestamp, 10))
	params.Set("recvWindow", strconv.FormatInt(c.cfg.RecvWindow, 10))
	params.Set("signature", sign(params.Encode(), c.cfg.APISecret))

	var req *http.Request
	var err error
	encoded := params.Encode()
	switch method {
	case http.MethodGet, http.MethodDelete:
		req, err = http.NewRequestWithContext(ctx, method, c.baseURL+path+"?"+encoded, nil)
	default:
		req, err = http.NewRequestWithContext(ctx, method, c.baseURL+path, strings.NewReader(encoded))
		if err == nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	}
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-MBX-APIKEY", c.cfg.APIKey)
	return c.do(req)
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	if c.rateLimiter != nil {
		c.rateLimiter.UpdateFromHeader(res.Header.Get("X-MBX-USED-WEIGHT-1M"))
	}

	body, _ := io.ReadAll(res.Body)
	if res.StatusCode >= 300 {
		return nil, fmt.Errorf("binance %s %s status %d: %s", req.Method, req.URL.Path, res.StatusCode, string(body))
	}
	return body, nil
}

func sign(payload, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

func toFloat(v any) float64 {
	switch t := v.(type) {
	case string:
		return parseFloat(t)
	case float64:
		return t
	default:
		return 0
	}
}

func toInt64(v any) int64 {
	switch t := v.(type) {
	case float64:
		return int64(t)
	case int64:
		return t
	default:
		return 0
	}
}
