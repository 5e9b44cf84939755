// Package mock implements a synthetic exchange.Gateway for local
// development and as the fallback main.go uses when no credentials are
// configured or the exchange is unsupported, adapted from the teacher's
// internal/market.MockFeed random-walk generator and widened from a
// price-tick publisher into a full stateful Gateway.
package mock

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"spotbot-core/internal/model"
	"spotbot-core/pkg/exchange"
)

const quote = "USDT"

// Gateway is an in-memory venue that walks synthetic prices for a fixed
// symbol universe and fills every order immediately at the last price.
type Gateway struct {
	mu        sync.Mutex
	rng       *rand.Rand
	symbols   []string
	prices    map[string]float64
	history   map[string][]model.OHLCV
	volumes   map[string]float64
	changePct map[string]float64
	balances  map[string]model.Balance
	nextOrder int64
}

// New builds a mock gateway seeded with a small USDT pair universe.
func New() *Gateway {
	symbols := []string{"FOOUSDT", "BARUSDT", "BAZUSDT", "QUXUSDT", "ZAPUSDT"}
	g := &Gateway{
		rng:       rand.New(rand.NewSource(1)),
		symbols:   symbols,
		prices:    make(map[string]float64, len(symbols)),
		history:   make(map[string][]model.OHLCV, len(symbols)),
		volumes:   make(map[string]float64, len(symbols)),
		changePct: make(map[string]float64, len(symbols)),
		balances: map[string]model.Balance{
			quote: {Free: 1000, Used: 0, Total: 1000},
		},
	}
	for i, sym := range symbols {
		start := 1.0 + float64(i)*3.7
		g.prices[sym] = start
		g.volumes[sym] = 500000 + float64(i)*125000
		g.history[sym] = g.seedHistory(start, 200)
	}
	return g
}

var _ exchange.Gateway = (*Gateway)(nil)

func (g *Gateway) seedHistory(start float64, n int) []model.OHLCV {
	out := make([]model.OHLCV, 0, n)
	price := start
	now := time.Now().Add(-time.Duration(n) * 15 * time.Minute)
	for i := 0; i < n; i++ {
		open := price
		price = walk(g.rng, price)
		high := open
		low := open
		if price > high {
			high = price
		}
		if price < low {
			low = price
		}
		out = append(out, model.OHLCV{
			OpenTime: now.Add(time.Duration(i) * 15 * time.Minute),
			Open:     open,
			High:     high,
			Low:      low,
			Close:    price,
			Volume:   100 + g.rng.Float64()*50,
		})
	}
	return out
}

func walk(rng *rand.Rand, price float64) float64 {
	step := price * 0.004
	next := price + (rng.Float64()*2-1)*step
	if next <= 0 {
		next = price
	}
	return next
}

// Initialize is a no-op; the mock gateway always has withdrawal-free keys.
func (g *Gateway) Initialize(ctx context.Context) error {
	return nil
}

// ValidateAPIKeyPermissions always reports the synthetic keys as safe.
func (g *Gateway) ValidateAPIKeyPermissions(ctx context.Context) (bool, error) {
	return true, nil
}

func (g *Gateway) FetchTickers(ctx context.Context) ([]model.Ticker, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make([]model.Ticker, 0, len(g.symbols))
	for _, sym := range g.symbols {
		prev := g.prices[sym]
		next := walk(g.rng, prev)
		g.prices[sym] = next
		g.changePct[sym] = (next - prev) / prev * 100

		hist := g.history[sym]
		last := hist[len(hist)-1]
		hist = append(hist, model.OHLCV{
			OpenTime: last.OpenTime.Add(15 * time.Minute),
			Open:     last.Close,
			High:     max(last.Close, next),
			Low:      min(last.Close, next),
			Close:    next,
			Volume:   100 + g.rng.Float64()*50,
		})
		if len(hist) > 500 {
			hist = hist[len(hist)-500:]
		}
		g.history[sym] = hist

		out = append(out, model.Ticker{
			Symbol:      sym,
			Last:        next,
			BaseVolume:  g.volumes[sym] / next,
			QuoteVolume: g.volumes[sym],
			Percentage:  g.changePct[sym],
		})
	}
	return out, nil
}

func (g *Gateway) FetchOHLCV(ctx context.Context, symbol, timeframe string, limit int) ([]model.OHLCV, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	hist, ok := g.history[symbol]
	if !ok {
		return nil, fmt.Errorf("mock: unknown symbol %s", symbol)
	}
	if limit > len(hist) {
		limit = len(hist)
	}
	out := make([]model.OHLCV, limit)
	copy(out, hist[len(hist)-limit:])
	return out, nil
}

func (g *Gateway) GetBalance(ctx context.Context) (map[string]model.Balance, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make(map[string]model.Balance, len(g.balances))
	for k, v := range g.balances {
		out[k] = v
	}
	return out, nil
}

func (g *Gateway) PlaceOrder(ctx context.Context, symbol string, side exchange.Side, amount, price float64) (model.FilledOrder, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	last, ok := g.prices[symbol]
	if !ok {
		return model.FilledOrder{}, fmt.Errorf("mock: unknown symbol %s", symbol)
	}
	base := baseAsset(symbol)
	cost := amount * last

	switch side {
	case exchange.SideBuy:
		q := g.balances[quote]
		if q.Free < cost {
			return model.FilledOrder{}, fmt.Errorf("mock: insufficient %s balance", quote)
		}
		q.Free -= cost
		q.Total = q.Free + q.Used
		g.balances[quote] = q

		b := g.balances[base]
		b.Free += amount
		b.Total = b.Free + b.Used
		g.balances[base] = b
	case exchange.SideSell:
		b := g.balances[base]
		if b.Free < amount {
			return model.FilledOrder{}, fmt.Errorf("mock: insufficient %s balance", base)
		}
		b.Free -= amount
		b.Total = b.Free + b.Used
		g.balances[base] = b

		q := g.balances[quote]
		q.Free += cost
		q.Total = q.Free + q.Used
		g.balances[quote] = q
	}

	g.nextOrder++
	return model.FilledOrder{
		ID:      fmt.Sprintf("mock-%d", g.nextOrder),
		Price:   last,
		Average: last,
		Filled:  amount,
		Amount:  amount,
		Cost:    cost,
	}, nil
}

func baseAsset(symbol string) string {
	if len(symbol) > len(quote) && symbol[len(symbol)-len(quote):] == quote {
		return symbol[:len(symbol)-len(quote)]
	}
	return symbol
}

func max(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func min(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
