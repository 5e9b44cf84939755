package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"spotbot-core/internal/events"
	"spotbot-core/internal/model"
	"spotbot-core/pkg/db"
	"spotbot-core/pkg/exchange"
)

// fakeStore is an in-memory Store for exercising the engine without a
// real database.
type fakeStore struct {
	mu          sync.Mutex
	settings    model.Settings
	hasSettings bool
	trades      map[string]model.ActiveTrade
	ledger      []model.CompletedTrade
}

func newFakeStore() *fakeStore {
	return &fakeStore{trades: make(map[string]model.ActiveTrade)}
}

func (s *fakeStore) SaveSettings(ctx context.Context, set model.Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings, s.hasSettings = set, true
	return nil
}

func (s *fakeStore) LoadSettings(ctx context.Context) (model.Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.hasSettings {
		return model.Settings{}, db.ErrNotFound
	}
	return s.settings, nil
}

func (s *fakeStore) SaveActiveTrade(ctx context.Context, symbol string, trade model.ActiveTrade) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trades[symbol] = trade
	return nil
}

func (s *fakeStore) DeleteActiveTrade(ctx context.Context, symbol string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.trades, symbol)
	return nil
}

func (s *fakeStore) LoadActiveTrades(ctx context.Context) (map[string]model.ActiveTrade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]model.ActiveTrade, len(s.trades))
	for k, v := range s.trades {
		out[k] = v
	}
	return out, nil
}

func (s *fakeStore) SaveLedgerItem(ctx context.Context, trade model.CompletedTrade) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ledger = append(s.ledger, trade)
	return nil
}

func (s *fakeStore) LoadLedger(ctx context.Context, limit int) ([]model.CompletedTrade, error) {
	return nil, nil
}

// fakeGateway is a scriptable exchange.Gateway for deterministic
// scenario tests; it fills every order at the ticker's last price.
type fakeGateway struct {
	mu           sync.Mutex
	permissionOK bool
	orderErr     error
	tickers      []model.Ticker
	klines       map[string][]model.OHLCV
	balances     map[string]model.Balance
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		permissionOK: true,
		klines:       make(map[string][]model.OHLCV),
		balances:     make(map[string]model.Balance),
	}
}

func (g *fakeGateway) Initialize(ctx context.Context) error { return nil }

func (g *fakeGateway) ValidateAPIKeyPermissions(ctx context.Context) (bool, error) {
	return g.permissionOK, nil
}

func (g *fakeGateway) FetchTickers(ctx context.Context) ([]model.Ticker, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]model.Ticker, len(g.tickers))
	copy(out, g.tickers)
	return out, nil
}

func (g *fakeGateway) FetchOHLCV(ctx context.Context, symbol, timeframe string, limit int) ([]model.OHLCV, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.klines[symbol], nil
}

func (g *fakeGateway) GetBalance(ctx context.Context) (map[string]model.Balance, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make(map[string]model.Balance, len(g.balances))
	for k, v := range g.balances {
		out[k] = v
	}
	return out, nil
}

func (g *fakeGateway) PlaceOrder(ctx context.Context, symbol string, side exchange.Side, amount, price float64) (model.FilledOrder, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.orderErr != nil {
		return model.FilledOrder{}, g.orderErr
	}
	last := 0.0
	for _, t := range g.tickers {
		if t.Symbol == symbol {
			last = t.Last
		}
	}
	cost := amount * last
	base := strings.TrimSuffix(symbol, "USDT")
	switch side {
	case exchange.SideBuy:
		q := g.balances["USDT"]
		q.Free -= cost
		q.Total = q.Free
		g.balances["USDT"] = q
		b := g.balances[base]
		b.Free += amount
		b.Total = b.Free
		g.balances[base] = b
	case exchange.SideSell:
		b := g.balances[base]
		b.Free -= amount
		b.Total = b.Free
		g.balances[base] = b
		q := g.balances["USDT"]
		q.Free += cost
		q.Total = q.Free
		g.balances["USDT"] = q
	}
	return model.FilledOrder{ID: fmt.Sprintf("fake-%s-%s", symbol, side), Price: last, Average: last, Filled: amount, Amount: amount, Cost: cost}, nil
}

func newTestEngine(t *testing.T) (*Engine, *fakeStore, *fakeGateway) {
	t.Helper()
	store := newFakeStore()
	gw := newFakeGateway()
	gw.balances["USDT"] = model.Balance{Free: 1000, Total: 1000}
	bus := events.NewBus()
	e := New(gw, store, bus, nil, nil)
	if err := e.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	return e, store, gw
}

func applySettings(t *testing.T, e *Engine, mutate func(*model.Settings)) {
	t.Helper()
	s := model.DefaultSettings()
	mutate(&s)
	if err := e.UpdateSettings(context.Background(), s); err != nil {
		t.Fatalf("UpdateSettings: %v", err)
	}
}

func ptr(f float64) *float64 { return &f }

func TestTakeProfitPath(t *testing.T) {
	e, store, _ := newTestEngine(t)
	ctx := context.Background()
	applySettings(t, e, func(s *model.Settings) {
		s.TradeAmountQuote = 10
		s.TargetProfitPct = 10
		s.StopLossPct = 5
		s.MaxOpenTrades = 1
		s.RSIBuyThreshold = 30
		s.UseTrailingStop = false
	})

	e.mu.Lock()
	e.usdtBalance = 1000
	e.marketData = []model.Coin{{
		Symbol: "LTCUSDT", BaseAsset: "LTC", QuoteAsset: "USDT",
		Price: 0.50, QuoteVolume: 1000,
		RSI: ptr(25), SMAShort: ptr(10), SMALong: ptr(5),
	}}
	e.executeStrategy(ctx)
	e.mu.Unlock()

	trade, ok := e.activeTrades["LTCUSDT"]
	if !ok {
		t.Fatal("expected LTCUSDT to be bought")
	}
	if trade.PurchasePrice != 0.50 || trade.Amount != 20 {
		t.Fatalf("unexpected trade %+v", trade)
	}
	if _, ok := store.trades["LTCUSDT"]; !ok {
		t.Fatal("expected trade to be persisted")
	}

	// Next scan: price rises to the take-profit level, and the rally has
	// lifted RSI above the buy threshold so the buy path does not reopen it.
	e.mu.Lock()
	e.portfolio = []model.PortfolioItem{{Symbol: "LTCUSDT", BaseAsset: "LTC", QuoteAsset: "USDT", Free: 20}}
	e.marketData[0].Price = 0.60
	e.marketData[0].RSI = ptr(70)
	e.executeStrategy(ctx)
	e.mu.Unlock()

	if _, ok := e.activeTrades["LTCUSDT"]; ok {
		t.Fatal("expected position to be closed")
	}
	if len(store.ledger) != 2 {
		t.Fatalf("expected BUY+SELL ledger rows, got %d", len(store.ledger))
	}
	sell := store.ledger[1]
	if sell.Type != model.TradeSell {
		t.Fatalf("expected SELL row, got %s", sell.Type)
	}
	if sell.ProfitPercent == nil || *sell.ProfitPercent < 19 || *sell.ProfitPercent > 21 {
		t.Fatalf("expected ~20%% profit, got %v", sell.ProfitPercent)
	}
}

func TestStopLossPath(t *testing.T) {
	e, store, _ := newTestEngine(t)
	ctx := context.Background()
	// 20 quote buys 40 units at 0.50, so the stop-loss sell at 0.47
	// (notional 18.8) stays above the minTradeValueQuote dust floor.
	applySettings(t, e, func(s *model.Settings) {
		s.TradeAmountQuote = 20
		s.TargetProfitPct = 10
		s.StopLossPct = 5
		s.MaxOpenTrades = 1
		s.UseTrailingStop = false
	})

	e.mu.Lock()
	e.usdtBalance = 1000
	e.marketData = []model.Coin{{Symbol: "LTCUSDT", BaseAsset: "LTC", QuoteAsset: "USDT", Price: 0.50, QuoteVolume: 1000, RSI: ptr(25), SMAShort: ptr(10), SMALong: ptr(5)}}
	e.executeStrategy(ctx)

	// Next scan: the drop has pulled smaShort below smaLong, so the buy
	// path does not reopen the position after the stop-loss sell.
	e.portfolio = []model.PortfolioItem{{Symbol: "LTCUSDT", BaseAsset: "LTC", QuoteAsset: "USDT", Free: 40}}
	e.marketData[0].Price = 0.47
	e.marketData[0].SMAShort = ptr(4)
	e.executeStrategy(ctx)
	e.mu.Unlock()

	if _, ok := e.activeTrades["LTCUSDT"]; ok {
		t.Fatal("expected position to be stopped out")
	}
	sell := store.ledger[len(store.ledger)-1]
	if sell.ProfitPercent == nil || *sell.ProfitPercent > -5 || *sell.ProfitPercent < -7 {
		t.Fatalf("expected ~-6%% loss, got %v", sell.ProfitPercent)
	}
}

func TestTrailingStopArmsAndTriggers(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()
	applySettings(t, e, func(s *model.Settings) {
		s.UseTrailingStop = true
		s.TrailingStopArmPct = 1
		s.TrailingStopOffPct = 0.5
		s.StopLossPct = 5
		s.TargetProfitPct = 50
	})

	purchase := 100.0
	e.mu.Lock()
	e.activeTrades["FOOUSDT"] = model.ActiveTrade{PurchasePrice: purchase, Amount: 1, Timestamp: time.Now(), HighestPriceSinceBuy: &purchase}
	e.portfolio = []model.PortfolioItem{{Symbol: "FOOUSDT", BaseAsset: "FOO", QuoteAsset: "USDT", Free: 1}}
	e.marketData = []model.Coin{{Symbol: "FOOUSDT", BaseAsset: "FOO", QuoteAsset: "USDT", Price: purchase}}
	e.mu.Unlock()

	ticks := []float64{100, 100.5, 101.2, 100.6}
	for i, price := range ticks {
		e.mu.Lock()
		e.marketData[0].Price = price
		e.executeSells(ctx)
		_, stillOpen := e.activeTrades["FOOUSDT"]
		e.mu.Unlock()

		if i < len(ticks)-1 && !stillOpen {
			t.Fatalf("position closed early at tick %d (price=%.2f)", i, price)
		}
		if i == len(ticks)-1 && stillOpen {
			t.Fatal("expected trailing stop to close the position on the final tick")
		}
	}
}

func TestReconciliationDropsUnbackedPosition(t *testing.T) {
	e, store, _ := newTestEngine(t)
	ctx := context.Background()

	e.mu.Lock()
	e.activeTrades["FOOUSDT"] = model.ActiveTrade{PurchasePrice: 1, Amount: 5, Timestamp: time.Now()}
	e.marketData = []model.Coin{{Symbol: "FOOUSDT", Price: 1.1}}
	e.portfolio = nil // balance disappeared externally
	ledgerBefore := len(store.ledger)
	e.executeSells(ctx)
	e.mu.Unlock()

	if _, ok := e.activeTrades["FOOUSDT"]; ok {
		t.Fatal("expected reconciliation to drop the position")
	}
	if _, ok := store.trades["FOOUSDT"]; ok {
		t.Fatal("expected the deletion to be persisted")
	}
	if len(store.ledger) != ledgerBefore {
		t.Fatal("reconciliation must never fabricate a ledger entry")
	}
}

func TestAdmissionControlBlocksBuyAtCapacity(t *testing.T) {
	e, store, _ := newTestEngine(t)
	ctx := context.Background()
	applySettings(t, e, func(s *model.Settings) {
		s.MaxOpenTrades = 1
		s.RSIBuyThreshold = 30
	})

	e.mu.Lock()
	e.usdtBalance = 1000
	e.activeTrades["BARUSDT"] = model.ActiveTrade{PurchasePrice: 1, Amount: 10, Timestamp: time.Now()}
	e.marketData = []model.Coin{{
		Symbol: "LTCUSDT", Price: 0.5, QuoteVolume: 1000,
		RSI: ptr(10), SMAShort: ptr(10), SMALong: ptr(5),
	}}
	e.executeBuys(ctx)
	e.mu.Unlock()

	if _, ok := e.activeTrades["LTCUSDT"]; ok {
		t.Fatal("expected admission control to reject the buy at capacity")
	}
	if len(store.ledger) != 0 {
		t.Fatal("expected no ledger entry for a rejected buy")
	}
}

func TestDustGuardSkipsSubMinimumSell(t *testing.T) {
	e, store, _ := newTestEngine(t)
	ctx := context.Background()
	applySettings(t, e, func(s *model.Settings) { s.StopLossPct = 1; s.TargetProfitPct = 50 })

	e.mu.Lock()
	e.activeTrades["FOOUSDT"] = model.ActiveTrade{PurchasePrice: 1, Amount: 1, Timestamp: time.Now()}
	e.portfolio = []model.PortfolioItem{{Symbol: "FOOUSDT", Free: 1}}
	e.marketData = []model.Coin{{Symbol: "FOOUSDT", Price: 0.5}} // notional 0.5 < minTradeValueQuote
	e.executeSells(ctx)
	e.mu.Unlock()

	if _, ok := e.activeTrades["FOOUSDT"]; !ok {
		t.Fatal("expected dust guard to leave the position open")
	}
	if len(store.ledger) != 0 {
		t.Fatal("expected no order to be placed below the dust floor")
	}
}

func TestInitializeRefusesWithdrawalCapableCredentials(t *testing.T) {
	store := newFakeStore()
	gw := newFakeGateway()
	gw.permissionOK = false
	bus := events.NewBus()
	e := New(gw, store, bus, nil, nil)

	if err := e.Initialize(context.Background()); err == nil {
		t.Fatal("expected Initialize to fail on withdrawal-capable credentials")
	}
	if e.Status() != model.StatusError {
		t.Fatalf("expected ERROR status, got %s", e.Status())
	}

	e.Start()
	if e.Status() != model.StatusError {
		t.Fatal("Start from ERROR must not transition the engine")
	}
}

func TestStartStopIdempotent(t *testing.T) {
	e, _, _ := newTestEngine(t)
	applySettings(t, e, func(s *model.Settings) { s.ScanIntervalMs = 60000 })

	e.Start()
	e.Start() // double-start: warning, no second timer
	time.Sleep(20 * time.Millisecond)
	if e.Status() != model.StatusRunning {
		t.Fatalf("expected RUNNING, got %s", e.Status())
	}

	e.Stop(false)
	e.Stop(false) // double-stop: no-op
	if e.Status() != model.StatusStopped {
		t.Fatalf("expected STOPPED, got %s", e.Status())
	}
}
