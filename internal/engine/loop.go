package engine

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"spotbot-core/internal/events"
	"spotbot-core/internal/indicators"
	"spotbot-core/internal/model"
	"spotbot-core/internal/monitor"
)

// ExecuteLoop is the single scheduled task invoked every ScanIntervalMs.
// A boolean fast-path refuses to stack a second concurrent iteration;
// the engine mutex held for the rest of the call serialises every
// domain mutation against Start/Stop/UpdateSettings, per spec.md §5.
func (e *Engine) ExecuteLoop(ctx context.Context) {
	if !e.isScanning.CompareAndSwap(false, true) {
		return
	}
	defer e.isScanning.Store(false)

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.isStopping.Load() || e.status != model.StatusRunning {
		return
	}

	if err := e.refreshAccount(ctx); err != nil {
		e.emitLogLocked(model.LogError, fmt.Sprintf("refresh account failed: %v", err))
	}
	if e.isStopping.Load() {
		return
	}

	var scanTimer *monitor.Timer
	if e.metrics != nil {
		scanTimer = monitor.NewTimer(e.metrics.ScanLatency)
	}
	err := e.scanMarket(ctx)
	scanTimer.Stop()
	if err != nil {
		e.emitLogLocked(model.LogError, fmt.Sprintf("scan market failed: %v", err))
	} else if e.metrics != nil {
		e.metrics.IncrementScans()
	}
	if e.isStopping.Load() {
		return
	}

	e.executeStrategy(ctx)
}

// refreshAccount calls GetBalance and splits the result into the quote
// balance and a derived PortfolioItem per non-quote currency held.
// Caller holds mu.
func (e *Engine) refreshAccount(ctx context.Context) error {
	cctx, cancel := context.WithTimeout(ctx, gatewayTimeout)
	defer cancel()

	balances, err := e.gateway.GetBalance(cctx)
	if err != nil {
		return fmt.Errorf("get balance: %w", ErrGatewayTransient)
	}

	items := make([]model.PortfolioItem, 0, len(balances))
	for currency, bal := range balances {
		if bal.Total <= 0 {
			continue
		}
		if currency == quoteAsset {
			e.usdtBalance = bal.Free
			continue
		}
		symbol := currency + quoteAsset
		item := model.PortfolioItem{
			Symbol:     symbol,
			BaseAsset:  currency,
			QuoteAsset: quoteAsset,
			Free:       bal.Free,
			Locked:     bal.Used,
		}
		if trade, ok := e.activeTrades[symbol]; ok {
			p := trade.PurchasePrice
			item.AvgPurchasePrice = &p
			ts := trade.Timestamp
			item.PurchaseTimestamp = &ts
		}
		items = append(items, item)
	}

	e.portfolio = items
	e.bus.Publish(events.KindPortfolio, events.PortfolioEvent{
		QuoteBalance: model.Balance{Free: e.usdtBalance, Total: e.usdtBalance},
		Items:        items,
	})
	return nil
}

// scanMarket fetches the ticker universe, filters and ranks a candidate
// pool, pulls OHLCV per candidate and attaches fresh indicator values.
// Caller holds mu.
func (e *Engine) scanMarket(ctx context.Context) error {
	cctx, cancel := context.WithTimeout(ctx, gatewayTimeout)
	defer cancel()

	tickers, err := e.gateway.FetchTickers(cctx)
	if err != nil {
		return fmt.Errorf("fetch tickers: %w", ErrGatewayTransient)
	}

	filtered := make([]model.Ticker, 0, len(tickers))
	for _, t := range tickers {
		if t.Last < 0 {
			invErr := fmt.Errorf("%s: %w", t.Symbol, ErrInvariantViolation)
			e.emitLogLocked(model.LogWarning, invErr.Error())
			continue
		}
		if !strings.HasSuffix(t.Symbol, quoteAsset) {
			continue
		}
		if t.QuoteVolume <= 0 || t.Last <= 0 {
			continue
		}
		if exclusionSet[t.Symbol] {
			continue
		}
		filtered = append(filtered, t)
	}

	sort.Slice(filtered, func(i, j int) bool { return filtered[i].QuoteVolume > filtered[j].QuoteVolume })
	if len(filtered) > candidatePoolSize {
		filtered = filtered[:candidatePoolSize]
	}

	coins := make([]model.Coin, 0, len(filtered))
	for _, t := range filtered {
		base := strings.TrimSuffix(t.Symbol, quoteAsset)
		coin := model.Coin{
			Symbol:            t.Symbol,
			BaseAsset:         base,
			QuoteAsset:        quoteAsset,
			Price:             t.Last,
			PriceChange24hPct: t.Percentage,
			BaseVolume:        t.BaseVolume,
			QuoteVolume:       t.QuoteVolume,
		}

		candles, err := e.gateway.FetchOHLCV(cctx, t.Symbol, scanTimeframe, scanWindowCandles)
		if err != nil || len(candles) == 0 {
			coins = append(coins, coin)
			continue
		}

		closes := make([]float64, len(candles))
		for i, c := range candles {
			closes[i] = c.Close
		}

		haveRSI := len(closes) >= e.settings.RSIPeriod+1
		haveSMA := len(closes) >= e.settings.SMAShortPeriod && len(closes) >= e.settings.SMALongPeriod
		if haveRSI {
			v := indicators.RSI(closes, e.settings.RSIPeriod)
			if math.IsNaN(v) || math.IsInf(v, 0) {
				invErr := fmt.Errorf("%s rsi: %w", t.Symbol, ErrInvariantViolation)
				e.emitLogLocked(model.LogWarning, invErr.Error())
			} else {
				coin.RSI = &v
			}
		}
		if haveSMA {
			short := indicators.SMA(closes, e.settings.SMAShortPeriod)
			long := indicators.SMA(closes, e.settings.SMALongPeriod)
			if math.IsNaN(short) || math.IsNaN(long) || math.IsInf(short, 0) || math.IsInf(long, 0) {
				invErr := fmt.Errorf("%s sma: %w", t.Symbol, ErrInvariantViolation)
				e.emitLogLocked(model.LogWarning, invErr.Error())
			} else {
				coin.SMAShort = &short
				coin.SMALong = &long
			}
		}
		coins = append(coins, coin)
	}

	sort.Slice(coins, func(i, j int) bool { return coins[i].Price < coins[j].Price })
	e.marketData = coins
	e.bus.Publish(events.KindMarket, events.MarketEvent{Coins: coins})

	indicatorPass := 0
	for _, c := range coins {
		if c.RSI != nil && c.SMAShort != nil && c.SMALong != nil {
			indicatorPass++
		}
	}
	e.emitLogLocked(model.LogStrategyInfo, fmt.Sprintf("scan complete: pool=%d indicatorPass=%d", len(filtered), indicatorPass))

	return nil
}
