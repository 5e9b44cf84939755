package engine

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"spotbot-core/internal/model"
	"spotbot-core/internal/monitor"
	"spotbot-core/pkg/exchange"
)

// executeStrategy evaluates sells before buys, per the ordering
// guarantee in spec.md §5. Caller holds mu.
func (e *Engine) executeStrategy(ctx context.Context) {
	e.executeSells(ctx)
	if e.isStopping.Load() {
		return
	}
	e.executeBuys(ctx)
}

// executeSells walks a deterministic snapshot of activeTrades, reaps
// positions with no matching exchange balance, updates and persists
// trailing-stop state, and sells on a take-profit or stop-loss hit.
func (e *Engine) executeSells(ctx context.Context) {
	symbols := make([]string, 0, len(e.activeTrades))
	for symbol := range e.activeTrades {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)

	for _, symbol := range symbols {
		trade := e.activeTrades[symbol]

		coin := e.findCoinLocked(symbol)
		if coin == nil {
			continue // price not refreshed this cycle
		}
		price := coin.Price

		item := e.findPortfolioItemLocked(symbol)
		if item == nil || item.Free <= 0 {
			delete(e.activeTrades, symbol)
			if err := e.store.DeleteActiveTrade(ctx, symbol); err != nil {
				e.emitLogLocked(model.LogError, fmt.Sprintf("persist reconciliation drop for %s: %v", symbol, err))
			}
			recErr := fmt.Errorf("%s: %w", symbol, ErrReconciliation)
			e.emitLogLocked(model.LogWarning, recErr.Error())
			continue
		}

		initialStop := trade.PurchasePrice * (1 - e.settings.StopLossPct/100)
		target := trade.PurchasePrice * (1 + e.settings.TargetProfitPct/100)

		high := trade.PurchasePrice
		if trade.HighestPriceSinceBuy != nil && *trade.HighestPriceSinceBuy > high {
			high = *trade.HighestPriceSinceBuy
		}
		if price > high {
			high = price
		}
		if trade.HighestPriceSinceBuy == nil || high > *trade.HighestPriceSinceBuy {
			hw := high
			trade.HighestPriceSinceBuy = &hw
			e.activeTrades[symbol] = trade
			if err := e.store.SaveActiveTrade(ctx, symbol, trade); err != nil {
				e.emitLogLocked(model.LogError, fmt.Sprintf("persist high-water mark for %s: %v", symbol, err))
			}
		}

		stop := effectiveStop(e.settings, trade.PurchasePrice, high, initialStop)

		var reason string
		switch {
		case price >= target:
			reason = "Take Profit"
		case price <= stop:
			reason = "Stop Loss"
		default:
			continue
		}

		e.sellPosition(ctx, symbol, trade, item.Free, price, reason)
	}
}

func (e *Engine) sellPosition(ctx context.Context, symbol string, trade model.ActiveTrade, amount, marketPrice float64, reason string) {
	if amount*marketPrice < minTradeValueQuote {
		e.emitLogLocked(model.LogWarning, fmt.Sprintf("%s sell skipped: notional below dust floor", symbol))
		return
	}

	cctx, cancel := context.WithTimeout(ctx, gatewayTimeout)
	defer cancel()
	var timer *monitor.Timer
	if e.metrics != nil {
		timer = monitor.NewTimer(e.metrics.GatewayLatency)
	}
	order, err := e.gateway.PlaceOrder(cctx, symbol, exchange.SideSell, amount, 0)
	timer.Stop()
	if err != nil {
		rejErr := fmt.Errorf("%s sell (%s): %w: %v", symbol, reason, ErrGatewayRejection, err)
		e.emitLogLocked(model.LogError, rejErr.Error())
		return
	}
	if e.metrics != nil {
		e.metrics.IncrementOrders()
	}

	execPrice := firstNonZero(order.Average, order.Price, marketPrice)
	filled := firstNonZero(order.Filled, order.Amount, amount)
	cost := order.Cost
	if cost == 0 {
		cost = filled * execPrice
	}

	purchasePrice := trade.PurchasePrice
	profit := cost - purchasePrice*filled
	profitPct := 0.0
	if purchasePrice*filled != 0 {
		profitPct = profit / (purchasePrice * filled) * 100
	}

	completed := model.CompletedTrade{
		ID:                   uuid.NewString(),
		Timestamp:            time.Now().UTC(),
		Type:                 model.TradeSell,
		Pair:                 symbol,
		Price:                execPrice,
		Amount:               filled,
		Cost:                 cost,
		OrderID:              order.ID,
		ProfitAmount:         &profit,
		ProfitPercent:        &profitPct,
		PurchasePriceForSell: &purchasePrice,
	}
	e.appendLedgerLocked(ctx, completed)

	delete(e.activeTrades, symbol)
	if err := e.store.DeleteActiveTrade(ctx, symbol); err != nil {
		e.emitLogLocked(model.LogError, fmt.Sprintf("persist sell delete for %s: %v", symbol, err))
	}
	e.emitLogLocked(model.LogSell, fmt.Sprintf("%s sold (%s): price=%.8f profit=%.2f%%", symbol, reason, execPrice, profitPct))
}

// executeBuys picks at most one candidate per iteration: not already
// held, under the price ceiling, outside the exclusion set, with a
// defined RSI below threshold and smaShort above smaLong, ranked by
// quote volume. Admission control happens after ranking so a rejected
// top candidate never falls through to a runner-up within the same
// iteration, per spec.md §4.E.
func (e *Engine) executeBuys(ctx context.Context) {
	var candidates []model.Coin
	for _, coin := range e.marketData {
		if _, open := e.activeTrades[coin.Symbol]; open {
			continue
		}
		if coin.Price > e.settings.MaxCoinPrice {
			continue
		}
		if exclusionSet[coin.Symbol] {
			continue
		}
		if coin.RSI == nil || coin.SMAShort == nil || coin.SMALong == nil {
			continue
		}
		if *coin.RSI >= e.settings.RSIBuyThreshold {
			continue
		}
		if *coin.SMAShort <= *coin.SMALong {
			continue
		}
		candidates = append(candidates, coin)
	}
	if len(candidates) == 0 {
		return
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].QuoteVolume > candidates[j].QuoteVolume })
	chosen := candidates[0]

	if len(e.activeTrades) >= e.settings.MaxOpenTrades {
		return
	}
	if e.usdtBalance < e.settings.TradeAmountQuote {
		return
	}

	amount := e.settings.TradeAmountQuote / chosen.Price

	cctx, cancel := context.WithTimeout(ctx, gatewayTimeout)
	defer cancel()
	var timer *monitor.Timer
	if e.metrics != nil {
		timer = monitor.NewTimer(e.metrics.GatewayLatency)
	}
	order, err := e.gateway.PlaceOrder(cctx, chosen.Symbol, exchange.SideBuy, amount, 0)
	timer.Stop()
	if err != nil {
		rejErr := fmt.Errorf("%s buy: %w: %v", chosen.Symbol, ErrGatewayRejection, err)
		e.emitLogLocked(model.LogError, rejErr.Error())
		return
	}
	if e.metrics != nil {
		e.metrics.IncrementOrders()
	}

	execPrice := firstNonZero(order.Average, order.Price, chosen.Price)
	filled := firstNonZero(order.Filled, order.Amount, amount)
	cost := order.Cost
	if cost == 0 {
		cost = filled * execPrice
	}

	now := time.Now().UTC()
	highWaterMark := execPrice
	trade := model.ActiveTrade{PurchasePrice: execPrice, Amount: filled, Timestamp: now, HighestPriceSinceBuy: &highWaterMark}
	e.activeTrades[chosen.Symbol] = trade
	if err := e.store.SaveActiveTrade(ctx, chosen.Symbol, trade); err != nil {
		e.emitLogLocked(model.LogError, fmt.Sprintf("persist active trade %s: %v", chosen.Symbol, err))
	}

	completed := model.CompletedTrade{
		ID:        uuid.NewString(),
		Timestamp: now,
		Type:      model.TradeBuy,
		Pair:      chosen.Symbol,
		Price:     execPrice,
		Amount:    filled,
		Cost:      cost,
		OrderID:   order.ID,
	}
	e.appendLedgerLocked(ctx, completed)
	e.emitLogLocked(model.LogBuy, fmt.Sprintf("%s bought: amount=%.8f price=%.8f", chosen.Symbol, filled, execPrice))
}
