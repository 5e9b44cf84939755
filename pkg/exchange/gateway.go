// Package exchange defines the uniform façade (spec.md §4.C "Exchange
// Gateway") that the trading engine uses to talk to a venue, plus the
// concrete implementations under exchange/binance and exchange/mock.
package exchange

import (
	"context"
	"time"

	"spotbot-core/internal/model"
)

// CallTimeout is the reference per-call timeout from spec.md §5.
const CallTimeout = 30 * time.Second

// Gateway is the port every venue implementation satisfies.
type Gateway interface {
	// Initialize loads markets and applies sandbox mode, then validates
	// that the configured credentials cannot withdraw.
	Initialize(ctx context.Context) error

	// ValidateAPIKeyPermissions returns false if the credentials grant
	// withdrawal capability on the venue. The engine refuses to start
	// when this returns false.
	ValidateAPIKeyPermissions(ctx context.Context) (bool, error)

	// FetchTickers returns the full market snapshot, tickers with
	// last <= 0 already filtered out.
	FetchTickers(ctx context.Context) ([]model.Ticker, error)

	// FetchOHLCV returns up to limit candles for symbol/timeframe,
	// oldest first. A per-symbol error is non-fatal to the caller's
	// scan and should be returned as (nil, err) so it can be logged
	// and skipped.
	FetchOHLCV(ctx context.Context, symbol, timeframe string, limit int) ([]model.OHLCV, error)

	// GetBalance maps currency -> {free, used, total}.
	GetBalance(ctx context.Context) (map[string]model.Balance, error)

	// PlaceOrder submits a market order. price is only meaningful for
	// non-market order types, which the engine never uses.
	PlaceOrder(ctx context.Context, symbol string, side Side, amount float64, price float64) (model.FilledOrder, error)
}

// Side is the order side; the engine only ever buys or sells market orders.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)
