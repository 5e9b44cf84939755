// Package model holds the domain types shared between the persistence
// store and the trading engine. Keeping them here, rather than inside
// internal/engine, lets pkg/db depend on the shapes it persists without
// importing the engine itself.
package model

import "time"

// Status is the engine lifecycle state.
type Status string

const (
	StatusInitializing Status = "INITIALIZING"
	StatusStopped      Status = "STOPPED"
	StatusRunning      Status = "RUNNING"
	StatusError        Status = "ERROR"
)

// Settings is an immutable, atomically-replaced strategy configuration.
type Settings struct {
	MaxCoinPrice       float64 `json:"maxCoinPrice"`
	TradeAmountQuote   float64 `json:"tradeAmountQuote"`
	ScanIntervalMs     int64   `json:"scanIntervalMs"`
	TargetProfitPct    float64 `json:"targetProfitPct"`
	StopLossPct        float64 `json:"stopLossPct"`
	MaxOpenTrades      int     `json:"maxOpenTrades"`
	RSIPeriod          int     `json:"rsiPeriod"`
	RSIBuyThreshold    float64 `json:"rsiBuyThreshold"`
	SMAShortPeriod     int     `json:"smaShortPeriod"`
	SMALongPeriod      int     `json:"smaLongPeriod"`
	UseTrailingStop    bool    `json:"useTrailingStop"`
	TrailingStopArmPct float64 `json:"trailingStopArmPct"`
	TrailingStopOffPct float64 `json:"trailingStopOffsetPct"`
}

// Validate enforces the invariants from spec.md §3.
func (s Settings) Validate() error {
	switch {
	case s.SMAShortPeriod >= s.SMALongPeriod:
		return ErrInvalidSettings("smaShortPeriod must be < smaLongPeriod")
	case s.SMAShortPeriod < 2 || s.SMALongPeriod < 2 || s.RSIPeriod < 2:
		return ErrInvalidSettings("all periods must be >= 2")
	case s.TargetProfitPct <= 0 || s.StopLossPct <= 0 || s.RSIBuyThreshold <= 0:
		return ErrInvalidSettings("all percentages must be > 0")
	case s.UseTrailingStop && (s.TrailingStopArmPct <= 0 || s.TrailingStopOffPct <= 0):
		return ErrInvalidSettings("trailing stop percentages must be > 0 when enabled")
	case s.ScanIntervalMs < 2000:
		return ErrInvalidSettings("scanIntervalMs must be >= 2000")
	case s.MaxOpenTrades < 1:
		return ErrInvalidSettings("maxOpenTrades must be >= 1")
	case s.TradeAmountQuote <= 0 || s.MaxCoinPrice <= 0:
		return ErrInvalidSettings("maxCoinPrice and tradeAmountQuote must be > 0")
	}
	return nil
}

// ErrInvalidSettings is returned by Settings.Validate.
type ErrInvalidSettings string

func (e ErrInvalidSettings) Error() string { return "invalid settings: " + string(e) }

// DefaultSettings mirrors a conservative out-of-the-box configuration.
func DefaultSettings() Settings {
	return Settings{
		MaxCoinPrice:       10,
		TradeAmountQuote:   15,
		ScanIntervalMs:     30000,
		TargetProfitPct:    3,
		StopLossPct:        2,
		MaxOpenTrades:      3,
		RSIPeriod:          14,
		RSIBuyThreshold:    30,
		SMAShortPeriod:     7,
		SMALongPeriod:      25,
		UseTrailingStop:    true,
		TrailingStopArmPct: 1.5,
		TrailingStopOffPct: 0.75,
	}
}

// Coin is a recomputed-every-scan market snapshot for one trading pair.
type Coin struct {
	Symbol            string   `json:"symbol"`
	BaseAsset         string   `json:"baseAsset"`
	QuoteAsset        string   `json:"quoteAsset"`
	Price             float64  `json:"price"`
	PriceChange24hPct float64  `json:"priceChange24hPct"`
	BaseVolume        float64  `json:"baseVolume"`
	QuoteVolume       float64  `json:"quoteVolume"`
	RSI               *float64 `json:"rsi,omitempty"`
	SMAShort          *float64 `json:"smaShort,omitempty"`
	SMALong           *float64 `json:"smaLong,omitempty"`
}

// PortfolioItem is a per-loop, derived view of one non-quote exchange balance.
type PortfolioItem struct {
	Symbol            string     `json:"symbol"`
	BaseAsset         string     `json:"baseAsset"`
	QuoteAsset        string     `json:"quoteAsset"`
	Free              float64    `json:"free"`
	Locked            float64    `json:"locked"`
	AvgPurchasePrice  *float64   `json:"avgPurchasePrice,omitempty"`
	PurchaseTimestamp *time.Time `json:"purchaseTimestamp,omitempty"`
}

// ActiveTrade is one open, bot-managed position, keyed by symbol.
type ActiveTrade struct {
	PurchasePrice        float64   `json:"purchasePrice"`
	Amount               float64   `json:"amount"`
	Timestamp            time.Time `json:"timestamp"`
	HighestPriceSinceBuy *float64  `json:"highestPriceSinceBuy,omitempty"`
}

// TradeType enumerates ledger row kinds.
type TradeType string

const (
	TradeBuy  TradeType = "BUY"
	TradeSell TradeType = "SELL"
)

// CompletedTrade is an immutable, append-only ledger row.
type CompletedTrade struct {
	ID                   string    `json:"id"`
	Timestamp            time.Time `json:"timestamp"`
	Type                 TradeType `json:"type"`
	Pair                 string    `json:"pair"`
	Price                float64   `json:"price"`
	Amount               float64   `json:"amount"`
	Cost                 float64   `json:"cost"`
	OrderID              string    `json:"orderId,omitempty"`
	FeeAmount            float64   `json:"feeAmount,omitempty"`
	FeeCurrency          string    `json:"feeCurrency,omitempty"`
	ProfitAmount         *float64  `json:"profitAmount,omitempty"`
	ProfitPercent        *float64  `json:"profitPercent,omitempty"`
	PurchasePriceForSell *float64  `json:"purchasePriceForSell,omitempty"`
}

// LogType enumerates BotLog kinds.
type LogType string

const (
	LogInfo         LogType = "INFO"
	LogSuccess      LogType = "SUCCESS"
	LogWarning      LogType = "WARNING"
	LogError        LogType = "ERROR"
	LogBuy          LogType = "BUY"
	LogSell         LogType = "SELL"
	LogAPIKey       LogType = "API_KEY"
	LogStrategyInfo LogType = "STRATEGY_INFO"
	LogDebug        LogType = "DEBUG"
)

// BotLog is an ephemeral, broadcast-only operational log line.
type BotLog struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Type      LogType   `json:"type"`
	Message   string    `json:"message"`

	Pair                 string   `json:"pair,omitempty"`
	Price                float64  `json:"price,omitempty"`
	Amount               float64  `json:"amount,omitempty"`
	ProfitPercent        *float64 `json:"profitPercent,omitempty"`
}

// OHLCV is one candle of the kline series the Exchange Gateway returns.
type OHLCV struct {
	OpenTime time.Time
	Open     float64
	High     float64
	Low      float64
	Close    float64
	Volume   float64
}

// Ticker is the Exchange Gateway's per-symbol 24h summary.
type Ticker struct {
	Symbol      string
	Last        float64
	BaseVolume  float64
	QuoteVolume float64
	Percentage  float64
}

// Balance is one currency entry from the Exchange Gateway's GetBalance.
type Balance struct {
	Free  float64
	Used  float64
	Total float64
}

// FilledOrder is the Exchange Gateway's ack for a placed market order.
type FilledOrder struct {
	ID       string
	Price    float64
	Average  float64
	Filled   float64
	Amount   float64
	Cost     float64
}

// GatewayCredentials is what pkg/config resolves for pkg/exchange.
type GatewayCredentials struct {
	ExchangeID string
	APIKey     string
	APISecret  string
	Sandbox    bool
}
