package events

import "spotbot-core/internal/model"

// Kind enumerates the event topics the trading core publishes, per
// spec.md's external interface table.
type Kind string

const (
	// KindStatus carries engine lifecycle transitions.
	KindStatus Kind = "status"
	// KindLog carries BotLog lines. Delivery is guaranteed-or-disconnect.
	KindLog Kind = "log"
	// KindMarket carries the latest scanned coin pool. Delivery is
	// best-effort, newest value wins over a slow subscriber.
	KindMarket Kind = "market"
	// KindPortfolio carries the latest balance/position snapshot.
	// Delivery is best-effort, newest value wins.
	KindPortfolio Kind = "portfolio"
	// KindLedger carries completed trades. Delivery is guaranteed-or-disconnect.
	KindLedger Kind = "ledger"
)

// StatusEvent reports an engine lifecycle transition.
type StatusEvent struct {
	Status model.Status `json:"status"`
	Reason string       `json:"reason,omitempty"`
}

// MarketEvent reports the result of one scan pass.
type MarketEvent struct {
	Coins []model.Coin `json:"coins"`
}

// PortfolioEvent reports the account view as of the last RefreshAccount.
type PortfolioEvent struct {
	QuoteBalance model.Balance         `json:"quoteBalance"`
	Items        []model.PortfolioItem `json:"items"`
}

// LedgerEvent reports one newly completed trade.
type LedgerEvent struct {
	Trade model.CompletedTrade `json:"trade"`
}

// Snapshot is the composite state handed to a client on WebSocket
// connect, before it starts receiving incremental events.
type Snapshot struct {
	Status       model.Status                 `json:"status"`
	Settings     model.Settings               `json:"settings"`
	Coins        []model.Coin                 `json:"coins"`
	Portfolio    []model.PortfolioItem        `json:"portfolio"`
	UsdtBalance  float64                      `json:"usdtBalance"`
	ActiveTrades map[string]model.ActiveTrade `json:"activeTrades"`
	Ledger       []model.CompletedTrade       `json:"ledger"`
	Logs         []model.BotLog               `json:"logs"`
}
