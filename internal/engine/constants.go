package engine

import "time"

// Fixed strategy parameters from spec.md §6. These are deliberately not
// part of Settings: changing them is a code change, not an operator
// setting.
const (
	quoteAsset          = "USDT"
	candidatePoolSize   = 30
	scanTimeframe       = "15m"
	scanWindowCandles   = 50
	minTradeValueQuote  = 10
	ledgerMemoryCap     = 500
	ledgerLoadOnStartup = 100
	logRingCap          = 200
)

var exclusionSet = map[string]bool{
	"BTCUSDT": true,
	"ETHUSDT": true,
	"BNBUSDT": true,
}

// gatewayTimeout bounds every single Gateway call the loop makes.
const gatewayTimeout = 30 * time.Second
