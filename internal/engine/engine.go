// Package engine implements the trading core: the single mutex-serialized
// scan/decision/execute loop described in spec.md §4.E, the only mutator
// of the live domain state (settings, active trades, portfolio, market
// data, ledger).
package engine

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"spotbot-core/internal/events"
	"spotbot-core/internal/model"
	"spotbot-core/internal/monitor"
	"spotbot-core/pkg/config"
	"spotbot-core/pkg/db"
	"spotbot-core/pkg/exchange"
)

// Store is the subset of pkg/db.Queries the engine depends on, so tests
// can swap in a fake without a real database.
type Store interface {
	SaveSettings(ctx context.Context, s model.Settings) error
	LoadSettings(ctx context.Context) (model.Settings, error)
	SaveActiveTrade(ctx context.Context, symbol string, trade model.ActiveTrade) error
	DeleteActiveTrade(ctx context.Context, symbol string) error
	LoadActiveTrades(ctx context.Context) (map[string]model.ActiveTrade, error)
	SaveLedgerItem(ctx context.Context, trade model.CompletedTrade) error
	LoadLedger(ctx context.Context, limit int) ([]model.CompletedTrade, error)
}

// Engine owns every mutable domain value in spec.md §3 and runs the
// periodic loop that refreshes the account, scans the market and acts
// on the indicator strategy.
type Engine struct {
	gateway exchange.Gateway
	store   Store
	bus     *events.Bus
	metrics *monitor.SystemMetrics
	cfg     *config.Config

	mu       sync.Mutex
	status   model.Status
	settings model.Settings

	activeTrades map[string]model.ActiveTrade
	portfolio    []model.PortfolioItem
	usdtBalance  float64
	marketData   []model.Coin
	ledger       []model.CompletedTrade // newest-first, capped at ledgerMemoryCap
	logs         []model.BotLog         // newest-last, capped at logRingCap

	timer *time.Timer

	isScanning atomic.Bool
	isStopping atomic.Bool
}

// New constructs an engine in the INITIALIZING state. Call Initialize
// before Start. metrics may be nil, in which case latency/counter
// recording is skipped. cfg may be nil, in which case Initialize skips
// the credential-redaction log line.
func New(gateway exchange.Gateway, store Store, bus *events.Bus, metrics *monitor.SystemMetrics, cfg *config.Config) *Engine {
	return &Engine{
		gateway:      gateway,
		store:        store,
		bus:          bus,
		metrics:      metrics,
		cfg:          cfg,
		status:       model.StatusInitializing,
		activeTrades: make(map[string]model.ActiveTrade),
	}
}

// Initialize loads markets and credentials via the gateway, validates
// that the credentials cannot withdraw, restores persisted state and
// performs the first RefreshAccount under the engine mutex, per the
// lifecycle table in spec.md §4.E. It is called exactly once.
func (e *Engine) Initialize(ctx context.Context) error {
	cctx, cancel := context.WithTimeout(ctx, gatewayTimeout)
	defer cancel()

	if err := e.gateway.Initialize(cctx); err != nil {
		e.failInit(fmt.Sprintf("gateway initialize failed: %v", err))
		return fmt.Errorf("initialize gateway: %w", ErrGatewayTransient)
	}

	ok, err := e.gateway.ValidateAPIKeyPermissions(cctx)
	if err != nil {
		e.failInit(fmt.Sprintf("permission check failed: %v", err))
		return fmt.Errorf("validate api key permissions: %w", ErrGatewayTransient)
	}
	if !ok {
		e.failInit("credentials grant withdrawal capability; refusing to start")
		return fmt.Errorf("withdrawal-capable credentials: %w", ErrPermission)
	}

	settings, err := e.store.LoadSettings(ctx)
	if err != nil {
		if err != db.ErrNotFound {
			e.failInit(fmt.Sprintf("load settings failed: %v", err))
			return fmt.Errorf("load settings: %w", ErrPersistence)
		}
		settings = model.DefaultSettings()
		if err := e.store.SaveSettings(ctx, settings); err != nil {
			log.Printf("engine: seed default settings failed: %v", err)
		}
	}

	trades, err := e.store.LoadActiveTrades(ctx)
	if err != nil {
		e.failInit(fmt.Sprintf("load active trades failed: %v", err))
		return fmt.Errorf("load active trades: %w", ErrPersistence)
	}

	ledger, err := e.store.LoadLedger(ctx, ledgerLoadOnStartup)
	if err != nil {
		log.Printf("engine: load ledger failed, starting with empty history: %v", err)
		ledger = nil
	}

	e.mu.Lock()
	e.settings = settings
	e.activeTrades = trades
	e.ledger = ledger
	if e.cfg != nil {
		r := e.cfg.Redacted()
		e.emitLogLocked(model.LogAPIKey, fmt.Sprintf("credentials loaded: exchange=%s apiKey=%s sandbox=%v", r.ExchangeID, r.APIKey, r.IsSandbox))
	}
	if err := e.refreshAccount(ctx); err != nil {
		log.Printf("engine: initial account refresh failed: %v", err)
	}
	e.status = model.StatusStopped
	e.bus.Publish(events.KindStatus, events.StatusEvent{Status: e.status})
	e.mu.Unlock()

	return nil
}

func (e *Engine) failInit(reason string) {
	e.mu.Lock()
	e.status = model.StatusError
	e.bus.Publish(events.KindStatus, events.StatusEvent{Status: e.status, Reason: reason})
	e.mu.Unlock()
}

// Start transitions STOPPED -> RUNNING, arms the periodic timer and
// kicks off one immediate ExecuteLoop outside the critical section that
// set up the timer. Double-start logs a WARNING and returns.
func (e *Engine) Start() {
	e.mu.Lock()
	if e.status == model.StatusRunning {
		e.emitLogLocked(model.LogWarning, "start requested while already running")
		e.mu.Unlock()
		return
	}
	if e.status != model.StatusStopped {
		e.emitLogLocked(model.LogError, fmt.Sprintf("cannot start from status %s", e.status))
		e.mu.Unlock()
		return
	}

	e.isStopping.Store(false)
	e.status = model.StatusRunning
	e.bus.Publish(events.KindStatus, events.StatusEvent{Status: e.status})
	e.scheduleNextLocked()
	e.mu.Unlock()

	go e.ExecuteLoop(context.Background())
}

// Stop transitions RUNNING or ERROR to STOPPED. hard=true only changes
// how the caller frames the request; the loop never aborts an in-flight
// order placement either way, per spec.md §5.
func (e *Engine) Stop(hard bool) {
	e.isStopping.Store(true)
	defer e.isStopping.Store(false)

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.status == model.StatusStopped {
		return
	}
	if e.status != model.StatusRunning && e.status != model.StatusError {
		return
	}

	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	e.status = model.StatusStopped
	reason := ""
	if hard {
		reason = "kill switch"
	}
	e.bus.Publish(events.KindStatus, events.StatusEvent{Status: e.status, Reason: reason})
}

// UpdateSettings validates and persists a new settings snapshot and, if
// RUNNING, restarts the timer with the new interval, all under the
// engine mutex.
func (e *Engine) UpdateSettings(ctx context.Context, s model.Settings) error {
	if err := s.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrConfiguration, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.store.SaveSettings(ctx, s); err != nil {
		e.emitLogLocked(model.LogError, fmt.Sprintf("persist settings failed: %v", err))
	}
	e.settings = s

	if e.status == model.StatusRunning {
		e.scheduleNextLocked()
	}
	return nil
}

// Status returns the current lifecycle state.
func (e *Engine) Status() model.Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// Snapshot returns a copy of the full composite state for a newly
// connected subscriber.
func (e *Engine) Snapshot() events.Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	coins := make([]model.Coin, len(e.marketData))
	copy(coins, e.marketData)
	portfolio := make([]model.PortfolioItem, len(e.portfolio))
	copy(portfolio, e.portfolio)
	ledger := make([]model.CompletedTrade, len(e.ledger))
	copy(ledger, e.ledger)
	logs := make([]model.BotLog, len(e.logs))
	copy(logs, e.logs)
	trades := make(map[string]model.ActiveTrade, len(e.activeTrades))
	for k, v := range e.activeTrades {
		trades[k] = v
	}

	return events.Snapshot{
		Status:       e.status,
		Settings:     e.settings,
		Coins:        coins,
		Portfolio:    portfolio,
		UsdtBalance:  e.usdtBalance,
		ActiveTrades: trades,
		Ledger:       ledger,
		Logs:         logs,
	}
}

// scheduleNextLocked (re)arms the periodic timer. Caller holds mu.
func (e *Engine) scheduleNextLocked() {
	if e.timer != nil {
		e.timer.Stop()
	}
	interval := time.Duration(e.settings.ScanIntervalMs) * time.Millisecond
	e.timer = time.AfterFunc(interval, e.onTimerFire)
}

func (e *Engine) onTimerFire() {
	e.ExecuteLoop(context.Background())
	e.mu.Lock()
	if e.status == model.StatusRunning {
		e.scheduleNextLocked()
	}
	e.mu.Unlock()
}

// emitLogLocked appends to the in-memory ring and publishes a BotLog.
// Caller holds mu.
func (e *Engine) emitLogLocked(t model.LogType, message string) {
	entry := model.BotLog{ID: uuid.NewString(), Timestamp: time.Now().UTC(), Type: t, Message: message}
	e.logs = append(e.logs, entry)
	if len(e.logs) > logRingCap {
		e.logs = e.logs[len(e.logs)-logRingCap:]
	}
	e.bus.Publish(events.KindLog, entry)
	log.Printf("[%s] %s", t, message)
}

func (e *Engine) appendLedgerLocked(ctx context.Context, trade model.CompletedTrade) {
	if err := e.store.SaveLedgerItem(ctx, trade); err != nil {
		e.emitLogLocked(model.LogError, fmt.Sprintf("persist ledger row %s: %v", trade.ID, err))
	}
	e.ledger = append([]model.CompletedTrade{trade}, e.ledger...)
	if len(e.ledger) > ledgerMemoryCap {
		e.ledger = e.ledger[:ledgerMemoryCap]
	}
	e.bus.Publish(events.KindLedger, events.LedgerEvent{Trade: trade})
}

func (e *Engine) findCoinLocked(symbol string) *model.Coin {
	for i := range e.marketData {
		if e.marketData[i].Symbol == symbol {
			return &e.marketData[i]
		}
	}
	return nil
}

func (e *Engine) findPortfolioItemLocked(symbol string) *model.PortfolioItem {
	for i := range e.portfolio {
		if e.portfolio[i].Symbol == symbol {
			return &e.portfolio[i]
		}
	}
	return nil
}

func firstNonZero(values ...float64) float64 {
	for _, v := range values {
		if v != 0 {
			return v
		}
	}
	return 0
}
