package trader

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"grid-trade-bot-go/internal/binance"
	"grid-trade-bot-go/internal/config"
	"grid-trade-bot-go/internal/grid"
	"grid-trade-bot-go/internal/metrics"
)

// gridReporter is implemented by strategies that can expose their grids.
type gridReporter interface {
	Grids() []grid.PairGrid
}

// Status is a point-in-time view of the engine.
type Status struct {
	UUID      string          `json:"uuid"`
	Name      string          `json:"name"`
	Strategy  string          `json:"strategy"`
	StartTime time.Time       `json:"start_time"`
	Uptime    string          `json:"uptime"`
	Running   bool            `json:"running"`
	DryRun    bool            `json:"dry_run"`
	Pairs     []string        `json:"pairs"`
	Grids     []grid.PairGrid `json:"grids"`
}

// PairQuote is the last price fetched for a pair during a scan.
type PairQuote struct {
	Pair  string  `json:"pair"`
	Price float64 `json:"price"`
	Err   string  `json:"error,omitempty"`
}

// ScanReport summarizes the market as the engine currently sees it.
type ScanReport struct {
	Balance float64     `json:"balance"`
	Quote   string      `json:"quote"`
	Prices  []PairQuote `json:"prices"`
}

// Engine drives the strategy on a fixed interval while it is running.
type Engine struct {
	UUID      string
	Name      string
	StartTime time.Time

	logger        *zap.Logger
	cfg           *config.Config
	restClient    binance.RestClientInterface
	db            *gorm.DB
	notifier      Notifier
	strategy      Strategy
	exchangeRules map[string]binance.SymbolInfo
	positions     *PositionBook

	running atomic.Bool
	dryRun  atomic.Bool
	kick    chan struct{}
	tickMu  sync.Mutex
	modeMu  sync.Mutex
}

// NewEngine creates a new trading engine. notifier may be nil.
func NewEngine(logger *zap.Logger, cfg *config.Config, restClient binance.RestClientInterface, db *gorm.DB, strategy Strategy, notifier Notifier) *Engine {
	e := &Engine{
		UUID:          uuid.NewString(),
		Name:          "grid-trade-bot",
		StartTime:     time.Now(),
		logger:        logger,
		cfg:           cfg,
		restClient:    restClient,
		db:            db,
		notifier:      notifier,
		strategy:      strategy,
		exchangeRules: make(map[string]binance.SymbolInfo),
		positions:     NewPositionBook(),
		kick:          make(chan struct{}, 1),
	}
	e.dryRun.Store(cfg.Trading.DryRun)
	return e
}

// Run initializes the engine and ticks the strategy until ctx is cancelled.
// Ticks are skipped while the engine is stopped.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("Initializing trading engine...")
	if err := e.initialize(ctx); err != nil {
		return fmt.Errorf("could not initialize engine: %w", err)
	}
	e.logger.Info("Engine initialized successfully.")

	if e.cfg.Trading.AutoStart {
		e.Start()
	}

	interval := time.Duration(e.cfg.Trading.TickInterval) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	e.logger.Info("Starting grid loop", zap.Duration("interval", interval), zap.Bool("running", e.Running()))

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("Stopping trading engine...")
			return nil
		case <-ticker.C:
		case <-e.kick:
		}
		if !e.Running() {
			continue
		}
		if err := e.Tick(ctx); err != nil {
			e.logger.Error("Tick failed", zap.Error(err))
		}
	}
}

// initialize caches exchange rules and applies leverage to every pair.
func (e *Engine) initialize(ctx context.Context) error {
	e.logger.Info("Fetching exchange information...")
	info, err := e.restClient.GetExchangeInfo(ctx)
	if err != nil {
		return fmt.Errorf("could not get exchange info: %w", err)
	}
	for _, s := range info.Symbols {
		e.exchangeRules[s.Symbol] = s
	}
	e.logger.Info("Successfully cached exchange information for symbols", zap.Int("count", len(e.exchangeRules)))

	if !e.DryRun() {
		if err := e.applyLeverage(ctx); err != nil {
			return err
		}
	}

	return e.strategy.Initialize(ctx, e.strategyContext())
}

func (e *Engine) strategyContext() StrategyContext {
	return StrategyContext{
		Logger:        e.logger,
		Cfg:           e.cfg,
		RestClient:    e.restClient,
		DB:            e.db,
		ExchangeRules: e.exchangeRules,
		Notifier:      e.notifier,
		Positions:     e.positions,
		DryRun:        e.DryRun(),
	}
}

// Tick runs a single strategy step. Concurrent calls are serialized.
func (e *Engine) Tick(ctx context.Context) error {
	e.tickMu.Lock()
	defer e.tickMu.Unlock()
	return e.strategy.Tick(ctx, e.strategyContext())
}

// Start resumes ticking and triggers an immediate tick. It reports false if
// the engine was already running.
func (e *Engine) Start() bool {
	if !e.running.CompareAndSwap(false, true) {
		return false
	}
	e.logger.Info("Trading started")
	select {
	case e.kick <- struct{}{}:
	default:
	}
	return true
}

// Stop pauses ticking. It reports false if the engine was already stopped.
func (e *Engine) Stop() bool {
	if !e.running.CompareAndSwap(true, false) {
		return false
	}
	e.logger.Info("Trading stopped")
	return true
}

func (e *Engine) Running() bool {
	return e.running.Load()
}

// applyLeverage sets the configured leverage on every pair. Leverage is
// validated to be a whole number.
func (e *Engine) applyLeverage(ctx context.Context) error {
	leverage := int(e.cfg.Grid.Leverage)
	for _, pair := range e.cfg.Trading.Pairs {
		symbol := binance.Symbol(pair)
		if err := e.restClient.SetLeverage(ctx, symbol, leverage); err != nil {
			return fmt.Errorf("could not set leverage for %s: %w", symbol, err)
		}
		e.logger.Info("Leverage set", zap.String("symbol", symbol), zap.Int("leverage", leverage))
	}
	return nil
}

// SetDryRun switches between paper and live execution from the next tick on.
// Going live sets leverage first; if that fails the engine stays in dry run.
func (e *Engine) SetDryRun(ctx context.Context, v bool) error {
	e.modeMu.Lock()
	defer e.modeMu.Unlock()

	if e.dryRun.Load() == v {
		return nil
	}
	if !v {
		if err := e.applyLeverage(ctx); err != nil {
			return fmt.Errorf("staying in dry run: %w", err)
		}
	}
	e.dryRun.Store(v)
	e.logger.Warn("Dry run mode changed", zap.Bool("dry_run", v))
	return nil
}

func (e *Engine) DryRun() bool {
	return e.dryRun.Load()
}

// Scan fetches the balance and the price of every configured pair without
// touching the grids. Per-pair errors are reported in the result.
func (e *Engine) Scan(ctx context.Context) (ScanReport, error) {
	balance, err := currentBalance(ctx, e.strategyContext())
	if err != nil {
		return ScanReport{}, fmt.Errorf("could not get balance: %w", err)
	}
	metrics.Balance.Set(balance)

	report := ScanReport{
		Balance: balance,
		Quote:   e.cfg.Trading.Quote,
		Prices:  make([]PairQuote, 0, len(e.cfg.Trading.Pairs)),
	}
	for _, pair := range e.cfg.Trading.Pairs {
		q := PairQuote{Pair: pair}
		price, err := e.restClient.GetPrice(ctx, binance.Symbol(pair))
		if err != nil {
			q.Err = err.Error()
		} else {
			q.Price = price
		}
		report.Prices = append(report.Prices, q)
	}
	return report, nil
}

// Status returns the current engine state including grid snapshots.
func (e *Engine) Status() Status {
	st := Status{
		UUID:      e.UUID,
		Name:      e.Name,
		Strategy:  e.strategy.Name(),
		StartTime: e.StartTime,
		Uptime:    time.Since(e.StartTime).Round(time.Second).String(),
		Running:   e.Running(),
		DryRun:    e.DryRun(),
		Pairs:     e.cfg.Trading.Pairs,
	}
	if r, ok := e.strategy.(gridReporter); ok {
		st.Grids = r.Grids()
	}
	return st
}
