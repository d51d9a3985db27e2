package trader

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"grid-trade-bot-go/internal/binance"
	"grid-trade-bot-go/internal/config"
)

// Notifier delivers user-facing messages, e.g. to a Telegram chat.
type Notifier interface {
	Notify(ctx context.Context, text string) error
}

// StrategyContext provides the strategy with access to the core components.
type StrategyContext struct {
	Logger        *zap.Logger
	Cfg           *config.Config
	RestClient    binance.RestClientInterface
	DB            *gorm.DB
	ExchangeRules map[string]binance.SymbolInfo
	Notifier      Notifier
	Positions     *PositionBook
	DryRun        bool
}

// Strategy defines the interface for a trading strategy.
type Strategy interface {
	// Name returns the unique name of the strategy.
	Name() string

	// Initialize gives the strategy a chance to perform setup tasks.
	Initialize(ctx context.Context, sctx StrategyContext) error

	// Tick is the main logic of the strategy, called periodically by the engine.
	Tick(ctx context.Context, sctx StrategyContext) error
}

// NewStrategy builds the strategy named in the trading configuration.
func NewStrategy(cfg *config.Config) (Strategy, error) {
	switch strings.ToLower(cfg.Trading.Strategy) {
	case "", "grid":
		return NewGridStrategy(cfg.Grid.Params())
	default:
		return nil, fmt.Errorf("unknown strategy %q", cfg.Trading.Strategy)
	}
}

// notify sends text through the configured notifier and only logs failures;
// a lost message must never stop the trading loop.
func notify(ctx context.Context, sctx StrategyContext, text string) {
	if sctx.Notifier == nil || text == "" {
		return
	}
	if err := sctx.Notifier.Notify(ctx, text); err != nil {
		sctx.Logger.Warn("Failed to deliver notification", zap.Error(err))
	}
}

// currentBalance returns the quote balance used to size grids. A configured
// assumed balance takes precedence over the exchange wallet.
func currentBalance(ctx context.Context, sctx StrategyContext) (float64, error) {
	if sctx.Cfg.Trading.AssumedBalance > 0 {
		return sctx.Cfg.Trading.AssumedBalance, nil
	}
	return sctx.RestClient.GetBalance(ctx, sctx.Cfg.Trading.Quote)
}
