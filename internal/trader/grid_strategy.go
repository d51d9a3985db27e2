package trader

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"grid-trade-bot-go/internal/binance"
	"grid-trade-bot-go/internal/grid"
	"grid-trade-bot-go/internal/metrics"
)

// GridStrategy runs one grid per configured pair. Pairs are stepped
// sequentially inside a tick, so every pair sees its prices in time order.
type GridStrategy struct {
	stepper *grid.Stepper
}

// NewGridStrategy validates params and creates a strategy with its own grid store.
func NewGridStrategy(params grid.Params) (*GridStrategy, error) {
	stepper, err := grid.NewStepper(params, grid.NewMemoryStore())
	if err != nil {
		return nil, fmt.Errorf("could not create grid stepper: %w", err)
	}
	return &GridStrategy{stepper: stepper}, nil
}

func (s *GridStrategy) Name() string {
	return "Grid"
}

// Initialize checks that every pair is tradable on the exchange.
func (s *GridStrategy) Initialize(ctx context.Context, sctx StrategyContext) error {
	p := s.stepper.Params()
	sctx.Logger.Info("GridStrategy initialized",
		zap.Strings("pairs", sctx.Cfg.Trading.Pairs),
		zap.Int("levels", p.Levels),
		zap.Float64("range_pct", p.RangePct),
		zap.Float64("capital_pct", p.CapitalPct),
		zap.Float64("leverage", p.Leverage),
	)

	if len(sctx.ExchangeRules) == 0 {
		return nil
	}
	for _, pair := range sctx.Cfg.Trading.Pairs {
		symbol := binance.Symbol(pair)
		rule, ok := sctx.ExchangeRules[symbol]
		if !ok {
			return fmt.Errorf("symbol %s is not listed on the exchange", symbol)
		}
		if rule.Status != "" && rule.Status != "TRADING" {
			sctx.Logger.Warn("Symbol is not trading", zap.String("symbol", symbol), zap.String("status", rule.Status))
		}
	}
	return nil
}

// Tick fetches the balance once, then steps every pair with its latest price.
func (s *GridStrategy) Tick(ctx context.Context, sctx StrategyContext) error {
	l := sctx.Logger.With(zap.String("strategy", s.Name()))

	balance, err := currentBalance(ctx, sctx)
	if err != nil {
		notify(ctx, sctx, fmt.Sprintf("[GRID] balance error: %v", err))
		return fmt.Errorf("could not get balance: %w", err)
	}
	metrics.Balance.Set(balance)
	l.Debug("Balance fetched", zap.Float64("balance", balance))

	for _, pair := range sctx.Cfg.Trading.Pairs {
		if err := ctx.Err(); err != nil {
			return err
		}
		s.stepPair(ctx, sctx, l.With(zap.String("pair", pair)), pair, balance)
	}
	return nil
}

func (s *GridStrategy) stepPair(ctx context.Context, sctx StrategyContext, l *zap.Logger, pair string, balance float64) {
	price, err := sctx.RestClient.GetPrice(ctx, binance.Symbol(pair))
	if err != nil {
		l.Warn("Price unavailable, skipping pair this tick", zap.Error(err))
		notify(ctx, sctx, fmt.Sprintf("[GRID] %s — ticker error %v", pair, err))
		return
	}

	events := s.stepper.Step(pair, price, balance)
	if len(events) == 0 {
		l.Debug("No grid signal", zap.Float64("price", price))
	}

	for _, ev := range events {
		metrics.Events.WithLabelValues(ev.Pair, string(ev.Action), string(ev.Side)).Inc()
		l.Info("Grid event",
			zap.String("action", string(ev.Action)),
			zap.String("side", string(ev.Side)),
			zap.Float64("level_price", ev.LevelPrice),
			zap.Float64("take_profit", ev.TakeProfit),
			zap.Float64("amount", ev.Amount),
			zap.Float64("price", price),
		)

		msg, err := ExecuteEvent(ctx, sctx, ev, price)
		if err != nil {
			l.Error("Failed to execute grid event", zap.Error(err))
		}
		notify(ctx, sctx, msg)
	}

	if g, ok := s.stepper.Snapshot(pair); ok {
		metrics.CenterPrice.WithLabelValues(pair).Set(g.Center)
		metrics.OpenLevels.WithLabelValues(pair).Set(float64(g.OpenLevels()))
	}
}

// Grids returns a snapshot of every grid built so far.
func (s *GridStrategy) Grids() []grid.PairGrid {
	return s.stepper.Snapshots()
}
