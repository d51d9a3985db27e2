package trader

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"grid-trade-bot-go/internal/binance"
	"grid-trade-bot-go/internal/grid"
	"grid-trade-bot-go/internal/metrics"
	"grid-trade-bot-go/internal/models"
)

// orderSide maps a grid event to the order that realizes it. Closing a
// position sends the opposite side and may only reduce the position.
func orderSide(ev grid.StepEvent) (side string, reduceOnly bool) {
	buy := ev.Side == grid.SideLong
	if ev.Action == grid.ActionClose {
		buy = !buy
		reduceOnly = true
	}
	if buy {
		return binance.OrderSideBuy, reduceOnly
	}
	return binance.OrderSideSell, reduceOnly
}

// realizedProfit values a close at markPrice against the level it was opened at.
func realizedProfit(ev grid.StepEvent, markPrice, quantity float64) float64 {
	if ev.Side == grid.SideShort {
		return (ev.LevelPrice - markPrice) * quantity
	}
	return (markPrice - ev.LevelPrice) * quantity
}

// ExecuteEvent turns a single grid event into an exchange order (or a
// simulated one in dry-run mode), records it and returns the user-facing
// message describing the outcome.
func ExecuteEvent(ctx context.Context, sctx StrategyContext, ev grid.StepEvent, markPrice float64) (string, error) {
	if ev.Action == grid.ActionReset {
		return fmt.Sprintf("🔄 [GRID] %s — breakout, grid reset around %s", ev.Pair, formatFloat(ev.LevelPrice)), nil
	}

	verb := "OPEN"
	if ev.Action == grid.ActionClose {
		verb = "CLOSE"
	}
	if ev.Amount <= 0 {
		return fmt.Sprintf("⚠️ Skipped %s %s %s: amount <= 0", verb, ev.Side, ev.Pair), nil
	}

	symbol := binance.Symbol(ev.Pair)
	side, reduceOnly := orderSide(ev)
	mode := "live"
	if sctx.DryRun {
		mode = "paper"
	}
	l := sctx.Logger.With(
		zap.String("pair", ev.Pair),
		zap.String("symbol", symbol),
		zap.String("action", string(ev.Action)),
		zap.String("side", side),
		zap.Float64("amount", ev.Amount),
	)

	var quantity float64
	if ev.Action == grid.ActionClose {
		// Only close what was really opened at this level.
		held, ok := sctx.Positions.Take(ev)
		if !ok {
			l.Warn("No position held at level, skipping close", zap.Float64("level_price", ev.LevelPrice))
			metrics.Orders.WithLabelValues(mode, side, "skipped").Inc()
			return fmt.Sprintf("⚠️ Skipped %s %s %s @ %s: no position", verb, ev.Side, ev.Pair, formatFloat(ev.LevelPrice)), nil
		}
		quantity = held
	} else {
		if notional := ev.Amount * markPrice; notional < sctx.Cfg.Trading.MinOrderUSDT {
			l.Info("Order below minimum notional, skipping", zap.Float64("notional", notional))
			metrics.Orders.WithLabelValues(mode, side, "skipped").Inc()
			return fmt.Sprintf("[GRID] %s — NO ORDER @ %s (budget too small)", ev.Pair, formatFloat(markPrice)), nil
		}

		q, err := formatQuantity(sctx, symbol, ev.Amount)
		if err != nil {
			l.Error("Failed to format quantity, skipping order", zap.Error(err))
			metrics.Orders.WithLabelValues(mode, side, "skipped").Inc()
			return fmt.Sprintf("❌ %s %s %s ERROR: %v", verb, ev.Side, ev.Pair, err), err
		}
		quantity = q
	}

	fillPrice := markPrice
	var orderID int64
	if sctx.DryRun {
		l.Warn("Dry run enabled. No real order will be placed.", zap.Float64("quantity", quantity))
	} else {
		order, err := sctx.RestClient.CreateOrder(ctx, symbol, side, quantity, reduceOnly)
		if err != nil {
			if ev.Action == grid.ActionClose {
				// The position is still open; a later close of this level retries it.
				sctx.Positions.Add(ev, quantity)
			}
			metrics.Orders.WithLabelValues(mode, side, "error").Inc()
			l.Error("Failed to place order", zap.Error(err))
			return fmt.Sprintf("❌ %s %s %s ERROR: %v", verb, ev.Side, ev.Pair, err), err
		}
		orderID = order.OrderID
		if avg, err := strconv.ParseFloat(order.AvgPrice, 64); err == nil && avg > 0 {
			fillPrice = avg
		}
		if executed, err := strconv.ParseFloat(order.ExecutedQuantity, 64); err == nil && executed > 0 {
			if ev.Action == grid.ActionClose && executed < quantity {
				sctx.Positions.Add(ev, quantity-executed)
			}
			quantity = executed
		}
	}
	metrics.Orders.WithLabelValues(mode, side, "ok").Inc()
	if ev.Action == grid.ActionOpen {
		sctx.Positions.Add(ev, quantity)
	}

	trade := models.Trade{
		Pair:         ev.Pair,
		Symbol:       symbol,
		Action:       string(ev.Action),
		PositionSide: string(ev.Side),
		Type:         side,
		LevelPrice:   ev.LevelPrice,
		TakeProfit:   ev.TakeProfit,
		Price:        fillPrice,
		Quantity:     quantity,
		OrderID:      orderID,
		Timestamp:    time.Now().UnixMilli(),
		IsSimulation: sctx.DryRun,
	}
	if ev.Action == grid.ActionClose {
		trade.Profit = realizedProfit(ev, fillPrice, quantity)
		metrics.RealizedPnL.WithLabelValues(ev.Pair).Add(trade.Profit)
	}

	if sctx.DB != nil {
		if err := sctx.DB.WithContext(ctx).Create(&trade).Error; err != nil {
			// The order is already on the exchange; losing the record is not fatal.
			l.Error("Failed to save trade record to database", zap.Error(err))
		} else {
			l.Info("Saved trade record", zap.Uint("trade_id", trade.ID))
		}
	}

	if sctx.DryRun {
		return fmt.Sprintf("[SIMULATION] Would %s %s %s @ %s, amount=%s",
			verb, ev.Side, ev.Pair, formatFloat(fillPrice), formatFloat(quantity)), nil
	}
	return fmt.Sprintf("✅ %s %s %s @ market, amount=%s", verb, ev.Side, ev.Pair, formatFloat(quantity)), nil
}

// formatQuantity floors a quantity to the symbol's lot step and enforces the
// minimum quantity.
func formatQuantity(sctx StrategyContext, symbol string, quantity float64) (float64, error) {
	rule, ok := sctx.ExchangeRules[symbol]
	if !ok {
		sctx.Logger.Warn("No exchange rule found for symbol, using default formatting", zap.String("symbol", symbol))
		return quantity, nil
	}

	lot, ok := rule.LotSize()
	if !ok || lot.StepSize == "" {
		sctx.Logger.Warn("LOT_SIZE filter not found, using default formatting", zap.String("symbol", symbol))
		return quantity, nil
	}

	step, err := decimal.NewFromString(lot.StepSize)
	if err != nil {
		return 0, fmt.Errorf("invalid step size %q for %s: %w", lot.StepSize, symbol, err)
	}
	minQty := decimal.Zero
	if lot.MinQty != "" {
		if minQty, err = decimal.NewFromString(lot.MinQty); err != nil {
			return 0, fmt.Errorf("invalid min qty %q for %s: %w", lot.MinQty, symbol, err)
		}
	}

	q := decimal.NewFromFloat(quantity)
	if step.IsPositive() {
		q = q.Div(step).Floor().Mul(step)
	}
	if q.LessThan(minQty) || !q.IsPositive() {
		return 0, fmt.Errorf("quantity %s is less than minQty %s for symbol %s", q.String(), minQty.String(), symbol)
	}

	floored, _ := q.Float64()
	return floored, nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
