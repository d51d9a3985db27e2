package telegram

import (
	"fmt"
	"strconv"
	"strings"

	"grid-trade-bot-go/internal/grid"
	"grid-trade-bot-go/internal/trader"
)

const helpText = `🤖 Grid Trading Bot

/start - Start the grid loop
/stop - Pause the grid loop (open positions are kept)
/scan - Balance and current prices
/status - Engine state and active grids
/help - This message`

func formatPrice(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func formatScan(r trader.ScanReport) string {
	lines := []string{fmt.Sprintf("SCAN — Balance: %.2f %s", r.Balance, r.Quote)}
	for _, q := range r.Prices {
		if q.Err != "" {
			lines = append(lines, fmt.Sprintf("%s: ERROR %s", q.Pair, q.Err))
			continue
		}
		lines = append(lines, fmt.Sprintf("%s: %s", q.Pair, formatPrice(q.Price)))
	}
	return strings.Join(lines, "\n")
}

func formatStatus(st trader.Status) string {
	state := "STOPPED"
	if st.Running {
		state = "RUNNING"
	}
	mode := "LIVE"
	if st.DryRun {
		mode = "SIMULATION"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "📊 STATUS\nState: %s\nMode: %s\nStrategy: %s\nUptime: %s\n", state, mode, st.Strategy, st.Uptime)

	grids := make(map[string]grid.PairGrid, len(st.Grids))
	for _, g := range st.Grids {
		grids[g.Pair] = g
	}
	for _, pair := range st.Pairs {
		g, ok := grids[pair]
		if !ok {
			fmt.Fprintf(&b, "\n%s: grid not built yet", pair)
			continue
		}
		b.WriteString("\n")
		b.WriteString(formatGrid(g))
	}
	return b.String()
}

func formatGrid(g grid.PairGrid) string {
	if !g.Active() {
		return fmt.Sprintf("%s: inactive (center %s, no budget)", g.Pair, formatPrice(g.Center))
	}
	return fmt.Sprintf("%s: center %.4f, range %.4f–%.4f, gap %.4f, amount %s, open %d/%d",
		g.Pair, g.Center, g.Low, g.High, g.Gap, formatPrice(g.AmountPerLevel), g.OpenLevels(), len(g.Levels))
}
