package grid

import "math"

// amountScale truncates position sizes to four decimal places.
const amountScale = 10000

// Build computes a fresh grid for pair centered at centerPrice. It never looks
// at previously stored grids. A non-positive center or balance yields an
// inactive grid with no levels.
func Build(pair string, centerPrice, balance float64, p Params) PairGrid {
	g := PairGrid{Pair: pair, Center: centerPrice}
	if centerPrice <= 0 || balance <= 0 || p.Levels <= 0 {
		return g
	}

	g.AmountPerLevel = AmountPerLevel(centerPrice, balance, p)
	g.Low = centerPrice * (1 - p.RangePct)
	g.High = centerPrice * (1 + p.RangePct)
	g.Gap = (g.High - g.Low) / float64(p.Levels)

	g.Levels = make([]Level, p.Levels)
	for i := range g.Levels {
		price := g.Low + float64(i)*g.Gap
		lvl := Level{Price: price}
		if price <= centerPrice {
			lvl.Side = SideLong
			lvl.TakeProfit = price + g.Gap
		} else {
			lvl.Side = SideShort
			lvl.TakeProfit = price - g.Gap
		}
		g.Levels[i] = lvl
	}
	return g
}

// AmountPerLevel sizes a single level in base-asset units, truncated (never
// rounded up) to four decimals.
func AmountPerLevel(centerPrice, balance float64, p Params) float64 {
	if centerPrice <= 0 || balance <= 0 || p.Levels <= 0 {
		return 0
	}
	totalCapital := balance * (p.CapitalPct / 100)
	if totalCapital <= 0 {
		return 0
	}
	capitalPerLevel := totalCapital / float64(p.Levels)
	notional := capitalPerLevel * p.Leverage
	raw := notional / centerPrice
	return math.Floor(raw*amountScale) / amountScale
}
