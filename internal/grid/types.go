// Package grid implements the multi-level grid trading engine: a pure level
// builder and a stateful stepper that turns price ticks into open, close and
// reset events.
package grid

import (
	"errors"
	"fmt"
)

// Side is the direction of the position held at a grid level.
type Side string

const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
)

// Action is the kind of state transition reported by the Stepper.
type Action string

const (
	ActionOpen  Action = "open"
	ActionClose Action = "close"
	ActionReset Action = "reset"
)

// ErrInvalidParams is returned when the grid configuration cannot produce a
// usable grid.
var ErrInvalidParams = errors.New("invalid grid parameters")

// Params holds the configuration shared by every grid of an engine.
type Params struct {
	Levels     int     // number of levels in the band
	RangePct   float64 // half-width of the band as a fraction of the center price
	CapitalPct float64 // share of the balance committed to the grid, 0-100
	Leverage   float64
}

// Validate rejects configurations that would divide by zero or build an
// empty band.
func (p Params) Validate() error {
	if p.Levels <= 0 {
		return fmt.Errorf("%w: levels must be positive, got %d", ErrInvalidParams, p.Levels)
	}
	if p.RangePct <= 0 || p.RangePct >= 1 {
		return fmt.Errorf("%w: range_pct must be in (0, 1), got %v", ErrInvalidParams, p.RangePct)
	}
	if p.CapitalPct < 0 || p.CapitalPct > 100 {
		return fmt.Errorf("%w: capital_pct must be in [0, 100], got %v", ErrInvalidParams, p.CapitalPct)
	}
	if p.Leverage < 1 {
		return fmt.Errorf("%w: leverage must be >= 1, got %v", ErrInvalidParams, p.Leverage)
	}
	return nil
}

// Level is one price point of a grid.
type Level struct {
	Price      float64 `json:"price"`
	Side       Side    `json:"side"`
	TakeProfit float64 `json:"take_profit"`
	IsOpen     bool    `json:"is_open"`
}

// PairGrid is the grid currently active for one pair.
type PairGrid struct {
	Pair           string  `json:"pair"`
	Center         float64 `json:"center"`
	Low            float64 `json:"low"`
	High           float64 `json:"high"`
	Gap            float64 `json:"gap"`
	AmountPerLevel float64 `json:"amount_per_level"`
	Levels         []Level `json:"levels"`
}

// Active reports whether the grid is sized to trade.
func (g *PairGrid) Active() bool {
	return g.AmountPerLevel > 0 && len(g.Levels) > 0
}

// OpenLevels counts the levels currently holding a position.
func (g *PairGrid) OpenLevels() int {
	n := 0
	for _, l := range g.Levels {
		if l.IsOpen {
			n++
		}
	}
	return n
}

func (g *PairGrid) clone() PairGrid {
	c := *g
	c.Levels = make([]Level, len(g.Levels))
	copy(c.Levels, g.Levels)
	return c
}

// StepEvent is a single decision produced by the Stepper for one tick.
type StepEvent struct {
	Action     Action  `json:"action"`
	Pair       string  `json:"pair"`
	Side       Side    `json:"side,omitempty"`
	Amount     float64 `json:"amount"`
	LevelPrice float64 `json:"level_price"`
	TakeProfit float64 `json:"take_profit"`
}
