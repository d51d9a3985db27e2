package trader

import (
	"strconv"
	"sync"

	"grid-trade-bot-go/internal/grid"
)

// PositionBook remembers the quantity actually filled at each grid level, so a
// close is only sent for a level whose open really went out. A nil book holds
// nothing.
type PositionBook struct {
	mu   sync.Mutex
	held map[string]float64
}

func NewPositionBook() *PositionBook {
	return &PositionBook{held: make(map[string]float64)}
}

func levelKey(ev grid.StepEvent) string {
	return ev.Pair + "|" + string(ev.Side) + "|" + strconv.FormatFloat(ev.LevelPrice, 'g', -1, 64)
}

// Add records quantity filled for the level of ev.
func (b *PositionBook) Add(ev grid.StepEvent, quantity float64) {
	if b == nil || quantity <= 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.held[levelKey(ev)] += quantity
}

// Take removes and returns the quantity held at the level of ev.
func (b *PositionBook) Take(ev grid.StepEvent) (float64, bool) {
	if b == nil {
		return 0, false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	key := levelKey(ev)
	q, ok := b.held[key]
	if !ok || q <= 0 {
		return 0, false
	}
	delete(b.held, key)
	return q, true
}

// Held returns the quantity held at the level of ev.
func (b *PositionBook) Held(ev grid.StepEvent) float64 {
	if b == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.held[levelKey(ev)]
}
