package grid

import "sync"

// Stepper evaluates grids tick by tick. Calls for the same pair must be
// serialized by the caller and applied in time order; different pairs are
// independent.
type Stepper struct {
	params Params
	store  Store

	locks sync.Map // pair -> *sync.Mutex
}

// NewStepper validates params once so that per-tick evaluation never has to.
func NewStepper(params Params, store Store) (*Stepper, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if store == nil {
		store = NewMemoryStore()
	}
	return &Stepper{params: params, store: store}, nil
}

// Params returns the configuration the stepper was built with.
func (s *Stepper) Params() Params {
	return s.params
}

// Step advances the grid of pair to currentPrice and returns the resulting
// events in ascending level order. Invalid price or balance is a no-op.
func (s *Stepper) Step(pair string, currentPrice, balance float64) []StepEvent {
	if currentPrice <= 0 || balance <= 0 {
		return nil
	}

	mu := s.lock(pair)
	mu.Lock()
	defer mu.Unlock()

	g, ok := s.store.Get(pair)
	if !ok {
		s.rebuild(pair, currentPrice, balance)
		return nil
	}

	// Sizing went stale, usually because the balance was zero at build time.
	if g.AmountPerLevel <= 0 {
		g = s.rebuild(pair, currentPrice, balance)
		if !g.Active() {
			return nil
		}
	}

	if currentPrice < g.Low-g.Gap || currentPrice > g.High+g.Gap {
		return s.breakout(g, currentPrice, balance)
	}

	var events []StepEvent
	for i := range g.Levels {
		lvl := &g.Levels[i]
		switch {
		case !lvl.IsOpen && lvl.Side == SideLong && currentPrice <= lvl.Price:
			lvl.IsOpen = true
			events = append(events, levelEvent(ActionOpen, g, lvl))
		case !lvl.IsOpen && lvl.Side == SideShort && currentPrice >= lvl.Price:
			lvl.IsOpen = true
			events = append(events, levelEvent(ActionOpen, g, lvl))
		case lvl.IsOpen && lvl.Side == SideLong && currentPrice >= lvl.TakeProfit:
			lvl.IsOpen = false
			events = append(events, levelEvent(ActionClose, g, lvl))
		case lvl.IsOpen && lvl.Side == SideShort && currentPrice <= lvl.TakeProfit:
			lvl.IsOpen = false
			events = append(events, levelEvent(ActionClose, g, lvl))
		}
	}
	return events
}

// breakout flattens every open level, recenters the grid on currentPrice and
// reports a single reset. No level is evaluated against the new grid.
func (s *Stepper) breakout(g *PairGrid, currentPrice, balance float64) []StepEvent {
	events := make([]StepEvent, 0, g.OpenLevels()+1)
	for i := range g.Levels {
		lvl := &g.Levels[i]
		if !lvl.IsOpen {
			continue
		}
		lvl.IsOpen = false
		events = append(events, levelEvent(ActionClose, g, lvl))
	}

	s.rebuild(g.Pair, currentPrice, balance)
	return append(events, StepEvent{
		Action:     ActionReset,
		Pair:       g.Pair,
		LevelPrice: currentPrice,
	})
}

func (s *Stepper) rebuild(pair string, centerPrice, balance float64) *PairGrid {
	g := Build(pair, centerPrice, balance, s.params)
	s.store.Put(&g)
	return &g
}

// Snapshot returns a copy of the grid stored for pair.
func (s *Stepper) Snapshot(pair string) (PairGrid, bool) {
	mu := s.lock(pair)
	mu.Lock()
	defer mu.Unlock()

	g, ok := s.store.Get(pair)
	if !ok {
		return PairGrid{}, false
	}
	return g.clone(), true
}

// Snapshots returns copies of every stored grid, sorted by pair.
func (s *Stepper) Snapshots() []PairGrid {
	pairs := s.store.Pairs()
	out := make([]PairGrid, 0, len(pairs))
	for _, p := range pairs {
		if g, ok := s.Snapshot(p); ok {
			out = append(out, g)
		}
	}
	return out
}

// lock returns the mutex guarding in-place level mutation for pair.
func (s *Stepper) lock(pair string) *sync.Mutex {
	mu, _ := s.locks.LoadOrStore(pair, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

func levelEvent(action Action, g *PairGrid, lvl *Level) StepEvent {
	return StepEvent{
		Action:     action,
		Pair:       g.Pair,
		Side:       lvl.Side,
		Amount:     g.AmountPerLevel,
		LevelPrice: lvl.Price,
		TakeProfit: lvl.TakeProfit,
	}
}
