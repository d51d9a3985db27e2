package main

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"grid-trade-bot-go/internal/grid"
	"grid-trade-bot-go/internal/models"
)

const defaultTradesLimit = 100

// APIHandler holds dependencies for the API endpoints.
type APIHandler struct {
	log *zap.Logger
	db  *gorm.DB
	now func() time.Time
}

// NewAPIHandler creates a new APIHandler.
func NewAPIHandler(log *zap.Logger, db *gorm.DB) *APIHandler {
	return &APIHandler{log: log, db: db, now: time.Now}
}

// Routes registers every endpoint on a new mux.
func (h *APIHandler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", h.StatusHandler)
	mux.HandleFunc("/api/trades", h.TradesHandler)
	mux.HandleFunc("/api/statistics", h.StatisticsHandler)
	return mux
}

func (h *APIHandler) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Error("Failed to write response", zap.Error(err))
	}
}

// PairStatus summarizes the recorded position of a single pair.
type PairStatus struct {
	Pair         string  `json:"pair"`
	OpenLevels   int64   `json:"open_levels"`
	LastPrice    float64 `json:"last_price"`
	LastTradeAt  int64   `json:"last_trade_at"`
	IsSimulation bool    `json:"is_simulation"`
}

// StatusHandler reports, per pair, how many levels are open according to the
// trade history.
func (h *APIHandler) StatusHandler(w http.ResponseWriter, r *http.Request) {
	var trades []models.Trade
	if err := h.db.Order("timestamp asc").Order("id asc").Find(&trades).Error; err != nil {
		h.log.Error("Failed to get trades from database", zap.Error(err))
		http.Error(w, "Failed to get status", http.StatusInternalServerError)
		return
	}

	byPair := make(map[string]*PairStatus)
	var order []string
	for _, t := range trades {
		st, ok := byPair[t.Pair]
		if !ok {
			st = &PairStatus{Pair: t.Pair}
			byPair[t.Pair] = st
			order = append(order, t.Pair)
		}
		switch grid.Action(t.Action) {
		case grid.ActionOpen:
			st.OpenLevels++
		case grid.ActionClose:
			if st.OpenLevels > 0 {
				st.OpenLevels--
			}
		}
		st.LastPrice = t.Price
		st.LastTradeAt = t.Timestamp
		st.IsSimulation = t.IsSimulation
	}

	out := make([]PairStatus, 0, len(order))
	for _, p := range order {
		out = append(out, *byPair[p])
	}
	h.writeJSON(w, out)
}

// TradesHandler returns the most recent trades, optionally filtered by pair.
func (h *APIHandler) TradesHandler(w http.ResponseWriter, r *http.Request) {
	limit := defaultTradesLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	q := h.db.Order("timestamp desc").Order("id desc").Limit(limit)
	if pair := r.URL.Query().Get("pair"); pair != "" {
		q = q.Where("pair = ?", pair)
	}

	var trades []models.Trade
	if err := q.Find(&trades).Error; err != nil {
		h.log.Error("Failed to get trades from database", zap.Error(err))
		http.Error(w, "Failed to get trades", http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, trades)
}

// StatsDetail holds calculated statistics for a given period.
type StatsDetail struct {
	TotalTrades      int64   `json:"total_trades"`
	ProfitableTrades int64   `json:"profitable_trades"`
	WinRate          float64 `json:"win_rate"`
	TotalProfit      float64 `json:"total_profit"`
}

func (s *StatsDetail) add(profit float64) {
	s.TotalTrades++
	if profit > 0 {
		s.ProfitableTrades++
	}
	s.TotalProfit += profit
	s.WinRate = float64(s.ProfitableTrades) / float64(s.TotalTrades)
}

// StatisticsResponse is the structure for the /api/statistics endpoint.
type StatisticsResponse struct {
	Since24h StatsDetail            `json:"since_24h"`
	AllTime  StatsDetail            `json:"all_time"`
	ByPair   map[string]StatsDetail `json:"by_pair"`
}

// StatisticsHandler calculates realized statistics over closed levels.
func (h *APIHandler) StatisticsHandler(w http.ResponseWriter, r *http.Request) {
	var closes []models.Trade
	if err := h.db.Where("action = ?", string(grid.ActionClose)).Find(&closes).Error; err != nil {
		h.log.Error("Failed to get trades for statistics", zap.Error(err))
		http.Error(w, "Failed to calculate statistics", http.StatusInternalServerError)
		return
	}

	since24h := h.now().Add(-24 * time.Hour)
	resp := StatisticsResponse{ByPair: make(map[string]StatsDetail)}

	for _, t := range closes {
		resp.AllTime.add(t.Profit)
		if time.UnixMilli(t.Timestamp).After(since24h) {
			resp.Since24h.add(t.Profit)
		}
		pair := resp.ByPair[t.Pair]
		pair.add(t.Profit)
		resp.ByPair[t.Pair] = pair
	}

	h.writeJSON(w, resp)
}
