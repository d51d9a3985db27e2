package models

import "gorm.io/gorm"

// Trade represents an executed or simulated grid order in the database.
type Trade struct {
	gorm.Model
	Pair         string  `json:"pair" gorm:"index"`
	Symbol       string  `json:"symbol"`
	Action       string  `json:"action"`     // "open" or "close"
	PositionSide string  `json:"position"`   // "LONG" or "SHORT"
	Type         string  `json:"type"`       // "BUY" or "SELL"
	LevelPrice   float64 `json:"level_price"`
	TakeProfit   float64 `json:"take_profit"`
	Price        float64 `json:"price"`
	Quantity     float64 `json:"quantity"`
	OrderID      int64   `json:"order_id,omitempty"`
	Timestamp    int64   `json:"timestamp"` // milliseconds
	IsSimulation bool    `json:"is_simulation"`
	Profit       float64 `json:"profit,omitempty"`
}
