package dto

import "time"

// TradingParams are the effective risk limits handed to the reasoning engine.
type TradingParams struct {
	MaxPositionValue float64 `json:"max_position_value"`
	DefaultQuantity  int     `json:"default_quantity"`
	TakeProfitPct    float64 `json:"take_profit_pct"`
	StopLossPct      float64 `json:"stop_loss_pct"`
	MinConfidence    float64 `json:"min_confidence"`
}

// RuntimeSnapshot is an immutable view of the runtime configuration taken at
// the start of a processing attempt.
type RuntimeSnapshot struct {
	EmergencyStop          bool
	SimulationMode         bool
	Whitelist              []string
	Blacklist              []string
	MaxVolatility          float64
	MaxConcurrentPositions int
	DecisionMode           string
	Trading                TradingParams
	TakenAt                time.Time
}
