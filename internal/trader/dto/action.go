package dto

const (
	ActionSkip               = "skip"
	ActionPlaceBracketOrder  = "placeBracketOrder"
	ActionScheduleReanalysis = "scheduleReanalysis"

	ToolGetMarketStatus   = "getMarketStatus"
	ToolGetOptionChain    = "getOptionChain"
	ToolGetAccountSummary = "getAccountSummary"
	ToolGetPositions      = "getPositions"
	ToolGetQuote          = "getQuote"
)

// IsAction reports whether name is one of the three terminal actions.
func IsAction(name string) bool {
	switch name {
	case ActionSkip, ActionPlaceBracketOrder, ActionScheduleReanalysis:
		return true
	}
	return false
}

// BracketOrderArgs are the arguments of placeBracketOrder.
type BracketOrderArgs struct {
	Ticker     string  `json:"ticker" validate:"required,max=10"`
	Direction  string  `json:"direction" validate:"required,oneof=CALL PUT call put"`
	Strike     float64 `json:"strike" validate:"required,gt=0"`
	Expiry     string  `json:"expiry" validate:"required,datetime=2006-01-02"`
	Quantity   int     `json:"quantity" validate:"required,gt=0,lte=100"`
	EntryPrice float64 `json:"entry_price" validate:"required,gt=0"`
	TakeProfit float64 `json:"take_profit" validate:"required,gtfield=EntryPrice"`
	StopLoss   float64 `json:"stop_loss" validate:"required,gt=0,ltfield=EntryPrice"`
	Reasoning  string  `json:"reasoning"`
}

// ScheduleArgs are the arguments of scheduleReanalysis.
type ScheduleArgs struct {
	DelayMinutes float64   `json:"delay_minutes"`
	DueAt        string    `json:"due_at"`
	Reason       string    `json:"reason"`
	Question     string    `json:"question"`
	KeyLevels    []float64 `json:"key_levels"`
}

// SkipArgs are the arguments of skip.
type SkipArgs struct {
	Reason   string `json:"reason"`
	Category string `json:"category"`
}
