package dto

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/sylver911/qs-trader-logic-sub000/internal/entity"
)

// TradeClose is the terminal update applied to an open trade.
type TradeClose struct {
	Status      entity.TradeStatus
	ExitPrice   *decimal.Decimal
	PnL         *decimal.Decimal
	CloseReason string
	ClosedAt    time.Time
}

type ReconciliationReport struct {
	Checked   int `json:"checked"`
	Closed    int `json:"closed"`
	Cancelled int `json:"cancelled"`
	Errors    int `json:"errors"`
}
