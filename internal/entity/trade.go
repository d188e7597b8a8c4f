package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

type TradeStatus string

const (
	TradeStatusOpen        TradeStatus = "open"
	TradeStatusClosedTP    TradeStatus = "closed_tp"
	TradeStatusClosedSL    TradeStatus = "closed_sl"
	TradeStatusClosedOther TradeStatus = "closed_other"
	TradeStatusCancelled   TradeStatus = "cancelled"
)

// IsTerminal reports whether the status can no longer change.
func (s TradeStatus) IsTerminal() bool {
	return s != TradeStatusOpen
}

// Trade is a locally tracked bracket order opened from a signal.
type Trade struct {
	ID        uint   `gorm:"primaryKey" json:"id"`
	SignalID  string `gorm:"type:varchar(64);index;not null" json:"signal_id"`
	Strategy  string `json:"strategy"`
	Ticker    string `gorm:"not null" json:"ticker"`
	Direction string `gorm:"not null" json:"direction"`

	ContractID string          `json:"contract_id"`
	Right      string          `gorm:"type:varchar(4)" json:"right"`
	Strike     decimal.Decimal `gorm:"type:numeric(20,10)" json:"strike"`
	Expiry     *time.Time      `gorm:"type:date" json:"expiry,omitempty"`

	EntryPrice decimal.Decimal `gorm:"type:numeric(20,10);not null" json:"entry_price"`
	Quantity   int             `gorm:"not null" json:"quantity"`
	Multiplier int             `gorm:"not null;default:100" json:"multiplier"`
	TakeProfit decimal.Decimal `gorm:"type:numeric(20,10)" json:"take_profit"`
	StopLoss   decimal.Decimal `gorm:"type:numeric(20,10)" json:"stop_loss"`

	OrderID           string `gorm:"index" json:"order_id"`
	TakeProfitOrderID string `json:"take_profit_order_id"`
	StopLossOrderID   string `json:"stop_loss_order_id"`

	Status      TradeStatus      `gorm:"type:varchar(20);index;not null;default:open" json:"status"`
	ExitPrice   *decimal.Decimal `gorm:"type:numeric(20,10)" json:"exit_price,omitempty"`
	PnL         *decimal.Decimal `gorm:"column:pnl;type:numeric(20,10)" json:"pnl,omitempty"`
	CloseReason string           `json:"close_reason,omitempty"`
	Simulated   bool             `gorm:"not null;default:false" json:"simulated"`

	OpenedAt  time.Time  `gorm:"not null" json:"opened_at"`
	ClosedAt  *time.Time `json:"closed_at,omitempty"`
	CreatedAt time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Trade) TableName() string {
	return "trades"
}
