package dto

import (
	"time"

	"github.com/shopspring/decimal"
)

type Position struct {
	ContractID  string  `json:"contract_id"`
	Ticker      string  `json:"ticker"`
	Description string  `json:"description"`
	AssetClass  string  `json:"asset_class"`
	Quantity    float64 `json:"quantity"`
	AvgCost     float64 `json:"avg_cost"`
	MarketPrice float64 `json:"market_price"`
	UnrealPnL   float64 `json:"unrealized_pnl"`
}

type AccountSummary struct {
	AccountID      string  `json:"account_id"`
	BuyingPower    float64 `json:"buying_power"`
	NetLiquidation float64 `json:"net_liquidation"`
	AvailableFunds float64 `json:"available_funds"`
	Currency       string  `json:"currency"`
}

type OrderStatus string

const (
	OrderStatusSubmitted OrderStatus = "submitted"
	OrderStatusFilled    OrderStatus = "filled"
	OrderStatusCancelled OrderStatus = "cancelled"
	OrderStatusRejected  OrderStatus = "rejected"
	OrderStatusInactive  OrderStatus = "inactive"
	OrderStatusUnknown   OrderStatus = "unknown"
)

type LiveOrder struct {
	OrderID        string          `json:"order_id"`
	ParentID       string          `json:"parent_id,omitempty"`
	Ticker         string          `json:"ticker"`
	Side           string          `json:"side"`
	Status         OrderStatus     `json:"status"`
	FilledQuantity decimal.Decimal `json:"filled_quantity"`
	AvgPrice       decimal.Decimal `json:"avg_price"`
}

type Execution struct {
	ExecutionID string          `json:"execution_id"`
	OrderID     string          `json:"order_id"`
	Ticker      string          `json:"ticker"`
	Side        string          `json:"side"`
	Quantity    decimal.Decimal `json:"quantity"`
	Price       decimal.Decimal `json:"price"`
	ExecutedAt  time.Time       `json:"executed_at"`
}

type Quote struct {
	Symbol string  `json:"symbol"`
	Last   float64 `json:"last"`
	Bid    float64 `json:"bid"`
	Ask    float64 `json:"ask"`
}

type OptionChain struct {
	Ticker string    `json:"ticker"`
	Expiry string    `json:"expiry"`
	Calls  []float64 `json:"call_strikes"`
	Puts   []float64 `json:"put_strikes"`
}

// OptionContract identifies a listed option.
type OptionContract struct {
	ContractID string    `json:"contract_id"`
	Ticker     string    `json:"ticker"`
	Expiry     time.Time `json:"expiry"`
	Strike     float64   `json:"strike"`
	Right      string    `json:"right"`
	Multiplier int       `json:"multiplier"`
}

// BracketOrder is an entry order with attached take-profit and stop-loss
// children that cancel each other.
type BracketOrder struct {
	Contract   OptionContract
	Side       string
	Quantity   int
	EntryPrice float64
	TakeProfit float64
	StopLoss   float64
	TIF        string
	Reference  string
}

type BracketOrderResult struct {
	OrderID           string `json:"order_id"`
	TakeProfitOrderID string `json:"take_profit_order_id"`
	StopLossOrderID   string `json:"stop_loss_order_id"`
}

type MarketStatus struct {
	Now        time.Time `json:"now"`
	IsOpen     bool      `json:"is_open"`
	Session    string    `json:"session"`
	NextChange time.Time `json:"next_change"`
}

type NewsHeadline struct {
	Title       string     `json:"title"`
	Source      string     `json:"source,omitempty"`
	Link        string     `json:"link,omitempty"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
}
