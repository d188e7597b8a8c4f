package repository

import (
	"context"
	"time"

	"github.com/sylver911/qs-trader-logic-sub000/internal/entity"
	"github.com/sylver911/qs-trader-logic-sub000/internal/trader/dto"
)

// QueueRepository owns the work queue and the per-signal bookkeeping keys.
type QueueRepository interface {
	Enqueue(ctx context.Context, task dto.Task) error
	Requeue(ctx context.Context, task dto.Task) error
	Pop(ctx context.Context, timeout time.Duration) (*dto.Task, error)
	MarkProcessing(ctx context.Context, signalID string, ttl time.Duration) (bool, error)
	ReleaseProcessing(ctx context.Context, signalID string) error
	MarkCompleted(ctx context.Context, signalID string, at time.Time) error
	MarkFailed(ctx context.Context, signalID string, errMsg string, at time.Time) error
	ListFailed(ctx context.Context) ([]dto.FailedTask, error)
}

// ScheduleRepository persists deferred reanalysis entries and their due index.
type ScheduleRepository interface {
	Save(ctx context.Context, entry *dto.ScheduledReanalysis, ttl time.Duration) error
	FindDue(ctx context.Context, now time.Time) ([]dto.ScheduledReanalysis, error)
	Claim(ctx context.Context, signalID string) (bool, error)
	Get(ctx context.Context, signalID string) (*dto.ScheduledReanalysis, error)
	List(ctx context.Context) ([]dto.ScheduledReanalysis, error)
	Delete(ctx context.Context, signalID string) error
}

// RuntimeConfigRepository exposes the operator-controlled runtime switches.
type RuntimeConfigRepository interface {
	Snapshot(ctx context.Context) (dto.RuntimeSnapshot, error)
	SetEmergencyStop(ctx context.Context, enabled bool) error
	SetSimulationMode(ctx context.Context, enabled bool) error
}

type SignalRepository interface {
	FindByID(ctx context.Context, id string) (*entity.Signal, error)
	WriteOutcome(ctx context.Context, id string, decision dto.Decision) error
	WriteScheduled(ctx context.Context, id string, dueAt time.Time, retryCount int) error
}

type TradeRepository interface {
	Create(ctx context.Context, trade *entity.Trade) error
	FindOpen(ctx context.Context) ([]entity.Trade, error)
	Close(ctx context.Context, id uint, close dto.TradeClose) (bool, error)
}

// BrokerRepository is the brokerage gateway.
type BrokerRepository interface {
	GetPositions(ctx context.Context) ([]dto.Position, error)
	GetAccountSummary(ctx context.Context) (*dto.AccountSummary, error)
	GetLiveOrders(ctx context.Context) ([]dto.LiveOrder, error)
	GetExecutions(ctx context.Context) ([]dto.Execution, error)
	GetQuote(ctx context.Context, symbol string) (*dto.Quote, error)
	GetOptionChain(ctx context.Context, ticker string, expiry time.Time) (*dto.OptionChain, error)
	ResolveOptionContract(ctx context.Context, ticker string, expiry time.Time, strike float64, right string) (*dto.OptionContract, error)
	PlaceBracketOrder(ctx context.Context, order dto.BracketOrder) (*dto.BracketOrderResult, error)
	CancelOrder(ctx context.Context, orderID string) error
}

// ReasoningEngineRepository sends one request to the reasoning engine.
type ReasoningEngineRepository interface {
	Provider() string
	Decide(ctx context.Context, req dto.EngineRequest) (*dto.EngineResponse, error)
}

type VolatilityRepository interface {
	CurrentVolatility(ctx context.Context) (float64, error)
}

type NewsRepository interface {
	RecentHeadlines(ctx context.Context, ticker string, limit int) ([]dto.NewsHeadline, error)
}
