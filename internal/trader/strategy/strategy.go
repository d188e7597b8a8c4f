package strategy

import (
	"context"

	"github.com/sylver911/qs-trader-logic-sub000/internal/entity"
	"github.com/sylver911/qs-trader-logic-sub000/internal/trader/dto"
)

// MatchKind ranks how a strategy matched a signal.
type MatchKind int

const (
	MatchNone MatchKind = iota
	MatchName
	MatchSourceID
)

// Request is the per-attempt context handed to a strategy.
type Request struct {
	Snapshot   dto.RuntimeSnapshot
	Resumption *dto.ScheduledReanalysis
}

// Strategy defines a per-source policy for handling signals.
type Strategy interface {
	Name() string
	Matches(signal *entity.Signal) MatchKind
	PreCheck(ctx context.Context, signal *entity.Signal, req *Request) error
	Execute(ctx context.Context, signal *entity.Signal, req *Request) (dto.Decision, error)
}

// DecisionInput is everything the reasoning engine adapter needs for one signal.
type DecisionInput struct {
	Signal     *entity.Signal
	Strategy   string
	Snapshot   dto.RuntimeSnapshot
	Params     dto.TradingParams
	Resumption *dto.ScheduledReanalysis
}

// DecisionMaker turns a validated signal into a decision.
type DecisionMaker interface {
	Decide(ctx context.Context, in DecisionInput) dto.Decision
}
