package strategy

import (
	"context"
	"errors"
	"fmt"

	"github.com/sylver911/qs-trader-logic-sub000/internal/entity"
	"github.com/sylver911/qs-trader-logic-sub000/internal/trader/dto"
	"github.com/sylver911/qs-trader-logic-sub000/pkg/common"
	"github.com/sylver911/qs-trader-logic-sub000/pkg/logger"
)

// Router selects the strategy for a signal and runs it.
type Router struct {
	strategies []Strategy
	fallback   Strategy
	logger     *logger.Logger
}

// NewRouter builds a router. Registration order decides ties.
func NewRouter(log *logger.Logger, fallback Strategy, strategies ...Strategy) *Router {
	if fallback == nil {
		fallback = NewDefaultStrategy()
	}
	return &Router{strategies: strategies, fallback: fallback, logger: log}
}

// Route returns the first strategy matching the signal's source id, else the
// first matching the source name, else the fallback.
func (r *Router) Route(signal *entity.Signal) Strategy {
	var byName Strategy
	for _, s := range r.strategies {
		switch s.Matches(signal) {
		case MatchSourceID:
			return s
		case MatchName:
			if byName == nil {
				byName = s
			}
		}
	}
	if byName != nil {
		return byName
	}
	return r.fallback
}

// Dispatch routes the signal and always returns a decision.
func (r *Router) Dispatch(ctx context.Context, signal *entity.Signal, req *Request) (decision dto.Decision) {
	s := r.Route(signal)
	log := r.logger.With(logger.StringField("signal_id", signal.ID), logger.StringField("strategy", s.Name()))

	defer func() {
		if rec := recover(); rec != nil {
			log.Error("Strategy panicked", logger.Field("panic", rec))
			decision = dto.Skip(fmt.Sprintf("strategy %s panicked: %v", s.Name(), rec), common.CategoryStrategyError)
		}
		decision.Strategy = s.Name()
	}()

	if err := s.PreCheck(ctx, signal, req); err != nil {
		var verr *dto.ValidationError
		if errors.As(err, &verr) {
			log.Info("Signal rejected by pre-check", logger.StringField("check", verr.Check), logger.StringField("reason", verr.Reason))
			return dto.Skip(verr.Reason, common.CategoryPrecondition)
		}
		log.Warn("Pre-check failed", logger.ErrorField(err))
		return dto.Skip(err.Error(), common.CategoryPrecondition)
	}

	d, err := s.Execute(ctx, signal, req)
	if err != nil {
		log.Error("Strategy execution failed", logger.ErrorField(err))
		return dto.Skip(err.Error(), common.CategoryStrategyError)
	}
	return d
}
