package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/sylver911/qs-trader-logic-sub000/internal/entity"
	"github.com/sylver911/qs-trader-logic-sub000/internal/trader/dto"
	"github.com/sylver911/qs-trader-logic-sub000/internal/trader/repository"
	"github.com/sylver911/qs-trader-logic-sub000/internal/trader/strategy"
	"github.com/sylver911/qs-trader-logic-sub000/pkg/logger"
	"github.com/sylver911/qs-trader-logic-sub000/pkg/metrics"
	"github.com/sylver911/qs-trader-logic-sub000/pkg/telegram"
)

// ProcessorService runs one processing attempt for a queued or resumed signal.
type ProcessorService interface {
	Process(ctx context.Context, task dto.Task) error
}

type processorService struct {
	signals  repository.SignalRepository
	runtime  repository.RuntimeConfigRepository
	router   *strategy.Router
	notifier telegram.Notifier
	logger   *logger.Logger
}

func NewProcessorService(
	signals repository.SignalRepository,
	runtime repository.RuntimeConfigRepository,
	router *strategy.Router,
	notifier telegram.Notifier,
	log *logger.Logger,
) ProcessorService {
	return &processorService{
		signals:  signals,
		runtime:  runtime,
		router:   router,
		notifier: notifier,
		logger:   log,
	}
}

// Process loads the signal, routes it and records the decision. A delay only
// records scheduling metadata; every other decision is written as the outcome.
func (s *processorService) Process(ctx context.Context, task dto.Task) error {
	ctx = logger.WithContext(ctx, logger.StringField("signal_id", task.SignalID))

	signal, err := s.signals.FindByID(ctx, task.SignalID)
	if err != nil {
		return fmt.Errorf("failed to load signal %s: %w", task.SignalID, err)
	}
	if signal.Processed {
		s.logger.InfoContext(ctx, "Signal already processed, skipping")
		return nil
	}

	snapshot, err := s.runtime.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("failed to load runtime config: %w", err)
	}

	decision := s.router.Dispatch(ctx, signal, &strategy.Request{
		Snapshot:   snapshot,
		Resumption: task.Scheduled,
	})
	metrics.DecisionsTotal.WithLabelValues(decision.Outcome(), decision.Category).Inc()

	if decision.Kind == dto.DecisionDelay {
		if decision.DueAt == nil {
			return fmt.Errorf("delay decision for %s has no due time", signal.ID)
		}
		if err := s.signals.WriteScheduled(ctx, signal.ID, *decision.DueAt, decision.RetryCount); err != nil {
			return fmt.Errorf("failed to record schedule: %w", err)
		}
		s.logger.InfoContext(ctx, "Signal deferred",
			logger.StringField("strategy", decision.Strategy),
			logger.Field("due_at", decision.DueAt),
			logger.IntField("retry_count", decision.RetryCount))
		return nil
	}

	if err := s.signals.WriteOutcome(ctx, signal.ID, decision); err != nil {
		if errors.Is(err, dto.ErrOutcomeRecorded) {
			s.logger.WarnContext(ctx, "Outcome already recorded by another attempt")
			return nil
		}
		return fmt.Errorf("failed to record outcome: %w", err)
	}

	s.logger.InfoContext(ctx, "Signal processed",
		logger.StringField("strategy", decision.Strategy),
		logger.StringField("outcome", decision.Outcome()),
		logger.StringField("category", decision.Category),
		logger.StringField("reason", decision.Reason))

	if decision.Kind == dto.DecisionExecute {
		s.notifyExecution(ctx, signal, decision)
	}
	return nil
}

func (s *processorService) notifyExecution(ctx context.Context, signal *entity.Signal, decision dto.Decision) {
	msg := telegram.FormatExecutionMessage(telegram.ExecutionNotice{
		SignalID:   signal.ID,
		SignalName: signal.ThreadName,
		Strategy:   decision.Strategy,
		Ticker:     signal.NormalizedTicker(),
		Success:    decision.Success,
		Simulated:  decision.Simulated,
		OrderID:    decision.OrderID,
		Error:      decision.Error,
		Reasoning:  decision.Reasoning,
		DecidedAt:  decision.DecidedAt,
	})
	if err := s.notifier.SendMessage(msg); err != nil {
		s.logger.WarnContext(ctx, "Failed to send telegram notification", logger.ErrorField(err))
	}
}
