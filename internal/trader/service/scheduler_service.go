package service

import (
	"context"
	"fmt"
	"time"

	"github.com/sylver911/qs-trader-logic-sub000/internal/trader/config"
	"github.com/sylver911/qs-trader-logic-sub000/internal/trader/dto"
	"github.com/sylver911/qs-trader-logic-sub000/internal/trader/repository"
	"github.com/sylver911/qs-trader-logic-sub000/pkg/logger"
	"github.com/sylver911/qs-trader-logic-sub000/pkg/metrics"
)

// SchedulerService validates and stores deferred reanalysis requests.
type SchedulerService interface {
	Schedule(ctx context.Context, req dto.ScheduleRequest) (*dto.ScheduledReanalysis, error)
	Due(ctx context.Context) ([]dto.ScheduledReanalysis, error)
	Claim(ctx context.Context, signalID string) (bool, error)
	List(ctx context.Context) ([]dto.ScheduledReanalysis, error)
	Cancel(ctx context.Context, signalID string) error
}

type schedulerService struct {
	cfg    *config.Config
	repo   repository.ScheduleRepository
	logger *logger.Logger
	now    func() time.Time
}

func NewSchedulerService(cfg *config.Config, repo repository.ScheduleRepository, log *logger.Logger) SchedulerService {
	return &schedulerService{cfg: cfg, repo: repo, logger: log, now: time.Now}
}

// Schedule stores the request with retry count incremented. Requests outside
// the delay window or past the retry limit return a *dto.SchedulingRejection.
func (s *schedulerService) Schedule(ctx context.Context, req dto.ScheduleRequest) (*dto.ScheduledReanalysis, error) {
	bounds := s.cfg.Scheduler
	now := s.now()

	if req.RetryCount >= bounds.MaxRetries {
		return nil, s.reject(req, fmt.Sprintf("signal already rescheduled %d times (max %d)", req.RetryCount, bounds.MaxRetries))
	}
	delay := req.DueAt.Sub(now)
	if delay < bounds.MinDelay {
		return nil, s.reject(req, fmt.Sprintf("delay %s is shorter than the minimum %s", delay.Round(time.Second), bounds.MinDelay))
	}
	if delay > bounds.MaxDelay {
		return nil, s.reject(req, fmt.Sprintf("delay %s is longer than the maximum %s", delay.Round(time.Second), bounds.MaxDelay))
	}

	entry := &dto.ScheduledReanalysis{
		SignalID:         req.SignalID,
		SignalName:       req.SignalName,
		DueAt:            req.DueAt.UTC(),
		RetryCount:       req.RetryCount + 1,
		MaxRetries:       bounds.MaxRetries,
		DelayReason:      req.Reason,
		DelayQuestion:    req.Question,
		KeyLevels:        req.KeyLevels,
		PriorToolSummary: req.PriorSummary,
		SignalSummary:    req.SignalSummary,
		CreatedAt:        now.UTC(),
	}
	ttl := req.DueAt.Add(bounds.PayloadGrace).Sub(now)
	if err := s.repo.Save(ctx, entry, ttl); err != nil {
		return nil, err
	}

	metrics.ScheduledReanalysisTotal.WithLabelValues("accepted").Inc()
	s.logger.Info("Scheduled reanalysis",
		logger.StringField("signal_id", req.SignalID),
		logger.Field("due_at", entry.DueAt),
		logger.IntField("retry_count", entry.RetryCount))
	return entry, nil
}

func (s *schedulerService) reject(req dto.ScheduleRequest, reason string) error {
	metrics.ScheduledReanalysisTotal.WithLabelValues("rejected").Inc()
	s.logger.Info("Rejected reanalysis request",
		logger.StringField("signal_id", req.SignalID),
		logger.StringField("reason", reason))
	return &dto.SchedulingRejection{Reason: reason}
}

func (s *schedulerService) Due(ctx context.Context) ([]dto.ScheduledReanalysis, error) {
	return s.repo.FindDue(ctx, s.now())
}

func (s *schedulerService) Claim(ctx context.Context, signalID string) (bool, error) {
	return s.repo.Claim(ctx, signalID)
}

func (s *schedulerService) List(ctx context.Context) ([]dto.ScheduledReanalysis, error) {
	return s.repo.List(ctx)
}

func (s *schedulerService) Cancel(ctx context.Context, signalID string) error {
	if _, err := s.repo.Get(ctx, signalID); err != nil {
		return err
	}
	return s.repo.Delete(ctx, signalID)
}
