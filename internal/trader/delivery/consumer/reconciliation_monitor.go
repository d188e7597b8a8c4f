package consumer

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/sylver911/qs-trader-logic-sub000/internal/trader/config"
	"github.com/sylver911/qs-trader-logic-sub000/internal/trader/dto"
	"github.com/sylver911/qs-trader-logic-sub000/internal/trader/service"
	"github.com/sylver911/qs-trader-logic-sub000/pkg/logger"
)

// ReconciliationMonitor runs the reconciliation cycle on a cron schedule.
// Overlapping cycles are skipped.
type ReconciliationMonitor struct {
	cfg     config.Reconciliation
	svc     service.ReconciliationService
	logger  *logger.Logger
	cron    *cron.Cron
	entryID cron.EntryID
}

func NewReconciliationMonitor(cfg *config.Config, svc service.ReconciliationService, log *logger.Logger) *ReconciliationMonitor {
	cl := cronLogger{log: log}
	return &ReconciliationMonitor{
		cfg:    cfg.Reconciliation,
		svc:    svc,
		logger: log,
		cron: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
	}
}

// Start registers the cycle and starts the cron runner.
func (m *ReconciliationMonitor) Start(ctx context.Context) error {
	id, err := m.cron.AddFunc(m.cfg.Schedule, func() {
		_, _ = m.RunOnce(ctx)
	})
	if err != nil {
		return fmt.Errorf("invalid reconciliation schedule %q: %w", m.cfg.Schedule, err)
	}
	m.entryID = id
	m.cron.Start()
	m.logger.Info("Reconciliation monitor started", logger.StringField("schedule", m.cfg.Schedule))
	return nil
}

// RunOnce runs one reconciliation cycle bounded by the configured timeout.
func (m *ReconciliationMonitor) RunOnce(ctx context.Context) (*dto.ReconciliationReport, error) {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
	defer cancel()

	report, err := m.svc.Reconcile(ctx)
	if err != nil {
		m.logger.ErrorContext(ctx, "Reconciliation cycle failed", logger.ErrorField(err))
		return nil, err
	}
	return report, nil
}

// Stop waits for a running cycle, up to the configured stop timeout.
func (m *ReconciliationMonitor) Stop() {
	done := m.cron.Stop()
	select {
	case <-done.Done():
		m.logger.Info("Reconciliation monitor stopped")
	case <-time.After(m.cfg.StopTimeout):
		m.logger.Warn("Reconciliation monitor stop timed out", logger.DurationField("timeout", m.cfg.StopTimeout))
	}
}

// cronLogger adapts the service logger to cron.Logger.
type cronLogger struct {
	log *logger.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Sugar().Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Sugar().Errorw(msg, append(keysAndValues, "error", err)...)
}
