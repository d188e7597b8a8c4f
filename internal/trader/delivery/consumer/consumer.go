package consumer

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/sylver911/qs-trader-logic-sub000/internal/trader/config"
	"github.com/sylver911/qs-trader-logic-sub000/internal/trader/dto"
	"github.com/sylver911/qs-trader-logic-sub000/internal/trader/repository"
	"github.com/sylver911/qs-trader-logic-sub000/internal/trader/service"
	"github.com/sylver911/qs-trader-logic-sub000/pkg/logger"
	"github.com/sylver911/qs-trader-logic-sub000/pkg/metrics"
	"github.com/sylver911/qs-trader-logic-sub000/pkg/telegram"
	"github.com/sylver911/qs-trader-logic-sub000/pkg/utils"
)

// Handler processes a single task.
type Handler func(ctx context.Context, task dto.Task) error

// RedisConsumer feeds one worker from two pollers: the due index of scheduled
// reanalyses and the signal work queue. Due scheduled entries are preferred
// when both are ready.
type RedisConsumer struct {
	cfg       *config.Config
	queue     repository.QueueRepository
	scheduler service.SchedulerService
	notifier  telegram.Notifier
	logger    *logger.Logger
	stopChan  chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
	now       func() time.Time
}

// NewRedisConsumer creates a new RedisConsumer.
func NewRedisConsumer(
	cfg *config.Config,
	queue repository.QueueRepository,
	scheduler service.SchedulerService,
	notifier telegram.Notifier,
	log *logger.Logger,
) *RedisConsumer {
	return &RedisConsumer{
		cfg:       cfg,
		queue:     queue,
		scheduler: scheduler,
		notifier:  notifier,
		logger:    log,
		stopChan:  make(chan struct{}),
		now:       time.Now,
	}
}

// Start runs the consumer in the background until Stop is called or ctx is
// cancelled.
func (c *RedisConsumer) Start(ctx context.Context, handler Handler) {
	c.wg.Add(1)
	utils.GoSafe(c.logger, func() {
		defer c.wg.Done()
		c.Run(ctx, handler)
	})
}

// Run starts both pollers and processes their tasks one at a time. Stopping
// cancels the pollers only; a task in flight runs to completion under ctx.
func (c *RedisConsumer) Run(ctx context.Context, handler Handler) {
	c.logger.Info("Signal consumer started",
		logger.DurationField("pop_timeout", c.cfg.Trader.PopTimeout),
		logger.DurationField("scheduled_poll_interval", c.cfg.Trader.ScheduledPollInterval))

	pollCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	scheduled := make(chan dto.ScheduledReanalysis)
	queued := make(chan dto.Task)

	var pollers sync.WaitGroup
	pollers.Add(3)
	utils.GoSafe(c.logger, func() {
		defer pollers.Done()
		select {
		case <-c.stopChan:
			cancel()
		case <-pollCtx.Done():
		}
	})
	utils.GoSafe(c.logger, func() {
		defer pollers.Done()
		c.pollScheduled(pollCtx, scheduled)
	})
	utils.GoSafe(c.logger, func() {
		defer pollers.Done()
		c.pollQueue(pollCtx, queued)
	})

	for {
		select {
		case entry := <-scheduled:
			c.runScheduled(ctx, handler, entry)
			continue
		default:
		}

		select {
		case <-pollCtx.Done():
			cancel()
			pollers.Wait()
			c.logger.Info("Signal consumer stopping")
			return
		case entry := <-scheduled:
			c.runScheduled(ctx, handler, entry)
		case task := <-queued:
			c.handle(ctx, handler, task)
		}
	}
}

// Stop signals the pollers and waits for the in-flight task to finish.
func (c *RedisConsumer) Stop() {
	c.stopOnce.Do(func() { close(c.stopChan) })
	c.wg.Wait()
	c.logger.Info("Signal consumer stopped")
}

// pollScheduled sends due entries, earliest first, every poll interval.
func (c *RedisConsumer) pollScheduled(ctx context.Context, out chan<- dto.ScheduledReanalysis) {
	ticker := time.NewTicker(c.cfg.Trader.ScheduledPollInterval)
	defer ticker.Stop()

	for {
		entries, err := c.scheduler.Due(ctx)
		if err != nil && ctx.Err() == nil {
			c.logger.Error("Failed to load due scheduled entries", logger.ErrorField(err))
		}
		if len(entries) > 0 {
			c.logger.Info("Dispatching scheduled reanalyses", logger.IntField("count", len(entries)))
		}
		for _, entry := range entries {
			select {
			case out <- entry:
			case <-ctx.Done():
				return
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// pollQueue pops tasks and hands them to the worker. A task popped but not
// handed over before shutdown goes back to the head of the queue.
func (c *RedisConsumer) pollQueue(ctx context.Context, out chan<- dto.Task) {
	for ctx.Err() == nil {
		task, err := c.queue.Pop(ctx, c.cfg.Trader.PopTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Error("Failed to pop task", logger.ErrorField(err))
			c.backoff(ctx)
			continue
		}
		if task == nil {
			continue
		}

		select {
		case out <- *task:
		case <-ctx.Done():
			if err := c.queue.Requeue(context.WithoutCancel(ctx), *task); err != nil {
				c.logger.Error("Failed to requeue task", logger.StringField("signal_id", task.SignalID), logger.ErrorField(err))
			}
			return
		}
	}
}

func (c *RedisConsumer) backoff(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(c.cfg.Trader.PopTimeout):
	}
}

// runScheduled takes the processing marker, then claims the due entry and
// runs it. Only the caller that removes the entry from the due index runs it,
// so each entry is attempted once. While another worker holds the marker the
// entry stays due and is picked up again on a later poll.
func (c *RedisConsumer) runScheduled(ctx context.Context, handler Handler, entry dto.ScheduledReanalysis) {
	log := c.logger.With(logger.StringField("signal_id", entry.SignalID))
	bookkeeping := context.WithoutCancel(ctx)

	ok, err := c.queue.MarkProcessing(bookkeeping, entry.SignalID, c.cfg.Trader.ProcessingTTL)
	if err != nil {
		log.Error("Failed to mark scheduled entry processing", logger.ErrorField(err))
		return
	}
	if !ok {
		metrics.QueueTasksTotal.WithLabelValues("duplicate").Inc()
		log.Info("Signal already being processed, leaving scheduled entry due")
		return
	}

	claimed, err := c.scheduler.Claim(bookkeeping, entry.SignalID)
	if err != nil || !claimed {
		if err != nil {
			log.Error("Failed to claim scheduled entry", logger.ErrorField(err))
		}
		c.release(bookkeeping, log, entry.SignalID)
		return
	}

	c.process(ctx, log, handler, dto.Task{
		SignalID:   entry.SignalID,
		SignalName: entry.SignalName,
		Scheduled:  &entry,
	})
}

// handle runs a queued task under the processing marker. A task whose signal
// is already held by another worker is recorded as failed.
func (c *RedisConsumer) handle(ctx context.Context, handler Handler, task dto.Task) {
	log := c.logger.With(logger.StringField("signal_id", task.SignalID))
	bookkeeping := context.WithoutCancel(ctx)

	ok, err := c.queue.MarkProcessing(bookkeeping, task.SignalID, c.cfg.Trader.ProcessingTTL)
	if err != nil {
		c.fail(bookkeeping, log, task, err)
		return
	}
	if !ok {
		metrics.QueueTasksTotal.WithLabelValues("duplicate").Inc()
		log.Info("Signal already being processed, recording duplicate delivery")
		if err := c.queue.MarkFailed(bookkeeping, task.SignalID, dto.ErrAlreadyProcessing.Error(), c.now()); err != nil {
			log.Error("Failed to mark task failed", logger.ErrorField(err))
		}
		return
	}

	c.process(ctx, log, handler, task)
}

// process runs a task whose processing marker is held and records the result.
func (c *RedisConsumer) process(ctx context.Context, log *logger.Logger, handler Handler, task dto.Task) {
	bookkeeping := context.WithoutCancel(ctx)
	defer c.release(bookkeeping, log, task.SignalID)

	start := c.now()
	if err := c.invoke(ctx, handler, task); err != nil {
		c.fail(bookkeeping, log, task, err)
		return
	}

	if err := c.queue.MarkCompleted(bookkeeping, task.SignalID, c.now()); err != nil {
		log.Error("Failed to mark task completed", logger.ErrorField(err))
	}
	metrics.QueueTasksTotal.WithLabelValues("completed").Inc()
	log.Info("Task completed",
		logger.Field("resumption", task.IsResumption()),
		logger.DurationField("duration", c.now().Sub(start)))
}

func (c *RedisConsumer) release(ctx context.Context, log *logger.Logger, signalID string) {
	if err := c.queue.ReleaseProcessing(ctx, signalID); err != nil {
		log.Warn("Failed to release processing marker", logger.ErrorField(err))
	}
}

func (c *RedisConsumer) invoke(ctx context.Context, handler Handler, task dto.Task) (err error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Trader.TaskTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Task handler panicked",
				logger.StringField("signal_id", task.SignalID),
				logger.Field("panic", r),
				logger.StringField("stack", string(debug.Stack())))
			err = fmt.Errorf("panic processing signal %s: %v", task.SignalID, r)
		}
	}()
	return handler(ctx, task)
}

func (c *RedisConsumer) fail(ctx context.Context, log *logger.Logger, task dto.Task, cause error) {
	metrics.QueueTasksTotal.WithLabelValues("failed").Inc()
	log.Error("Task failed", logger.ErrorField(cause))

	at := c.now()
	if err := c.queue.MarkFailed(ctx, task.SignalID, cause.Error(), at); err != nil {
		log.Error("Failed to mark task failed", logger.ErrorField(err))
	}

	msg := telegram.FormatErrorAlertMessage(at, "task_failed", cause.Error(), task.SignalID)
	if err := c.notifier.SendMessage(msg); err != nil {
		log.Warn("Failed to send telegram notification", logger.ErrorField(err))
	}
}
