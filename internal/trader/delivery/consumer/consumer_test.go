package consumer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sylver911/qs-trader-logic-sub000/internal/trader/config"
	"github.com/sylver911/qs-trader-logic-sub000/internal/trader/dto"
	"github.com/sylver911/qs-trader-logic-sub000/internal/trader/repository"
	"github.com/sylver911/qs-trader-logic-sub000/internal/trader/service"
	"github.com/sylver911/qs-trader-logic-sub000/pkg/common"
	"github.com/sylver911/qs-trader-logic-sub000/pkg/logger"
)

type recordingNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (n *recordingNotifier) SendMessage(text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, text)
	return nil
}

type recordingHandler struct {
	mu    sync.Mutex
	tasks []dto.Task
	fail  map[string]error
	panic map[string]bool
}

func (h *recordingHandler) handle(_ context.Context, task dto.Task) error {
	h.mu.Lock()
	h.tasks = append(h.tasks, task)
	h.mu.Unlock()

	if h.panic[task.SignalID] {
		panic("boom")
	}
	return h.fail[task.SignalID]
}

func (h *recordingHandler) ids() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	ids := make([]string, 0, len(h.tasks))
	for _, t := range h.tasks {
		ids = append(ids, t.SignalID)
	}
	return ids
}

type consumerFixture struct {
	mr       *miniredis.Miniredis
	queue    repository.QueueRepository
	schedule repository.ScheduleRepository
	notifier *recordingNotifier
	consumer *RedisConsumer
}

func newConsumerFixture(t *testing.T) *consumerFixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	cfg := &config.Config{}
	cfg.Trader.PopTimeout = time.Second
	cfg.Trader.ScheduledPollInterval = time.Hour
	cfg.SetDefaults()

	queue := repository.NewQueueRepository(client)
	schedule := repository.NewScheduleRepository(client)
	scheduler := service.NewSchedulerService(cfg, schedule, logger.NewNop())
	notifier := &recordingNotifier{}

	return &consumerFixture{
		mr:       mr,
		queue:    queue,
		schedule: schedule,
		notifier: notifier,
		consumer: NewRedisConsumer(cfg, queue, scheduler, notifier, logger.NewNop()),
	}
}

func (f *consumerFixture) saveScheduled(t *testing.T, id string, dueAt time.Time) {
	t.Helper()
	entry := &dto.ScheduledReanalysis{SignalID: id, SignalName: "name-" + id, DueAt: dueAt, RetryCount: 1, DelayQuestion: "q-" + id}
	require.NoError(t, f.schedule.Save(context.Background(), entry, time.Hour))
}

func TestPollScheduledSendsDueEntriesInOrder(t *testing.T) {
	f := newConsumerFixture(t)
	now := time.Now()
	f.saveScheduled(t, "later", now.Add(-time.Minute))
	f.saveScheduled(t, "earlier", now.Add(-10*time.Minute))
	f.saveScheduled(t, "future", now.Add(time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	out := make(chan dto.ScheduledReanalysis)
	done := make(chan struct{})
	go func() {
		f.consumer.pollScheduled(ctx, out)
		close(done)
	}()

	var got []string
	for len(got) < 2 {
		select {
		case entry := <-out:
			got = append(got, entry.SignalID)
		case <-time.After(5 * time.Second):
			t.Fatal("no scheduled entry received")
		}
	}
	cancel()
	<-done

	assert.Equal(t, []string{"earlier", "later"}, got)
}

func TestRunScheduledClaimsOnce(t *testing.T) {
	f := newConsumerFixture(t)
	f.saveScheduled(t, "sig-1", time.Now().Add(-time.Minute))
	entries, err := f.consumer.scheduler.Due(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 1)

	h := &recordingHandler{}
	f.consumer.runScheduled(context.Background(), h.handle, entries[0])
	f.consumer.runScheduled(context.Background(), h.handle, entries[0])

	require.Len(t, h.tasks, 1)
	task := h.tasks[0]
	require.NotNil(t, task.Scheduled)
	assert.Equal(t, "q-sig-1", task.Scheduled.DelayQuestion)
	assert.Equal(t, "name-sig-1", task.SignalName)
	assert.False(t, f.mr.Exists(common.RedisKeyScheduledIndex))
	assert.False(t, f.mr.Exists(common.RedisKeyScheduledPrefix+"sig-1"))
}

func TestPollQueueRequeuesUndeliveredTask(t *testing.T) {
	f := newConsumerFixture(t)
	require.NoError(t, f.queue.Enqueue(context.Background(), dto.Task{SignalID: "sig-1"}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		// nobody receives, so the popped task is never delivered
		f.consumer.pollQueue(ctx, make(chan dto.Task))
		close(done)
	}()

	assert.Eventually(t, func() bool { return !f.mr.Exists(common.RedisKeySignalQueue) }, 5*time.Second, 10*time.Millisecond)
	cancel()
	<-done

	task, err := f.queue.Pop(context.Background(), time.Second)
	require.NoError(t, err)
	require.NotNil(t, task)
	assert.Equal(t, "sig-1", task.SignalID)
}

func TestHandleRecordsCompletion(t *testing.T) {
	f := newConsumerFixture(t)
	h := &recordingHandler{}

	f.consumer.handle(context.Background(), h.handle, dto.Task{SignalID: "sig-1"})

	members, err := f.mr.ZMembers(common.RedisKeyCompleted)
	require.NoError(t, err)
	assert.Equal(t, []string{"sig-1"}, members)
	assert.False(t, f.mr.Exists(common.RedisKeyProcessingPrefix+"sig-1"), "processing marker released")
	assert.Empty(t, f.notifier.messages)
}

func TestHandleRecordsFailures(t *testing.T) {
	tests := []struct {
		name    string
		handler *recordingHandler
		wantErr string
	}{
		{"error", &recordingHandler{fail: map[string]error{"sig-1": errors.New("db unavailable")}}, "db unavailable"},
		{"panic", &recordingHandler{panic: map[string]bool{"sig-1": true}}, "panic processing signal sig-1: boom"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newConsumerFixture(t)

			f.consumer.handle(context.Background(), tt.handler.handle, dto.Task{SignalID: "sig-1"})

			failed, err := f.queue.ListFailed(context.Background())
			require.NoError(t, err)
			require.Len(t, failed, 1)
			assert.Equal(t, "sig-1", failed[0].SignalID)
			assert.Contains(t, failed[0].Error, tt.wantErr)
			assert.False(t, f.mr.Exists(common.RedisKeyProcessingPrefix+"sig-1"))
			require.Len(t, f.notifier.messages, 1)
			assert.Contains(t, f.notifier.messages[0], "sig-1")
		})
	}
}

func TestHandleSkipsSignalAlreadyProcessing(t *testing.T) {
	f := newConsumerFixture(t)
	require.NoError(t, f.mr.Set(common.RedisKeyProcessingPrefix+"sig-1", "other worker"))
	h := &recordingHandler{}

	f.consumer.handle(context.Background(), h.handle, dto.Task{SignalID: "sig-1"})

	assert.Empty(t, h.ids())
	assert.True(t, f.mr.Exists(common.RedisKeyProcessingPrefix+"sig-1"), "foreign marker left in place")
	assert.False(t, f.mr.Exists(common.RedisKeyCompleted))

	failed, err := f.queue.ListFailed(context.Background())
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, dto.ErrAlreadyProcessing.Error(), failed[0].Error)
}

func TestRunScheduledLeavesEntryDueWhileSignalHeld(t *testing.T) {
	f := newConsumerFixture(t)
	f.saveScheduled(t, "sig-1", time.Now().Add(-time.Minute))
	require.NoError(t, f.mr.Set(common.RedisKeyProcessingPrefix+"sig-1", "stale worker"))
	entries, err := f.consumer.scheduler.Due(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	h := &recordingHandler{}

	f.consumer.runScheduled(context.Background(), h.handle, entries[0])

	assert.Empty(t, h.ids())
	assert.True(t, f.mr.Exists(common.RedisKeyScheduledIndex), "entry still due")
	assert.True(t, f.mr.Exists(common.RedisKeyScheduledPrefix+"sig-1"), "payload kept")

	f.mr.Del(common.RedisKeyProcessingPrefix + "sig-1")
	f.consumer.runScheduled(context.Background(), h.handle, entries[0])

	require.Len(t, h.ids(), 1)
	assert.False(t, f.mr.Exists(common.RedisKeyScheduledIndex))
	assert.False(t, f.mr.Exists(common.RedisKeyProcessingPrefix+"sig-1"), "marker released")
	completed, err := f.mr.ZMembers(common.RedisKeyCompleted)
	require.NoError(t, err)
	assert.Equal(t, []string{"sig-1"}, completed)
}

func TestRunProcessesScheduledAndQueuedTasks(t *testing.T) {
	f := newConsumerFixture(t)
	ctx := context.Background()
	f.saveScheduled(t, "resumed", time.Now().Add(-time.Minute))
	require.NoError(t, f.queue.Enqueue(ctx, dto.Task{SignalID: "queued-1"}))
	require.NoError(t, f.queue.Enqueue(ctx, dto.Task{SignalID: "queued-2"}))

	h := &recordingHandler{fail: map[string]error{"queued-1": errors.New("broker timeout")}}
	f.consumer.Start(ctx, h.handle)

	assert.Eventually(t, func() bool { return len(h.ids()) == 3 }, 5*time.Second, 20*time.Millisecond)
	f.consumer.Stop()

	ids := h.ids()
	assert.ElementsMatch(t, []string{"resumed", "queued-1", "queued-2"}, ids)
	assert.Less(t, indexOf(ids, "queued-1"), indexOf(ids, "queued-2"), "queue order preserved")
	completed, err := f.mr.ZMembers(common.RedisKeyCompleted)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"resumed", "queued-2"}, completed)
}

func TestStopWhileIdle(t *testing.T) {
	f := newConsumerFixture(t)
	f.consumer.Start(context.Background(), (&recordingHandler{}).handle)

	done := make(chan struct{})
	go func() {
		f.consumer.Stop()
		f.consumer.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("consumer did not stop")
	}
}

func indexOf(ids []string, id string) int {
	for i, v := range ids {
		if v == id {
			return i
		}
	}
	return -1
}
