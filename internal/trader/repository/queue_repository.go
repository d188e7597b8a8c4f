package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sylver911/qs-trader-logic-sub000/internal/trader/dto"
	"github.com/sylver911/qs-trader-logic-sub000/pkg/common"
)

type queueRepository struct {
	client *redis.Client
}

func NewQueueRepository(client *redis.Client) QueueRepository {
	return &queueRepository{client: client}
}

func (r *queueRepository) Enqueue(ctx context.Context, task dto.Task) error {
	payload, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}
	return r.client.RPush(ctx, common.RedisKeySignalQueue, payload).Err()
}

// Requeue puts a task back at the head of the queue.
func (r *queueRepository) Requeue(ctx context.Context, task dto.Task) error {
	payload, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}
	return r.client.LPush(ctx, common.RedisKeySignalQueue, payload).Err()
}

// Pop blocks up to timeout for the next task. It returns nil without error
// when the queue stayed empty.
func (r *queueRepository) Pop(ctx context.Context, timeout time.Duration) (*dto.Task, error) {
	res, err := r.client.BLPop(ctx, timeout, common.RedisKeySignalQueue).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to pop task: %w", err)
	}
	if len(res) < 2 {
		return nil, nil
	}

	var task dto.Task
	if err := json.Unmarshal([]byte(res[1]), &task); err != nil {
		return nil, fmt.Errorf("failed to unmarshal task %q: %w", res[1], err)
	}
	if task.SignalID == "" {
		return nil, fmt.Errorf("task without signal id: %s", res[1])
	}
	return &task, nil
}

// MarkProcessing claims the signal. It returns false when another worker
// already holds the marker.
func (r *queueRepository) MarkProcessing(ctx context.Context, signalID string, ttl time.Duration) (bool, error) {
	ok, err := r.client.SetNX(ctx, common.RedisKeyProcessingPrefix+signalID, time.Now().UTC().Format(time.RFC3339), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to set processing marker: %w", err)
	}
	return ok, nil
}

func (r *queueRepository) ReleaseProcessing(ctx context.Context, signalID string) error {
	return r.client.Del(ctx, common.RedisKeyProcessingPrefix+signalID).Err()
}

func (r *queueRepository) MarkCompleted(ctx context.Context, signalID string, at time.Time) error {
	if err := r.client.HDel(ctx, common.RedisKeyFailed, signalID).Err(); err != nil {
		return fmt.Errorf("failed to clear failed entry: %w", err)
	}
	return r.client.ZAdd(ctx, common.RedisKeyCompleted, redis.Z{Score: float64(at.Unix()), Member: signalID}).Err()
}

func (r *queueRepository) MarkFailed(ctx context.Context, signalID string, errMsg string, at time.Time) error {
	payload, err := json.Marshal(dto.FailedTask{SignalID: signalID, Error: errMsg, FailedAt: at.UTC()})
	if err != nil {
		return fmt.Errorf("failed to marshal failed task: %w", err)
	}
	return r.client.HSet(ctx, common.RedisKeyFailed, signalID, payload).Err()
}

func (r *queueRepository) ListFailed(ctx context.Context) ([]dto.FailedTask, error) {
	entries, err := r.client.HGetAll(ctx, common.RedisKeyFailed).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read failed tasks: %w", err)
	}

	tasks := make([]dto.FailedTask, 0, len(entries))
	for id, raw := range entries {
		var task dto.FailedTask
		if err := json.Unmarshal([]byte(raw), &task); err != nil {
			task = dto.FailedTask{SignalID: id, Error: raw}
		}
		tasks = append(tasks, task)
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].FailedAt.After(tasks[j].FailedAt) })
	return tasks, nil
}
