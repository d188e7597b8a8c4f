package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sylver911/qs-trader-logic-sub000/internal/trader/dto"
	"github.com/sylver911/qs-trader-logic-sub000/pkg/common"
)

type scheduleRepository struct {
	client *redis.Client
}

func NewScheduleRepository(client *redis.Client) ScheduleRepository {
	return &scheduleRepository{client: client}
}

// Save writes the payload with ttl and indexes it by due time. Saving a
// signal that is already scheduled replaces the previous entry.
func (r *scheduleRepository) Save(ctx context.Context, entry *dto.ScheduledReanalysis, ttl time.Duration) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal scheduled entry: %w", err)
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, common.RedisKeyScheduledPrefix+entry.SignalID, payload, ttl)
		pipe.ZAdd(ctx, common.RedisKeyScheduledIndex, redis.Z{Score: float64(entry.DueAt.Unix()), Member: entry.SignalID})
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save scheduled entry: %w", err)
	}
	return nil
}

// FindDue returns entries with due time at or before now, earliest first.
// Index members whose payload has expired are dropped from the index.
func (r *scheduleRepository) FindDue(ctx context.Context, now time.Time) ([]dto.ScheduledReanalysis, error) {
	ids, err := r.client.ZRangeByScore(ctx, common.RedisKeyScheduledIndex, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.Unix(), 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read due index: %w", err)
	}
	return r.load(ctx, ids)
}

// Claim removes the signal from the due index. Only the caller that removed
// the member gets true.
func (r *scheduleRepository) Claim(ctx context.Context, signalID string) (bool, error) {
	removed, err := r.client.ZRem(ctx, common.RedisKeyScheduledIndex, signalID).Result()
	if err != nil {
		return false, fmt.Errorf("failed to claim scheduled entry: %w", err)
	}
	if removed == 0 {
		return false, nil
	}
	if err := r.client.Del(ctx, common.RedisKeyScheduledPrefix+signalID).Err(); err != nil {
		return true, fmt.Errorf("failed to delete scheduled payload: %w", err)
	}
	return true, nil
}

func (r *scheduleRepository) Get(ctx context.Context, signalID string) (*dto.ScheduledReanalysis, error) {
	raw, err := r.client.Get(ctx, common.RedisKeyScheduledPrefix+signalID).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, dto.ErrNotFound
		}
		return nil, fmt.Errorf("failed to read scheduled entry: %w", err)
	}
	var entry dto.ScheduledReanalysis
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, fmt.Errorf("failed to unmarshal scheduled entry: %w", err)
	}
	return &entry, nil
}

func (r *scheduleRepository) List(ctx context.Context) ([]dto.ScheduledReanalysis, error) {
	ids, err := r.client.ZRange(ctx, common.RedisKeyScheduledIndex, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read due index: %w", err)
	}
	return r.load(ctx, ids)
}

func (r *scheduleRepository) Delete(ctx context.Context, signalID string) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, common.RedisKeyScheduledIndex, signalID)
		pipe.Del(ctx, common.RedisKeyScheduledPrefix+signalID)
		return nil
	})
	return err
}

func (r *scheduleRepository) load(ctx context.Context, ids []string) ([]dto.ScheduledReanalysis, error) {
	entries := make([]dto.ScheduledReanalysis, 0, len(ids))
	for _, id := range ids {
		entry, err := r.Get(ctx, id)
		if errors.Is(err, dto.ErrNotFound) {
			r.client.ZRem(ctx, common.RedisKeyScheduledIndex, id)
			continue
		}
		if err != nil {
			return nil, err
		}
		entries = append(entries, *entry)
	}
	return entries, nil
}
