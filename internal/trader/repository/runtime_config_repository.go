package repository

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"

	"github.com/sylver911/qs-trader-logic-sub000/internal/trader/config"
	"github.com/sylver911/qs-trader-logic-sub000/internal/trader/dto"
	"github.com/sylver911/qs-trader-logic-sub000/pkg/common"
	"github.com/sylver911/qs-trader-logic-sub000/pkg/logger"
)

// Runtime override fields stored in the Redis hash.
const (
	runtimeFieldEmergencyStop          = "emergency_stop"
	runtimeFieldSimulationMode         = "simulation_mode"
	runtimeFieldWhitelist              = "whitelist"
	runtimeFieldBlacklist              = "blacklist"
	runtimeFieldMinConfidence          = "min_confidence"
	runtimeFieldMaxVolatility          = "max_volatility"
	runtimeFieldMaxConcurrentPositions = "max_concurrent_positions"
	runtimeFieldMaxPositionValue       = "max_position_value"
	runtimeFieldDecisionMode           = "decision_mode"

	snapshotCacheKey = "runtime_snapshot"
	lastGoodCacheKey = "runtime_snapshot_last_good"
)

type runtimeConfigRepository struct {
	client *redis.Client
	cfg    *config.Config
	cache  *cache.Cache
	logger *logger.Logger
}

func NewRuntimeConfigRepository(client *redis.Client, cfg *config.Config, log *logger.Logger) RuntimeConfigRepository {
	return &runtimeConfigRepository{
		client: client,
		cfg:    cfg,
		cache:  cache.New(cfg.Trader.RuntimeCacheTTL, 2*cfg.Trader.RuntimeCacheTTL),
		logger: log,
	}
}

// Snapshot overlays the Redis overrides on the file defaults. When Redis is
// unreachable the last snapshot read from Redis is returned; without one the
// read fails, so an operator override is never replaced by file defaults.
func (r *runtimeConfigRepository) Snapshot(ctx context.Context) (dto.RuntimeSnapshot, error) {
	if cached, ok := r.cache.Get(snapshotCacheKey); ok {
		return cached.(dto.RuntimeSnapshot), nil
	}

	fields, err := r.client.HGetAll(ctx, common.RedisKeyRuntimeConfig).Result()
	if err != nil {
		if last, ok := r.cache.Get(lastGoodCacheKey); ok {
			r.logger.Warn("Failed to read runtime overrides, using last known snapshot", logger.ErrorField(err))
			return last.(dto.RuntimeSnapshot), nil
		}
		return dto.RuntimeSnapshot{}, fmt.Errorf("failed to read runtime overrides: %w", err)
	}

	snapshot := r.defaults()
	r.apply(&snapshot, fields)

	r.cache.SetDefault(snapshotCacheKey, snapshot)
	r.cache.Set(lastGoodCacheKey, snapshot, cache.NoExpiration)
	return snapshot, nil
}

func (r *runtimeConfigRepository) SetEmergencyStop(ctx context.Context, enabled bool) error {
	return r.setField(ctx, runtimeFieldEmergencyStop, strconv.FormatBool(enabled))
}

func (r *runtimeConfigRepository) SetSimulationMode(ctx context.Context, enabled bool) error {
	return r.setField(ctx, runtimeFieldSimulationMode, strconv.FormatBool(enabled))
}

func (r *runtimeConfigRepository) setField(ctx context.Context, field, value string) error {
	if err := r.client.HSet(ctx, common.RedisKeyRuntimeConfig, field, value).Err(); err != nil {
		return err
	}
	r.cache.Delete(snapshotCacheKey)
	r.cache.Delete(lastGoodCacheKey)
	return nil
}

func (r *runtimeConfigRepository) defaults() dto.RuntimeSnapshot {
	risk := r.cfg.Risk
	return dto.RuntimeSnapshot{
		EmergencyStop:          risk.EmergencyStop,
		SimulationMode:         risk.SimulationMode,
		Whitelist:              append([]string(nil), risk.Whitelist...),
		Blacklist:              append([]string(nil), risk.Blacklist...),
		MaxVolatility:          risk.MaxVolatility,
		MaxConcurrentPositions: risk.MaxConcurrentPositions,
		DecisionMode:           r.cfg.Trader.DecisionMode,
		Trading: dto.TradingParams{
			MaxPositionValue: risk.MaxPositionValue,
			DefaultQuantity:  risk.DefaultQuantity,
			TakeProfitPct:    risk.TakeProfitPct,
			StopLossPct:      risk.StopLossPct,
			MinConfidence:    risk.MinConfidence,
		},
		TakenAt: time.Now().UTC(),
	}
}

func (r *runtimeConfigRepository) apply(s *dto.RuntimeSnapshot, fields map[string]string) {
	for field, value := range fields {
		value = strings.TrimSpace(value)
		switch field {
		case runtimeFieldEmergencyStop:
			if b, err := strconv.ParseBool(value); err == nil {
				s.EmergencyStop = b
			}
		case runtimeFieldSimulationMode:
			if b, err := strconv.ParseBool(value); err == nil {
				s.SimulationMode = b
			}
		case runtimeFieldWhitelist:
			s.Whitelist = splitList(value)
		case runtimeFieldBlacklist:
			s.Blacklist = splitList(value)
		case runtimeFieldMinConfidence:
			if f, err := strconv.ParseFloat(value, 64); err == nil {
				s.Trading.MinConfidence = f
			}
		case runtimeFieldMaxVolatility:
			if f, err := strconv.ParseFloat(value, 64); err == nil {
				s.MaxVolatility = f
			}
		case runtimeFieldMaxConcurrentPositions:
			if n, err := strconv.Atoi(value); err == nil {
				s.MaxConcurrentPositions = n
			}
		case runtimeFieldMaxPositionValue:
			if f, err := strconv.ParseFloat(value, 64); err == nil {
				s.Trading.MaxPositionValue = f
			}
		case runtimeFieldDecisionMode:
			if value == common.DecisionModeBounded || value == common.DecisionModeExploratory {
				s.DecisionMode = value
			}
		default:
			r.logger.Debug("Ignoring unknown runtime override", logger.StringField("field", field))
		}
	}
}

func splitList(value string) []string {
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.ToUpper(strings.TrimSpace(item)); item != "" {
			out = append(out, item)
		}
	}
	return out
}
