package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/sylver911/qs-trader-logic-sub000/internal/entity"
	"github.com/sylver911/qs-trader-logic-sub000/internal/trader/dto"
)

type signalRepository struct {
	db *gorm.DB
}

func NewSignalRepository(db *gorm.DB) SignalRepository {
	return &signalRepository{db: db}
}

func (r *signalRepository) FindByID(ctx context.Context, id string) (*entity.Signal, error) {
	var signal entity.Signal
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&signal).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("signal %s: %w", id, dto.ErrNotFound)
		}
		return nil, err
	}
	return &signal, nil
}

// WriteOutcome records a terminal decision. A signal that already carries a
// terminal decision is left untouched and dto.ErrOutcomeRecorded is returned.
func (r *signalRepository) WriteOutcome(ctx context.Context, id string, decision dto.Decision) error {
	raw, err := json.Marshal(decision)
	if err != nil {
		return fmt.Errorf("failed to marshal decision: %w", err)
	}

	res := r.db.WithContext(ctx).
		Model(&entity.Signal{}).
		Where("id = ? AND processed = ?", id, false).
		Updates(map[string]interface{}{
			"processed":    true,
			"processed_at": time.Now().UTC(),
			"ai_decision":  datatypes.JSON(raw),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("signal %s: %w", id, dto.ErrOutcomeRecorded)
	}
	return nil
}

// WriteScheduled records deferral metadata only; the signal stays unprocessed.
func (r *signalRepository) WriteScheduled(ctx context.Context, id string, dueAt time.Time, retryCount int) error {
	return r.db.WithContext(ctx).
		Model(&entity.Signal{}).
		Where("id = ? AND processed = ?", id, false).
		Updates(map[string]interface{}{
			"scheduled_at":          dueAt.UTC(),
			"scheduled_retry_count": retryCount,
		}).Error
}
