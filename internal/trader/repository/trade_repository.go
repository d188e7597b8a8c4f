package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/sylver911/qs-trader-logic-sub000/internal/entity"
	"github.com/sylver911/qs-trader-logic-sub000/internal/trader/dto"
)

type tradeRepository struct {
	db *gorm.DB
}

func NewTradeRepository(db *gorm.DB) TradeRepository {
	return &tradeRepository{db: db}
}

func (r *tradeRepository) Create(ctx context.Context, trade *entity.Trade) error {
	return r.db.WithContext(ctx).Create(trade).Error
}

// FindOpen returns open trades that were sent to the broker.
func (r *tradeRepository) FindOpen(ctx context.Context) ([]entity.Trade, error) {
	var trades []entity.Trade
	err := r.db.WithContext(ctx).
		Where("status = ? AND simulated = ?", entity.TradeStatusOpen, false).
		Order("opened_at ASC").
		Find(&trades).Error
	return trades, err
}

// Close applies the terminal update only while the trade is still open and
// reports whether this call performed it.
func (r *tradeRepository) Close(ctx context.Context, id uint, close dto.TradeClose) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&entity.Trade{}).
		Where("id = ? AND status = ?", id, entity.TradeStatusOpen).
		Updates(map[string]interface{}{
			"status":       close.Status,
			"exit_price":   close.ExitPrice,
			"pnl":          close.PnL,
			"close_reason": close.CloseReason,
			"closed_at":    close.ClosedAt,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
