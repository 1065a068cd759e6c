package postgres

import (
	"context"

	"github.com/dom/pickup-match/internal/domain"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// matchLogRepository is append-only: it exposes no update or delete.
type matchLogRepository struct {
	db *gorm.DB
}

func NewMatchLogRepository(db *gorm.DB) *matchLogRepository {
	return &matchLogRepository{db: db}
}

func (r *matchLogRepository) Append(ctx context.Context, entry *domain.MatchLog) error {
	return mapError(r.db.WithContext(ctx).Create(entry).Error)
}

func (r *matchLogRepository) ListByMatch(ctx context.Context, matchID uuid.UUID) ([]*domain.MatchLog, error) {
	var entries []*domain.MatchLog
	err := r.db.WithContext(ctx).
		Where("match_id = ?", matchID).
		Order("created_at ASC, id ASC").
		Find(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}
