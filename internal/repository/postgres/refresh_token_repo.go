package postgres

import (
	"context"
	"time"

	"github.com/dom/pickup-match/internal/domain"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type refreshTokenRepository struct {
	db *gorm.DB
}

func NewRefreshTokenRepository(db *gorm.DB) *refreshTokenRepository {
	return &refreshTokenRepository{db: db}
}

func (r *refreshTokenRepository) Create(ctx context.Context, token *domain.RefreshToken) error {
	return mapError(r.db.WithContext(ctx).Create(token).Error)
}

func (r *refreshTokenRepository) GetByHash(ctx context.Context, hash string) (*domain.RefreshToken, error) {
	var token domain.RefreshToken
	if err := r.db.WithContext(ctx).First(&token, "id = ?", hash).Error; err != nil {
		return nil, mapError(err)
	}
	return &token, nil
}

func (r *refreshTokenRepository) RevokeIfValid(ctx context.Context, hash string, now time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&domain.RefreshToken{}).
		Where("id = ? AND revoked = ? AND expires_at > ?", hash, false, now).
		Updates(map[string]any{"revoked": true, "revoked_at": now})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *refreshTokenRepository) Revoke(ctx context.Context, hash string, now time.Time) error {
	return r.db.WithContext(ctx).
		Model(&domain.RefreshToken{}).
		Where("id = ? AND revoked = ?", hash, false).
		Updates(map[string]any{"revoked": true, "revoked_at": now}).Error
}

func (r *refreshTokenRepository) RevokeAllForUser(ctx context.Context, userID uuid.UUID, now time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&domain.RefreshToken{}).
		Where("user_id = ? AND revoked = ?", userID, false).
		Updates(map[string]any{"revoked": true, "revoked_at": now})
	return res.RowsAffected, res.Error
}

func (r *refreshTokenRepository) CountActiveForUser(ctx context.Context, userID uuid.UUID, now time.Time) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&domain.RefreshToken{}).
		Where("user_id = ? AND revoked = ? AND expires_at > ?", userID, false, now).
		Count(&count).Error
	return count, err
}

func (r *refreshTokenRepository) DeleteStale(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("expires_at < ? OR (revoked = ? AND revoked_at < ?)", cutoff, true, cutoff).
		Delete(&domain.RefreshToken{})
	return res.RowsAffected, res.Error
}
