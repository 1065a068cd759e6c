package postgres

import (
	"context"

	"github.com/dom/pickup-match/internal/domain"
	"gorm.io/gorm"
)

type externalIdentityRepository struct {
	db *gorm.DB
}

func NewExternalIdentityRepository(db *gorm.DB) *externalIdentityRepository {
	return &externalIdentityRepository{db: db}
}

func (r *externalIdentityRepository) Create(ctx context.Context, identity *domain.ExternalIdentity) error {
	return mapError(r.db.WithContext(ctx).Create(identity).Error)
}

func (r *externalIdentityRepository) GetByProvider(ctx context.Context, provider, providerID string) (*domain.ExternalIdentity, error) {
	var identity domain.ExternalIdentity
	err := r.db.WithContext(ctx).
		First(&identity, "provider = ? AND provider_id = ?", provider, providerID).Error
	if err != nil {
		return nil, mapError(err)
	}
	return &identity, nil
}
