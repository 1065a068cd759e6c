package domain

import (
	"time"

	"github.com/google/uuid"
)

// RefreshToken is a single-use bearer credential. ID holds the SHA-256 of the
// opaque value handed to the client; the value itself is never stored.
type RefreshToken struct {
	ID        string     `json:"-" gorm:"type:char(64);primary_key"`
	UserID    uuid.UUID  `json:"userId" gorm:"type:uuid;not null;index"`
	ExpiresAt time.Time  `json:"expiresAt" gorm:"not null;index"`
	Revoked   bool       `json:"revoked" gorm:"not null;default:false"`
	RevokedAt *time.Time `json:"revokedAt"`
	DeviceTag *string    `json:"deviceTag,omitempty" gorm:"size:100"`
	CreatedAt time.Time  `json:"createdAt"`
}

// TableName returns the table name for GORM
func (RefreshToken) TableName() string {
	return "refresh_tokens"
}

// NewRefreshToken builds a ledger row for the hashed value.
func NewRefreshToken(hash string, userID uuid.UUID, ttl time.Duration, deviceTag *string) *RefreshToken {
	now := time.Now()
	return &RefreshToken{
		ID:        hash,
		UserID:    userID,
		ExpiresAt: now.Add(ttl),
		DeviceTag: deviceTag,
		CreatedAt: now,
	}
}
