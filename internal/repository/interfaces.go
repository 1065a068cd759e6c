package repository

import (
	"context"
	"errors"
	"time"

	"github.com/dom/pickup-match/internal/domain"
	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate is returned when a write violates a unique constraint.
	ErrDuplicate = errors.New("duplicate key")
	// ErrStaleVersion is returned by versioned writes that lost a race.
	ErrStaleVersion = errors.New("stale version")
)

type UserRepository interface {
	Create(ctx context.Context, user *domain.User) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error)
	// GetForUpdate loads the user and locks its row until the surrounding
	// transaction ends. Session rotation and bulk revocation serialize on it.
	GetForUpdate(ctx context.Context, id uuid.UUID) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	ExistsByEmail(ctx context.Context, email string) (bool, error)
	ExistsByUsername(ctx context.Context, username string) (bool, error)
	Update(ctx context.Context, user *domain.User) error
	TouchLastLogin(ctx context.Context, id uuid.UUID, at time.Time) error
}

type ExternalIdentityRepository interface {
	Create(ctx context.Context, identity *domain.ExternalIdentity) error
	GetByProvider(ctx context.Context, provider, providerID string) (*domain.ExternalIdentity, error)
}

type RefreshTokenRepository interface {
	Create(ctx context.Context, token *domain.RefreshToken) error
	GetByHash(ctx context.Context, hash string) (*domain.RefreshToken, error)
	// RevokeIfValid revokes the token only if it is still valid at now and
	// reports whether this call performed the revocation.
	RevokeIfValid(ctx context.Context, hash string, now time.Time) (bool, error)
	Revoke(ctx context.Context, hash string, now time.Time) error
	RevokeAllForUser(ctx context.Context, userID uuid.UUID, now time.Time) (int64, error)
	CountActiveForUser(ctx context.Context, userID uuid.UUID, now time.Time) (int64, error)
	// DeleteStale removes tokens that expired or were revoked before cutoff.
	DeleteStale(ctx context.Context, cutoff time.Time) (int64, error)
}

type MatchRepository interface {
	Create(ctx context.Context, match *domain.Match) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Match, error)
	// GetForUpdate loads the match and locks its row until the surrounding
	// transaction ends.
	GetForUpdate(ctx context.Context, id uuid.UUID) (*domain.Match, error)
	// UpdateVersioned writes match if its stored version still equals
	// match.Version and bumps the version. It returns ErrStaleVersion when
	// the stored version moved on.
	UpdateVersioned(ctx context.Context, match *domain.Match) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, filter domain.MatchFilter) ([]*domain.Match, int64, error)
}

type MatchLogRepository interface {
	Append(ctx context.Context, entry *domain.MatchLog) error
	ListByMatch(ctx context.Context, matchID uuid.UUID) ([]*domain.MatchLog, error)
}

type Repositories struct {
	User             UserRepository
	ExternalIdentity ExternalIdentityRepository
	RefreshToken     RefreshTokenRepository
	Match            MatchRepository
	MatchLog         MatchLogRepository
}

// Transactor runs fn with repositories bound to a single database
// transaction. fn's error rolls the transaction back.
type Transactor interface {
	WithinTransaction(ctx context.Context, fn func(ctx context.Context, repos *Repositories) error) error
}
