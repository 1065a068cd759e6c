package service

import (
	"github.com/dom/pickup-match/internal/auth"
	"github.com/dom/pickup-match/internal/config"
	"github.com/dom/pickup-match/internal/repository"
	"github.com/dom/pickup-match/internal/validation"
	"github.com/rs/zerolog"
)

type Services struct {
	Session *SessionService
	Match   *MatchService
}

// Dependencies are the collaborators the services are built from. Notifier
// and Media are optional.
type Dependencies struct {
	Repos    *repository.Repositories
	Tx       repository.Transactor
	Config   *config.Config
	Logger   zerolog.Logger
	Notifier VerificationNotifier
	Media    MediaPresigner
}

func NewServices(deps Dependencies) (*Services, error) {
	hasher, err := auth.NewPasswordHasher(deps.Config.PasswordHasher)
	if err != nil {
		return nil, err
	}
	tokens := auth.NewTokenIssuer(deps.Config.JWTSecret, deps.Config.JWTIssuer, deps.Config.AccessTokenTTL)
	validator := validation.New()

	return &Services{
		Session: NewSessionService(deps.Repos, deps.Tx, tokens, hasher, validator, deps.Notifier, deps.Config.RefreshTokenTTL, deps.Logger),
		Match:   NewMatchService(deps.Repos, deps.Tx, validator, deps.Media, deps.Logger),
	}, nil
}
