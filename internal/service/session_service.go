package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dom/pickup-match/internal/auth"
	"github.com/dom/pickup-match/internal/domain"
	"github.com/dom/pickup-match/internal/metrics"
	"github.com/dom/pickup-match/internal/repository"
	"github.com/dom/pickup-match/internal/validation"
	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"github.com/rs/zerolog"
)

const (
	verificationTokenBytes = 32
	usernameMaxLen         = 20
	usernameBaseMaxLen     = 16
	maxUsernameAttempts    = 1000
)

// VerificationNotifier delivers the email-verification token of a new account.
type VerificationNotifier interface {
	SendVerification(ctx context.Context, user *domain.User, token string) error
}

type SessionService struct {
	repos      *repository.Repositories
	tx         repository.Transactor
	tokens     *auth.TokenIssuer
	hasher     auth.PasswordHasher
	validator  *validation.Validator
	notifier   VerificationNotifier
	refreshTTL time.Duration
	logger     zerolog.Logger
	now        func() time.Time
}

func NewSessionService(
	repos *repository.Repositories,
	tx repository.Transactor,
	tokens *auth.TokenIssuer,
	hasher auth.PasswordHasher,
	validator *validation.Validator,
	notifier VerificationNotifier,
	refreshTTL time.Duration,
	logger zerolog.Logger,
) *SessionService {
	return &SessionService{
		repos:      repos,
		tx:         tx,
		tokens:     tokens,
		hasher:     hasher,
		validator:  validator,
		notifier:   notifier,
		refreshTTL: refreshTTL,
		logger:     logger.With().Str("service", "session").Logger(),
		now:        time.Now,
	}
}

type RegisterInput struct {
	Email       string  `json:"email" validate:"required,email,max=255"`
	Password    string  `json:"password" validate:"required,password"`
	Username    string  `json:"username" validate:"required,username"`
	DisplayName string  `json:"displayName" validate:"required,min=2,max=30"`
	Phone       *string `json:"phone" validate:"omitempty,phone"`
	DeviceTag   string  `json:"-"`
}

type LoginInput struct {
	Email     string `json:"email" validate:"required,email"`
	Password  string `json:"password" validate:"required"`
	DeviceTag string `json:"-"`
}

type externalClaimsInput struct {
	Provider    string `json:"provider" validate:"required,oneof=google kakao"`
	ProviderID  string `json:"providerId" validate:"required,max=255"`
	Email       string `json:"email" validate:"required,email"`
	DisplayName string `json:"displayName" validate:"max=100"`
	AvatarURL   string `json:"avatarUrl" validate:"omitempty,url"`
}

type AuthResult struct {
	User                  *domain.User
	AccessToken           string
	AccessTokenExpiresAt  time.Time
	RefreshToken          string
	RefreshTokenExpiresAt time.Time
}

// Register creates a password account and opens its first session.
func (s *SessionService) Register(ctx context.Context, input RegisterInput) (*AuthResult, error) {
	if err := s.validator.Struct(input); err != nil {
		return nil, err
	}

	email := domain.NormalizeEmail(input.Email)
	if taken, err := s.repos.User.ExistsByEmail(ctx, email); err != nil {
		return nil, err
	} else if taken {
		s.recordAuth("register", "conflict")
		return nil, domain.ErrEmailTaken
	}
	if taken, err := s.repos.User.ExistsByUsername(ctx, input.Username); err != nil {
		return nil, err
	} else if taken {
		s.recordAuth("register", "conflict")
		return nil, domain.ErrUsernameTaken
	}

	hash, err := s.hasher.Hash(input.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	verificationToken, err := auth.NewOpaqueToken(verificationTokenBytes)
	if err != nil {
		return nil, err
	}

	user := domain.NewUser(email, input.Username, strings.TrimSpace(input.DisplayName))
	user.PasswordHash = &hash
	user.Phone = input.Phone
	user.EmailVerificationToken = &verificationToken

	result, row, err := s.newSession(user, deviceTag(input.DeviceTag))
	if err != nil {
		return nil, err
	}

	err = s.tx.WithinTransaction(ctx, func(ctx context.Context, repos *repository.Repositories) error {
		if err := repos.User.Create(ctx, user); err != nil {
			return err
		}
		return repos.RefreshToken.Create(ctx, row)
	})
	if errors.Is(err, repository.ErrDuplicate) {
		s.recordAuth("register", "conflict")
		return nil, s.registrationConflict(ctx, email)
	}
	if err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}

	if s.notifier != nil {
		if err := s.notifier.SendVerification(ctx, user, verificationToken); err != nil {
			s.logger.Warn().Err(err).Str("user_id", user.ID.String()).Msg("verification email not queued")
		}
	}

	s.recordAuth("register", "success")
	s.logger.Info().Str("user_id", user.ID.String()).Msg("user registered")
	return result, nil
}

// registrationConflict decides which unique field lost a registration race.
func (s *SessionService) registrationConflict(ctx context.Context, email string) error {
	if taken, err := s.repos.User.ExistsByEmail(ctx, email); err == nil && taken {
		return domain.ErrEmailTaken
	}
	return domain.ErrUsernameTaken
}

// Login verifies a password and opens a session. Every failure looks the same
// to the caller.
func (s *SessionService) Login(ctx context.Context, input LoginInput) (*AuthResult, error) {
	if err := s.validator.Struct(input); err != nil {
		return nil, err
	}

	user, err := s.repos.User.GetByEmail(ctx, input.Email)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, s.loginFailed(input.Email, "unknown email")
	}
	if err != nil {
		return nil, err
	}

	if !user.HasPassword() {
		return nil, s.loginFailed(input.Email, "no password set")
	}
	ok, err := s.hasher.Verify(input.Password, *user.PasswordHash)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", user.ID.String()).Msg("stored password hash unreadable")
		return nil, s.loginFailed(input.Email, "unreadable hash")
	}
	if !ok {
		return nil, s.loginFailed(input.Email, "wrong password")
	}
	if !user.IsActive {
		return nil, s.loginFailed(input.Email, "inactive account")
	}

	now := s.now()
	user.LastLoginAt = &now
	result, row, err := s.newSession(user, deviceTag(input.DeviceTag))
	if err != nil {
		return nil, err
	}

	err = s.tx.WithinTransaction(ctx, func(ctx context.Context, repos *repository.Repositories) error {
		if err := repos.User.TouchLastLogin(ctx, user.ID, now); err != nil {
			return err
		}
		return repos.RefreshToken.Create(ctx, row)
	})
	if err != nil {
		return nil, fmt.Errorf("open session: %w", err)
	}

	s.recordAuth("login", "success")
	return result, nil
}

func (s *SessionService) loginFailed(email, reason string) error {
	s.recordAuth("login", "failure")
	s.logger.Warn().Str("email", domain.NormalizeEmail(email)).Str("reason", reason).Msg("login failed")
	return domain.ErrInvalidCredentials
}

// LinkOrCreateFromExternalIdentity resolves verified provider claims to a
// user, linking or creating one as needed, and opens a session.
func (s *SessionService) LinkOrCreateFromExternalIdentity(ctx context.Context, claims domain.ExternalClaims, device string) (*AuthResult, error) {
	claims.Email = domain.NormalizeEmail(claims.Email)
	if err := s.validator.Struct(externalClaimsInput(claims)); err != nil {
		return nil, err
	}

	var result *AuthResult
	var err error
	// A concurrent first login for the same identity loses on a unique
	// index; the retry then finds the winner's rows.
	for attempt := 0; attempt < 2; attempt++ {
		result, err = s.linkOrCreate(ctx, claims, deviceTag(device))
		if !errors.Is(err, repository.ErrDuplicate) {
			break
		}
	}
	if errors.Is(err, repository.ErrDuplicate) {
		return nil, domain.NewError(domain.KindConflict, "account is being linked concurrently, retry the request")
	}
	if err != nil {
		if domain.KindOf(err) != "" {
			s.recordAuth("oauth", "failure")
		}
		return nil, err
	}

	s.recordAuth("oauth", "success")
	return result, nil
}

func (s *SessionService) linkOrCreate(ctx context.Context, claims domain.ExternalClaims, device *string) (*AuthResult, error) {
	var result *AuthResult
	err := s.tx.WithinTransaction(ctx, func(ctx context.Context, repos *repository.Repositories) error {
		user, err := s.resolveExternalUser(ctx, repos, claims)
		if err != nil {
			return err
		}
		if !user.IsActive {
			s.logger.Warn().Str("user_id", user.ID.String()).Str("provider", claims.Provider).Msg("oauth login for inactive account")
			return domain.ErrInvalidCredentials
		}

		now := s.now()
		if err := repos.User.TouchLastLogin(ctx, user.ID, now); err != nil {
			return err
		}
		user.LastLoginAt = &now

		res, row, err := s.newSession(user, device)
		if err != nil {
			return err
		}
		if err := repos.RefreshToken.Create(ctx, row); err != nil {
			return err
		}
		result = res
		return nil
	})
	return result, err
}

// resolveExternalUser finds the user for claims: by provider link first, then
// by email (merging the accounts), otherwise creating a new user.
func (s *SessionService) resolveExternalUser(ctx context.Context, repos *repository.Repositories, claims domain.ExternalClaims) (*domain.User, error) {
	identity, err := repos.ExternalIdentity.GetByProvider(ctx, claims.Provider, claims.ProviderID)
	switch {
	case err == nil:
		return repos.User.GetByID(ctx, identity.UserID)
	case !errors.Is(err, repository.ErrNotFound):
		return nil, err
	}

	link := func(user *domain.User) error {
		return repos.ExternalIdentity.Create(ctx, &domain.ExternalIdentity{
			ID:         uuid.New(),
			UserID:     user.ID,
			Provider:   claims.Provider,
			ProviderID: claims.ProviderID,
			CreatedAt:  s.now(),
		})
	}

	user, err := repos.User.GetByEmail(ctx, claims.Email)
	switch {
	case err == nil:
		if err := link(user); err != nil {
			return nil, err
		}
		user.EmailVerified = true
		user.EmailVerificationToken = nil
		if user.AvatarURL == nil && claims.AvatarURL != "" {
			avatar := claims.AvatarURL
			user.AvatarURL = &avatar
		}
		if err := repos.User.Update(ctx, user); err != nil {
			return nil, err
		}
		s.logger.Info().Str("user_id", user.ID.String()).Str("provider", claims.Provider).Msg("linked provider to existing account")
		return user, nil
	case !errors.Is(err, repository.ErrNotFound):
		return nil, err
	}

	username, err := uniqueUsername(ctx, repos.User, claims.DisplayName)
	if err != nil {
		return nil, err
	}

	displayName := strings.TrimSpace(claims.DisplayName)
	if displayName == "" {
		displayName = username
	}
	if len([]rune(displayName)) > 30 {
		displayName = string([]rune(displayName)[:30])
	}

	user = domain.NewUser(claims.Email, username, displayName)
	user.EmailVerified = true
	if claims.AvatarURL != "" {
		avatar := claims.AvatarURL
		user.AvatarURL = &avatar
	}
	if err := repos.User.Create(ctx, user); err != nil {
		return nil, err
	}
	if err := link(user); err != nil {
		return nil, err
	}

	s.logger.Info().Str("user_id", user.ID.String()).Str("provider", claims.Provider).Msg("user created from provider identity")
	return user, nil
}

// UsernameBase derives the username stem for a display name.
func UsernameBase(displayName string) string {
	base := strings.ReplaceAll(slug.Make(displayName), "-", "_")
	if len(base) > usernameBaseMaxLen {
		base = strings.TrimRight(base[:usernameBaseMaxLen], "_")
	}
	if len(base) < 2 {
		base = "player"
	}
	return base
}

// uniqueUsername tries base, base1, base2, ... until one is free.
func uniqueUsername(ctx context.Context, users repository.UserRepository, displayName string) (string, error) {
	base := UsernameBase(displayName)
	for i := 0; i < maxUsernameAttempts; i++ {
		candidate := base
		if i > 0 {
			candidate = base + strconv.Itoa(i)
		}
		if len(candidate) > usernameMaxLen {
			break
		}
		taken, err := users.ExistsByUsername(ctx, candidate)
		if err != nil {
			return "", err
		}
		if !taken {
			return candidate, nil
		}
	}
	return "", domain.NewError(domain.KindConflict, "could not derive a free username")
}

// RefreshSession rotates a refresh token: the presented token is revoked and
// its replacement inserted in one transaction holding the owner's row lock.
func (s *SessionService) RefreshSession(ctx context.Context, refreshToken string) (*AuthResult, error) {
	if refreshToken == "" {
		return nil, domain.ErrInvalidRefresh
	}
	hash := auth.HashRefreshToken(refreshToken)

	var result *AuthResult
	err := s.tx.WithinTransaction(ctx, func(ctx context.Context, repos *repository.Repositories) error {
		old, err := repos.RefreshToken.GetByHash(ctx, hash)
		if errors.Is(err, repository.ErrNotFound) {
			return domain.ErrInvalidRefresh
		}
		if err != nil {
			return err
		}
		user, err := repos.User.GetForUpdate(ctx, old.UserID)
		if errors.Is(err, repository.ErrNotFound) {
			return domain.ErrInvalidRefresh
		}
		if err != nil {
			return err
		}

		revoked, err := repos.RefreshToken.RevokeIfValid(ctx, hash, s.now())
		if err != nil {
			return err
		}
		if !revoked || !user.IsActive {
			return domain.ErrInvalidRefresh
		}

		res, row, err := s.newSession(user, old.DeviceTag)
		if err != nil {
			return err
		}
		if err := repos.RefreshToken.Create(ctx, row); err != nil {
			return err
		}
		result = res
		return nil
	})

	if errors.Is(err, domain.ErrInvalidRefresh) {
		s.recordAuth("refresh", "failure")
		s.detectReplay(ctx, hash)
		return nil, domain.ErrInvalidRefresh
	}
	if err != nil {
		return nil, fmt.Errorf("rotate refresh token: %w", err)
	}

	s.recordAuth("refresh", "success")
	return result, nil
}

// detectReplay logs presentations of tokens that exist but were already revoked.
func (s *SessionService) detectReplay(ctx context.Context, hash string) {
	token, err := s.repos.RefreshToken.GetByHash(ctx, hash)
	if err != nil || !token.Revoked {
		return
	}
	metrics.RefreshReplays.Inc()
	s.logger.Warn().
		Str("user_id", token.UserID.String()).
		Msg("revoked refresh token presented again")
}

// Logout revokes the refresh token. Unknown, expired and already revoked
// tokens are not an error.
func (s *SessionService) Logout(ctx context.Context, refreshToken string) error {
	if refreshToken == "" {
		return nil
	}
	if err := s.repos.RefreshToken.Revoke(ctx, auth.HashRefreshToken(refreshToken), s.now()); err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	s.recordAuth("logout", "success")
	return nil
}

// LogoutAllDevices revokes every live refresh token of the user. The user row
// lock makes a rotation in flight either finish first or fail.
func (s *SessionService) LogoutAllDevices(ctx context.Context, userID uuid.UUID) (int64, error) {
	var n int64
	err := s.tx.WithinTransaction(ctx, func(ctx context.Context, repos *repository.Repositories) error {
		if _, err := repos.User.GetForUpdate(ctx, userID); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return domain.ErrUserNotFound
			}
			return err
		}
		revoked, err := repos.RefreshToken.RevokeAllForUser(ctx, userID, s.now())
		n = revoked
		return err
	})
	if domain.KindOf(err) != "" {
		return 0, err
	}
	if err != nil {
		return 0, fmt.Errorf("revoke refresh tokens: %w", err)
	}
	s.recordAuth("logout_all", "success")
	s.logger.Info().Str("user_id", userID.String()).Int64("revoked", n).Msg("logged out of all devices")
	return n, nil
}

// ValidateCaller resolves an access token to the active user it was issued to.
func (s *SessionService) ValidateCaller(ctx context.Context, accessToken string) (domain.Caller, error) {
	claims, err := s.tokens.Parse(accessToken)
	if err != nil {
		return domain.Caller{}, domain.ErrInvalidAccessToken
	}

	user, err := s.repos.User.GetByID(ctx, claims.ID)
	if errors.Is(err, repository.ErrNotFound) {
		return domain.Caller{}, domain.ErrInvalidAccessToken
	}
	if err != nil {
		return domain.Caller{}, err
	}
	if !user.IsActive {
		return domain.Caller{}, domain.ErrInvalidAccessToken
	}

	return domain.Caller{ID: user.ID, Role: user.Role}, nil
}

// ActiveSessions counts the user's refresh tokens that can still be presented.
func (s *SessionService) ActiveSessions(ctx context.Context, userID uuid.UUID) (int64, error) {
	return s.repos.RefreshToken.CountActiveForUser(ctx, userID, s.now())
}

func (s *SessionService) GetUser(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	user, err := s.repos.User.GetByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, domain.ErrUserNotFound
	}
	return user, err
}

// DeactivateUser soft-deactivates an account and revokes its sessions.
func (s *SessionService) DeactivateUser(ctx context.Context, caller domain.Caller, id uuid.UUID) (*domain.User, error) {
	if err := domain.Authorize(caller, domain.CapAdmin); err != nil {
		return nil, err
	}
	if caller.ID == id {
		return nil, domain.NewValidationError("administrators cannot deactivate themselves")
	}

	var user *domain.User
	err := s.tx.WithinTransaction(ctx, func(ctx context.Context, repos *repository.Repositories) error {
		u, err := repos.User.GetForUpdate(ctx, id)
		if errors.Is(err, repository.ErrNotFound) {
			return domain.ErrUserNotFound
		}
		if err != nil {
			return err
		}

		u.IsActive = false
		u.UpdatedAt = s.now()
		if err := repos.User.Update(ctx, u); err != nil {
			return err
		}
		if _, err := repos.RefreshToken.RevokeAllForUser(ctx, u.ID, s.now()); err != nil {
			return err
		}
		user = u
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().Str("user_id", id.String()).Str("by", caller.ID.String()).Msg("user deactivated")
	return user, nil
}

// newSession mints an access token and a refresh token for user. The
// returned ledger row still has to be persisted by the caller.
func (s *SessionService) newSession(user *domain.User, device *string) (*AuthResult, *domain.RefreshToken, error) {
	access, accessExp, err := s.tokens.Issue(user)
	if err != nil {
		return nil, nil, err
	}
	value, hash, err := auth.NewRefreshToken()
	if err != nil {
		return nil, nil, err
	}
	row := domain.NewRefreshToken(hash, user.ID, s.refreshTTL, device)

	return &AuthResult{
		User:                  user,
		AccessToken:           access,
		AccessTokenExpiresAt:  accessExp,
		RefreshToken:          value,
		RefreshTokenExpiresAt: row.ExpiresAt,
	}, row, nil
}

func (s *SessionService) recordAuth(operation, outcome string) {
	metrics.AuthEvents.WithLabelValues(operation, outcome).Inc()
}

func deviceTag(tag string) *string {
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return nil
	}
	if r := []rune(tag); len(r) > 100 {
		tag = string(r[:100])
	}
	return &tag
}
