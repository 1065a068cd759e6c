package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dom/pickup-match/internal/domain"
	"github.com/dom/pickup-match/internal/service"
	"github.com/dom/pickup-match/internal/testutil"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingNotifier struct {
	mu     sync.Mutex
	tokens map[string]string
	err    error
}

func (n *recordingNotifier) SendVerification(_ context.Context, user *domain.User, token string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.tokens == nil {
		n.tokens = map[string]string{}
	}
	n.tokens[user.Email] = token
	return n.err
}

func TestSessionService_Register(t *testing.T) {
	testDB := testutil.NewTestDB(t)
	notifier := &recordingNotifier{}
	services, repos := testutil.NewTestServices(t, testDB, func(d *service.Dependencies) {
		d.Notifier = notifier
	})
	ctx := context.Background()

	valid := service.RegisterInput{
		Email:       "New.User@Example.com",
		Password:    "Password123",
		Username:    "new_user",
		DisplayName: "New User",
	}

	tests := []struct {
		name      string
		input     service.RegisterInput
		setup     func()
		wantErr   error
		wantKind  domain.ErrorKind
		checkUser bool
	}{
		{
			name:      "successful registration",
			input:     valid,
			checkUser: true,
		},
		{
			name:  "duplicate email",
			input: valid,
			setup: func() {
				testutil.NewUserBuilder().WithEmail("new.user@example.com").Build(t, testDB.DB)
			},
			wantErr: domain.ErrEmailTaken,
		},
		{
			name:  "duplicate username",
			input: valid,
			setup: func() {
				testutil.NewUserBuilder().WithUsername("new_user").Build(t, testDB.DB)
			},
			wantErr: domain.ErrUsernameTaken,
		},
		{
			name: "weak password",
			input: service.RegisterInput{
				Email: "a@example.com", Password: "password", Username: "abc", DisplayName: "Ann",
			},
			wantKind: domain.KindValidation,
		},
		{
			name: "hangul username with mobile number",
			input: service.RegisterInput{
				Email: "minsu@example.com", Password: "Password123", Username: "김민수",
				DisplayName: "김민수", Phone: strPtr("010-1234-5678"),
			},
		},
		{
			name: "one character display name",
			input: service.RegisterInput{
				Email: "a@example.com", Password: "Password123", Username: "abc", DisplayName: "A",
			},
			wantKind: domain.KindValidation,
		},
		{
			name: "malformed email",
			input: service.RegisterInput{
				Email: "not-an-email", Password: "Password123", Username: "abc", DisplayName: "Ann",
			},
			wantKind: domain.KindValidation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			testDB.Truncate(t)

			if tt.setup != nil {
				tt.setup()
			}

			result, err := services.Session.Register(ctx, tt.input)

			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.ErrorIs(t, err, domain.ErrConflict)
				var count int64
				testDB.DB.Model(&domain.User{}).Count(&count)
				assert.Equal(t, int64(1), count, "no new identity on conflict")
				return
			}
			if tt.wantKind != "" {
				testutil.RequireKind(t, err, tt.wantKind)
				return
			}

			require.NoError(t, err)
			if tt.checkUser {
				assert.Equal(t, "new.user@example.com", result.User.Email)
				assert.Equal(t, domain.RoleUser, result.User.Role)
				assert.False(t, result.User.EmailVerified)
				assert.NotEmpty(t, result.AccessToken)
				assert.NotEmpty(t, result.RefreshToken)
				assert.True(t, result.RefreshTokenExpiresAt.After(result.AccessTokenExpiresAt))

				stored, err := repos.User.GetByID(ctx, result.User.ID)
				require.NoError(t, err)
				require.NotNil(t, stored.EmailVerificationToken)
				assert.Equal(t, *stored.EmailVerificationToken, notifier.tokens["new.user@example.com"])

				active, err := repos.RefreshToken.CountActiveForUser(ctx, result.User.ID, time.Now())
				require.NoError(t, err)
				assert.Equal(t, int64(1), active)
			}
		})
	}
}

func TestSessionService_RegisterSurvivesNotifierFailure(t *testing.T) {
	testDB := testutil.NewTestDB(t)
	services, _ := testutil.NewTestServices(t, testDB, func(d *service.Dependencies) {
		d.Notifier = &recordingNotifier{err: errors.New("queue full")}
	})

	_, err := services.Session.Register(context.Background(), service.RegisterInput{
		Email: "x@example.com", Password: "Password123", Username: "xxx", DisplayName: "Xavier",
	})
	assert.NoError(t, err)
}

func TestSessionService_Login(t *testing.T) {
	testDB := testutil.NewTestDB(t)
	services, repos := testutil.NewTestServices(t, testDB)
	ctx := context.Background()

	user, password := testutil.NewUserBuilder().WithEmail("player@example.com").Build(t, testDB.DB)
	testutil.NewUserBuilder().WithEmail("oauth@example.com").WithoutPassword().Build(t, testDB.DB)
	testutil.NewUserBuilder().WithEmail("gone@example.com").Inactive().Build(t, testDB.DB)

	tests := []struct {
		name    string
		input   service.LoginInput
		wantErr error
	}{
		{"successful login", service.LoginInput{Email: "PLAYER@example.com", Password: password}, nil},
		{"wrong password", service.LoginInput{Email: "player@example.com", Password: "Wrong1234"}, domain.ErrInvalidCredentials},
		{"unknown email", service.LoginInput{Email: "nobody@example.com", Password: password}, domain.ErrInvalidCredentials},
		{"oauth only account", service.LoginInput{Email: "oauth@example.com", Password: password}, domain.ErrInvalidCredentials},
		{"inactive account", service.LoginInput{Email: "gone@example.com", Password: password}, domain.ErrInvalidCredentials},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := services.Session.Login(ctx, tt.input)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.ErrorIs(t, err, domain.ErrUnauthorized)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, user.ID, result.User.ID)
			require.NotNil(t, result.User.LastLoginAt)

			stored, err := repos.User.GetByID(ctx, user.ID)
			require.NoError(t, err)
			assert.NotNil(t, stored.LastLoginAt)
		})
	}
}

func TestSessionService_RepeatedWrongPassword(t *testing.T) {
	testDB := testutil.NewTestDB(t)
	services, repos := testutil.NewTestServices(t, testDB)
	ctx := context.Background()

	user, _ := testutil.NewUserBuilder().Build(t, testDB.DB)

	for i := 0; i < 3; i++ {
		_, err := services.Session.Login(ctx, service.LoginInput{Email: user.Email, Password: "Wrong1234"})
		assert.ErrorIs(t, err, domain.ErrUnauthorized)
	}

	var tokens int64
	require.NoError(t, testDB.DB.Model(&domain.RefreshToken{}).Where("user_id = ?", user.ID).Count(&tokens).Error)
	assert.Zero(t, tokens)

	stored, err := repos.User.GetByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.LastLoginAt)
	assert.True(t, stored.IsActive)
}

func TestSessionService_RefreshSession(t *testing.T) {
	testDB := testutil.NewTestDB(t)
	services, _ := testutil.NewTestServices(t, testDB)
	ctx := context.Background()

	user, password := testutil.NewUserBuilder().Build(t, testDB.DB)
	login, err := services.Session.Login(ctx, service.LoginInput{Email: user.Email, Password: password})
	require.NoError(t, err)

	t.Run("rotation issues a new pair", func(t *testing.T) {
		rotated, err := services.Session.RefreshSession(ctx, login.RefreshToken)
		require.NoError(t, err)
		assert.NotEqual(t, login.RefreshToken, rotated.RefreshToken)
		assert.Equal(t, user.ID, rotated.User.ID)

		caller, err := services.Session.ValidateCaller(ctx, rotated.AccessToken)
		require.NoError(t, err)
		assert.Equal(t, user.ID, caller.ID)

		t.Run("second use of the old token fails", func(t *testing.T) {
			_, err := services.Session.RefreshSession(ctx, login.RefreshToken)
			assert.ErrorIs(t, err, domain.ErrInvalidRefresh)
			assert.ErrorIs(t, err, domain.ErrUnauthorized)
		})

		t.Run("replacement still works", func(t *testing.T) {
			_, err := services.Session.RefreshSession(ctx, rotated.RefreshToken)
			assert.NoError(t, err)
		})
	})

	t.Run("unknown token", func(t *testing.T) {
		_, err := services.Session.RefreshSession(ctx, "not-a-token")
		assert.ErrorIs(t, err, domain.ErrUnauthorized)
	})

	t.Run("empty token", func(t *testing.T) {
		_, err := services.Session.RefreshSession(ctx, "")
		assert.ErrorIs(t, err, domain.ErrUnauthorized)
	})
}

func TestSessionService_ConcurrentRefreshHasOneWinner(t *testing.T) {
	testDB := testutil.NewTestDB(t)
	services, _ := testutil.NewTestServices(t, testDB)
	ctx := context.Background()

	user, password := testutil.NewUserBuilder().Build(t, testDB.DB)
	login, err := services.Session.Login(ctx, service.LoginInput{Email: user.Email, Password: password})
	require.NoError(t, err)

	const attempts = 6
	var wg sync.WaitGroup
	errs := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := services.Session.RefreshSession(ctx, login.RefreshToken)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	succeeded := 0
	for err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, domain.ErrUnauthorized)
	}
	assert.Equal(t, 1, succeeded)
}

func TestSessionService_RefreshRacingLogoutAllLeavesNoSession(t *testing.T) {
	testDB := testutil.NewTestDB(t)
	services, repos := testutil.NewTestServices(t, testDB)
	ctx := context.Background()

	user, password := testutil.NewUserBuilder().Build(t, testDB.DB)

	for round := 0; round < 10; round++ {
		login, err := services.Session.Login(ctx, service.LoginInput{Email: user.Email, Password: password})
		require.NoError(t, err)

		var wg sync.WaitGroup
		start := make(chan struct{})
		wg.Add(2)
		go func() {
			defer wg.Done()
			<-start
			_, _ = services.Session.RefreshSession(ctx, login.RefreshToken)
		}()
		go func() {
			defer wg.Done()
			<-start
			_, err := services.Session.LogoutAllDevices(ctx, user.ID)
			assert.NoError(t, err)
		}()
		close(start)
		wg.Wait()

		active, err := repos.RefreshToken.CountActiveForUser(ctx, user.ID, time.Now())
		require.NoError(t, err)
		require.Zero(t, active, "round %d left a live refresh token", round)
	}
}

func TestSessionService_Logout(t *testing.T) {
	testDB := testutil.NewTestDB(t)
	services, _ := testutil.NewTestServices(t, testDB)
	ctx := context.Background()

	user, password := testutil.NewUserBuilder().Build(t, testDB.DB)
	login, err := services.Session.Login(ctx, service.LoginInput{Email: user.Email, Password: password})
	require.NoError(t, err)

	assert.NoError(t, services.Session.Logout(ctx, login.RefreshToken))
	assert.NoError(t, services.Session.Logout(ctx, login.RefreshToken), "logout is idempotent")
	assert.NoError(t, services.Session.Logout(ctx, "never-issued"))
	assert.NoError(t, services.Session.Logout(ctx, ""))

	_, err = services.Session.RefreshSession(ctx, login.RefreshToken)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestSessionService_LogoutAllDevices(t *testing.T) {
	testDB := testutil.NewTestDB(t)
	services, repos := testutil.NewTestServices(t, testDB)
	ctx := context.Background()

	user, password := testutil.NewUserBuilder().Build(t, testDB.DB)
	var sessions []*service.AuthResult
	for i := 0; i < 3; i++ {
		s, err := services.Session.Login(ctx, service.LoginInput{Email: user.Email, Password: password})
		require.NoError(t, err)
		sessions = append(sessions, s)
	}

	n, err := services.Session.LogoutAllDevices(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	for _, s := range sessions {
		_, err := services.Session.RefreshSession(ctx, s.RefreshToken)
		assert.ErrorIs(t, err, domain.ErrUnauthorized)
	}

	active, err := repos.RefreshToken.CountActiveForUser(ctx, user.ID, time.Now())
	require.NoError(t, err)
	assert.Zero(t, active)
}

func TestSessionService_ValidateCaller(t *testing.T) {
	testDB := testutil.NewTestDB(t)
	services, _ := testutil.NewTestServices(t, testDB)
	ctx := context.Background()

	user, password := testutil.NewUserBuilder().WithRole(domain.RoleReferee).Build(t, testDB.DB)
	login, err := services.Session.Login(ctx, service.LoginInput{Email: user.Email, Password: password})
	require.NoError(t, err)

	caller, err := services.Session.ValidateCaller(ctx, login.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, domain.Caller{ID: user.ID, Role: domain.RoleReferee}, caller)

	_, err = services.Session.ValidateCaller(ctx, login.AccessToken+"tampered")
	assert.ErrorIs(t, err, domain.ErrUnauthenticated)

	_, err = services.Session.ValidateCaller(ctx, "")
	assert.ErrorIs(t, err, domain.ErrUnauthenticated)

	require.NoError(t, testDB.DB.Model(&domain.User{}).Where("id = ?", user.ID).Update("is_active", false).Error)
	_, err = services.Session.ValidateCaller(ctx, login.AccessToken)
	assert.ErrorIs(t, err, domain.ErrUnauthenticated)
}

func TestSessionService_LinkOrCreateFromExternalIdentity(t *testing.T) {
	testDB := testutil.NewTestDB(t)
	services, repos := testutil.NewTestServices(t, testDB)
	ctx := context.Background()

	t.Run("creates a verified user with a derived username", func(t *testing.T) {
		testDB.Truncate(t)
		testutil.NewUserBuilder().WithUsername("kim_minsu").Build(t, testDB.DB)
		testutil.NewUserBuilder().WithUsername("kim_minsu1").Build(t, testDB.DB)

		result, err := services.Session.LinkOrCreateFromExternalIdentity(ctx, domain.ExternalClaims{
			Provider: domain.ProviderKakao, ProviderID: "777", Email: "minsu@example.com",
			DisplayName: "Kim Minsu", AvatarURL: "https://img.example.com/minsu.png",
		}, "")
		require.NoError(t, err)

		assert.Equal(t, "kim_minsu2", result.User.Username)
		assert.True(t, result.User.EmailVerified)
		assert.False(t, result.User.HasPassword())
		require.NotNil(t, result.User.AvatarURL)
		assert.NotEmpty(t, result.RefreshToken)
	})

	t.Run("reuses the linked identity", func(t *testing.T) {
		testDB.Truncate(t)
		claims := domain.ExternalClaims{Provider: domain.ProviderGoogle, ProviderID: "g-1", Email: "lee@example.com", DisplayName: "Lee"}

		first, err := services.Session.LinkOrCreateFromExternalIdentity(ctx, claims, "")
		require.NoError(t, err)

		claims.Email = "changed@example.com"
		second, err := services.Session.LinkOrCreateFromExternalIdentity(ctx, claims, "")
		require.NoError(t, err)
		assert.Equal(t, first.User.ID, second.User.ID)

		var users int64
		testDB.DB.Model(&domain.User{}).Count(&users)
		assert.Equal(t, int64(1), users)
	})

	t.Run("merges into an existing password account by email", func(t *testing.T) {
		testDB.Truncate(t)
		existing, password := testutil.NewUserBuilder().WithEmail("park@example.com").Build(t, testDB.DB)

		result, err := services.Session.LinkOrCreateFromExternalIdentity(ctx, domain.ExternalClaims{
			Provider: domain.ProviderGoogle, ProviderID: "g-park", Email: "Park@Example.com", DisplayName: "Park",
		}, "")
		require.NoError(t, err)
		assert.Equal(t, existing.ID, result.User.ID)

		stored, err := repos.User.GetByID(ctx, existing.ID)
		require.NoError(t, err)
		assert.True(t, stored.EmailVerified)
		require.Len(t, stored.ExternalIdentities, 1)
		assert.Equal(t, "g-park", stored.ExternalIdentities[0].ProviderID)

		_, err = services.Session.Login(ctx, service.LoginInput{Email: existing.Email, Password: password})
		assert.NoError(t, err, "password login keeps working after linking")
	})

	t.Run("inactive identity is refused", func(t *testing.T) {
		testDB.Truncate(t)
		testutil.NewUserBuilder().WithEmail("off@example.com").Inactive().Build(t, testDB.DB)

		_, err := services.Session.LinkOrCreateFromExternalIdentity(ctx, domain.ExternalClaims{
			Provider: domain.ProviderGoogle, ProviderID: "g-off", Email: "off@example.com",
		}, "")
		assert.ErrorIs(t, err, domain.ErrUnauthorized)

		_, err = repos.ExternalIdentity.GetByProvider(ctx, domain.ProviderGoogle, "g-off")
		assert.Error(t, err, "link rolled back")
	})

	t.Run("invalid claims", func(t *testing.T) {
		_, err := services.Session.LinkOrCreateFromExternalIdentity(ctx, domain.ExternalClaims{
			Provider: "myspace", ProviderID: "1", Email: "a@example.com",
		}, "")
		assert.ErrorIs(t, err, domain.ErrValidation)
	})
}

func TestSessionService_DeactivateUser(t *testing.T) {
	testDB := testutil.NewTestDB(t)
	services, _ := testutil.NewTestServices(t, testDB)
	ctx := context.Background()

	admin, _ := testutil.NewUserBuilder().WithRole(domain.RoleAdmin).Build(t, testDB.DB)
	referee, _ := testutil.NewUserBuilder().WithRole(domain.RoleReferee).Build(t, testDB.DB)
	target, password := testutil.NewUserBuilder().Build(t, testDB.DB)

	login, err := services.Session.Login(ctx, service.LoginInput{Email: target.Email, Password: password})
	require.NoError(t, err)

	_, err = services.Session.DeactivateUser(ctx, domain.Caller{ID: referee.ID, Role: domain.RoleReferee}, target.ID)
	assert.ErrorIs(t, err, domain.ErrForbidden)

	_, err = services.Session.DeactivateUser(ctx, domain.Caller{ID: admin.ID, Role: domain.RoleAdmin}, uuid.New())
	assert.ErrorIs(t, err, domain.ErrNotFound)

	user, err := services.Session.DeactivateUser(ctx, domain.Caller{ID: admin.ID, Role: domain.RoleAdmin}, target.ID)
	require.NoError(t, err)
	assert.False(t, user.IsActive)

	_, err = services.Session.RefreshSession(ctx, login.RefreshToken)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
	_, err = services.Session.ValidateCaller(ctx, login.AccessToken)
	assert.ErrorIs(t, err, domain.ErrUnauthenticated)
}

func TestUsernameBase(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Kim Minsu", "kim_minsu"},
		{"  ", "player"},
		{"A", "player"},
		{"Jo", "jo"},
		{"Some Really Long Display Name That Goes On", "some_really_long"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, service.UsernameBase(tt.in))
		})
	}
}
