package service_test

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dom/pickup-match/internal/domain"
	"github.com/dom/pickup-match/internal/service"
	"github.com/dom/pickup-match/internal/storage"
	"github.com/dom/pickup-match/internal/testutil"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePresigner struct {
	calls int
}

func (p *fakePresigner) PresignUpload(_ context.Context, matchID uuid.UUID, contentType string) (*storage.PresignedUpload, error) {
	p.calls++
	key := storage.MediaKey(matchID, contentType)
	return &storage.PresignedUpload{
		Key:       key,
		UploadURL: "https://media.test/upload/" + key,
		PublicURL: "https://media.test/" + key,
		Method:    "PUT",
		ExpiresAt: time.Now().Add(15 * time.Minute),
	}, nil
}

func callerOf(u *domain.User) domain.Caller {
	return domain.Caller{ID: u.ID, Role: u.Role}
}

func createInput(title string) service.CreateMatchInput {
	return service.CreateMatchInput{
		Title:            title,
		ScheduledAt:      time.Now().Add(48 * time.Hour),
		Location:         "Riverside court 3",
		LocationCategory: domain.LocationOutdoor,
		Category:         domain.CategoryPractice,
	}
}

func intPtr(v int) *int { return &v }

func strPtr(v string) *string { return &v }

func TestMatchService_Lifecycle(t *testing.T) {
	testDB := testutil.NewTestDB(t)
	services, _ := testutil.NewTestServices(t, testDB)
	ctx := context.Background()

	hostUser, _ := testutil.NewUserBuilder().Build(t, testDB.DB)
	opponentUser, _ := testutil.NewUserBuilder().Build(t, testDB.DB)
	host, opponent := callerOf(hostUser), callerOf(opponentUser)

	match, err := services.Match.Create(ctx, host, createInput("Sunday futsal"))
	require.NoError(t, err)
	assert.Equal(t, domain.MatchStatusPending, match.Status)
	assert.Equal(t, domain.DefaultMaxPlayers, match.MaxPlayers)
	require.NotNil(t, match.Host)
	assert.Equal(t, hostUser.ID, match.Host.ID)

	match, err = services.Match.Accept(ctx, opponent, match.ID, service.TransitionInput{Reason: strPtr("see you there")})
	require.NoError(t, err)
	assert.Equal(t, domain.MatchStatusAccepted, match.Status)
	require.NotNil(t, match.OpponentID)
	assert.Equal(t, opponentUser.ID, *match.OpponentID)

	match, err = services.Match.Start(ctx, host, match.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.MatchStatusInProgress, match.Status)

	match, err = services.Match.Complete(ctx, host, match.ID, service.CompleteMatchInput{
		HostScore:     intPtr(3),
		OpponentScore: intPtr(2),
		GameStats:     map[string]any{"mvp": "host"},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.MatchStatusCompleted, match.Status)
	require.NotNil(t, match.CompletedAt)
	assert.Equal(t, 3, *match.HostScore)
	assert.Equal(t, 2, *match.OpponentScore)
	assert.JSONEq(t, `{"mvp":"host"}`, string(match.GameStats))
	assert.Equal(t, 4, match.Version)

	history, err := services.Match.History(ctx, host, match.ID)
	require.NoError(t, err)
	require.Len(t, history, 4)

	want := []struct {
		action   domain.MatchLogAction
		from, to domain.MatchStatus
	}{
		{domain.LogCreated, domain.MatchStatusPending, domain.MatchStatusPending},
		{domain.LogAccepted, domain.MatchStatusPending, domain.MatchStatusAccepted},
		{domain.LogStarted, domain.MatchStatusAccepted, domain.MatchStatusInProgress},
		{domain.LogCompleted, domain.MatchStatusInProgress, domain.MatchStatusCompleted},
	}
	for i, w := range want {
		assert.Equal(t, w.action, history[i].Action)
		require.NotNil(t, history[i].PreviousStatus)
		require.NotNil(t, history[i].NewStatus)
		assert.Equal(t, w.from, *history[i].PreviousStatus)
		assert.Equal(t, w.to, *history[i].NewStatus)
	}
	assert.Equal(t, opponentUser.ID, history[1].ActorID)
	require.NotNil(t, history[1].Reason)
	assert.Equal(t, "see you there", *history[1].Reason)

	t.Run("completed match rejects everything", func(t *testing.T) {
		_, err := services.Match.Cancel(ctx, host, match.ID, service.TransitionInput{})
		assert.ErrorIs(t, err, domain.ErrInvalidTransition)

		_, err = services.Match.Update(ctx, host, match.ID, service.UpdateMatchInput{Title: strPtr("again")})
		assert.ErrorIs(t, err, domain.ErrInvalidTransition)

		err = services.Match.Delete(ctx, host, match.ID)
		assert.ErrorIs(t, err, domain.ErrInvalidTransition)

		after, err := services.Match.History(ctx, host, match.ID)
		require.NoError(t, err)
		assert.Len(t, after, 4, "failed operations leave no trace")
	})
}

func TestMatchService_CreateLimits(t *testing.T) {
	testDB := testutil.NewTestDB(t)
	services, _ := testutil.NewTestServices(t, testDB)
	ctx := context.Background()

	hostUser, _ := testutil.NewUserBuilder().Build(t, testDB.DB)
	host := callerOf(hostUser)

	tests := []struct {
		name    string
		mutate  func(in *service.CreateMatchInput)
		wantErr bool
	}{
		{"fifty players", func(in *service.CreateMatchInput) { in.MaxPlayers = 50 }, false},
		{"fifty one players", func(in *service.CreateMatchInput) { in.MaxPlayers = 51 }, true},
		{"single player", func(in *service.CreateMatchInput) { in.MaxPlayers = 1 }, true},
		{"description at limit", func(in *service.CreateMatchInput) { in.Description = strPtr(strings.Repeat("a", 1000)) }, false},
		{"description over limit", func(in *service.CreateMatchInput) { in.Description = strPtr(strings.Repeat("a", 1001)) }, true},
		{"tournament at a community center", func(in *service.CreateMatchInput) {
			in.Category = domain.CategoryTournament
			in.LocationCategory = domain.LocationCommunityCenter
		}, false},
		{"unknown category", func(in *service.CreateMatchInput) { in.Category = "FUTSAL" }, true},
		{"unknown location category", func(in *service.CreateMatchInput) { in.LocationCategory = "PARK" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := createInput(tt.name)
			tt.mutate(&in)

			_, err := services.Match.Create(ctx, host, in)
			if tt.wantErr {
				testutil.RequireKind(t, err, domain.KindValidation)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestMatchService_DeleteAfterAcceptIsRefused(t *testing.T) {
	testDB := testutil.NewTestDB(t)
	services, repos := testutil.NewTestServices(t, testDB)
	ctx := context.Background()

	hostUser, _ := testutil.NewUserBuilder().Build(t, testDB.DB)
	opponentUser, _ := testutil.NewUserBuilder().Build(t, testDB.DB)

	match, err := services.Match.Create(ctx, callerOf(hostUser), createInput("Doubles"))
	require.NoError(t, err)
	_, err = services.Match.Accept(ctx, callerOf(opponentUser), match.ID, service.TransitionInput{})
	require.NoError(t, err)

	err = services.Match.Delete(ctx, callerOf(hostUser), match.ID)
	assert.ErrorIs(t, err, domain.ErrValidation)

	stored, err := repos.Match.GetByID(ctx, match.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.MatchStatusAccepted, stored.Status)

	cancelled, err := services.Match.Cancel(ctx, callerOf(hostUser), match.ID, service.TransitionInput{Reason: strPtr("rain")})
	require.NoError(t, err)
	assert.Equal(t, domain.MatchStatusCancelled, cancelled.Status)
}

func TestMatchService_DeletePending(t *testing.T) {
	testDB := testutil.NewTestDB(t)
	services, _ := testutil.NewTestServices(t, testDB)
	ctx := context.Background()

	hostUser, _ := testutil.NewUserBuilder().Build(t, testDB.DB)
	referee, _ := testutil.NewUserBuilder().WithRole(domain.RoleReferee).Build(t, testDB.DB)

	match, err := services.Match.Create(ctx, callerOf(hostUser), createInput("Throwaway"))
	require.NoError(t, err)

	require.NoError(t, services.Match.Delete(ctx, callerOf(hostUser), match.ID))

	_, err = services.Match.Get(ctx, match.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = services.Match.History(ctx, callerOf(hostUser), match.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	history, err := services.Match.History(ctx, callerOf(referee), match.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, domain.LogDeleted, history[1].Action)
	assert.JSONEq(t, `{"title":"Throwaway"}`, string(history[1].Metadata))

	err = services.Match.Delete(ctx, callerOf(hostUser), match.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestMatchService_Authorization(t *testing.T) {
	testDB := testutil.NewTestDB(t)
	services, _ := testutil.NewTestServices(t, testDB)
	ctx := context.Background()

	hostUser, _ := testutil.NewUserBuilder().Build(t, testDB.DB)
	opponentUser, _ := testutil.NewUserBuilder().Build(t, testDB.DB)
	stranger, _ := testutil.NewUserBuilder().Build(t, testDB.DB)

	pending := testutil.NewMatchBuilder().WithHost(hostUser).Build(t, testDB.DB)
	accepted := testutil.NewMatchBuilder().WithHost(hostUser).WithOpponent(opponentUser).
		WithStatus(domain.MatchStatusAccepted).Build(t, testDB.DB)

	tests := []struct {
		name string
		run  func() error
		want error
	}{
		{"host cannot accept own match", func() error {
			_, err := services.Match.Accept(ctx, callerOf(hostUser), pending.ID, service.TransitionInput{})
			return err
		}, domain.ErrForbidden},
		{"host cannot reject own match", func() error {
			_, err := services.Match.Reject(ctx, callerOf(hostUser), pending.ID, service.TransitionInput{})
			return err
		}, domain.ErrForbidden},
		{"stranger cannot update", func() error {
			_, err := services.Match.Update(ctx, callerOf(stranger), pending.ID, service.UpdateMatchInput{Title: strPtr("mine")})
			return err
		}, domain.ErrForbidden},
		{"stranger cannot cancel", func() error {
			_, err := services.Match.Cancel(ctx, callerOf(stranger), accepted.ID, service.TransitionInput{})
			return err
		}, domain.ErrForbidden},
		{"opponent cannot start", func() error {
			_, err := services.Match.Start(ctx, callerOf(opponentUser), accepted.ID)
			return err
		}, domain.ErrForbidden},
		{"pending cannot start", func() error {
			_, err := services.Match.Start(ctx, callerOf(hostUser), pending.ID)
			return err
		}, domain.ErrInvalidTransition},
		{"accepted cannot be accepted again", func() error {
			_, err := services.Match.Accept(ctx, callerOf(stranger), accepted.ID, service.TransitionInput{})
			return err
		}, domain.ErrConflict},
		{"unknown match", func() error {
			_, err := services.Match.Start(ctx, callerOf(hostUser), uuid.New())
			return err
		}, domain.ErrNotFound},
		{"schedule in the past", func() error {
			past := time.Now().Add(-time.Hour)
			_, err := services.Match.Update(ctx, callerOf(hostUser), pending.ID, service.UpdateMatchInput{ScheduledAt: &past})
			return err
		}, domain.ErrValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.run(), tt.want)
		})
	}

	t.Run("opponent can cancel an accepted match", func(t *testing.T) {
		m, err := services.Match.Cancel(ctx, callerOf(opponentUser), accepted.ID, service.TransitionInput{})
		require.NoError(t, err)
		assert.Equal(t, domain.MatchStatusCancelled, m.Status)
	})

	t.Run("stranger rejects a pending match", func(t *testing.T) {
		m, err := services.Match.Reject(ctx, callerOf(stranger), pending.ID, service.TransitionInput{Reason: strPtr("too far")})
		require.NoError(t, err)
		assert.Equal(t, domain.MatchStatusRejected, m.Status)
		assert.Nil(t, m.OpponentID)
	})
}

func TestMatchService_UpdateRecordsChangedFields(t *testing.T) {
	testDB := testutil.NewTestDB(t)
	services, _ := testutil.NewTestServices(t, testDB)
	ctx := context.Background()

	hostUser, _ := testutil.NewUserBuilder().Build(t, testDB.DB)
	match, err := services.Match.Create(ctx, callerOf(hostUser), createInput("Pickup"))
	require.NoError(t, err)

	updated, err := services.Match.Update(ctx, callerOf(hostUser), match.ID, service.UpdateMatchInput{
		Title:      strPtr("Evening pickup"),
		MaxPlayers: intPtr(12),
	})
	require.NoError(t, err)
	assert.Equal(t, "Evening pickup", updated.Title)
	assert.Equal(t, 12, updated.MaxPlayers)
	assert.Equal(t, match.Location, updated.Location)
	assert.Equal(t, domain.MatchStatusPending, updated.Status)
	assert.Equal(t, match.Version+1, updated.Version)

	history, err := services.Match.History(ctx, callerOf(hostUser), match.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, domain.LogUpdated, history[1].Action)
	assert.Equal(t, *history[1].PreviousStatus, *history[1].NewStatus)
	assert.JSONEq(t, `{"fields":["title","maxPlayers"]}`, string(history[1].Metadata))
}

func TestMatchService_ConcurrentAcceptHasOneWinner(t *testing.T) {
	testDB := testutil.NewTestDB(t)
	services, repos := testutil.NewTestServices(t, testDB)
	ctx := context.Background()

	hostUser, _ := testutil.NewUserBuilder().Build(t, testDB.DB)
	match := testutil.NewMatchBuilder().WithHost(hostUser).Build(t, testDB.DB)

	const contenders = 5
	callers := make([]domain.Caller, contenders)
	for i := range callers {
		u, _ := testutil.NewUserBuilder().Build(t, testDB.DB)
		callers[i] = callerOf(u)
	}

	var wg sync.WaitGroup
	errs := make([]error, contenders)
	for i := range callers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = services.Match.Accept(ctx, callers[i], match.ID, service.TransitionInput{})
		}(i)
	}
	wg.Wait()

	var winner *domain.Caller
	for i, err := range errs {
		if err == nil {
			require.Nil(t, winner, "only one accept may succeed")
			winner = &callers[i]
			continue
		}
		assert.ErrorIs(t, err, domain.ErrConflict)
	}
	require.NotNil(t, winner)

	stored, err := repos.Match.GetByID(ctx, match.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.OpponentID)
	assert.Equal(t, winner.ID, *stored.OpponentID)

	entries, err := repos.MatchLog.ListByMatch(ctx, match.ID)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestMatchService_HistoryAccess(t *testing.T) {
	testDB := testutil.NewTestDB(t)
	services, _ := testutil.NewTestServices(t, testDB)
	ctx := context.Background()

	hostUser, _ := testutil.NewUserBuilder().Build(t, testDB.DB)
	stranger, _ := testutil.NewUserBuilder().Build(t, testDB.DB)
	referee, _ := testutil.NewUserBuilder().WithRole(domain.RoleReferee).Build(t, testDB.DB)

	match, err := services.Match.Create(ctx, callerOf(hostUser), createInput("Open game"))
	require.NoError(t, err)

	_, err = services.Match.History(ctx, callerOf(stranger), match.ID)
	assert.ErrorIs(t, err, domain.ErrForbidden)

	entries, err := services.Match.History(ctx, callerOf(referee), match.ID)
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	_, err = services.Match.History(ctx, callerOf(referee), uuid.New())
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestMatchService_ListAndListMine(t *testing.T) {
	testDB := testutil.NewTestDB(t)
	services, _ := testutil.NewTestServices(t, testDB)
	ctx := context.Background()

	alice, _ := testutil.NewUserBuilder().Build(t, testDB.DB)
	bob, _ := testutil.NewUserBuilder().Build(t, testDB.DB)

	base := time.Now().Add(24 * time.Hour)
	a1 := testutil.NewMatchBuilder().WithHost(alice).ScheduledAt(base).Build(t, testDB.DB)
	b1 := testutil.NewMatchBuilder().WithHost(bob).WithOpponent(alice).WithStatus(domain.MatchStatusAccepted).
		ScheduledAt(base.Add(time.Hour)).Build(t, testDB.DB)
	testutil.NewMatchBuilder().WithHost(bob).ScheduledAt(base.Add(2 * time.Hour)).Build(t, testDB.DB)

	page, err := services.Match.List(ctx, domain.MatchFilter{Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(3), page.Total)
	assert.Equal(t, 2, page.TotalPages)
	assert.Equal(t, 1, page.Page)
	require.Len(t, page.Items, 2)
	assert.Equal(t, a1.ID, page.Items[0].ID)

	pending := domain.MatchStatusPending
	page, err = services.Match.List(ctx, domain.MatchFilter{Status: &pending})
	require.NoError(t, err)
	assert.Equal(t, int64(2), page.Total)

	mine, err := services.Match.ListMine(ctx, callerOf(alice), domain.MatchFilter{})
	require.NoError(t, err)
	require.Len(t, mine.Items, 2)
	assert.Equal(t, a1.ID, mine.Items[0].ID)
	assert.Equal(t, b1.ID, mine.Items[1].ID)

	empty, err := services.Match.List(ctx, domain.MatchFilter{Page: 9})
	require.NoError(t, err)
	assert.Empty(t, empty.Items)
	assert.NotNil(t, empty.Items)
}

func TestMatchService_PresignMediaUpload(t *testing.T) {
	testDB := testutil.NewTestDB(t)
	ctx := context.Background()

	hostUser, _ := testutil.NewUserBuilder().Build(t, testDB.DB)
	stranger, _ := testutil.NewUserBuilder().Build(t, testDB.DB)
	match := testutil.NewMatchBuilder().WithHost(hostUser).Build(t, testDB.DB)

	t.Run("disabled", func(t *testing.T) {
		services, _ := testutil.NewTestServices(t, testDB)
		_, err := services.Match.PresignMediaUpload(ctx, callerOf(hostUser), match.ID, service.MediaUploadInput{ContentType: "image/png"})
		assert.ErrorIs(t, err, service.ErrMediaDisabled)
	})

	presigner := &fakePresigner{}
	services, _ := testutil.NewTestServices(t, testDB, func(d *service.Dependencies) {
		d.Media = presigner
	})

	t.Run("host gets an upload url", func(t *testing.T) {
		upload, err := services.Match.PresignMediaUpload(ctx, callerOf(hostUser), match.ID, service.MediaUploadInput{ContentType: "image/png"})
		require.NoError(t, err)
		assert.Contains(t, upload.Key, match.ID.String())
		assert.Equal(t, "PUT", upload.Method)
		assert.Equal(t, 1, presigner.calls)
	})

	t.Run("stranger is refused", func(t *testing.T) {
		_, err := services.Match.PresignMediaUpload(ctx, callerOf(stranger), match.ID, service.MediaUploadInput{ContentType: "image/png"})
		assert.ErrorIs(t, err, domain.ErrForbidden)
	})

	t.Run("unsupported content type", func(t *testing.T) {
		_, err := services.Match.PresignMediaUpload(ctx, callerOf(hostUser), match.ID, service.MediaUploadInput{ContentType: "application/pdf"})
		assert.ErrorIs(t, err, domain.ErrValidation)
	})

	assert.Equal(t, 1, presigner.calls)
}
