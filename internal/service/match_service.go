package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dom/pickup-match/internal/domain"
	"github.com/dom/pickup-match/internal/metrics"
	"github.com/dom/pickup-match/internal/repository"
	"github.com/dom/pickup-match/internal/storage"
	"github.com/dom/pickup-match/internal/validation"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var ErrMediaDisabled = domain.NewError(domain.KindValidation, "media uploads are not configured")

// MediaPresigner issues upload URLs for match media.
type MediaPresigner interface {
	PresignUpload(ctx context.Context, matchID uuid.UUID, contentType string) (*storage.PresignedUpload, error)
}

type MatchService struct {
	repos     *repository.Repositories
	tx        repository.Transactor
	validator *validation.Validator
	media     MediaPresigner
	logger    zerolog.Logger
	now       func() time.Time
}

func NewMatchService(
	repos *repository.Repositories,
	tx repository.Transactor,
	validator *validation.Validator,
	media MediaPresigner,
	logger zerolog.Logger,
) *MatchService {
	return &MatchService{
		repos:     repos,
		tx:        tx,
		validator: validator,
		media:     media,
		logger:    logger.With().Str("service", "match").Logger(),
		now:       time.Now,
	}
}

type CreateMatchInput struct {
	Title            string                  `json:"title" validate:"required,max=100"`
	Description      *string                 `json:"description" validate:"omitempty,max=1000"`
	ScheduledAt      time.Time               `json:"scheduledAt" validate:"required"`
	Location         string                  `json:"location" validate:"required,max=200"`
	LocationCategory domain.LocationCategory `json:"locationCategory" validate:"required,oneof=INDOOR OUTDOOR SCHOOL_GYM COMMUNITY_CENTER"`
	Latitude         *float64                `json:"latitude" validate:"omitempty,gte=-90,lte=90"`
	Longitude        *float64                `json:"longitude" validate:"omitempty,gte=-180,lte=180"`
	Category         domain.MatchCategory    `json:"category" validate:"required,oneof=FRIENDLY RANKING TOURNAMENT PRACTICE"`
	MaxPlayers       int                     `json:"maxPlayers" validate:"omitempty,min=2,max=50"`
	Rules            *string                 `json:"rules" validate:"omitempty,max=2000"`
	MediaURLs        []string                `json:"mediaUrls" validate:"omitempty,max=10,dive,url"`
}

type UpdateMatchInput struct {
	Title            *string                  `json:"title" validate:"omitempty,min=1,max=100"`
	Description      *string                  `json:"description" validate:"omitempty,max=1000"`
	ScheduledAt      *time.Time               `json:"scheduledAt"`
	Location         *string                  `json:"location" validate:"omitempty,min=1,max=200"`
	LocationCategory *domain.LocationCategory `json:"locationCategory" validate:"omitempty,oneof=INDOOR OUTDOOR SCHOOL_GYM COMMUNITY_CENTER"`
	Latitude         *float64                 `json:"latitude" validate:"omitempty,gte=-90,lte=90"`
	Longitude        *float64                 `json:"longitude" validate:"omitempty,gte=-180,lte=180"`
	Category         *domain.MatchCategory    `json:"category" validate:"omitempty,oneof=FRIENDLY RANKING TOURNAMENT PRACTICE"`
	MaxPlayers       *int                     `json:"maxPlayers" validate:"omitempty,min=2,max=50"`
	Rules            *string                  `json:"rules" validate:"omitempty,max=2000"`
	MediaURLs        []string                 `json:"mediaUrls" validate:"omitempty,max=10,dive,url"`
}

func (in UpdateMatchInput) patch() domain.MatchPatch {
	return domain.MatchPatch{
		Title:            in.Title,
		Description:      in.Description,
		ScheduledAt:      in.ScheduledAt,
		Location:         in.Location,
		LocationCategory: in.LocationCategory,
		Latitude:         in.Latitude,
		Longitude:        in.Longitude,
		Category:         in.Category,
		MaxPlayers:       in.MaxPlayers,
		Rules:            in.Rules,
		MediaURLs:        in.MediaURLs,
	}
}

// TransitionInput carries the optional free-text reason of accept, reject and cancel.
type TransitionInput struct {
	Reason *string `json:"reason" validate:"omitempty,max=500"`
}

// CompleteMatchInput records the final result. Scores are not range checked.
type CompleteMatchInput struct {
	HostScore     *int           `json:"hostScore"`
	OpponentScore *int           `json:"opponentScore"`
	GameStats     map[string]any `json:"gameStats"`
}

type MediaUploadInput struct {
	ContentType string `json:"contentType" validate:"required"`
}

// Create opens a new PENDING match hosted by the caller.
func (s *MatchService) Create(ctx context.Context, caller domain.Caller, input CreateMatchInput) (*domain.Match, error) {
	if err := domain.Authorize(caller, domain.CapUser); err != nil {
		return nil, err
	}
	if err := s.validator.Struct(input); err != nil {
		return nil, err
	}

	match, err := domain.NewMatch(caller.ID, domain.NewMatchParams{
		Title:            input.Title,
		Description:      input.Description,
		ScheduledAt:      input.ScheduledAt,
		Location:         input.Location,
		LocationCategory: input.LocationCategory,
		Latitude:         input.Latitude,
		Longitude:        input.Longitude,
		Category:         input.Category,
		MaxPlayers:       input.MaxPlayers,
		Rules:            input.Rules,
		MediaURLs:        input.MediaURLs,
	}, s.now())
	if err != nil {
		s.recordRejection(domain.LogCreated, err)
		return nil, err
	}

	err = s.tx.WithinTransaction(ctx, func(ctx context.Context, repos *repository.Repositories) error {
		if err := repos.Match.Create(ctx, match); err != nil {
			return err
		}
		status := domain.StatusPtr(match.Status)
		return repos.MatchLog.Append(ctx, domain.NewMatchLog(match.ID, caller.ID, domain.LogCreated, status, status, nil, nil))
	})
	if err != nil {
		return nil, fmt.Errorf("create match: %w", err)
	}

	metrics.MatchTransitions.WithLabelValues(string(domain.LogCreated)).Inc()
	s.logger.Info().Str("match_id", match.ID.String()).Str("host_id", caller.ID.String()).Msg("match created")
	return s.Get(ctx, match.ID)
}

func (s *MatchService) Update(ctx context.Context, caller domain.Caller, matchID uuid.UUID, input UpdateMatchInput) (*domain.Match, error) {
	if err := s.validator.Struct(input); err != nil {
		return nil, err
	}
	patch := input.patch()
	metadata := map[string]any{"fields": patch.Changed()}

	return s.mutate(ctx, caller, matchID, domain.ActionUpdate, nil, metadata, func(m *domain.Match, now time.Time) error {
		return patch.Apply(m, now)
	})
}

// Delete removes a PENDING match that has no opponent. The log entry
// outlives the match.
func (s *MatchService) Delete(ctx context.Context, caller domain.Caller, matchID uuid.UUID) error {
	_, err := s.mutate(ctx, caller, matchID, domain.ActionDelete, nil, nil, nil)
	return err
}

func (s *MatchService) Accept(ctx context.Context, caller domain.Caller, matchID uuid.UUID, input TransitionInput) (*domain.Match, error) {
	return s.transition(ctx, caller, matchID, domain.ActionAccept, input)
}

func (s *MatchService) Reject(ctx context.Context, caller domain.Caller, matchID uuid.UUID, input TransitionInput) (*domain.Match, error) {
	return s.transition(ctx, caller, matchID, domain.ActionReject, input)
}

func (s *MatchService) Cancel(ctx context.Context, caller domain.Caller, matchID uuid.UUID, input TransitionInput) (*domain.Match, error) {
	return s.transition(ctx, caller, matchID, domain.ActionCancel, input)
}

func (s *MatchService) Start(ctx context.Context, caller domain.Caller, matchID uuid.UUID) (*domain.Match, error) {
	return s.mutate(ctx, caller, matchID, domain.ActionStart, nil, nil, nil)
}

func (s *MatchService) Complete(ctx context.Context, caller domain.Caller, matchID uuid.UUID, input CompleteMatchInput) (*domain.Match, error) {
	var stats []byte
	if input.GameStats != nil {
		var err error
		if stats, err = json.Marshal(input.GameStats); err != nil {
			return nil, domain.NewValidationError("gameStats must be a JSON object",
				domain.FieldError{Field: "gameStats", Message: err.Error()})
		}
	}

	var metadata map[string]any
	if input.HostScore != nil || input.OpponentScore != nil {
		metadata = map[string]any{"hostScore": input.HostScore, "opponentScore": input.OpponentScore}
	}

	return s.mutate(ctx, caller, matchID, domain.ActionComplete, nil, metadata, func(m *domain.Match, _ time.Time) error {
		m.HostScore = input.HostScore
		m.OpponentScore = input.OpponentScore
		if stats != nil {
			m.GameStats = stats
		}
		return nil
	})
}

func (s *MatchService) transition(ctx context.Context, caller domain.Caller, matchID uuid.UUID, action domain.MatchAction, input TransitionInput) (*domain.Match, error) {
	if err := s.validator.Struct(input); err != nil {
		return nil, err
	}
	return s.mutate(ctx, caller, matchID, action, input.Reason, nil, nil)
}

// mutate runs one match action in a transaction: lock the row, check the
// guards, apply, write with a version check and append the log entry.
func (s *MatchService) mutate(
	ctx context.Context,
	caller domain.Caller,
	matchID uuid.UUID,
	action domain.MatchAction,
	reason *string,
	metadata map[string]any,
	edit func(m *domain.Match, now time.Time) error,
) (*domain.Match, error) {
	var (
		match     *domain.Match
		logAction domain.MatchLogAction
		from, to  domain.MatchStatus
	)

	err := s.tx.WithinTransaction(ctx, func(ctx context.Context, repos *repository.Repositories) error {
		m, err := repos.Match.GetForUpdate(ctx, matchID)
		if errors.Is(err, repository.ErrNotFound) {
			return domain.ErrMatchNotFound
		}
		if err != nil {
			return err
		}

		now := s.now()
		logAction, from, to, err = domain.ApplyMatchAction(m, action, caller.ID, now)
		if err != nil {
			return err
		}
		if edit != nil {
			if err := edit(m, now); err != nil {
				return err
			}
		}

		if action == domain.ActionDelete {
			if err := repos.Match.Delete(ctx, m.ID); err != nil {
				return err
			}
			metadata = map[string]any{"title": m.Title}
		} else {
			err := repos.Match.UpdateVersioned(ctx, m)
			if errors.Is(err, repository.ErrStaleVersion) {
				return domain.ErrMatchConcurrentEdit
			}
			if err != nil {
				return err
			}
		}

		if !domain.RecordsReason(action) {
			reason = nil
		}
		entry := domain.NewMatchLog(m.ID, caller.ID, logAction, domain.StatusPtr(from), domain.StatusPtr(to), reason, metadata)
		if err := repos.MatchLog.Append(ctx, entry); err != nil {
			return err
		}

		match = m
		return nil
	})
	if err != nil {
		if domain.KindOf(err) != "" {
			s.recordRejection(domain.MatchLogAction(action), err)
			return nil, err
		}
		return nil, fmt.Errorf("%s match: %w", action, err)
	}

	metrics.MatchTransitions.WithLabelValues(string(logAction)).Inc()
	s.logger.Info().
		Str("match_id", matchID.String()).
		Str("actor_id", caller.ID.String()).
		Str("action", string(logAction)).
		Str("from", string(from)).
		Str("to", string(to)).
		Msg("match mutated")

	if action == domain.ActionDelete {
		return nil, nil
	}
	return s.Get(ctx, match.ID)
}

func (s *MatchService) recordRejection(action domain.MatchLogAction, err error) {
	metrics.MatchRejections.WithLabelValues(string(action), string(domain.KindOf(err))).Inc()
}

func (s *MatchService) Get(ctx context.Context, matchID uuid.UUID) (*domain.Match, error) {
	match, err := s.repos.Match.GetByID(ctx, matchID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, domain.ErrMatchNotFound
	}
	return match, err
}

// History returns the audit trail of a match to its participants and to
// moderators. Moderators can still read the trail of a deleted match.
func (s *MatchService) History(ctx context.Context, caller domain.Caller, matchID uuid.UUID) ([]*domain.MatchLog, error) {
	moderator := caller.Role.Can(domain.CapModerate)

	match, err := s.repos.Match.GetByID(ctx, matchID)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		if !moderator {
			return nil, domain.ErrMatchNotFound
		}
	case err != nil:
		return nil, err
	case !moderator && !match.IsParticipant(caller.ID):
		return nil, domain.ErrNotMatchParticipant
	}

	entries, err := s.repos.MatchLog.ListByMatch(ctx, matchID)
	if err != nil {
		return nil, err
	}
	if match == nil && len(entries) == 0 {
		return nil, domain.ErrMatchNotFound
	}
	return entries, nil
}

func (s *MatchService) List(ctx context.Context, filter domain.MatchFilter) (*domain.MatchPage, error) {
	filter = filter.Normalize()
	items, total, err := s.repos.Match.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list matches: %w", err)
	}
	return domain.NewMatchPage(items, total, filter), nil
}

// ListMine is List restricted to matches the caller hosts or plays in.
func (s *MatchService) ListMine(ctx context.Context, caller domain.Caller, filter domain.MatchFilter) (*domain.MatchPage, error) {
	filter.ParticipantID = &caller.ID
	return s.List(ctx, filter)
}

// PresignMediaUpload lets the host attach media while the match is still editable.
func (s *MatchService) PresignMediaUpload(ctx context.Context, caller domain.Caller, matchID uuid.UUID, input MediaUploadInput) (*storage.PresignedUpload, error) {
	if s.media == nil {
		return nil, ErrMediaDisabled
	}
	if err := s.validator.Struct(input); err != nil {
		return nil, err
	}
	if !storage.SupportedContentType(input.ContentType) {
		return nil, domain.NewValidationError("unsupported content type",
			domain.FieldError{Field: "contentType", Message: "contentType must be image/jpeg, image/png, image/webp or video/mp4"})
	}

	match, err := s.Get(ctx, matchID)
	if err != nil {
		return nil, err
	}
	if err := domain.CheckMatchAction(match, domain.ActionUpdate, caller.ID); err != nil {
		return nil, err
	}

	upload, err := s.media.PresignUpload(ctx, matchID, input.ContentType)
	if err != nil {
		return nil, fmt.Errorf("presign media upload: %w", err)
	}
	return upload, nil
}
