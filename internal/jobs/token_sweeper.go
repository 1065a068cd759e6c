package jobs

import (
	"context"
	"time"

	"github.com/dom/pickup-match/internal/metrics"
	"github.com/dom/pickup-match/internal/repository"
	"github.com/go-co-op/gocron/v2"
	"github.com/rs/zerolog"
)

// TokenSweeper deletes refresh tokens that expired or were revoked longer ago
// than the retention window. Validity never depends on it running.
type TokenSweeper struct {
	tokens    repository.RefreshTokenRepository
	retention time.Duration
	logger    zerolog.Logger
	now       func() time.Time
}

func NewTokenSweeper(tokens repository.RefreshTokenRepository, retention time.Duration, logger zerolog.Logger) *TokenSweeper {
	return &TokenSweeper{
		tokens:    tokens,
		retention: retention,
		logger:    logger.With().Str("job", "token_sweeper").Logger(),
		now:       time.Now,
	}
}

// Sweep runs one pass and returns the number of deleted rows.
func (s *TokenSweeper) Sweep(ctx context.Context) (int64, error) {
	cutoff := s.now().Add(-s.retention)
	deleted, err := s.tokens.DeleteStale(ctx, cutoff)
	if err != nil {
		s.logger.Error().Err(err).Msg("refresh token sweep failed")
		return 0, err
	}
	metrics.TokensSwept.Add(float64(deleted))
	if deleted > 0 {
		s.logger.Info().Int64("deleted", deleted).Time("cutoff", cutoff).Msg("swept stale refresh tokens")
	}
	return deleted, nil
}

// Scheduler runs background maintenance jobs.
type Scheduler struct {
	sched gocron.Scheduler
}

// NewScheduler registers the sweeper to run every interval.
func NewScheduler(sweeper *TokenSweeper, interval time.Duration) (*Scheduler, error) {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}

	_, err = sched.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()
			_, _ = sweeper.Sweep(ctx)
		}),
		gocron.WithName("refresh-token-sweep"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return nil, err
	}

	return &Scheduler{sched: sched}, nil
}

func (s *Scheduler) Start() {
	s.sched.Start()
}

func (s *Scheduler) Shutdown() error {
	return s.sched.Shutdown()
}
