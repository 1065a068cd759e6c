package postgres

import (
	"context"
	"strings"

	"github.com/dom/pickup-match/internal/domain"
	"github.com/dom/pickup-match/internal/repository"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type matchRepository struct {
	db *gorm.DB
}

func NewMatchRepository(db *gorm.DB) *matchRepository {
	return &matchRepository{db: db}
}

func (r *matchRepository) Create(ctx context.Context, match *domain.Match) error {
	return mapError(r.db.WithContext(ctx).Omit(clause.Associations).Create(match).Error)
}

func (r *matchRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Match, error) {
	var match domain.Match
	err := r.db.WithContext(ctx).
		Preload("Host").
		Preload("Opponent").
		First(&match, "id = ?", id).Error
	if err != nil {
		return nil, mapError(err)
	}
	return &match, nil
}

func (r *matchRepository) GetForUpdate(ctx context.Context, id uuid.UUID) (*domain.Match, error) {
	var match domain.Match
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&match, "id = ?", id).Error
	if err != nil {
		return nil, mapError(err)
	}
	return &match, nil
}

func (r *matchRepository) UpdateVersioned(ctx context.Context, match *domain.Match) error {
	next := match.Version + 1
	res := r.db.WithContext(ctx).
		Model(&domain.Match{}).
		Where("id = ? AND version = ?", match.ID, match.Version).
		Updates(map[string]any{
			"title":             match.Title,
			"description":       match.Description,
			"scheduled_at":      match.ScheduledAt,
			"location":          match.Location,
			"location_category": match.LocationCategory,
			"latitude":          match.Latitude,
			"longitude":         match.Longitude,
			"category":          match.Category,
			"status":            match.Status,
			"max_players":       match.MaxPlayers,
			"rules":             match.Rules,
			"media_urls":        match.MediaURLs,
			"opponent_id":       match.OpponentID,
			"host_score":        match.HostScore,
			"opponent_score":    match.OpponentScore,
			"game_stats":        match.GameStats,
			"completed_at":      match.CompletedAt,
			"updated_at":        match.UpdatedAt,
			"version":           next,
		})
	if res.Error != nil {
		return mapError(res.Error)
	}
	if res.RowsAffected == 0 {
		return repository.ErrStaleVersion
	}
	match.Version = next
	return nil
}

func (r *matchRepository) Delete(ctx context.Context, id uuid.UUID) error {
	res := r.db.WithContext(ctx).Delete(&domain.Match{}, "id = ?", id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *matchRepository) List(ctx context.Context, filter domain.MatchFilter) ([]*domain.Match, int64, error) {
	f := filter.Normalize()

	var total int64
	err := applyMatchFilter(r.db.WithContext(ctx).Model(&domain.Match{}), f).
		Count(&total).Error
	if err != nil {
		return nil, 0, err
	}

	var matches []*domain.Match
	err = applyMatchFilter(r.db.WithContext(ctx), f).
		Preload("Host").
		Preload("Opponent").
		Order(f.OrderClause()).
		Limit(f.Limit).
		Offset(f.Offset()).
		Find(&matches).Error
	if err != nil {
		return nil, 0, err
	}

	return matches, total, nil
}

// applyMatchFilter ANDs every provided predicate; the free-text search is the
// only OR group.
func applyMatchFilter(q *gorm.DB, f domain.MatchFilter) *gorm.DB {
	if f.Status != nil {
		q = q.Where("status = ?", *f.Status)
	}
	if f.Category != nil {
		q = q.Where("category = ?", *f.Category)
	}
	if f.LocationCategory != nil {
		q = q.Where("location_category = ?", *f.LocationCategory)
	}
	if f.HostID != nil {
		q = q.Where("host_id = ?", *f.HostID)
	}
	if f.ParticipantID != nil {
		q = q.Where("(host_id = ? OR opponent_id = ?)", *f.ParticipantID, *f.ParticipantID)
	}
	if f.ScheduledFrom != nil {
		q = q.Where("scheduled_at >= ?", *f.ScheduledFrom)
	}
	if f.ScheduledTo != nil {
		q = q.Where("scheduled_at <= ?", *f.ScheduledTo)
	}
	if f.Search != "" {
		pattern := likePattern(f.Search)
		q = q.Where("(title ILIKE ? OR description ILIKE ?)", pattern, pattern)
	}
	if f.Location != "" {
		q = q.Where("location ILIKE ?", likePattern(f.Location))
	}
	return q
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func likePattern(s string) string {
	return "%" + likeEscaper.Replace(s) + "%"
}
