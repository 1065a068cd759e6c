package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	DefaultPageLimit = 20
	MaxPageLimit     = 100
)

type SortField string

const (
	SortByCreatedAt   SortField = "createdAt"
	SortByScheduledAt SortField = "scheduledAt"
	SortByUpdatedAt   SortField = "updatedAt"
)

// Column returns the database column for the sort field.
func (f SortField) Column() string {
	switch f {
	case SortByCreatedAt:
		return "created_at"
	case SortByUpdatedAt:
		return "updated_at"
	default:
		return "scheduled_at"
	}
}

type SortDirection string

const (
	SortAsc  SortDirection = "asc"
	SortDesc SortDirection = "desc"
)

// MatchFilter selects matches. Every non-empty predicate is ANDed; Search
// matches title OR description.
type MatchFilter struct {
	Status           *MatchStatus
	Category         *MatchCategory
	LocationCategory *LocationCategory
	HostID           *uuid.UUID
	ScheduledFrom    *time.Time
	ScheduledTo      *time.Time
	Search           string
	Location         string

	// ParticipantID restricts to matches where the user is host or opponent.
	ParticipantID *uuid.UUID

	Page    int
	Limit   int
	SortBy  SortField
	SortDir SortDirection
}

// Normalize fills defaults and clamps paging so the filter is safe to execute.
func (f MatchFilter) Normalize() MatchFilter {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit <= 0 {
		f.Limit = DefaultPageLimit
	}
	if f.Limit > MaxPageLimit {
		f.Limit = MaxPageLimit
	}
	switch f.SortBy {
	case SortByCreatedAt, SortByScheduledAt, SortByUpdatedAt:
	default:
		f.SortBy = SortByScheduledAt
	}
	switch SortDirection(strings.ToLower(string(f.SortDir))) {
	case SortDesc:
		f.SortDir = SortDesc
	default:
		f.SortDir = SortAsc
	}
	f.Search = strings.TrimSpace(f.Search)
	f.Location = strings.TrimSpace(f.Location)
	return f
}

// Offset returns the number of rows to skip for the current page.
func (f MatchFilter) Offset() int {
	return (f.Page - 1) * f.Limit
}

// OrderClause returns the ORDER BY expression with an id tiebreaker.
func (f MatchFilter) OrderClause() string {
	return f.SortBy.Column() + " " + strings.ToUpper(string(f.SortDir)) + ", id ASC"
}

// MatchPage is one page of a match listing.
type MatchPage struct {
	Items      []*Match `json:"items"`
	Total      int64    `json:"total"`
	Page       int      `json:"page"`
	Limit      int      `json:"limit"`
	TotalPages int      `json:"totalPages"`
}

// NewMatchPage assembles page metadata for the normalized filter.
func NewMatchPage(items []*Match, total int64, f MatchFilter) *MatchPage {
	pages := 0
	if f.Limit > 0 {
		pages = int((total + int64(f.Limit) - 1) / int64(f.Limit))
	}
	if items == nil {
		items = []*Match{}
	}
	return &MatchPage{
		Items:      items,
		Total:      total,
		Page:       f.Page,
		Limit:      f.Limit,
		TotalPages: pages,
	}
}
