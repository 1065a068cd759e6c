package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// MatchStatus represents the current lifecycle state of a match
type MatchStatus string

const (
	MatchStatusPending    MatchStatus = "PENDING"
	MatchStatusAccepted   MatchStatus = "ACCEPTED"
	MatchStatusRejected   MatchStatus = "REJECTED"
	MatchStatusCancelled  MatchStatus = "CANCELLED"
	MatchStatusInProgress MatchStatus = "IN_PROGRESS"
	MatchStatusCompleted  MatchStatus = "COMPLETED"
)

// IsTerminal returns true if no further transition is permitted
func (s MatchStatus) IsTerminal() bool {
	return s == MatchStatusRejected || s == MatchStatusCancelled || s == MatchStatusCompleted
}

func (s MatchStatus) Valid() bool {
	switch s {
	case MatchStatusPending, MatchStatusAccepted, MatchStatusRejected,
		MatchStatusCancelled, MatchStatusInProgress, MatchStatusCompleted:
		return true
	}
	return false
}

// MatchCategory is the kind of game being played
type MatchCategory string

const (
	CategoryFriendly   MatchCategory = "FRIENDLY"
	CategoryRanking    MatchCategory = "RANKING"
	CategoryTournament MatchCategory = "TOURNAMENT"
	CategoryPractice   MatchCategory = "PRACTICE"
)

func (c MatchCategory) Valid() bool {
	switch c {
	case CategoryFriendly, CategoryRanking, CategoryTournament, CategoryPractice:
		return true
	}
	return false
}

// LocationCategory is the kind of venue a match is held at
type LocationCategory string

const (
	LocationIndoor          LocationCategory = "INDOOR"
	LocationOutdoor         LocationCategory = "OUTDOOR"
	LocationSchoolGym       LocationCategory = "SCHOOL_GYM"
	LocationCommunityCenter LocationCategory = "COMMUNITY_CENTER"
)

func (l LocationCategory) Valid() bool {
	switch l {
	case LocationIndoor, LocationOutdoor, LocationSchoolGym, LocationCommunityCenter:
		return true
	}
	return false
}

// DefaultMaxPlayers is used when a match is created without a participant cap
const DefaultMaxPlayers = 10

// Match is a proposed or ongoing activity between a host and an opponent.
type Match struct {
	ID               uuid.UUID        `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	Title            string           `json:"title" gorm:"size:100;not null"`
	Description      *string          `json:"description"`
	ScheduledAt      time.Time        `json:"scheduledAt" gorm:"not null;index"`
	Location         string           `json:"location" gorm:"size:200;not null"`
	LocationCategory LocationCategory `json:"locationCategory" gorm:"type:varchar(20);not null;index"`
	Latitude         *float64         `json:"latitude"`
	Longitude        *float64         `json:"longitude"`
	Category         MatchCategory    `json:"category" gorm:"type:varchar(20);not null;index"`
	Status           MatchStatus      `json:"status" gorm:"type:varchar(20);not null;default:'PENDING';index"`
	MaxPlayers       int              `json:"maxPlayers" gorm:"not null;default:10"`
	Rules            *string          `json:"rules"`
	MediaURLs        datatypes.JSON   `json:"mediaUrls" gorm:"type:jsonb"`
	HostID           uuid.UUID        `json:"hostId" gorm:"type:uuid;not null;index"`
	OpponentID       *uuid.UUID       `json:"opponentId" gorm:"type:uuid;index"`
	HostScore        *int             `json:"hostScore"`
	OpponentScore    *int             `json:"opponentScore"`
	GameStats        datatypes.JSON   `json:"gameStats" gorm:"type:jsonb"`
	Version          int              `json:"version" gorm:"not null;default:1"`
	CreatedAt        time.Time        `json:"createdAt"`
	UpdatedAt        time.Time        `json:"updatedAt"`
	CompletedAt      *time.Time       `json:"completedAt"`

	// Relations
	Host     *User `json:"host,omitempty" gorm:"foreignKey:HostID"`
	Opponent *User `json:"opponent,omitempty" gorm:"foreignKey:OpponentID"`
}

// TableName returns the table name for GORM
func (Match) TableName() string {
	return "matches"
}

// IsHost returns true if userID created the match
func (m *Match) IsHost(userID uuid.UUID) bool {
	return m.HostID == userID
}

// IsOpponent returns true if userID accepted the match
func (m *Match) IsOpponent(userID uuid.UUID) bool {
	return m.OpponentID != nil && *m.OpponentID == userID
}

// IsParticipant returns true for host or opponent
func (m *Match) IsParticipant(userID uuid.UUID) bool {
	return m.IsHost(userID) || m.IsOpponent(userID)
}

// MediaURLList decodes the stored media URL list.
func (m *Match) MediaURLList() []string {
	var urls []string
	if len(m.MediaURLs) == 0 {
		return urls
	}
	_ = json.Unmarshal(m.MediaURLs, &urls)
	return urls
}

// SetMediaURLs replaces the stored media URL list.
func (m *Match) SetMediaURLs(urls []string) {
	if urls == nil {
		urls = []string{}
	}
	data, _ := json.Marshal(urls)
	m.MediaURLs = datatypes.JSON(data)
}

// NewMatchParams carries the host-supplied fields of a new match.
type NewMatchParams struct {
	Title            string
	Description      *string
	ScheduledAt      time.Time
	Location         string
	LocationCategory LocationCategory
	Latitude         *float64
	Longitude        *float64
	Category         MatchCategory
	MaxPlayers       int
	Rules            *string
	MediaURLs        []string
}

// NewMatch creates a PENDING match owned by hostID. The schedule must be
// strictly after now.
func NewMatch(hostID uuid.UUID, p NewMatchParams, now time.Time) (*Match, error) {
	if !p.ScheduledAt.After(now) {
		return nil, ErrScheduleInPast
	}

	maxPlayers := p.MaxPlayers
	if maxPlayers == 0 {
		maxPlayers = DefaultMaxPlayers
	}

	m := &Match{
		ID:               uuid.New(),
		Title:            p.Title,
		Description:      p.Description,
		ScheduledAt:      p.ScheduledAt,
		Location:         p.Location,
		LocationCategory: p.LocationCategory,
		Latitude:         p.Latitude,
		Longitude:        p.Longitude,
		Category:         p.Category,
		Status:           MatchStatusPending,
		MaxPlayers:       maxPlayers,
		Rules:            p.Rules,
		HostID:           hostID,
		Version:          1,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	m.SetMediaURLs(p.MediaURLs)

	return m, nil
}

// MatchPatch holds an in-place field edit; nil fields are left untouched.
type MatchPatch struct {
	Title            *string
	Description      *string
	ScheduledAt      *time.Time
	Location         *string
	LocationCategory *LocationCategory
	Latitude         *float64
	Longitude        *float64
	Category         *MatchCategory
	MaxPlayers       *int
	Rules            *string
	MediaURLs        []string
}

// Changed lists the json names of the fields the patch sets.
func (p MatchPatch) Changed() []string {
	var fields []string
	add := func(set bool, name string) {
		if set {
			fields = append(fields, name)
		}
	}
	add(p.Title != nil, "title")
	add(p.Description != nil, "description")
	add(p.ScheduledAt != nil, "scheduledAt")
	add(p.Location != nil, "location")
	add(p.LocationCategory != nil, "locationCategory")
	add(p.Latitude != nil, "latitude")
	add(p.Longitude != nil, "longitude")
	add(p.Category != nil, "category")
	add(p.MaxPlayers != nil, "maxPlayers")
	add(p.Rules != nil, "rules")
	add(p.MediaURLs != nil, "mediaUrls")
	return fields
}

// Apply merges the patch into m. A new schedule must be strictly after now.
func (p MatchPatch) Apply(m *Match, now time.Time) error {
	if p.ScheduledAt != nil && !p.ScheduledAt.After(now) {
		return ErrScheduleInPast
	}

	if p.Title != nil {
		m.Title = *p.Title
	}
	if p.Description != nil {
		m.Description = p.Description
	}
	if p.ScheduledAt != nil {
		m.ScheduledAt = *p.ScheduledAt
	}
	if p.Location != nil {
		m.Location = *p.Location
	}
	if p.LocationCategory != nil {
		m.LocationCategory = *p.LocationCategory
	}
	if p.Latitude != nil {
		m.Latitude = p.Latitude
	}
	if p.Longitude != nil {
		m.Longitude = p.Longitude
	}
	if p.Category != nil {
		m.Category = *p.Category
	}
	if p.MaxPlayers != nil {
		m.MaxPlayers = *p.MaxPlayers
	}
	if p.Rules != nil {
		m.Rules = p.Rules
	}
	if p.MediaURLs != nil {
		m.SetMediaURLs(p.MediaURLs)
	}
	m.UpdatedAt = now
	return nil
}
