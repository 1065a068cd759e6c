package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// MatchLogAction tags what happened to a match
type MatchLogAction string

const (
	LogCreated   MatchLogAction = "CREATED"
	LogUpdated   MatchLogAction = "UPDATED"
	LogDeleted   MatchLogAction = "DELETED"
	LogAccepted  MatchLogAction = "ACCEPTED"
	LogRejected  MatchLogAction = "REJECTED"
	LogCancelled MatchLogAction = "CANCELLED"
	LogStarted   MatchLogAction = "STARTED"
	LogCompleted MatchLogAction = "COMPLETED"
)

// MatchLog is an immutable audit record. MatchID carries no foreign key so
// entries outlive a deleted match.
type MatchLog struct {
	ID             uuid.UUID      `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	MatchID        uuid.UUID      `json:"matchId" gorm:"type:uuid;not null;index"`
	ActorID        uuid.UUID      `json:"actorId" gorm:"type:uuid;not null"`
	Action         MatchLogAction `json:"action" gorm:"type:varchar(20);not null"`
	PreviousStatus *MatchStatus   `json:"previousStatus" gorm:"type:varchar(20)"`
	NewStatus      *MatchStatus   `json:"newStatus" gorm:"type:varchar(20)"`
	Reason         *string        `json:"reason"`
	Metadata       datatypes.JSON `json:"metadata" gorm:"type:jsonb"`
	CreatedAt      time.Time      `json:"createdAt" gorm:"index"`
}

// TableName returns the table name for GORM
func (MatchLog) TableName() string {
	return "match_logs"
}

// NewMatchLog builds a log entry. from/to may be nil for mutations without a
// status change; metadata is encoded as JSON when non-nil.
func NewMatchLog(matchID, actorID uuid.UUID, action MatchLogAction, from, to *MatchStatus, reason *string, metadata map[string]any) *MatchLog {
	entry := &MatchLog{
		ID:             uuid.New(),
		MatchID:        matchID,
		ActorID:        actorID,
		Action:         action,
		PreviousStatus: from,
		NewStatus:      to,
		Reason:         reason,
		CreatedAt:      time.Now(),
	}
	if metadata != nil {
		data, _ := json.Marshal(metadata)
		entry.Metadata = datatypes.JSON(data)
	}
	return entry
}

// StatusPtr returns a pointer to a copy of s.
func StatusPtr(s MatchStatus) *MatchStatus {
	return &s
}
