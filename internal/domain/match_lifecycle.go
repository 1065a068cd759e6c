package domain

import (
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
)

// MatchAction is an operation that mutates an existing match
type MatchAction string

const (
	ActionUpdate   MatchAction = "update"
	ActionDelete   MatchAction = "delete"
	ActionAccept   MatchAction = "accept"
	ActionReject   MatchAction = "reject"
	ActionCancel   MatchAction = "cancel"
	ActionStart    MatchAction = "start"
	ActionComplete MatchAction = "complete"
)

type matchRule struct {
	from      []MatchStatus
	to        MatchStatus // empty when the action leaves status unchanged
	log       MatchLogAction
	reason    bool // whether a free-text reason is recorded
	authorize func(m *Match, caller uuid.UUID) error
}

func hostOnly(m *Match, caller uuid.UUID) error {
	if !m.IsHost(caller) {
		return ErrNotMatchHost
	}
	return nil
}

func notHost(m *Match, caller uuid.UUID) error {
	if m.IsHost(caller) {
		return ErrHostCannotRespond
	}
	return nil
}

func participant(m *Match, caller uuid.UUID) error {
	if !m.IsParticipant(caller) {
		return ErrNotMatchParticipant
	}
	return nil
}

var matchRules = map[MatchAction]matchRule{
	ActionUpdate: {
		from:      []MatchStatus{MatchStatusPending, MatchStatusAccepted},
		log:       LogUpdated,
		authorize: hostOnly,
	},
	ActionDelete: {
		from:      []MatchStatus{MatchStatusPending},
		log:       LogDeleted,
		authorize: hostOnly,
	},
	ActionAccept: {
		from:      []MatchStatus{MatchStatusPending},
		to:        MatchStatusAccepted,
		log:       LogAccepted,
		reason:    true,
		authorize: notHost,
	},
	ActionReject: {
		from:      []MatchStatus{MatchStatusPending},
		to:        MatchStatusRejected,
		log:       LogRejected,
		reason:    true,
		authorize: notHost,
	},
	ActionCancel: {
		from:      []MatchStatus{MatchStatusPending, MatchStatusAccepted},
		to:        MatchStatusCancelled,
		log:       LogCancelled,
		reason:    true,
		authorize: participant,
	},
	ActionStart: {
		from:      []MatchStatus{MatchStatusAccepted},
		to:        MatchStatusInProgress,
		log:       LogStarted,
		authorize: hostOnly,
	},
	ActionComplete: {
		from:      []MatchStatus{MatchStatusInProgress},
		to:        MatchStatusCompleted,
		log:       LogCompleted,
		authorize: hostOnly,
	},
}

// CheckMatchAction evaluates the guards for caller performing action on m.
// Authorization is checked before state.
func CheckMatchAction(m *Match, action MatchAction, caller uuid.UUID) error {
	rule, ok := matchRules[action]
	if !ok {
		return NewError(KindValidation, fmt.Sprintf("unknown match action %q", action))
	}

	if err := rule.authorize(m, caller); err != nil {
		return err
	}

	if m.Status.IsTerminal() {
		return &Error{
			Kind:    KindInvalidTransition,
			Message: fmt.Sprintf("cannot %s a match that is %s", action, m.Status),
		}
	}

	switch action {
	case ActionAccept:
		if m.OpponentID != nil {
			return ErrOpponentAlreadySet
		}
	case ActionDelete:
		if m.OpponentID != nil {
			return ErrDeleteWithOpponent
		}
	}

	if !slices.Contains(rule.from, m.Status) {
		return &Error{
			Kind:    KindInvalidTransition,
			Message: fmt.Sprintf("cannot %s a match that is %s", action, m.Status),
		}
	}

	return nil
}

// ApplyMatchAction checks the guards and, for status-changing actions, moves
// m into its next state. It returns the log action and the status pair to
// record. Update and Delete leave status untouched.
func ApplyMatchAction(m *Match, action MatchAction, caller uuid.UUID, now time.Time) (MatchLogAction, MatchStatus, MatchStatus, error) {
	if err := CheckMatchAction(m, action, caller); err != nil {
		return "", "", "", err
	}

	rule := matchRules[action]
	from := m.Status
	if rule.to == "" {
		return rule.log, from, from, nil
	}

	switch action {
	case ActionAccept:
		opponent := caller
		m.OpponentID = &opponent
	case ActionComplete:
		completedAt := now
		m.CompletedAt = &completedAt
	}

	m.Status = rule.to
	m.UpdatedAt = now
	return rule.log, from, rule.to, nil
}

// RecordsReason reports whether a free-text reason is kept for action.
func RecordsReason(action MatchAction) bool {
	return matchRules[action].reason
}
