package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	AuthEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "pickup_auth_events_total", Help: "Session operations by outcome"},
		[]string{"operation", "outcome"},
	)
	RefreshReplays = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "pickup_refresh_replays_total", Help: "Refresh attempts with a revoked or expired token"},
	)
	MatchTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "pickup_match_transitions_total", Help: "Committed match mutations by log action"},
		[]string{"action"},
	)
	MatchRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "pickup_match_rejections_total", Help: "Refused match mutations by error kind"},
		[]string{"action", "kind"},
	)
	TokensSwept = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "pickup_refresh_tokens_swept_total", Help: "Stale refresh tokens deleted by the sweeper"},
	)
	MailsSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "pickup_mails_total", Help: "Outgoing mail by outcome"},
		[]string{"outcome"},
	)
)

var registerOnce sync.Once

// Register adds every collector to the default registry. Safe to call more than once.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(AuthEvents, RefreshReplays, MatchTransitions, MatchRejections, TokensSwept, MailsSent)
	})
}
