package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/dom/pickup-match/internal/api/respond"
	"github.com/dom/pickup-match/internal/domain"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
)

type contextKey string

const (
	CallerKey contextKey = "caller"
)

// CallerValidator resolves a bearer token to the caller it belongs to.
type CallerValidator interface {
	ValidateCaller(ctx context.Context, accessToken string) (domain.Caller, error)
}

// Auth rejects requests without a valid bearer token and stores the caller
// in the request context.
func Auth(validator CallerValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				respond.Error(w, r, domain.NewError(domain.KindUnauthenticated, "authorization header required"))
				return
			}

			caller, err := validator.ValidateCaller(r.Context(), token)
			if err != nil {
				hlog.FromRequest(r).Debug().Err(err).Msg("access token rejected")
				respond.Error(w, r, err)
				return
			}

			hlog.FromRequest(r).UpdateContext(func(c zerolog.Context) zerolog.Context {
				return c.Str("user_id", caller.ID.String())
			})

			ctx := context.WithValue(r.Context(), CallerKey, caller)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireCapability rejects authenticated callers whose role lacks capability.
func RequireCapability(capability domain.Capability) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			caller, ok := GetCaller(r.Context())
			if !ok {
				respond.Error(w, r, domain.ErrInvalidAccessToken)
				return
			}
			if err := domain.Authorize(caller, capability); err != nil {
				respond.Error(w, r, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	return token, token != ""
}

func GetCaller(ctx context.Context) (domain.Caller, bool) {
	caller, ok := ctx.Value(CallerKey).(domain.Caller)
	return caller, ok
}
