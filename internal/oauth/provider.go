package oauth

import (
	"context"
	"fmt"

	"github.com/dom/pickup-match/internal/domain"
)

// ErrUnknownProvider is returned for provider names with no registered adapter.
var ErrUnknownProvider = domain.NewError(domain.KindValidation, "unsupported oauth provider")

// Provider turns a token issued by an identity provider into verified claims.
type Provider interface {
	Name() string
	Verify(ctx context.Context, token string) (domain.ExternalClaims, error)
}

// Registry looks providers up by name.
type Registry struct {
	providers map[string]Provider
}

func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{providers: make(map[string]Provider, len(providers))}
	for _, p := range providers {
		r.providers[p.Name()] = p
	}
	return r
}

// Verify dispatches to the named provider. Providers report rejected tokens
// as domain errors; anything else is an upstream failure and is wrapped.
func (r *Registry) Verify(ctx context.Context, provider, token string) (domain.ExternalClaims, error) {
	p, ok := r.providers[provider]
	if !ok {
		return domain.ExternalClaims{}, ErrUnknownProvider
	}
	if token == "" {
		return domain.ExternalClaims{}, domain.NewValidationError("token is required",
			domain.FieldError{Field: "token", Message: "token is required"})
	}

	claims, err := p.Verify(ctx, token)
	if err != nil {
		if domain.KindOf(err) != "" {
			return domain.ExternalClaims{}, err
		}
		return domain.ExternalClaims{}, fmt.Errorf("verify %s token: %w", provider, err)
	}
	return claims, nil
}
