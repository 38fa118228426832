package auth

import (
	"context"
	"errors"
)

// Principal is the verified identity every core operation receives.
// Role is one of the rbac role constants (provider, seeker, admin).
type Principal struct {
	UserID string
	Role   string
}

type ctxKey int

const ctxPrincipal ctxKey = iota

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, ctxPrincipal, p)
}

func PrincipalFrom(ctx context.Context) (Principal, error) {
	if p, ok := ctx.Value(ctxPrincipal).(Principal); ok && p.UserID != "" {
		return p, nil
	}
	return Principal{}, errors.New("principal not in context")
}
