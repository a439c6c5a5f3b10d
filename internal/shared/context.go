package shared

import "context"

// Principal identifies the actor invoking a governed operation.
type Principal struct {
	ID      string
	Service string
}

type principalContextKey struct{}

// ContextWithPrincipal stores the principal in context.
func ContextWithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, p)
}

// PrincipalFromContext extracts the principal from context.
func PrincipalFromContext(ctx context.Context) Principal {
	p, _ := ctx.Value(principalContextKey{}).(Principal)
	return p
}
