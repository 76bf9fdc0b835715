// Package context provides request-scoped values extraction.
package context

import (
	"context"
	"slices"
)

// Actor is the caller identity asserted by the external auth service.
// The allocation service never authenticates users itself; it only records
// who triggered administrative changes.
type Actor struct {
	Subject string
	Roles   []string
}

type actorContextKey struct{}

// WithActor adds Actor to context.
func WithActor(ctx context.Context, actor *Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// GetActor returns Actor from context.
func GetActor(ctx context.Context) *Actor {
	if v, ok := ctx.Value(actorContextKey{}).(*Actor); ok {
		return v
	}
	return nil
}

// GetSubject returns the actor subject or "system" when none is present.
func GetSubject(ctx context.Context) string {
	if a := GetActor(ctx); a != nil && a.Subject != "" {
		return a.Subject
	}
	return "system"
}

// HasRole checks if the actor has a specific role.
func HasRole(ctx context.Context, role string) bool {
	a := GetActor(ctx)
	if a == nil {
		return false
	}
	return slices.Contains(a.Roles, role)
}
