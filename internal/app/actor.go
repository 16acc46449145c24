package app

import (
	"context"
	"strings"

	"github.com/hylla/shotboard/internal/domain"
)

// WithActor attaches the authenticated caller to context.
func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	actor.Name = strings.TrimSpace(actor.Name)
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext returns the authenticated caller when present.
func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	if !ok || actor.Name == "" {
		return domain.Actor{}, false
	}
	return actor, true
}

// actorContextKey stores context keys for actor values.
type actorContextKey struct{}

// requireCapability fails with ErrPermissionDenied when actor lacks capability.
func requireCapability(actor domain.Actor, capability domain.Capability) error {
	if strings.TrimSpace(actor.Name) == "" {
		return ErrUnauthenticated
	}
	if !actor.Can(capability) {
		return &PermissionError{Actor: actor.Name, Role: actor.Role, Capability: capability}
	}
	return nil
}

// PermissionError reports the capability an operation required.
type PermissionError struct {
	Actor      string
	Role       domain.Role
	Capability domain.Capability
}

// Error implements error.
func (e *PermissionError) Error() string {
	return "permission denied: " + string(e.Capability) + " required"
}

// Is lets errors.Is(err, ErrPermissionDenied) match.
func (e *PermissionError) Is(target error) bool {
	return target == ErrPermissionDenied
}
