package auth

import (
	"context"
	"net/http"

	"github.com/hylla/shotboard/internal/domain"
)

// DevAuthenticator returns one fixed actor for local use.
type DevAuthenticator struct {
	actor domain.Actor
}

// NewDevAuthenticator validates the configured identity.
func NewDevAuthenticator(name, role string) (*DevAuthenticator, error) {
	actor, err := domain.NewActor(name, domain.Role(role))
	if err != nil {
		return nil, err
	}
	return &DevAuthenticator{actor: actor}, nil
}

// Authenticate implements Authenticator.
func (a *DevAuthenticator) Authenticate(context.Context, *http.Request) (domain.Actor, error) {
	return a.actor, nil
}
