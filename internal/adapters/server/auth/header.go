package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/hylla/shotboard/internal/domain"
)

// Default trusted-proxy header names.
const (
	DefaultUserHeader = "X-Shotboard-User"
	DefaultRoleHeader = "X-Shotboard-Role"
)

// HeaderConfig names the headers a trusted reverse proxy sets.
type HeaderConfig struct {
	UserHeader  string
	RoleHeader  string
	DefaultRole string
}

// HeaderAuthenticator trusts identity headers set by a reverse proxy.
type HeaderAuthenticator struct {
	cfg HeaderConfig
}

// NewHeaderAuthenticator fills header defaults.
func NewHeaderAuthenticator(cfg HeaderConfig) *HeaderAuthenticator {
	if strings.TrimSpace(cfg.UserHeader) == "" {
		cfg.UserHeader = DefaultUserHeader
	}
	if strings.TrimSpace(cfg.RoleHeader) == "" {
		cfg.RoleHeader = DefaultRoleHeader
	}
	if strings.TrimSpace(cfg.DefaultRole) == "" {
		cfg.DefaultRole = string(domain.RoleStudent)
	}
	return &HeaderAuthenticator{cfg: cfg}
}

// Authenticate implements Authenticator.
func (a *HeaderAuthenticator) Authenticate(_ context.Context, r *http.Request) (domain.Actor, error) {
	role := strings.TrimSpace(r.Header.Get(a.cfg.RoleHeader))
	if role == "" {
		role = a.cfg.DefaultRole
	}
	return actorFor(r.Header.Get(a.cfg.UserHeader), role)
}
