// Package auth resolves the calling actor for HTTP and MCP requests.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/hylla/shotboard/internal/adapters/server/common"
	"github.com/hylla/shotboard/internal/app"
	"github.com/hylla/shotboard/internal/domain"
)

// ErrUnauthenticated reports a request that carried no identity.
var ErrUnauthenticated = errors.New("unauthenticated")

// ErrInvalidToken reports a credential that was present but rejected.
var ErrInvalidToken = errors.New("invalid token")

// Mode values accepted by New.
const (
	ModeDev    = "dev"
	ModeHeader = "header"
	ModeOIDC   = "oidc"
)

// Authenticator resolves the actor behind one request.
type Authenticator interface {
	Authenticate(ctx context.Context, r *http.Request) (domain.Actor, error)
}

// actorFor builds an actor from an upstream identity. Unknown roles yield an actor with no
// capabilities, so every gated operation is refused rather than the request.
func actorFor(name, role string) (domain.Actor, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.Actor{}, ErrUnauthenticated
	}
	normalized := domain.NormalizeRole(domain.Role(role))
	return domain.Actor{
		Name:         name,
		Role:         normalized,
		Capabilities: domain.CapabilitiesForRole(normalized),
	}, nil
}

// Middleware authenticates every request and attaches the actor to its context.
type Middleware struct {
	Authenticator Authenticator
	Logger        common.Logger
}

// Wrap returns next guarded by the authenticator.
func (m Middleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.Authenticator == nil {
			m.deny(w, r, "unauthorized", "authentication is not configured", ErrUnauthenticated)
			return
		}
		actor, err := m.Authenticator.Authenticate(r.Context(), r)
		if err != nil {
			if errors.Is(err, ErrUnauthenticated) {
				m.deny(w, r, "unauthorized", "authentication required", err)
				return
			}
			m.deny(w, r, "invalid_token", "credentials were rejected", err)
			return
		}
		next.ServeHTTP(w, r.WithContext(app.WithActor(r.Context(), actor)))
	})
}

// deny logs and writes one 401 error envelope.
func (m Middleware) deny(w http.ResponseWriter, r *http.Request, code, message string, err error) {
	requestID := common.RequestIDFromContext(r.Context())
	if m.Logger != nil {
		m.Logger.Warn("auth deny",
			"reason", code,
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"error", err.Error(),
		)
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", "Bearer")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"code":       code,
			"message":    message,
			"request_id": requestID,
		},
	})
}
