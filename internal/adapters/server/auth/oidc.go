package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"

	"github.com/hylla/shotboard/internal/domain"
)

// OIDCConfig configures bearer ID-token verification.
type OIDCConfig struct {
	IssuerURL     string
	ClientID      string
	UsernameClaim string
	RoleClaim     string
	DefaultRole   string
}

// Validate checks required fields.
func (c OIDCConfig) Validate() error {
	if strings.TrimSpace(c.IssuerURL) == "" {
		return errors.New("oidc issuer_url is required")
	}
	if strings.TrimSpace(c.ClientID) == "" {
		return errors.New("oidc client_id is required")
	}
	return nil
}

func (c OIDCConfig) withDefaults() OIDCConfig {
	if strings.TrimSpace(c.UsernameClaim) == "" {
		c.UsernameClaim = "preferred_username"
	}
	if strings.TrimSpace(c.RoleClaim) == "" {
		c.RoleClaim = "role"
	}
	return c
}

// OIDCAuthenticator verifies `Authorization: Bearer` ID tokens.
type OIDCAuthenticator struct {
	cfg      OIDCConfig
	verifier *oidc.IDTokenVerifier
}

// NewOIDCAuthenticator discovers the issuer and builds a verifier for the client id.
func NewOIDCAuthenticator(ctx context.Context, cfg OIDCConfig) (*OIDCAuthenticator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	provider, err := oidc.NewProvider(ctx, cfg.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("oidc provider: %w", err)
	}
	return NewOIDCAuthenticatorWithVerifier(cfg, provider.Verifier(&oidc.Config{ClientID: cfg.ClientID})), nil
}

// NewOIDCAuthenticatorWithVerifier builds an authenticator around an existing verifier.
func NewOIDCAuthenticatorWithVerifier(cfg OIDCConfig, verifier *oidc.IDTokenVerifier) *OIDCAuthenticator {
	return &OIDCAuthenticator{cfg: cfg.withDefaults(), verifier: verifier}
}

// Authenticate implements Authenticator.
func (a *OIDCAuthenticator) Authenticate(ctx context.Context, r *http.Request) (domain.Actor, error) {
	raw := tokenFromHeader(r)
	if raw == "" {
		return domain.Actor{}, ErrUnauthenticated
	}
	idToken, err := a.verifier.Verify(ctx, raw)
	if err != nil {
		return domain.Actor{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	var claims map[string]any
	if err := idToken.Claims(&claims); err != nil {
		return domain.Actor{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return a.actorFromClaims(claims)
}

// actorFromClaims maps verified claims onto an actor. The username claim falls back to sub.
func (a *OIDCAuthenticator) actorFromClaims(claims map[string]any) (domain.Actor, error) {
	name := extractStringClaim(claims, a.cfg.UsernameClaim)
	if name == "" {
		name = extractStringClaim(claims, "sub")
	}
	role := ""
	for _, candidate := range extractRolesClaim(claims, a.cfg.RoleClaim) {
		if domain.IsValidRole(domain.Role(candidate)) {
			role = candidate
			break
		}
	}
	if role == "" {
		role = a.cfg.DefaultRole
	}
	actor, err := actorFor(name, role)
	if err != nil {
		return domain.Actor{}, fmt.Errorf("%w: token has no username", ErrInvalidToken)
	}
	return actor, nil
}

func tokenFromHeader(r *http.Request) string {
	authz := strings.TrimSpace(r.Header.Get("Authorization"))
	if authz == "" {
		return ""
	}
	parts := strings.SplitN(authz, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func extractStringClaim(claims map[string]any, key string) string {
	s, _ := claims[key].(string)
	return strings.TrimSpace(s)
}

// extractRolesClaim accepts a single string or a list of strings.
func extractRolesClaim(claims map[string]any, key string) []string {
	switch typed := claims[key].(type) {
	case string:
		if s := strings.ToLower(strings.TrimSpace(typed)); s != "" {
			return []string{s}
		}
	case []any:
		out := make([]string, 0, len(typed))
		for _, item := range typed {
			s, ok := item.(string)
			if !ok {
				continue
			}
			if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
