package auth

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"

	"github.com/hylla/shotboard/internal/app"
	"github.com/hylla/shotboard/internal/domain"
)

type testAuthenticator struct {
	actor domain.Actor
	err   error
	calls int
}

func (a *testAuthenticator) Authenticate(context.Context, *http.Request) (domain.Actor, error) {
	a.calls++
	return a.actor, a.err
}

// decodeErrorCode extracts error.code from one middleware response.
func decodeErrorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	return body.Error.Code
}

func TestMiddlewareUnauthorized(t *testing.T) {
	called := false
	h := Middleware{Authenticator: &testAuthenticator{err: ErrUnauthenticated}}.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/acts", nil))

	if called {
		t.Fatal("handler should not be called")
	}
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status=%d, want 401", rec.Code)
	}
	if code := decodeErrorCode(t, rec); code != "unauthorized" {
		t.Fatalf("code=%q, want unauthorized", code)
	}
}

func TestMiddlewareInvalidToken(t *testing.T) {
	h := Middleware{Authenticator: &testAuthenticator{err: errors.New("bad token")}}.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/acts", nil))

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status=%d, want 401", rec.Code)
	}
	if code := decodeErrorCode(t, rec); code != "invalid_token" {
		t.Fatalf("code=%q, want invalid_token", code)
	}
}

func TestMiddlewareAttachesActor(t *testing.T) {
	want, err := domain.NewActor("alice", domain.RoleManager)
	if err != nil {
		t.Fatalf("NewActor() error = %v", err)
	}
	var got domain.Actor
	h := Middleware{Authenticator: &testAuthenticator{actor: want}}.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = app.ActorFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/acts", nil))

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status=%d, want 204", rec.Code)
	}
	if got.Name != "alice" || !got.Can(domain.CapabilityManageProductions) {
		t.Fatalf("unexpected actor %#v", got)
	}
}

func TestDevAuthenticator(t *testing.T) {
	if _, err := NewDevAuthenticator("dev", "wizard"); !errors.Is(err, domain.ErrInvalidRole) {
		t.Fatalf("NewDevAuthenticator(bad role) error = %v, want ErrInvalidRole", err)
	}
	authn, err := NewDevAuthenticator("dev", "admin")
	if err != nil {
		t.Fatalf("NewDevAuthenticator() error = %v", err)
	}
	actor, err := authn.Authenticate(context.Background(), httptest.NewRequest(http.MethodGet, "/", nil))
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
	if actor.Name != "dev" || actor.Role != domain.RoleAdmin {
		t.Fatalf("unexpected actor %#v", actor)
	}
}

func TestHeaderAuthenticator(t *testing.T) {
	authn := NewHeaderAuthenticator(HeaderConfig{})
	cases := []struct {
		name       string
		user       string
		role       string
		wantErr    error
		wantRole   domain.Role
		canManage  bool
		canUpdates bool
	}{
		{name: "missing user", role: "admin", wantErr: ErrUnauthenticated},
		{name: "admin", user: "alice", role: "Admin", wantRole: domain.RoleAdmin, canManage: true, canUpdates: true},
		{name: "default student", user: "sam", wantRole: domain.RoleStudent, canUpdates: true},
		{name: "unknown role", user: "eve", role: "intern", wantRole: "intern"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.user != "" {
				req.Header.Set(DefaultUserHeader, tc.user)
			}
			if tc.role != "" {
				req.Header.Set(DefaultRoleHeader, tc.role)
			}
			actor, err := authn.Authenticate(context.Background(), req)
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("Authenticate() error = %v, want %v", err, tc.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Authenticate() error = %v", err)
			}
			if actor.Role != tc.wantRole {
				t.Fatalf("role = %q, want %q", actor.Role, tc.wantRole)
			}
			if actor.Can(domain.CapabilityManageProductions) != tc.canManage {
				t.Fatalf("manage capability = %v, want %v", !tc.canManage, tc.canManage)
			}
			if actor.Can(domain.CapabilityUpdateStatus) != tc.canUpdates {
				t.Fatalf("update capability = %v, want %v", !tc.canUpdates, tc.canUpdates)
			}
		})
	}
}

const (
	testIssuer   = "https://issuer.shotboard.test"
	testClientID = "shotboard"
)

// newTestOIDC returns an authenticator that trusts key.
func newTestOIDC(t *testing.T, key *rsa.PrivateKey) *OIDCAuthenticator {
	t.Helper()
	verifier := oidc.NewVerifier(testIssuer, &oidc.StaticKeySet{PublicKeys: []crypto.PublicKey{&key.PublicKey}}, &oidc.Config{ClientID: testClientID})
	return NewOIDCAuthenticatorWithVerifier(OIDCConfig{IssuerURL: testIssuer, ClientID: testClientID, DefaultRole: "student"}, verifier)
}

// signToken builds one compact RS256 JWT carrying claims.
func signToken(t *testing.T, key *rsa.PrivateKey, claims map[string]any) string {
	t.Helper()
	header, err := json.Marshal(map[string]string{"alg": "RS256", "typ": "JWT"})
	if err != nil {
		t.Fatalf("marshal header: %v", err)
	}
	payload, err := json.Marshal(claims)
	if err != nil {
		t.Fatalf("marshal claims: %v", err)
	}
	signingInput := base64.RawURLEncoding.EncodeToString(header) + "." + base64.RawURLEncoding.EncodeToString(payload)
	digest := sha256.Sum256([]byte(signingInput))
	sig, err := rsa.SignPKCS1v15(rand.Reader, key, crypto.SHA256, digest[:])
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return signingInput + "." + base64.RawURLEncoding.EncodeToString(sig)
}

func TestOIDCAuthenticator(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}
	authn := newTestOIDC(t, key)
	now := time.Now()
	baseClaims := func() map[string]any {
		return map[string]any{
			"iss": testIssuer,
			"aud": testClientID,
			"sub": "user-123",
			"iat": now.Unix(),
			"exp": now.Add(time.Hour).Unix(),
		}
	}

	t.Run("missing header", func(t *testing.T) {
		_, err := authn.Authenticate(context.Background(), httptest.NewRequest(http.MethodGet, "/", nil))
		if !errors.Is(err, ErrUnauthenticated) {
			t.Fatalf("Authenticate() error = %v, want ErrUnauthenticated", err)
		}
	})

	t.Run("malformed token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer not-a-jwt")
		_, err := authn.Authenticate(context.Background(), req)
		if !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("Authenticate() error = %v, want ErrInvalidToken", err)
		}
	})

	t.Run("valid token with role list", func(t *testing.T) {
		claims := baseClaims()
		claims["preferred_username"] = "alice"
		claims["role"] = []string{"viewer", "manager"}
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+signToken(t, key, claims))
		actor, err := authn.Authenticate(context.Background(), req)
		if err != nil {
			t.Fatalf("Authenticate() error = %v", err)
		}
		if actor.Name != "alice" || actor.Role != domain.RoleManager {
			t.Fatalf("unexpected actor %#v", actor)
		}
	})

	t.Run("subject fallback and default role", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "bearer "+signToken(t, key, baseClaims()))
		actor, err := authn.Authenticate(context.Background(), req)
		if err != nil {
			t.Fatalf("Authenticate() error = %v", err)
		}
		if actor.Name != "user-123" || actor.Role != domain.RoleStudent {
			t.Fatalf("unexpected actor %#v", actor)
		}
	})

	t.Run("wrong audience", func(t *testing.T) {
		claims := baseClaims()
		claims["aud"] = "someone-else"
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+signToken(t, key, claims))
		if _, err := authn.Authenticate(context.Background(), req); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("Authenticate() error = %v, want ErrInvalidToken", err)
		}
	})

	t.Run("foreign signing key", func(t *testing.T) {
		other, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			t.Fatalf("GenerateKey() error = %v", err)
		}
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+signToken(t, other, baseClaims()))
		if _, err := authn.Authenticate(context.Background(), req); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("Authenticate() error = %v, want ErrInvalidToken", err)
		}
	})
}

func TestOIDCConfigValidate(t *testing.T) {
	if err := (OIDCConfig{ClientID: "x"}).Validate(); err == nil {
		t.Fatal("expected missing issuer error")
	}
	if err := (OIDCConfig{IssuerURL: testIssuer}).Validate(); err == nil {
		t.Fatal("expected missing client id error")
	}
	if err := (OIDCConfig{IssuerURL: testIssuer, ClientID: testClientID}).Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
}
