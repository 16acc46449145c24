// Package config loads shotboard's TOML configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"

	"github.com/hylla/shotboard/internal/domain"
)

// Backend selects the Repository implementation.
type Backend string

const (
	BackendMemory   Backend = "memory"
	BackendSQLite   Backend = "sqlite"
	BackendPostgres Backend = "postgres"
)

// AuthMode selects the request authenticator.
type AuthMode string

const (
	AuthModeDev    AuthMode = "dev"
	AuthModeHeader AuthMode = "header"
	AuthModeOIDC   AuthMode = "oidc"
)

// Environment overrides applied by ApplyEnv.
const (
	EnvConfigPath  = "SHOTBOARD_CONFIG"
	EnvDBPath      = "SHOTBOARD_DB_PATH"
	EnvDatabaseURL = "SHOTBOARD_DATABASE_URL"
)

type Config struct {
	Database DatabaseConfig `toml:"database"`
	Server   ServerConfig   `toml:"server"`
	Auth     AuthConfig     `toml:"auth"`
	Workflow WorkflowConfig `toml:"workflow"`
	Logging  LoggingConfig  `toml:"logging"`
}

type DatabaseConfig struct {
	Backend         Backend `toml:"backend"`
	Path            string  `toml:"path"`
	URL             string  `toml:"url"`
	MaxOpenConns    int     `toml:"max_open_conns"`
	MaxIdleConns    int     `toml:"max_idle_conns"`
	ConnMaxLifetime string  `toml:"conn_max_lifetime"`
}

type ServerConfig struct {
	HTTPBind    string `toml:"http_bind"`
	APIEndpoint string `toml:"api_endpoint"`
	MCPEndpoint string `toml:"mcp_endpoint"`
}

type AuthConfig struct {
	Mode   AuthMode         `toml:"mode"`
	Dev    DevAuthConfig    `toml:"dev"`
	Header HeaderAuthConfig `toml:"header"`
	OIDC   OIDCAuthConfig   `toml:"oidc"`
}

type DevAuthConfig struct {
	Name string `toml:"name"`
	Role string `toml:"role"`
}

type HeaderAuthConfig struct {
	UserHeader  string `toml:"user_header"`
	RoleHeader  string `toml:"role_header"`
	DefaultRole string `toml:"default_role"`
}

type OIDCAuthConfig struct {
	IssuerURL     string `toml:"issuer_url"`
	ClientID      string `toml:"client_id"`
	UsernameClaim string `toml:"username_claim"`
	RoleClaim     string `toml:"role_claim"`
	DefaultRole   string `toml:"default_role"`
}

type WorkflowConfig struct {
	Policy string `toml:"policy"` // permissive | ordered
}

type LoggingConfig struct {
	Level   string `toml:"level"`    // debug | info | warn | error
	DevFile bool   `toml:"dev_file"` // also write logfmt logs under the data dir
}

func Default(dbPath string) Config {
	return Config{
		Database: DatabaseConfig{
			Backend:         BackendSQLite,
			Path:            dbPath,
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: "30m",
		},
		Server: ServerConfig{
			HTTPBind:    "127.0.0.1:8080",
			APIEndpoint: "/api/v1",
			MCPEndpoint: "/mcp",
		},
		Auth: AuthConfig{
			Mode: AuthModeDev,
			Dev: DevAuthConfig{
				Name: "dev",
				Role: string(domain.RoleAdmin),
			},
			Header: HeaderAuthConfig{
				UserHeader:  "X-Shotboard-User",
				RoleHeader:  "X-Shotboard-Role",
				DefaultRole: string(domain.RoleStudent),
			},
			OIDC: OIDCAuthConfig{
				UsernameClaim: "preferred_username",
				RoleClaim:     "role",
				DefaultRole:   string(domain.RoleStudent),
			},
		},
		Workflow: WorkflowConfig{
			Policy: "permissive",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

func Load(path string, defaults Config) (Config, error) {
	cfg := defaults
	if strings.TrimSpace(path) == "" {
		return cfg, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if len(content) == 0 {
		return cfg, nil
	}

	if err := toml.Unmarshal(content, &cfg); err != nil {
		return Config{}, fmt.Errorf("decode toml: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// ApplyEnv overlays environment overrides. A database url switches the backend to postgres.
func (c Config) ApplyEnv(getenv func(string) string) Config {
	if getenv == nil {
		getenv = os.Getenv
	}
	if v := strings.TrimSpace(getenv(EnvDBPath)); v != "" {
		c.Database.Path = v
	}
	if v := strings.TrimSpace(getenv(EnvDatabaseURL)); v != "" {
		c.Database.URL = v
		c.Database.Backend = BackendPostgres
	}
	return c
}

func (c Config) Validate() error {
	switch c.Database.Backend {
	case BackendMemory:
	case BackendSQLite:
		if strings.TrimSpace(c.Database.Path) == "" {
			return errors.New("database.path is required for the sqlite backend")
		}
	case BackendPostgres:
		if strings.TrimSpace(c.Database.URL) == "" {
			return errors.New("database.url is required for the postgres backend")
		}
		if c.Database.MaxOpenConns < 1 {
			return errors.New("database.max_open_conns must be >= 1")
		}
		if c.Database.MaxIdleConns < 0 || c.Database.MaxIdleConns > c.Database.MaxOpenConns {
			return errors.New("database.max_idle_conns must be between 0 and max_open_conns")
		}
		if _, err := c.Database.Lifetime(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("invalid database.backend: %q", c.Database.Backend)
	}

	switch c.Auth.Mode {
	case AuthModeDev:
		if strings.TrimSpace(c.Auth.Dev.Name) == "" {
			return errors.New("auth.dev.name is required")
		}
		if !domain.IsValidRole(domain.NormalizeRole(domain.Role(c.Auth.Dev.Role))) {
			return fmt.Errorf("invalid auth.dev.role: %q", c.Auth.Dev.Role)
		}
	case AuthModeHeader:
	case AuthModeOIDC:
		if strings.TrimSpace(c.Auth.OIDC.IssuerURL) == "" {
			return errors.New("auth.oidc.issuer_url is required")
		}
		if strings.TrimSpace(c.Auth.OIDC.ClientID) == "" {
			return errors.New("auth.oidc.client_id is required")
		}
	default:
		return fmt.Errorf("invalid auth.mode: %q", c.Auth.Mode)
	}

	if _, ok := domain.PolicyByName(strings.TrimSpace(strings.ToLower(c.Workflow.Policy))); !ok {
		return fmt.Errorf("invalid workflow.policy: %q", c.Workflow.Policy)
	}

	switch strings.TrimSpace(strings.ToLower(c.Logging.Level)) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid logging.level: %q", c.Logging.Level)
	}
	return nil
}

// Lifetime parses conn_max_lifetime. Empty means no limit.
func (d DatabaseConfig) Lifetime() (time.Duration, error) {
	raw := strings.TrimSpace(d.ConnMaxLifetime)
	if raw == "" {
		return 0, nil
	}
	dur, err := time.ParseDuration(raw)
	if err != nil || dur < 0 {
		return 0, fmt.Errorf("invalid database.conn_max_lifetime: %q", d.ConnMaxLifetime)
	}
	return dur, nil
}

// TransitionPolicy returns the configured workflow policy.
func (c Config) TransitionPolicy() domain.TransitionPolicy {
	policy, ok := domain.PolicyByName(strings.TrimSpace(strings.ToLower(c.Workflow.Policy)))
	if !ok {
		return domain.PermissivePolicy{}
	}
	return policy
}

func EnsureConfigDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
