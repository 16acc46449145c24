package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hylla/shotboard/internal/adapters/server/auth"
	"github.com/hylla/shotboard/internal/adapters/server/common"
	"github.com/hylla/shotboard/internal/adapters/storage/memory"
	"github.com/hylla/shotboard/internal/adapters/storage/postgres"
	"github.com/hylla/shotboard/internal/adapters/storage/sqlite"
	"github.com/hylla/shotboard/internal/app"
	"github.com/hylla/shotboard/internal/config"
	"github.com/hylla/shotboard/internal/domain"
	"github.com/hylla/shotboard/internal/platform"
)

// Environment overrides read before flags are parsed.
const (
	envAppName = "SHOTBOARD_APP_NAME"
	envDevMode = "SHOTBOARD_DEV_MODE"
)

// rootOptions holds the persistent flags shared by every command.
type rootOptions struct {
	configPath string
	dbPath     string
	appName    string
	devMode    bool
	actorName  string
	actorRole  string
	jsonOutput bool
}

// repository is the store surface the CLI owns for one run.
type repository interface {
	app.Repository
	Close() error
}

// cliRuntime is the resolved configuration, store, and service for one command run.
type cliRuntime struct {
	cfg     config.Config
	logger  *runtimeLogger
	repo    repository
	service *app.Service
	adapter *common.AppServiceAdapter
}

// resolvePaths resolves platform paths for the selected app name and mode.
func (o rootOptions) resolvePaths() (platform.Paths, error) {
	return platform.DefaultPathsWithOptions(platform.Options{
		AppName: o.appName,
		DevMode: o.devMode,
	})
}

// loadConfig resolves the config file and applies env and flag overrides.
// An explicit --db switches the store to sqlite at that path.
func (o rootOptions) loadConfig(paths platform.Paths, getenv func(string) string) (config.Config, string, error) {
	configPath := strings.TrimSpace(o.configPath)
	if configPath == "" {
		if envPath := strings.TrimSpace(getenv(config.EnvConfigPath)); envPath != "" {
			configPath = envPath
		} else {
			configPath = paths.ConfigPath
		}
	}
	cfg, err := config.Load(configPath, config.Default(paths.DBPath))
	if err != nil {
		return config.Config{}, "", fmt.Errorf("load config %q: %w", configPath, err)
	}
	cfg = cfg.ApplyEnv(getenv)
	if dbPath := strings.TrimSpace(o.dbPath); dbPath != "" {
		cfg.Database.Backend = config.BackendSQLite
		cfg.Database.Path = dbPath
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, "", fmt.Errorf("validate config: %w", err)
	}
	return cfg, configPath, nil
}

// openRuntime builds the logger, store, and service for one command run.
func openRuntime(ctx context.Context, opts rootOptions, stderr io.Writer) (*cliRuntime, error) {
	paths, err := opts.resolvePaths()
	if err != nil {
		return nil, err
	}
	cfg, configPath, err := opts.loadConfig(paths, os.Getenv)
	if err != nil {
		return nil, err
	}
	logger, err := newRuntimeLogger(stderr, opts.appName, opts.devMode, cfg.Logging, paths.LogDir, time.Now)
	if err != nil {
		return nil, fmt.Errorf("configure runtime logger: %w", err)
	}
	logger.Debug("runtime paths resolved", "config_path", configPath, "data_dir", paths.DataDir)
	logger.Debug("configuration loaded", "backend", cfg.Database.Backend, "auth_mode", cfg.Auth.Mode, "policy", cfg.Workflow.Policy)
	if devPath := logger.DevLogPath(); devPath != "" {
		logger.Info("dev file logging enabled", "path", devPath)
	}

	repo, err := openRepository(ctx, cfg, logger)
	if err != nil {
		_ = logger.Close()
		return nil, err
	}
	service := app.NewService(repo, time.Now, app.ServiceConfig{Policy: cfg.TransitionPolicy()})
	return &cliRuntime{
		cfg:     cfg,
		logger:  logger,
		repo:    repo,
		service: service,
		adapter: common.NewAppServiceAdapter(service),
	}, nil
}

// Close releases the store and the log file.
func (r *cliRuntime) Close() {
	if r == nil {
		return
	}
	if err := r.repo.Close(); err != nil {
		r.logger.Warn("store close failed", "backend", r.cfg.Database.Backend, "err", err)
	}
	_ = r.logger.Close()
}

// ready reports store reachability for readiness probes.
func (r *cliRuntime) ready(ctx context.Context) error {
	if pinger, ok := r.repo.(interface{ Ping(context.Context) error }); ok {
		return pinger.Ping(ctx)
	}
	return nil
}

// actor resolves the identity local commands act as: --actor/--role, falling back to auth.dev.
func (r *cliRuntime) actor(opts rootOptions) (domain.Actor, error) {
	name := strings.TrimSpace(opts.actorName)
	if name == "" {
		name = r.cfg.Auth.Dev.Name
	}
	role := strings.TrimSpace(opts.actorRole)
	if role == "" {
		role = r.cfg.Auth.Dev.Role
	}
	actor, err := domain.NewActor(name, domain.Role(role))
	if err != nil {
		return domain.Actor{}, fmt.Errorf("resolve cli actor %q/%q: %w", name, role, err)
	}
	return actor, nil
}

// openRepository opens the configured backend and runs its migrations.
func openRepository(ctx context.Context, cfg config.Config, logger *runtimeLogger) (repository, error) {
	switch cfg.Database.Backend {
	case config.BackendMemory:
		logger.Info("using in-memory store")
		return memory.New(), nil
	case config.BackendSQLite:
		if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite dir: %w", err)
		}
		logger.Info("opening sqlite repository", "db_path", cfg.Database.Path)
		repo, err := sqlite.Open(cfg.Database.Path)
		if err != nil {
			logger.Error("sqlite open failed", "db_path", cfg.Database.Path, "err", err)
			return nil, fmt.Errorf("open sqlite repository: %w", err)
		}
		return repo, nil
	case config.BackendPostgres:
		lifetime, err := cfg.Database.Lifetime()
		if err != nil {
			return nil, err
		}
		pgCfg := postgres.DefaultConfig(cfg.Database.URL)
		pgCfg.MaxOpenConns = cfg.Database.MaxOpenConns
		pgCfg.MaxIdleConns = cfg.Database.MaxIdleConns
		pgCfg.ConnMaxLifetime = lifetime
		logger.Info("opening postgres repository", "max_open_conns", pgCfg.MaxOpenConns)
		repo, err := postgres.Open(ctx, pgCfg)
		if err != nil {
			logger.Error("postgres open failed", "err", err)
			return nil, fmt.Errorf("open postgres repository: %w", err)
		}
		return repo, nil
	default:
		return nil, fmt.Errorf("unsupported database backend %q", cfg.Database.Backend)
	}
}

// newAuthenticator builds the request authenticator for the configured auth mode.
func newAuthenticator(ctx context.Context, cfg config.AuthConfig) (auth.Authenticator, error) {
	switch cfg.Mode {
	case config.AuthModeDev:
		authenticator, err := auth.NewDevAuthenticator(cfg.Dev.Name, cfg.Dev.Role)
		if err != nil {
			return nil, fmt.Errorf("configure dev auth: %w", err)
		}
		return authenticator, nil
	case config.AuthModeHeader:
		return auth.NewHeaderAuthenticator(auth.HeaderConfig{
			UserHeader:  cfg.Header.UserHeader,
			RoleHeader:  cfg.Header.RoleHeader,
			DefaultRole: cfg.Header.DefaultRole,
		}), nil
	case config.AuthModeOIDC:
		authenticator, err := auth.NewOIDCAuthenticator(ctx, auth.OIDCConfig{
			IssuerURL:     cfg.OIDC.IssuerURL,
			ClientID:      cfg.OIDC.ClientID,
			UsernameClaim: cfg.OIDC.UsernameClaim,
			RoleClaim:     cfg.OIDC.RoleClaim,
			DefaultRole:   cfg.OIDC.DefaultRole,
		})
		if err != nil {
			return nil, fmt.Errorf("configure oidc auth: %w", err)
		}
		return authenticator, nil
	default:
		return nil, fmt.Errorf("unsupported auth mode %q", cfg.Mode)
	}
}

// parseBoolEnv parses a boolean environment variable when set.
func parseBoolEnv(name string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(name))) {
	case "1", "true", "yes", "on":
		return true, true
	case "0", "false", "no", "off":
		return false, true
	default:
		return false, false
	}
}
