package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hylla/shotboard/internal/adapters/server"
	"github.com/hylla/shotboard/internal/adapters/server/common"
	"github.com/hylla/shotboard/internal/config"
	"github.com/hylla/shotboard/internal/platform"
)

// isolateEnv points every path and override at a per-test directory.
func isolateEnv(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	t.Setenv("HOME", root)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(root, "config"))
	t.Setenv("XDG_DATA_HOME", filepath.Join(root, "data"))
	t.Setenv(config.EnvConfigPath, "")
	t.Setenv(config.EnvDBPath, "")
	t.Setenv(config.EnvDatabaseURL, "")
	t.Setenv(envAppName, "")
	t.Setenv(envDevMode, "")
	return root
}

// runCLI runs one command line against a fixed sqlite database.
func runCLI(t *testing.T, dbPath string, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	full := append([]string{"--db", dbPath}, args...)
	err := run(context.Background(), full, &stdout, &stderr)
	return stdout.String(), err
}

func mustRunCLI(t *testing.T, dbPath string, args ...string) string {
	t.Helper()
	out, err := runCLI(t, dbPath, args...)
	if err != nil {
		t.Fatalf("run %v: %v", args, err)
	}
	return out
}

func TestRunPaths(t *testing.T) {
	isolateEnv(t)
	var stdout bytes.Buffer
	if err := run(context.Background(), []string{"--app", "demo", "--dev=false", "paths"}, &stdout, nil); err != nil {
		t.Fatalf("run paths: %v", err)
	}
	out := stdout.String()
	for _, want := range []string{"app: demo", "dev_mode: false", "config: ", "db: "} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output, got %q", want, out)
		}
	}
}

func TestRunUnknownCommand(t *testing.T) {
	isolateEnv(t)
	err := run(context.Background(), []string{"nope"}, nil, nil)
	if err == nil || !strings.Contains(err.Error(), "unknown command") {
		t.Fatalf("expected unknown command error, got %v", err)
	}
}

func TestRunProductionFlow(t *testing.T) {
	isolateEnv(t)
	db := filepath.Join(t.TempDir(), "shotboard.db")

	out := mustRunCLI(t, db, "acts", "create", "act01", "Arrival")
	if !strings.Contains(out, "created act act01 (Arrival) at position 1") {
		t.Fatalf("unexpected create output %q", out)
	}
	mustRunCLI(t, db, "shots", "create", "act01", "shot01", "--priority", "high")
	mustRunCLI(t, db, "shots", "create", "act01", "shot02")
	mustRunCLI(t, db, "shots", "create", "act01", "shot03", "--frame-start", "1001", "--frame-end", "1048")

	out = mustRunCLI(t, db, "acts", "list")
	if !strings.Contains(out, "act01") || !strings.Contains(out, "Arrival") {
		t.Fatalf("expected act in table, got %q", out)
	}

	out = mustRunCLI(t, db, "--actor", "alice", "status", "set", "1", "lighting", "review", "--assignee", "alice")
	if !strings.Contains(out, "shot 1 lighting -> review (by alice)") {
		t.Fatalf("unexpected status output %q", out)
	}

	out = mustRunCLI(t, db, "--actor", "bob", "--role", "student", "status", "bulk", "comp", "approved", "1", "2", "3", "2")
	if !strings.Contains(out, "Updated 3 shot(s): comp -> approved") {
		t.Fatalf("unexpected bulk output %q", out)
	}

	out = mustRunCLI(t, db, "--json", "shots", "history", "1")
	var history []common.AuditEntry
	if err := json.Unmarshal([]byte(out), &history); err != nil {
		t.Fatalf("decode history: %v (%q)", err, out)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 history entries, got %#v", history)
	}
	if history[0].Department != "comp" || history[0].ChangedBy != "bob" || history[0].OldStatus != nil {
		t.Fatalf("unexpected newest entry %#v", history[0])
	}

	out = mustRunCLI(t, db, "--json", "shots", "list", "--department", "comp", "--status", "approved")
	var shots []common.Shot
	if err := json.Unmarshal([]byte(out), &shots); err != nil {
		t.Fatalf("decode shots: %v", err)
	}
	if len(shots) != 3 || shots[0].FullCode != "act01_shot01" {
		t.Fatalf("unexpected filtered shots %#v", shots)
	}

	out = mustRunCLI(t, db, "--json", "stats", "act01")
	var stats common.ActStats
	if err := json.Unmarshal([]byte(out), &stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if stats.ShotCount != 3 {
		t.Fatalf("expected 3 shots in stats, got %#v", stats)
	}
	for _, dep := range stats.Departments {
		if dep.Department == "comp" && dep.Percent != 100 {
			t.Fatalf("expected comp complete, got %#v", dep)
		}
	}
}

func TestRunRejectsForbiddenAndInvalidInput(t *testing.T) {
	isolateEnv(t)
	db := filepath.Join(t.TempDir(), "shotboard.db")
	mustRunCLI(t, db, "acts", "create", "act01", "Arrival")
	mustRunCLI(t, db, "shots", "create", "act01", "shot01")

	if _, err := runCLI(t, db, "--role", "student", "acts", "create", "act02", "Departure"); !errors.Is(err, common.ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if _, err := runCLI(t, db, "acts", "create", "act01", "Again"); !errors.Is(err, common.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if _, err := runCLI(t, db, "status", "set", "1", "sound", "review"); !errors.Is(err, common.ErrInvalidRequest) {
		t.Fatalf("expected invalid request for unknown department, got %v", err)
	}
	if _, err := runCLI(t, db, "status", "bulk", "comp", "approved", "1", "99"); !errors.Is(err, common.ErrInvalidRequest) {
		t.Fatalf("expected invalid request for unknown ids, got %v", err)
	}
	out := mustRunCLI(t, db, "--json", "shots", "history", "1")
	if strings.TrimSpace(out) != "[]" {
		t.Fatalf("rejected batch must not write history, got %q", out)
	}
	if _, err := runCLI(t, db, "--role", "director", "acts", "list"); err == nil {
		t.Fatal("expected unknown role to be rejected")
	}
	if _, err := runCLI(t, db, "shots", "show", "abc"); err == nil || !strings.Contains(err.Error(), "invalid shot id") {
		t.Fatalf("expected invalid shot id error, got %v", err)
	}
}

func TestRunImportManifest(t *testing.T) {
	isolateEnv(t)
	dir := t.TempDir()
	db := filepath.Join(dir, "shotboard.db")
	manifest := filepath.Join(dir, "manifest.yaml")
	content := `acts:
  - code: act01
    name: Arrival
    shots:
      - code: shot01
        priority: high
      - code: shot02
  - code: act02
    name: Departure
    shots:
      - code: shot01
`
	if err := os.WriteFile(manifest, []byte(content), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}

	out := mustRunCLI(t, db, "import", manifest)
	if !strings.Contains(out, "acts: 2 created, 0 skipped") || !strings.Contains(out, "shots: 3 created, 0 skipped") {
		t.Fatalf("unexpected import report %q", out)
	}
	out = mustRunCLI(t, db, "import", manifest)
	if !strings.Contains(out, "acts: 0 created, 2 skipped") {
		t.Fatalf("expected re-import to skip, got %q", out)
	}

	out = mustRunCLI(t, db, "--json", "shots", "list", "--act", "act02")
	var shots []common.Shot
	if err := json.Unmarshal([]byte(out), &shots); err != nil {
		t.Fatalf("decode shots: %v", err)
	}
	if len(shots) != 1 || shots[0].FullCode != "act02_shot01" {
		t.Fatalf("unexpected act02 shots %#v", shots)
	}
}

func TestRunServeUsesRunner(t *testing.T) {
	isolateEnv(t)
	db := filepath.Join(t.TempDir(), "shotboard.db")

	original := serveCommandRunner
	t.Cleanup(func() { serveCommandRunner = original })
	var (
		gotCfg  server.Config
		gotDeps server.Dependencies
	)
	serveCommandRunner = func(ctx context.Context, cfg server.Config, deps server.Dependencies) error {
		gotCfg = cfg
		gotDeps = deps
		return deps.Ready(ctx)
	}

	if _, err := runCLI(t, db, "serve", "--http", "127.0.0.1:9999", "--mcp-endpoint", "/tools"); err != nil {
		t.Fatalf("run serve: %v", err)
	}
	if gotCfg.HTTPBind != "127.0.0.1:9999" || gotCfg.MCPEndpoint != "/tools" || gotCfg.APIEndpoint != "/api/v1" {
		t.Fatalf("unexpected serve config %#v", gotCfg)
	}
	if gotDeps.Service == nil || gotDeps.Authenticator == nil || gotDeps.Logger == nil {
		t.Fatalf("expected wired dependencies, got %#v", gotDeps)
	}

	serveCommandRunner = func(context.Context, server.Config, server.Dependencies) error {
		return errors.New("bind failed")
	}
	if _, err := runCLI(t, db, "serve"); err == nil || !strings.Contains(err.Error(), "bind failed") {
		t.Fatalf("expected runner error, got %v", err)
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	paths := platform.Paths{
		ConfigPath: filepath.Join(t.TempDir(), "missing.toml"),
		DataDir:    t.TempDir(),
		DBPath:     filepath.Join(t.TempDir(), "default.db"),
	}
	noEnv := func(string) string { return "" }

	cfg, _, err := rootOptions{}.loadConfig(paths, noEnv)
	if err != nil {
		t.Fatalf("loadConfig() error = %v", err)
	}
	if cfg.Database.Backend != config.BackendSQLite || cfg.Database.Path != paths.DBPath {
		t.Fatalf("unexpected default database %#v", cfg.Database)
	}

	withURL := func(key string) string {
		if key == config.EnvDatabaseURL {
			return "postgres://shotboard@localhost/shotboard"
		}
		return ""
	}
	cfg, _, err = rootOptions{}.loadConfig(paths, withURL)
	if err != nil {
		t.Fatalf("loadConfig() with url error = %v", err)
	}
	if cfg.Database.Backend != config.BackendPostgres {
		t.Fatalf("expected postgres backend, got %q", cfg.Database.Backend)
	}

	cfg, _, err = rootOptions{dbPath: "/tmp/override.db"}.loadConfig(paths, withURL)
	if err != nil {
		t.Fatalf("loadConfig() with --db error = %v", err)
	}
	if cfg.Database.Backend != config.BackendSQLite || cfg.Database.Path != "/tmp/override.db" {
		t.Fatalf("expected --db to win, got %#v", cfg.Database)
	}
}

func TestRuntimeLoggerDevFile(t *testing.T) {
	dir := t.TempDir()
	now := func() time.Time { return time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC) }
	var console bytes.Buffer

	logger, err := newRuntimeLogger(&console, "shotboard", true, config.LoggingConfig{Level: "debug", DevFile: true}, dir, now)
	if err != nil {
		t.Fatalf("newRuntimeLogger() error = %v", err)
	}
	want := filepath.Join(dir, "shotboard-20260304.log")
	if logger.DevLogPath() != want {
		t.Fatalf("expected dev log %q, got %q", want, logger.DevLogPath())
	}
	logger.Info("status updated", "shot_id", 7)
	if err := logger.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	content, err := os.ReadFile(want)
	if err != nil {
		t.Fatalf("read dev log: %v", err)
	}
	if !strings.Contains(string(content), "status updated") || !strings.Contains(string(content), "shot_id=7") {
		t.Fatalf("unexpected dev log content %q", content)
	}
	if !strings.Contains(console.String(), "status updated") {
		t.Fatalf("expected console output, got %q", console.String())
	}

	if _, err := newRuntimeLogger(nil, "shotboard", false, config.LoggingConfig{Level: "loud"}, dir, now); err == nil {
		t.Fatal("expected invalid level error")
	}
}

func TestSanitizeLogFileStem(t *testing.T) {
	cases := map[string]string{
		"":              "shotboard",
		"shotboard":     "shotboard",
		" my app ":      "my-app",
		"team/ops:blue": "team-ops-blue",
		"///":           "shotboard",
	}
	for in, want := range cases {
		if got := sanitizeLogFileStem(in); got != want {
			t.Fatalf("sanitizeLogFileStem(%q) = %q, want %q", in, got, want)
		}
	}
}
