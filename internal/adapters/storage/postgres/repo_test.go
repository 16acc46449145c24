package postgres

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/hylla/shotboard/internal/adapters/storage/storetest"
	"github.com/hylla/shotboard/internal/app"
	"github.com/hylla/shotboard/internal/domain"
	"github.com/jackc/pgx/v5/pgconn"
)

// testURLEnv names the DSN used by the integration suite.
const testURLEnv = "SHOTBOARD_TEST_DATABASE_URL"

func openTestRepo(t *testing.T) *Repository {
	t.Helper()
	url := os.Getenv(testURLEnv)
	if url == "" {
		t.Skipf("%s not set", testURLEnv)
	}
	repo, err := Open(context.Background(), DefaultConfig(url))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() {
		_ = repo.Close()
	})
	if _, err := repo.db.ExecContext(context.Background(), `TRUNCATE status_log, shot_statuses, shots, acts RESTART IDENTITY CASCADE`); err != nil {
		t.Fatalf("truncate error = %v", err)
	}
	return repo
}

func TestRepositoryConformance(t *testing.T) {
	if os.Getenv(testURLEnv) == "" {
		t.Skipf("%s not set", testURLEnv)
	}
	storetest.Run(t, func(t *testing.T) app.Repository {
		return openTestRepo(t)
	})
}

func TestAuditFailureRollsBackStatusRow(t *testing.T) {
	ctx := context.Background()
	repo := openTestRepo(t)
	now := time.Date(2026, 2, 21, 12, 0, 0, 0, time.UTC)
	act, _ := domain.NewAct("act01", "One", 1, now)
	if _, err := repo.CreateAct(ctx, act, false); err != nil {
		t.Fatalf("CreateAct() error = %v", err)
	}
	ids := make([]int64, 0, 2)
	for _, code := range []string{"shot01", "shot02"} {
		shot, _ := domain.NewShot(domain.ShotInput{ActCode: "act01", Code: code}, now)
		created, err := repo.CreateShot(ctx, shot)
		if err != nil {
			t.Fatalf("CreateShot() error = %v", err)
		}
		ids = append(ids, created.ID)
	}
	for _, stmt := range []string{
		`CREATE OR REPLACE FUNCTION shotboard_fail_audit() RETURNS trigger AS $$
		BEGIN
			RAISE EXCEPTION 'audit write failed';
		END
		$$ LANGUAGE plpgsql`,
		`DROP TRIGGER IF EXISTS fail_audit ON status_log`,
		`CREATE TRIGGER fail_audit BEFORE INSERT ON status_log FOR EACH ROW EXECUTE FUNCTION shotboard_fail_audit()`,
	} {
		if _, err := repo.db.ExecContext(ctx, stmt); err != nil {
			t.Fatalf("install trigger error = %v", err)
		}
	}
	t.Cleanup(func() {
		_, _ = repo.db.ExecContext(context.Background(), `DROP TRIGGER IF EXISTS fail_audit ON status_log`)
		_, _ = repo.db.ExecContext(context.Background(), `DROP FUNCTION IF EXISTS shotboard_fail_audit()`)
	})

	change := domain.StatusChange{ShotID: ids[0], Department: domain.DepartmentComp, Status: domain.StatusReview, ChangedBy: "bob", ChangedAt: now}
	if _, err := repo.UpdateDepartmentStatus(ctx, change, domain.PermissivePolicy{}); err == nil {
		t.Fatal("expected UpdateDepartmentStatus() to fail when the audit insert fails")
	}
	bulk := domain.BulkStatusChange{ShotIDs: ids, Department: domain.DepartmentComp, Status: domain.StatusApproved, ChangedBy: "bob", ChangedAt: now}
	if _, err := repo.BulkUpdateStatus(ctx, bulk, domain.PermissivePolicy{}); err == nil {
		t.Fatal("expected BulkUpdateStatus() to fail when the audit insert fails")
	}

	for _, table := range []string{"shot_statuses", "status_log"} {
		var count int
		if err := repo.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+table).Scan(&count); err != nil {
			t.Fatalf("count %s error = %v", table, err)
		}
		if count != 0 {
			t.Fatalf("%s has %d rows after failed audit writes, want 0", table, count)
		}
	}
}

func TestConfigValidate(t *testing.T) {
	if err := DefaultConfig("postgres://localhost/shotboard").Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"url", func(c *Config) { c.URL = "" }},
		{"ping", func(c *Config) { c.PingTimeout = 0 }},
		{"open", func(c *Config) { c.MaxOpenConns = 0 }},
		{"idle", func(c *Config) { c.MaxIdleConns = c.MaxOpenConns + 1 }},
		{"lifetime", func(c *Config) { c.ConnMaxLifetime = -1 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig("postgres://localhost/shotboard")
			tc.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestTranslateError(t *testing.T) {
	if err := translateError(&pgconn.PgError{Code: codeUniqueViolation}); !errors.Is(err, app.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if err := translateError(&pgconn.PgError{Code: codeForeignKeyViolation}); !errors.Is(err, app.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	plain := errors.New("boom")
	if err := translateError(plain); err != plain {
		t.Fatalf("expected passthrough, got %v", err)
	}
}

func TestShotFilterClauseNumbersPlaceholders(t *testing.T) {
	where, args := shotFilterClause(domain.ShotFilter{
		ActCode:    "act01",
		Priority:   domain.PriorityHigh,
		Search:     "shot_0",
		Department: domain.DepartmentComp,
		Status:     domain.StatusFinal,
	})
	if len(args) != 5 {
		t.Fatalf("len(args) = %d, want 5", len(args))
	}
	for _, placeholder := range []string{"$1", "$2", "$3", "$4", "$5"} {
		if !strings.Contains(where, placeholder) {
			t.Fatalf("where clause %q missing %s", where, placeholder)
		}
	}
	if args[2] != `%shot\_0%` {
		t.Fatalf("search pattern = %v", args[2])
	}
}
