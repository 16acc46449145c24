package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/hylla/shotboard/internal/adapters/storage/storetest"
	"github.com/hylla/shotboard/internal/app"
	"github.com/hylla/shotboard/internal/domain"
)

func openTestRepo(t *testing.T) *Repository {
	t.Helper()
	repo, err := Open(filepath.Join(t.TempDir(), "shotboard.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() {
		_ = repo.Close()
	})
	return repo
}

func TestRepositoryConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) app.Repository {
		return openTestRepo(t)
	})
}

func TestOpenInMemoryIsolated(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 2, 21, 12, 0, 0, 0, time.UTC)
	first, err := OpenInMemory()
	if err != nil {
		t.Fatalf("OpenInMemory() error = %v", err)
	}
	t.Cleanup(func() { _ = first.Close() })
	second, err := OpenInMemory()
	if err != nil {
		t.Fatalf("OpenInMemory() error = %v", err)
	}
	t.Cleanup(func() { _ = second.Close() })

	act, err := domain.NewAct("act01", "One", 1, now)
	if err != nil {
		t.Fatalf("NewAct() error = %v", err)
	}
	if _, err := first.CreateAct(ctx, act, false); err != nil {
		t.Fatalf("CreateAct() error = %v", err)
	}
	if _, err := second.GetAct(ctx, "act01"); !errors.Is(err, app.ErrNotFound) {
		t.Fatalf("expected separate in-memory databases, got %v", err)
	}
	if err := first.Ping(ctx); err != nil {
		t.Fatalf("Ping() error = %v", err)
	}
}

func TestRepositoryPersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 2, 21, 12, 0, 0, 0, time.UTC)
	path := filepath.Join(t.TempDir(), "shotboard.db")
	repo, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	act, _ := domain.NewAct("act01", "One", 1, now)
	if _, err := repo.CreateAct(ctx, act, false); err != nil {
		t.Fatalf("CreateAct() error = %v", err)
	}
	shot, _ := domain.NewShot(domain.ShotInput{ActCode: "act01", Code: "shot01"}, now)
	created, err := repo.CreateShot(ctx, shot)
	if err != nil {
		t.Fatalf("CreateShot() error = %v", err)
	}
	change := domain.StatusChange{ShotID: created.ID, Department: domain.DepartmentComp, Status: domain.StatusFinal, ChangedBy: "bob", ChangedAt: now}
	if _, err := repo.UpdateDepartmentStatus(ctx, change, domain.PermissivePolicy{}); err != nil {
		t.Fatalf("UpdateDepartmentStatus() error = %v", err)
	}
	if err := repo.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("Open() reopen error = %v", err)
	}
	t.Cleanup(func() { _ = reopened.Close() })
	detail, err := reopened.GetShot(ctx, created.ID)
	if err != nil {
		t.Fatalf("GetShot() error = %v", err)
	}
	row, ok := detail.Department(domain.DepartmentComp)
	if !ok || row.Status != domain.StatusFinal || !row.UpdatedAt.Equal(now) {
		t.Fatalf("unexpected persisted row %#v", row)
	}
	entries, err := reopened.ListStatusHistory(ctx, created.ID, "", 10)
	if err != nil {
		t.Fatalf("ListStatusHistory() error = %v", err)
	}
	if len(entries) != 1 || entries[0].HadPriorRecord() {
		t.Fatalf("unexpected history %#v", entries)
	}
}

func TestAuditFailureRollsBackStatusRow(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 2, 21, 12, 0, 0, 0, time.UTC)
	repo := openTestRepo(t)
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
	if _, err := repo.db.ExecContext(ctx, `
		CREATE TRIGGER fail_audit BEFORE INSERT ON status_log
		BEGIN
			SELECT RAISE(ABORT, 'audit write failed');
		END
	`); err != nil {
		t.Fatalf("create trigger error = %v", err)
	}

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

func TestShotFilterClauseEscapesWildcards(t *testing.T) {
	where, args := shotFilterClause(domain.ShotFilter{Search: "100%_x"})
	if len(args) != 1 || args[0] != `%100\%\_x%` {
		t.Fatalf("unexpected args %v for %s", args, where)
	}
}
