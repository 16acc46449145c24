// Package storetest holds the behaviour every app.Repository implementation must share.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"testing"
	"time"

	"github.com/hylla/shotboard/internal/app"
	"github.com/hylla/shotboard/internal/domain"
	"golang.org/x/sync/errgroup"
)

// Opener returns a fresh, empty repository for one test.
type Opener func(t *testing.T) app.Repository

// now is the fixed clock used by every case.
var now = time.Date(2026, 2, 21, 12, 0, 0, 0, time.UTC)

// Run executes the conformance suite against repositories produced by open.
func Run(t *testing.T, open Opener) {
	t.Helper()
	cases := []struct {
		name string
		fn   func(*testing.T, app.Repository)
	}{
		{"ActsCreateConflictAndOrder", testActs},
		{"ActsConcurrentAutoOrderIsDistinct", testConcurrentAutoActs},
		{"ShotsCreateGetAndList", testShots},
		{"ShotsListFollowsActSortOrder", testShotsFollowActOrder},
		{"StatusRoundTrip", testStatusRoundTrip},
		{"StatusReapplyWritesTwoAuditEntries", testReapply},
		{"StatusUnknownShot", testUnknownShot},
		{"BulkUpdate", testBulkUpdate},
		{"BulkUnknownIDsRollsBack", testBulkUnknownIDs},
		{"BulkPolicyFailureRollsBack", testBulkPolicyFailure},
		{"ConcurrentWritersStayConsistent", testConcurrentWriters},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tc.fn(t, open(t))
		})
	}
}

func mustAct(t *testing.T, repo app.Repository, code, name string, sortOrder int, auto bool) domain.Act {
	t.Helper()
	act, err := domain.NewAct(code, name, sortOrder, now)
	if err != nil {
		t.Fatalf("NewAct() error = %v", err)
	}
	created, err := repo.CreateAct(context.Background(), act, auto)
	if err != nil {
		t.Fatalf("CreateAct(%s) error = %v", code, err)
	}
	return created
}

func mustShot(t *testing.T, repo app.Repository, actCode, code string) domain.Shot {
	t.Helper()
	shot, err := domain.NewShot(domain.ShotInput{ActCode: actCode, Code: code}, now)
	if err != nil {
		t.Fatalf("NewShot() error = %v", err)
	}
	created, err := repo.CreateShot(context.Background(), shot)
	if err != nil {
		t.Fatalf("CreateShot(%s_%s) error = %v", actCode, code, err)
	}
	if created.ID <= 0 {
		t.Fatalf("expected assigned shot id, got %d", created.ID)
	}
	return created
}

func seed(t *testing.T, repo app.Repository, n int) []int64 {
	t.Helper()
	mustAct(t, repo, "act01", "Act One", 1, false)
	ids := make([]int64, 0, n)
	for i := 1; i <= n; i++ {
		ids = append(ids, mustShot(t, repo, "act01", fmt.Sprintf("shot%02d", i)).ID)
	}
	return ids
}

func change(id int64, dep domain.Department, status domain.Status, by string, assignee *string) domain.StatusChange {
	return domain.StatusChange{ShotID: id, Department: dep, Status: status, Assignee: assignee, ChangedBy: by, ChangedAt: now}
}

func currentStatus(t *testing.T, repo app.Repository, id int64, dep domain.Department) (domain.DepartmentStatus, bool) {
	t.Helper()
	detail, err := repo.GetShot(context.Background(), id)
	if err != nil {
		t.Fatalf("GetShot(%d) error = %v", id, err)
	}
	return detail.Department(dep)
}

func history(t *testing.T, repo app.Repository, id int64, dep domain.Department) []domain.AuditEntry {
	t.Helper()
	entries, err := repo.ListStatusHistory(context.Background(), id, dep, 1000)
	if err != nil {
		t.Fatalf("ListStatusHistory(%d) error = %v", id, err)
	}
	return entries
}

func testActs(t *testing.T, repo app.Repository) {
	ctx := context.Background()
	mustAct(t, repo, "act03", "Three", 1, false)
	mustAct(t, repo, "act01", "One", 1, false)
	act, err := domain.NewAct("act01", "Duplicate", 9, now)
	if err != nil {
		t.Fatalf("NewAct() error = %v", err)
	}
	if _, err := repo.CreateAct(ctx, act, false); !errors.Is(err, app.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	got, err := repo.GetAct(ctx, "act01")
	if err != nil {
		t.Fatalf("GetAct() error = %v", err)
	}
	if got.Name != "One" || got.SortOrder != 1 {
		t.Fatalf("duplicate create changed act: %#v", got)
	}
	auto := mustAct(t, repo, "act02", "Two", 0, true)
	if auto.SortOrder != 2 {
		t.Fatalf("auto sort order = %d, want 2", auto.SortOrder)
	}
	acts, err := repo.ListActs(ctx)
	if err != nil {
		t.Fatalf("ListActs() error = %v", err)
	}
	codes := make([]string, 0, len(acts))
	for _, a := range acts {
		codes = append(codes, a.Code)
	}
	if !slices.Equal(codes, []string{"act01", "act03", "act02"}) {
		t.Fatalf("ListActs() order = %v", codes)
	}
	if _, err := repo.GetAct(ctx, "act99"); !errors.Is(err, app.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func testConcurrentAutoActs(t *testing.T, repo app.Repository) {
	const n = 6
	var g errgroup.Group
	for i := range n {
		g.Go(func() error {
			act, err := domain.NewAct(fmt.Sprintf("act%02d", i+1), "Auto", 0, now)
			if err != nil {
				return err
			}
			_, err = repo.CreateAct(context.Background(), act, true)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("concurrent CreateAct error = %v", err)
	}
	acts, err := repo.ListActs(context.Background())
	if err != nil {
		t.Fatalf("ListActs() error = %v", err)
	}
	orders := make([]int, 0, len(acts))
	for _, act := range acts {
		orders = append(orders, act.SortOrder)
	}
	if !slices.Equal(orders, []int{1, 2, 3, 4, 5, 6}) {
		t.Fatalf("auto sort orders = %v, want 1..%d", orders, n)
	}
}

func testShotsFollowActOrder(t *testing.T, repo app.Repository) {
	mustAct(t, repo, "act01", "One", 2, false)
	mustAct(t, repo, "act02", "Two", 1, false)
	first := mustShot(t, repo, "act01", "shot01")
	second := mustShot(t, repo, "act02", "shot01")
	third := mustShot(t, repo, "act02", "shot02")

	shots, err := repo.ListShots(context.Background(), domain.ShotFilter{})
	if err != nil {
		t.Fatalf("ListShots() error = %v", err)
	}
	got := make([]int64, 0, len(shots))
	for _, shot := range shots {
		got = append(got, shot.ID)
	}
	if want := []int64{second.ID, third.ID, first.ID}; !slices.Equal(got, want) {
		t.Fatalf("ListShots() order = %v, want %v", got, want)
	}
}

func testShots(t *testing.T, repo app.Repository) {
	ctx := context.Background()
	mustAct(t, repo, "act01", "One", 1, false)
	mustAct(t, repo, "act02", "Two", 2, false)
	a := mustShot(t, repo, "act01", "shot01")
	b := mustShot(t, repo, "act02", "shot01")
	high, err := domain.NewShot(domain.ShotInput{ActCode: "act01", Code: "shot02", Priority: domain.PriorityHigh, Notes: "hero"}, now)
	if err != nil {
		t.Fatalf("NewShot() error = %v", err)
	}
	c, err := repo.CreateShot(ctx, high)
	if err != nil {
		t.Fatalf("CreateShot() error = %v", err)
	}
	if _, err := repo.CreateShot(ctx, high); !errors.Is(err, app.ErrConflict) {
		t.Fatalf("expected ErrConflict for duplicate shot, got %v", err)
	}
	orphan, _ := domain.NewShot(domain.ShotInput{ActCode: "act07", Code: "shot01"}, now)
	if _, err := repo.CreateShot(ctx, orphan); !errors.Is(err, app.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing act, got %v", err)
	}

	detail, err := repo.GetShot(ctx, c.ID)
	if err != nil {
		t.Fatalf("GetShot() error = %v", err)
	}
	if detail.Priority != domain.PriorityHigh || detail.Notes != "hero" || detail.FrameStart != domain.DefaultFrameStart || len(detail.Departments) != 0 {
		t.Fatalf("unexpected shot %#v", detail)
	}
	if _, err := repo.GetShot(ctx, c.ID+1000); !errors.Is(err, app.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if _, err := repo.UpdateDepartmentStatus(ctx, change(b.ID, domain.DepartmentComp, domain.StatusReview, "bob", nil), domain.PermissivePolicy{}); err != nil {
		t.Fatalf("UpdateDepartmentStatus() error = %v", err)
	}
	cases := []struct {
		name   string
		filter domain.ShotFilter
		want   []int64
	}{
		{"all", domain.ShotFilter{}, []int64{a.ID, c.ID, b.ID}},
		{"act", domain.ShotFilter{ActCode: "act01"}, []int64{a.ID, c.ID}},
		{"priority", domain.ShotFilter{Priority: domain.PriorityHigh}, []int64{c.ID}},
		{"search", domain.ShotFilter{Search: "act02_sh"}, []int64{b.ID}},
		{"department status", domain.ShotFilter{Department: domain.DepartmentComp, Status: domain.StatusReview}, []int64{b.ID}},
		{"status only", domain.ShotFilter{Status: domain.StatusReview}, []int64{b.ID}},
		{"no match", domain.ShotFilter{Department: domain.DepartmentLighting}, []int64{}},
	}
	for _, tc := range cases {
		shots, err := repo.ListShots(ctx, tc.filter)
		if err != nil {
			t.Fatalf("ListShots(%s) error = %v", tc.name, err)
		}
		got := make([]int64, 0, len(shots))
		for _, s := range shots {
			got = append(got, s.ID)
		}
		if !slices.Equal(got, tc.want) {
			t.Fatalf("ListShots(%s) = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func testStatusRoundTrip(t *testing.T, repo app.Repository) {
	ids := seed(t, repo, 1)
	alice := "alice"
	row, err := repo.UpdateDepartmentStatus(context.Background(), change(ids[0], domain.DepartmentLighting, domain.StatusReview, "carol", &alice), domain.PermissivePolicy{})
	if err != nil {
		t.Fatalf("UpdateDepartmentStatus() error = %v", err)
	}
	if row.Status != domain.StatusReview || row.Assignee == nil || *row.Assignee != "alice" || row.UpdatedBy != "carol" || !row.UpdatedAt.Equal(now) {
		t.Fatalf("unexpected row %#v", row)
	}
	got, ok := currentStatus(t, repo, ids[0], domain.DepartmentLighting)
	if !ok {
		t.Fatal("expected lighting row")
	}
	if got.Status != domain.StatusReview || got.Assignee == nil || *got.Assignee != "alice" {
		t.Fatalf("unexpected stored row %#v", got)
	}

	// Omitted assignee keeps the stored one; an empty one clears it.
	got2, err := repo.UpdateDepartmentStatus(context.Background(), change(ids[0], domain.DepartmentLighting, domain.StatusFinal, "dave", nil), domain.PermissivePolicy{})
	if err != nil {
		t.Fatalf("UpdateDepartmentStatus() error = %v", err)
	}
	if got2.Assignee == nil || *got2.Assignee != "alice" || got2.UpdatedBy != "dave" {
		t.Fatalf("expected assignee kept, got %#v", got2)
	}
	empty := ""
	if _, err := repo.UpdateDepartmentStatus(context.Background(), change(ids[0], domain.DepartmentLighting, domain.StatusRevision, "dave", &empty), domain.PermissivePolicy{}); err != nil {
		t.Fatalf("UpdateDepartmentStatus() error = %v", err)
	}
	if cleared, _ := currentStatus(t, repo, ids[0], domain.DepartmentLighting); cleared.Assignee != nil {
		t.Fatalf("expected cleared assignee, got %q", *cleared.Assignee)
	}
}

func testReapply(t *testing.T, repo app.Repository) {
	ids := seed(t, repo, 1)
	c := change(ids[0], domain.DepartmentComp, domain.StatusApproved, "bob", nil)
	for range 2 {
		if _, err := repo.UpdateDepartmentStatus(context.Background(), c, domain.PermissivePolicy{}); err != nil {
			t.Fatalf("UpdateDepartmentStatus() error = %v", err)
		}
	}
	detail, err := repo.GetShot(context.Background(), ids[0])
	if err != nil {
		t.Fatalf("GetShot() error = %v", err)
	}
	if len(detail.Departments) != 1 {
		t.Fatalf("expected one current row, got %d", len(detail.Departments))
	}
	entries := history(t, repo, ids[0], domain.DepartmentComp)
	if len(entries) != 2 {
		t.Fatalf("expected two audit entries, got %d", len(entries))
	}
	if entries[0].OldStatus != domain.StatusApproved || entries[1].OldStatus != "" {
		t.Fatalf("unexpected old statuses %q, %q", entries[0].OldStatus, entries[1].OldStatus)
	}
	if entries[0].NewStatus != domain.StatusApproved || entries[0].ChangedBy != "bob" || !entries[0].ChangedAt.Equal(now) {
		t.Fatalf("unexpected entry %#v", entries[0])
	}
	if entries[0].ID <= entries[1].ID {
		t.Fatalf("expected newest first, got ids %d, %d", entries[0].ID, entries[1].ID)
	}
}

func testUnknownShot(t *testing.T, repo app.Repository) {
	seed(t, repo, 1)
	_, err := repo.UpdateDepartmentStatus(context.Background(), change(9999, domain.DepartmentComp, domain.StatusApproved, "bob", nil), domain.PermissivePolicy{})
	if !errors.Is(err, app.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if entries := history(t, repo, 9999, ""); len(entries) != 0 {
		t.Fatalf("expected no audit entries, got %d", len(entries))
	}
}

func testBulkUpdate(t *testing.T, repo app.Repository) {
	ids := seed(t, repo, 3)
	alice := "alice"
	if _, err := repo.UpdateDepartmentStatus(context.Background(), change(ids[0], domain.DepartmentComp, domain.StatusReview, "carol", &alice), domain.PermissivePolicy{}); err != nil {
		t.Fatalf("UpdateDepartmentStatus() error = %v", err)
	}
	bulk := domain.BulkStatusChange{
		ShotIDs:    []int64{ids[0], ids[1], ids[2], ids[2]},
		Department: domain.DepartmentComp,
		Status:     domain.StatusApproved,
		ChangedBy:  "bob",
		ChangedAt:  now,
	}
	updated, err := repo.BulkUpdateStatus(context.Background(), bulk, domain.PermissivePolicy{})
	if err != nil {
		t.Fatalf("BulkUpdateStatus() error = %v", err)
	}
	if updated != 3 {
		t.Fatalf("updated = %d, want 3", updated)
	}
	for _, id := range ids {
		row, ok := currentStatus(t, repo, id, domain.DepartmentComp)
		if !ok || row.Status != domain.StatusApproved || row.UpdatedBy != "bob" {
			t.Fatalf("shot %d comp row = %#v", id, row)
		}
		if entries := history(t, repo, id, domain.DepartmentComp); entries[0].NewStatus != domain.StatusApproved || entries[0].ChangedBy != "bob" {
			t.Fatalf("shot %d latest audit = %#v", id, entries[0])
		}
	}
	if row, _ := currentStatus(t, repo, ids[0], domain.DepartmentComp); row.Assignee == nil || *row.Assignee != "alice" {
		t.Fatal("bulk update must leave assignee untouched")
	}
	if entries := history(t, repo, ids[0], domain.DepartmentComp); len(entries) != 2 || entries[0].OldStatus != domain.StatusReview {
		t.Fatalf("unexpected history for shot %d: %#v", ids[0], entries)
	}
}

func testBulkUnknownIDs(t *testing.T, repo app.Repository) {
	ids := seed(t, repo, 2)
	bulk := domain.BulkStatusChange{
		ShotIDs:    []int64{ids[0], 8888, ids[1], 7777},
		Department: domain.DepartmentComp,
		Status:     domain.StatusApproved,
		ChangedBy:  "bob",
		ChangedAt:  now,
	}
	_, err := repo.BulkUpdateStatus(context.Background(), bulk, domain.PermissivePolicy{})
	var missing *app.MissingShotsError
	if !errors.As(err, &missing) {
		t.Fatalf("expected MissingShotsError, got %v", err)
	}
	if !slices.Equal(missing.IDs, []int64{7777, 8888}) {
		t.Fatalf("missing ids = %v", missing.IDs)
	}
	for _, id := range ids {
		if _, ok := currentStatus(t, repo, id, domain.DepartmentComp); ok {
			t.Fatalf("shot %d was written by a rejected batch", id)
		}
		if entries := history(t, repo, id, ""); len(entries) != 0 {
			t.Fatalf("shot %d has %d audit entries from a rejected batch", id, len(entries))
		}
	}
}

func testBulkPolicyFailure(t *testing.T, repo app.Repository) {
	ids := seed(t, repo, 2)
	policy := domain.DefaultOrderedPolicy()
	if _, err := repo.UpdateDepartmentStatus(context.Background(), change(ids[1], domain.DepartmentSpline, domain.StatusInProgress, "bob", nil), policy); err != nil {
		t.Fatalf("UpdateDepartmentStatus() error = %v", err)
	}
	// ids[1] may move in-progress -> review; ids[0] has no record and may not.
	bulk := domain.BulkStatusChange{
		ShotIDs:    []int64{ids[1], ids[0]},
		Department: domain.DepartmentSpline,
		Status:     domain.StatusReview,
		ChangedBy:  "bob",
		ChangedAt:  now,
	}
	if _, err := repo.BulkUpdateStatus(context.Background(), bulk, policy); !errors.Is(err, domain.ErrTransitionDenied) {
		t.Fatalf("expected ErrTransitionDenied, got %v", err)
	}
	row, ok := currentStatus(t, repo, ids[1], domain.DepartmentSpline)
	if !ok || row.Status != domain.StatusInProgress {
		t.Fatalf("rejected batch changed shot %d: %#v", ids[1], row)
	}
	if entries := history(t, repo, ids[1], domain.DepartmentSpline); len(entries) != 1 {
		t.Fatalf("expected one audit entry, got %d", len(entries))
	}
	if _, ok := currentStatus(t, repo, ids[0], domain.DepartmentSpline); ok {
		t.Fatalf("rejected batch wrote shot %d", ids[0])
	}
}

func testConcurrentWriters(t *testing.T, repo app.Repository) {
	ids := seed(t, repo, 4)
	statuses := domain.Statuses()
	const rounds = 8

	var g errgroup.Group
	for w := range 4 {
		g.Go(func() error {
			for i := range rounds {
				id := ids[(w+i)%len(ids)]
				status := statuses[(w+i)%len(statuses)]
				c := change(id, domain.DepartmentRendering, status, fmt.Sprintf("worker-%d", w), nil)
				if _, err := repo.UpdateDepartmentStatus(context.Background(), c, domain.PermissivePolicy{}); err != nil {
					return fmt.Errorf("single update: %w", err)
				}
			}
			return nil
		})
	}
	for b := range 2 {
		g.Go(func() error {
			for i := range rounds {
				bulk := domain.BulkStatusChange{
					ShotIDs:    ids,
					Department: domain.DepartmentRendering,
					Status:     statuses[(b+i)%len(statuses)],
					ChangedBy:  fmt.Sprintf("bulk-%d", b),
					ChangedAt:  now,
				}
				if _, err := repo.BulkUpdateStatus(context.Background(), bulk, domain.PermissivePolicy{}); err != nil {
					return fmt.Errorf("bulk update: %w", err)
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("concurrent writers error = %v", err)
	}

	total := 0
	for _, id := range ids {
		entries := history(t, repo, id, domain.DepartmentRendering)
		total += len(entries)
		row, ok := currentStatus(t, repo, id, domain.DepartmentRendering)
		if !ok {
			t.Fatalf("shot %d has no rendering row", id)
		}
		if row.Status != entries[0].NewStatus || row.UpdatedBy != entries[0].ChangedBy {
			t.Fatalf("shot %d row %s/%s disagrees with latest audit %s/%s", id, row.Status, row.UpdatedBy, entries[0].NewStatus, entries[0].ChangedBy)
		}
		for i := 0; i+1 < len(entries); i++ {
			if entries[i].OldStatus != entries[i+1].NewStatus {
				t.Fatalf("shot %d audit chain broken at %d: %s != %s", id, i, entries[i].OldStatus, entries[i+1].NewStatus)
			}
		}
	}
	if want := 4*rounds + 2*rounds*len(ids); total != want {
		t.Fatalf("audit entries = %d, want %d", total, want)
	}
}
