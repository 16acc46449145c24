package app

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/hylla/shotboard/internal/domain"
)

const sampleManifest = `
acts:
  - code: act01
    name: Arrival
    sort_order: 1
    shots:
      - code: shot01
        priority: high
      - code: shot02
        frame_start: 1001
        frame_end: 1048
        notes: crowd pass
  - code: act02
    name: Departure
    shots:
      - code: shot01
`

func TestParseAndImportManifest(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRepo()
	svc := newTestService(repo)
	admin := mustActor(t, "root", domain.RoleAdmin)

	m, err := ParseManifest(strings.NewReader(sampleManifest))
	if err != nil {
		t.Fatalf("ParseManifest() error = %v", err)
	}
	report, err := svc.ImportManifest(ctx, admin, m)
	if err != nil {
		t.Fatalf("ImportManifest() error = %v", err)
	}
	if report.ActsCreated != 2 || report.ShotsCreated != 3 {
		t.Fatalf("unexpected report %#v", report)
	}
	if got := repo.acts["act02"].SortOrder; got != 2 {
		t.Fatalf("act02 sort order = %d, want 2", got)
	}
	if len(repo.statuses) != 0 {
		t.Fatal("import must not create department rows")
	}

	again, err := svc.ImportManifest(ctx, admin, m)
	if err != nil {
		t.Fatalf("ImportManifest() second error = %v", err)
	}
	if again.ActsSkipped != 2 || again.ShotsSkipped != 3 || again.ActsCreated != 0 {
		t.Fatalf("unexpected second report %#v", again)
	}
}

func TestImportManifestValidatesFirst(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRepo()
	svc := newTestService(repo)
	admin := mustActor(t, "root", domain.RoleAdmin)

	m := Manifest{Acts: []ManifestAct{
		{Code: "act01", Name: "One", Shots: []ManifestShot{{Code: "shot01"}}},
		{Code: "act02", Name: "Two", Shots: []ManifestShot{{Code: "sh2"}}},
	}}
	_, err := svc.ImportManifest(ctx, admin, m)
	if !errors.Is(err, domain.ErrInvalidShotCode) || !strings.Contains(err.Error(), "acts[1].shots[0]") {
		t.Fatalf("expected located ErrInvalidShotCode, got %v", err)
	}
	if repo.calls != 0 {
		t.Fatalf("invalid manifest touched storage: %d calls", repo.calls)
	}
	if _, err := svc.ImportManifest(ctx, mustActor(t, "kid", domain.RoleStudent), Manifest{}); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied, got %v", err)
	}
}

func TestParseManifestRejectsUnknownFields(t *testing.T) {
	_, err := ParseManifest(strings.NewReader("acts:\n  - code: act01\n    name: One\n    colour: red\n"))
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	if _, err := ParseManifest(strings.NewReader("")); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation for empty manifest, got %v", err)
	}
}
