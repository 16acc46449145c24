package app

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/hylla/shotboard/internal/domain"
	"gopkg.in/yaml.v3"
)

// Manifest describes acts and shots to import from an editorial breakdown.
type Manifest struct {
	Acts []ManifestAct `yaml:"acts"`
}

// ManifestAct is one act entry in a manifest.
type ManifestAct struct {
	Code      string         `yaml:"code"`
	Name      string         `yaml:"name"`
	SortOrder *int           `yaml:"sort_order,omitempty"`
	Shots     []ManifestShot `yaml:"shots,omitempty"`
}

// ManifestShot is one shot entry in a manifest.
type ManifestShot struct {
	Code       string `yaml:"code"`
	FrameStart int    `yaml:"frame_start,omitempty"`
	FrameEnd   int    `yaml:"frame_end,omitempty"`
	Priority   string `yaml:"priority,omitempty"`
	Notes      string `yaml:"notes,omitempty"`
}

// ImportReport summarizes one manifest import.
type ImportReport struct {
	ActsCreated  int
	ActsSkipped  int
	ShotsCreated int
	ShotsSkipped int
}

// ParseManifest decodes a YAML manifest, rejecting unknown fields.
func ParseManifest(r io.Reader) (Manifest, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var m Manifest
	if err := dec.Decode(&m); err != nil {
		if errors.Is(err, io.EOF) {
			return Manifest{}, fmt.Errorf("%w: manifest is empty", domain.ErrValidation)
		}
		return Manifest{}, fmt.Errorf("%w: decode manifest: %v", domain.ErrValidation, err)
	}
	return m, nil
}

// ImportManifest creates the acts and shots listed in m that do not exist yet.
// The whole manifest is validated before anything is written; existing entries are skipped,
// so re-running an import is safe. Requires manage_productions.
func (s *Service) ImportManifest(ctx context.Context, actor domain.Actor, m Manifest) (ImportReport, error) {
	if err := requireCapability(actor, domain.CapabilityManageProductions); err != nil {
		return ImportReport{}, err
	}
	now := s.clock()
	type plannedAct struct {
		act      domain.Act
		autoSort bool
		shots    []domain.Shot
	}
	plan := make([]plannedAct, 0, len(m.Acts))
	seen := map[string]struct{}{}
	for i, entry := range m.Acts {
		sortOrder := 0
		if entry.SortOrder != nil {
			sortOrder = *entry.SortOrder
		}
		act, err := domain.NewAct(entry.Code, entry.Name, sortOrder, now)
		if err != nil {
			return ImportReport{}, fmt.Errorf("acts[%d]: %w", i, err)
		}
		if _, dup := seen[act.Code]; dup {
			return ImportReport{}, fmt.Errorf("acts[%d]: %w: duplicate act %s in manifest", i, domain.ErrValidation, act.Code)
		}
		seen[act.Code] = struct{}{}
		p := plannedAct{act: act, autoSort: entry.SortOrder == nil}
		for j, shotEntry := range entry.Shots {
			shot, err := domain.NewShot(domain.ShotInput{
				ActCode:    act.Code,
				Code:       shotEntry.Code,
				FrameStart: shotEntry.FrameStart,
				FrameEnd:   shotEntry.FrameEnd,
				Priority:   domain.Priority(shotEntry.Priority),
				Notes:      shotEntry.Notes,
			}, now)
			if err != nil {
				return ImportReport{}, fmt.Errorf("acts[%d].shots[%d]: %w", i, j, err)
			}
			p.shots = append(p.shots, shot)
		}
		plan = append(plan, p)
	}

	var report ImportReport
	for _, p := range plan {
		_, err := s.repo.CreateAct(ctx, p.act, p.autoSort)
		switch {
		case err == nil:
			report.ActsCreated++
		case errors.Is(err, ErrConflict):
			report.ActsSkipped++
		default:
			return report, persistenceError("import act "+p.act.Code, err)
		}
		for _, shot := range p.shots {
			_, err := s.repo.CreateShot(ctx, shot)
			switch {
			case err == nil:
				report.ShotsCreated++
			case errors.Is(err, ErrConflict):
				report.ShotsSkipped++
			default:
				return report, persistenceError("import shot "+shot.FullCode(), err)
			}
		}
	}
	return report, nil
}
