// Package memory provides an in-process Repository for tests and single-user runs.
// All state lives behind one mutex, so every operation is serialized.
package memory

import (
	"cmp"
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/hylla/shotboard/internal/app"
	"github.com/hylla/shotboard/internal/domain"
)

// statusKey identifies one current department row.
type statusKey struct {
	shotID     int64
	department domain.Department
}

// Store is a mutex-guarded in-memory Repository.
type Store struct {
	mu          sync.Mutex
	acts        map[string]domain.Act
	shots       map[int64]domain.Shot
	statuses    map[statusKey]domain.DepartmentStatus
	audit       []domain.AuditEntry
	nextShotID  int64
	nextAuditID int64
}

var _ app.Repository = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{
		acts:     map[string]domain.Act{},
		shots:    map[int64]domain.Shot{},
		statuses: map[statusKey]domain.DepartmentStatus{},
	}
}

// Close is a no-op kept for parity with the durable stores.
func (s *Store) Close() error {
	return nil
}

// CreateAct persists act.
func (s *Store) CreateAct(ctx context.Context, act domain.Act, autoSortOrder bool) (domain.Act, error) {
	if err := ctx.Err(); err != nil {
		return domain.Act{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.acts[act.Code]; ok {
		return domain.Act{}, app.ErrConflict
	}
	if autoSortOrder {
		maxOrder := 0
		for _, existing := range s.acts {
			maxOrder = max(maxOrder, existing.SortOrder)
		}
		act.SortOrder = maxOrder + 1
	}
	s.acts[act.Code] = act
	return act, nil
}

// GetAct returns act.
func (s *Store) GetAct(ctx context.Context, code string) (domain.Act, error) {
	if err := ctx.Err(); err != nil {
		return domain.Act{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	act, ok := s.acts[code]
	if !ok {
		return domain.Act{}, app.ErrNotFound
	}
	return act, nil
}

// ListActs returns acts ordered by sort order, then code.
func (s *Store) ListActs(ctx context.Context) ([]domain.Act, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Act, 0, len(s.acts))
	for _, act := range s.acts {
		out = append(out, act)
	}
	slices.SortFunc(out, domain.CompareActs)
	return out, nil
}

// CreateShot persists shot and assigns its id.
func (s *Store) CreateShot(ctx context.Context, shot domain.Shot) (domain.Shot, error) {
	if err := ctx.Err(); err != nil {
		return domain.Shot{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.acts[shot.ActCode]; !ok {
		return domain.Shot{}, app.ErrNotFound
	}
	for _, existing := range s.shots {
		if existing.ActCode == shot.ActCode && existing.Code == shot.Code {
			return domain.Shot{}, app.ErrConflict
		}
	}
	s.nextShotID++
	shot.ID = s.nextShotID
	s.shots[shot.ID] = shot
	return shot, nil
}

// GetShot returns a shot with its current department rows.
func (s *Store) GetShot(ctx context.Context, id int64) (domain.ShotDetail, error) {
	if err := ctx.Err(); err != nil {
		return domain.ShotDetail{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	shot, ok := s.shots[id]
	if !ok {
		return domain.ShotDetail{}, app.ErrNotFound
	}
	return s.detailLocked(shot), nil
}

// ListShots returns shots matching filter ordered by act sort order, act code, then shot code.
func (s *Store) ListShots(ctx context.Context, filter domain.ShotFilter) ([]domain.ShotDetail, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.ShotDetail, 0)
	for _, shot := range s.shots {
		detail := s.detailLocked(shot)
		if filter.Matches(detail.Shot, detail.Departments) {
			out = append(out, detail)
		}
	}
	slices.SortFunc(out, func(a, b domain.ShotDetail) int {
		if c := cmp.Compare(s.acts[a.ActCode].SortOrder, s.acts[b.ActCode].SortOrder); c != 0 {
			return c
		}
		if c := strings.Compare(a.ActCode, b.ActCode); c != 0 {
			return c
		}
		if c := strings.Compare(a.Code, b.Code); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out, nil
}

// UpdateDepartmentStatus upserts one row and appends its audit entry under the store lock.
func (s *Store) UpdateDepartmentStatus(ctx context.Context, change domain.StatusChange, policy domain.TransitionPolicy) (domain.DepartmentStatus, error) {
	if err := ctx.Err(); err != nil {
		return domain.DepartmentStatus{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.shots[change.ShotID]; !ok {
		return domain.DepartmentStatus{}, app.ErrNotFound
	}
	next, entry, err := s.planLocked(change, policy)
	if err != nil {
		return domain.DepartmentStatus{}, err
	}
	s.commitLocked(next, entry)
	return cloneStatus(next), nil
}

// BulkUpdateStatus validates every id and transition before writing anything.
func (s *Store) BulkUpdateStatus(ctx context.Context, change domain.BulkStatusChange, policy domain.TransitionPolicy) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	ids := change.DistinctShotIDs()
	s.mu.Lock()
	defer s.mu.Unlock()
	var missing []int64
	for _, id := range ids {
		if _, ok := s.shots[id]; !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		return 0, app.NewMissingShotsError(missing)
	}
	rows := make([]domain.DepartmentStatus, 0, len(ids))
	entries := make([]domain.AuditEntry, 0, len(ids))
	for _, id := range ids {
		next, entry, err := s.planLocked(change.Change(id), policy)
		if err != nil {
			return 0, err
		}
		rows = append(rows, next)
		entries = append(entries, entry)
	}
	for i := range rows {
		s.commitLocked(rows[i], entries[i])
	}
	return len(ids), nil
}

// ListStatusHistory returns audit entries newest first.
func (s *Store) ListStatusHistory(ctx context.Context, shotID int64, department domain.Department, limit int) ([]domain.AuditEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.AuditEntry, 0)
	for i := len(s.audit) - 1; i >= 0; i-- {
		if limit > 0 && len(out) >= limit {
			break
		}
		entry := s.audit[i]
		if entry.ShotID != shotID || (department != "" && entry.Department != department) {
			continue
		}
		out = append(out, entry)
	}
	return out, nil
}

// planLocked computes the next row and audit entry without mutating state.
func (s *Store) planLocked(change domain.StatusChange, policy domain.TransitionPolicy) (domain.DepartmentStatus, domain.AuditEntry, error) {
	var prev *domain.DepartmentStatus
	if row, ok := s.statuses[statusKey{change.ShotID, change.Department}]; ok {
		prev = &row
	}
	var from domain.Status
	if prev != nil {
		from = prev.Status
	}
	if err := policy.Allow(from, change.Status); err != nil {
		return domain.DepartmentStatus{}, domain.AuditEntry{}, err
	}
	return change.Apply(prev), change.AuditEntry(prev), nil
}

// commitLocked writes a planned row and its audit entry.
func (s *Store) commitLocked(row domain.DepartmentStatus, entry domain.AuditEntry) {
	s.statuses[statusKey{row.ShotID, row.Department}] = cloneStatus(row)
	s.nextAuditID++
	entry.ID = s.nextAuditID
	s.audit = append(s.audit, entry)
}

// detailLocked assembles a shot with its rows in department order.
func (s *Store) detailLocked(shot domain.Shot) domain.ShotDetail {
	detail := domain.ShotDetail{Shot: shot, Departments: []domain.DepartmentStatus{}}
	for _, dep := range domain.Departments() {
		if row, ok := s.statuses[statusKey{shot.ID, dep}]; ok {
			detail.Departments = append(detail.Departments, cloneStatus(row))
		}
	}
	return detail
}

// cloneStatus copies the assignee so callers never alias stored state.
func cloneStatus(row domain.DepartmentStatus) domain.DepartmentStatus {
	if row.Assignee != nil {
		assignee := *row.Assignee
		row.Assignee = &assignee
	}
	return row
}
