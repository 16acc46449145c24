package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hylla/shotboard/internal/domain"
)

// Default list limits.
const (
	defaultHistoryLimit = 100
	maxHistoryLimit     = 1000
)

// ServiceConfig holds configuration for service.
type ServiceConfig struct {
	Policy domain.TransitionPolicy
}

// Clock returns the current time.
type Clock func() time.Time

// Service implements the production-tracking operations on top of a Repository.
// Every mutating method takes the caller explicitly and documents the capability it requires.
type Service struct {
	repo   Repository
	clock  Clock
	policy domain.TransitionPolicy
}

// NewService constructs a new value for this package.
func NewService(repo Repository, clock Clock, cfg ServiceConfig) *Service {
	if clock == nil {
		clock = time.Now
	}
	if cfg.Policy == nil {
		cfg.Policy = domain.PermissivePolicy{}
	}
	return &Service{
		repo:   repo,
		clock:  clock,
		policy: cfg.Policy,
	}
}

// Policy returns the active transition policy.
func (s *Service) Policy() domain.TransitionPolicy {
	return s.policy
}

// CreateActInput holds input values for create act operations.
type CreateActInput struct {
	Code      string
	Name      string
	SortOrder *int
}

// CreateAct creates an act. Requires manage_productions.
func (s *Service) CreateAct(ctx context.Context, actor domain.Actor, in CreateActInput) (domain.Act, error) {
	if err := requireCapability(actor, domain.CapabilityManageProductions); err != nil {
		return domain.Act{}, err
	}
	sortOrder := 0
	if in.SortOrder != nil {
		sortOrder = *in.SortOrder
	}
	act, err := domain.NewAct(in.Code, in.Name, sortOrder, s.clock())
	if err != nil {
		return domain.Act{}, err
	}
	created, err := s.repo.CreateAct(ctx, act, in.SortOrder == nil)
	if err != nil {
		return domain.Act{}, persistenceError("create act", err)
	}
	return created, nil
}

// GetAct returns one act by code. Requires view_productions.
func (s *Service) GetAct(ctx context.Context, actor domain.Actor, code string) (domain.Act, error) {
	if err := requireCapability(actor, domain.CapabilityViewProductions); err != nil {
		return domain.Act{}, err
	}
	code = strings.TrimSpace(code)
	if !domain.IsValidActCode(code) {
		return domain.Act{}, domain.ErrInvalidActCode
	}
	act, err := s.repo.GetAct(ctx, code)
	if err != nil {
		return domain.Act{}, persistenceError("get act", err)
	}
	return act, nil
}

// ListActs lists acts ordered by sort order, then code. Requires view_productions.
func (s *Service) ListActs(ctx context.Context, actor domain.Actor) ([]domain.Act, error) {
	if err := requireCapability(actor, domain.CapabilityViewProductions); err != nil {
		return nil, err
	}
	acts, err := s.repo.ListActs(ctx)
	if err != nil {
		return nil, persistenceError("list acts", err)
	}
	return acts, nil
}

// GetShot returns a shot with its current department rows, or ErrNotFound.
// Requires view_productions.
func (s *Service) GetShot(ctx context.Context, actor domain.Actor, id int64) (domain.ShotDetail, error) {
	if err := requireCapability(actor, domain.CapabilityViewProductions); err != nil {
		return domain.ShotDetail{}, err
	}
	if id <= 0 {
		return domain.ShotDetail{}, domain.ErrInvalidShotID
	}
	shot, err := s.repo.GetShot(ctx, id)
	if err != nil {
		return domain.ShotDetail{}, persistenceError("get shot", err)
	}
	return shot, nil
}

// ListShots lists shots matching filter, ordered by act sort order, act code, then shot code. Requires view_productions.
func (s *Service) ListShots(ctx context.Context, actor domain.Actor, filter domain.ShotFilter) ([]domain.ShotDetail, error) {
	if err := requireCapability(actor, domain.CapabilityViewProductions); err != nil {
		return nil, err
	}
	filter, err := normalizeShotFilter(filter)
	if err != nil {
		return nil, err
	}
	shots, err := s.repo.ListShots(ctx, filter)
	if err != nil {
		return nil, persistenceError("list shots", err)
	}
	return shots, nil
}

// CreateShot creates a shot without department rows. Requires manage_productions.
func (s *Service) CreateShot(ctx context.Context, actor domain.Actor, in domain.ShotInput) (domain.Shot, error) {
	if err := requireCapability(actor, domain.CapabilityManageProductions); err != nil {
		return domain.Shot{}, err
	}
	shot, err := domain.NewShot(in, s.clock())
	if err != nil {
		return domain.Shot{}, err
	}
	created, err := s.repo.CreateShot(ctx, shot)
	if err != nil {
		return domain.Shot{}, persistenceError("create shot", err)
	}
	return created, nil
}

// UpdateStatusInput holds input values for a single department status change.
type UpdateStatusInput struct {
	ShotID     int64
	Department string
	Status     string
	Assignee   *string
}

// UpdateDepartmentStatus sets one shot's department status and appends an audit entry.
// Requires update_status. Input is validated before the store is touched.
func (s *Service) UpdateDepartmentStatus(ctx context.Context, actor domain.Actor, in UpdateStatusInput) (domain.DepartmentStatus, error) {
	if err := requireCapability(actor, domain.CapabilityUpdateStatus); err != nil {
		return domain.DepartmentStatus{}, err
	}
	change := domain.StatusChange{
		ShotID:     in.ShotID,
		Department: domain.NormalizeDepartment(domain.Department(in.Department)),
		Status:     domain.NormalizeStatus(domain.Status(in.Status)),
		Assignee:   normalizeAssignee(in.Assignee),
		ChangedBy:  actor.Name,
		ChangedAt:  s.clock(),
	}
	if err := change.Validate(); err != nil {
		return domain.DepartmentStatus{}, err
	}
	if _, err := s.repo.GetShot(ctx, change.ShotID); err != nil {
		return domain.DepartmentStatus{}, persistenceError("get shot", err)
	}
	row, err := s.repo.UpdateDepartmentStatus(ctx, change, s.policy)
	if err != nil {
		return domain.DepartmentStatus{}, persistenceError("update department status", err)
	}
	return row, nil
}

// BulkUpdateStatusInput holds input values for a bulk status change.
type BulkUpdateStatusInput struct {
	ShotIDs    []int64
	Department string
	Status     string
}

// BulkUpdateStatus applies one status to one department across many shots as a single
// all-or-nothing batch and returns the number of distinct shots updated. Unknown shot ids
// reject the whole batch. Requires update_status.
func (s *Service) BulkUpdateStatus(ctx context.Context, actor domain.Actor, in BulkUpdateStatusInput) (int, error) {
	if err := requireCapability(actor, domain.CapabilityUpdateStatus); err != nil {
		return 0, err
	}
	change := domain.BulkStatusChange{
		ShotIDs:    in.ShotIDs,
		Department: domain.NormalizeDepartment(domain.Department(in.Department)),
		Status:     domain.NormalizeStatus(domain.Status(in.Status)),
		ChangedBy:  actor.Name,
		ChangedAt:  s.clock(),
	}
	if err := change.Validate(); err != nil {
		return 0, err
	}
	change.ShotIDs = change.DistinctShotIDs()
	updated, err := s.repo.BulkUpdateStatus(ctx, change, s.policy)
	if err != nil {
		var missing *MissingShotsError
		if errors.As(err, &missing) {
			return 0, fmt.Errorf("%w: %s", domain.ErrInvalidShotIDs, missing.Error())
		}
		return 0, persistenceError("bulk update status", err)
	}
	return updated, nil
}

// ListStatusHistory returns audit entries for a shot, newest first. Requires view_productions.
func (s *Service) ListStatusHistory(ctx context.Context, actor domain.Actor, shotID int64, department string, limit int) ([]domain.AuditEntry, error) {
	if err := requireCapability(actor, domain.CapabilityViewProductions); err != nil {
		return nil, err
	}
	if shotID <= 0 {
		return nil, domain.ErrInvalidShotID
	}
	var dep domain.Department
	if strings.TrimSpace(department) != "" {
		parsed, err := domain.ParseDepartment(department)
		if err != nil {
			return nil, err
		}
		dep = parsed
	}
	switch {
	case limit <= 0:
		limit = defaultHistoryLimit
	case limit > maxHistoryLimit:
		limit = maxHistoryLimit
	}
	if _, err := s.repo.GetShot(ctx, shotID); err != nil {
		return nil, persistenceError("get shot", err)
	}
	entries, err := s.repo.ListStatusHistory(ctx, shotID, dep, limit)
	if err != nil {
		return nil, persistenceError("list status history", err)
	}
	return entries, nil
}

// ActStats computes per-department approval over recorded rows for one act. Requires view_productions.
func (s *Service) ActStats(ctx context.Context, actor domain.Actor, code string) (domain.ActStats, error) {
	act, err := s.GetAct(ctx, actor, code)
	if err != nil {
		return domain.ActStats{}, err
	}
	shots, err := s.repo.ListShots(ctx, domain.ShotFilter{ActCode: act.Code})
	if err != nil {
		return domain.ActStats{}, persistenceError("list shots", err)
	}
	var rows []domain.DepartmentStatus
	for _, shot := range shots {
		rows = append(rows, shot.Departments...)
	}
	return domain.NewActStats(act.Code, len(shots), rows), nil
}

// normalizeShotFilter validates and normalizes list filters.
func normalizeShotFilter(filter domain.ShotFilter) (domain.ShotFilter, error) {
	filter.ActCode = strings.TrimSpace(filter.ActCode)
	filter.Search = strings.TrimSpace(filter.Search)
	if filter.ActCode != "" && !domain.IsValidActCode(filter.ActCode) {
		return domain.ShotFilter{}, domain.ErrInvalidActCode
	}
	if filter.Priority != "" {
		filter.Priority = domain.Priority(strings.TrimSpace(strings.ToLower(string(filter.Priority))))
		if !domain.IsValidPriority(filter.Priority) {
			return domain.ShotFilter{}, domain.ErrInvalidPriority
		}
	}
	if filter.Department != "" {
		filter.Department = domain.NormalizeDepartment(filter.Department)
		if !domain.IsValidDepartment(filter.Department) {
			return domain.ShotFilter{}, domain.ErrInvalidDepartment
		}
	}
	if filter.Status != "" {
		filter.Status = domain.NormalizeStatus(filter.Status)
		if !domain.IsValidStatus(filter.Status) {
			return domain.ShotFilter{}, domain.ErrInvalidStatus
		}
	}
	return filter, nil
}

// normalizeAssignee trims the assignee, keeping nil as "leave unchanged".
func normalizeAssignee(assignee *string) *string {
	if assignee == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*assignee)
	return &trimmed
}

// isValidationError reports whether err is an input-legality failure.
func isValidationError(err error) bool {
	return errors.Is(err, domain.ErrValidation)
}
