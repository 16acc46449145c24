package common

import (
	"context"
	"errors"
	"fmt"

	"github.com/hylla/shotboard/internal/app"
	"github.com/hylla/shotboard/internal/domain"
)

// AppServiceAdapter maps transport contracts onto app.Service operations.
type AppServiceAdapter struct {
	service *app.Service
}

// NewAppServiceAdapter builds one common adapter over an app.Service instance.
func NewAppServiceAdapter(service *app.Service) *AppServiceAdapter {
	return &AppServiceAdapter{service: service}
}

// Session reports the caller attached to ctx.
func (a *AppServiceAdapter) Session(ctx context.Context) (Session, error) {
	actor, err := a.actor(ctx)
	if err != nil {
		return Session{}, err
	}
	caps := actor.Capabilities.List()
	names := make([]string, 0, len(caps))
	for _, c := range caps {
		names = append(names, string(c))
	}
	return Session{
		Name:         actor.Name,
		Role:         string(actor.Role),
		Capabilities: names,
		Policy:       a.service.Policy().Name(),
	}, nil
}

// ListActs lists acts in display order.
func (a *AppServiceAdapter) ListActs(ctx context.Context) ([]Act, error) {
	actor, err := a.actor(ctx)
	if err != nil {
		return nil, err
	}
	acts, err := a.service.ListActs(ctx, actor)
	if err != nil {
		return nil, mapAppError("list acts", err)
	}
	out := make([]Act, 0, len(acts))
	for _, act := range acts {
		out = append(out, toAct(act))
	}
	return out, nil
}

// GetAct returns one act by code.
func (a *AppServiceAdapter) GetAct(ctx context.Context, code string) (Act, error) {
	actor, err := a.actor(ctx)
	if err != nil {
		return Act{}, err
	}
	act, err := a.service.GetAct(ctx, actor, code)
	if err != nil {
		return Act{}, mapAppError("get act", err)
	}
	return toAct(act), nil
}

// CreateAct creates one act.
func (a *AppServiceAdapter) CreateAct(ctx context.Context, in CreateActRequest) (Act, error) {
	actor, err := a.actor(ctx)
	if err != nil {
		return Act{}, err
	}
	act, err := a.service.CreateAct(ctx, actor, app.CreateActInput{
		Code:      in.Code,
		Name:      in.Name,
		SortOrder: in.SortOrder,
	})
	if err != nil {
		return Act{}, mapAppError("create act", err)
	}
	return toAct(act), nil
}

// ActStats reports completion for one act.
func (a *AppServiceAdapter) ActStats(ctx context.Context, code string) (ActStats, error) {
	actor, err := a.actor(ctx)
	if err != nil {
		return ActStats{}, err
	}
	stats, err := a.service.ActStats(ctx, actor, code)
	if err != nil {
		return ActStats{}, mapAppError("act stats", err)
	}
	out := ActStats{
		ActCode:     stats.ActCode,
		ShotCount:   stats.ShotCount,
		Departments: make([]DepartmentProgress, 0, len(stats.Departments)),
		Overall:     stats.Overall,
	}
	for _, dep := range stats.Departments {
		out.Departments = append(out.Departments, DepartmentProgress{
			Department: string(dep.Department),
			Total:      dep.Total,
			Completed:  dep.Completed,
			Percent:    dep.Percent,
		})
	}
	return out, nil
}

// CreateShot creates one shot without department rows.
func (a *AppServiceAdapter) CreateShot(ctx context.Context, in CreateShotRequest) (Shot, error) {
	actor, err := a.actor(ctx)
	if err != nil {
		return Shot{}, err
	}
	shot, err := a.service.CreateShot(ctx, actor, domain.ShotInput{
		ActCode:    in.ActCode,
		Code:       in.Code,
		FrameStart: in.FrameStart,
		FrameEnd:   in.FrameEnd,
		Priority:   domain.Priority(in.Priority),
		Notes:      in.Notes,
	})
	if err != nil {
		return Shot{}, mapAppError("create shot", err)
	}
	return toShot(domain.ShotDetail{Shot: shot}), nil
}

// ListShots lists shots matching the request filters.
func (a *AppServiceAdapter) ListShots(ctx context.Context, in ListShotsRequest) ([]Shot, error) {
	actor, err := a.actor(ctx)
	if err != nil {
		return nil, err
	}
	shots, err := a.service.ListShots(ctx, actor, domain.ShotFilter{
		ActCode:    in.ActCode,
		Priority:   domain.Priority(in.Priority),
		Department: domain.Department(in.Department),
		Status:     domain.Status(in.Status),
		Search:     in.Search,
	})
	if err != nil {
		return nil, mapAppError("list shots", err)
	}
	out := make([]Shot, 0, len(shots))
	for _, shot := range shots {
		out = append(out, toShot(shot))
	}
	return out, nil
}

// GetShot returns one shot with its department rows.
func (a *AppServiceAdapter) GetShot(ctx context.Context, id int64) (Shot, error) {
	actor, err := a.actor(ctx)
	if err != nil {
		return Shot{}, err
	}
	shot, err := a.service.GetShot(ctx, actor, id)
	if err != nil {
		return Shot{}, mapAppError("get shot", err)
	}
	return toShot(shot), nil
}

// SetShotStatus applies one department status change.
func (a *AppServiceAdapter) SetShotStatus(ctx context.Context, in SetShotStatusRequest) (DepartmentStatus, error) {
	actor, err := a.actor(ctx)
	if err != nil {
		return DepartmentStatus{}, err
	}
	row, err := a.service.UpdateDepartmentStatus(ctx, actor, app.UpdateStatusInput{
		ShotID:     in.ShotID,
		Department: in.Department,
		Status:     in.Status,
		Assignee:   in.Assignee,
	})
	if err != nil {
		return DepartmentStatus{}, mapAppError("set shot status", err)
	}
	return toDepartmentStatus(row), nil
}

// BulkSetStatus applies one status across many shots and returns the number updated.
func (a *AppServiceAdapter) BulkSetStatus(ctx context.Context, in BulkSetStatusRequest) (int, error) {
	actor, err := a.actor(ctx)
	if err != nil {
		return 0, err
	}
	updated, err := a.service.BulkUpdateStatus(ctx, actor, app.BulkUpdateStatusInput{
		ShotIDs:    in.ShotIDs,
		Department: in.Department,
		Status:     in.Status,
	})
	if err != nil {
		return 0, mapAppError("bulk set status", err)
	}
	return updated, nil
}

// ListStatusHistory lists audit entries for one shot, newest first.
func (a *AppServiceAdapter) ListStatusHistory(ctx context.Context, in StatusHistoryRequest) ([]AuditEntry, error) {
	actor, err := a.actor(ctx)
	if err != nil {
		return nil, err
	}
	entries, err := a.service.ListStatusHistory(ctx, actor, in.ShotID, in.Department, in.Limit)
	if err != nil {
		return nil, mapAppError("list status history", err)
	}
	out := make([]AuditEntry, 0, len(entries))
	for _, entry := range entries {
		out = append(out, toAuditEntry(entry))
	}
	return out, nil
}

// actor resolves the caller attached by the auth middleware.
func (a *AppServiceAdapter) actor(ctx context.Context) (domain.Actor, error) {
	if a == nil || a.service == nil {
		return domain.Actor{}, fmt.Errorf("app service adapter is not configured: %w", ErrInternal)
	}
	actor, ok := app.ActorFromContext(ctx)
	if !ok {
		return domain.Actor{}, ErrUnauthenticated
	}
	return actor, nil
}

func toAct(act domain.Act) Act {
	return Act{
		Code:      act.Code,
		Name:      act.Name,
		SortOrder: act.SortOrder,
		CreatedAt: act.CreatedAt.UTC(),
	}
}

func toShot(detail domain.ShotDetail) Shot {
	out := Shot{
		ID:          detail.ID,
		ActCode:     detail.ActCode,
		Code:        detail.Code,
		FullCode:    detail.FullCode(),
		FrameStart:  detail.FrameStart,
		FrameEnd:    detail.FrameEnd,
		Priority:    string(detail.Priority),
		Notes:       detail.Notes,
		Departments: make([]DepartmentStatus, 0, len(detail.Departments)),
		CreatedAt:   detail.CreatedAt.UTC(),
		UpdatedAt:   detail.UpdatedAt.UTC(),
	}
	for _, row := range detail.Departments {
		out.Departments = append(out.Departments, toDepartmentStatus(row))
	}
	return out
}

func toDepartmentStatus(row domain.DepartmentStatus) DepartmentStatus {
	return DepartmentStatus{
		ShotID:     row.ShotID,
		Department: string(row.Department),
		Status:     string(row.Status),
		Assignee:   row.Assignee,
		UpdatedBy:  row.UpdatedBy,
		UpdatedAt:  row.UpdatedAt.UTC(),
	}
}

func toAuditEntry(entry domain.AuditEntry) AuditEntry {
	out := AuditEntry{
		ID:         entry.ID,
		ShotID:     entry.ShotID,
		Department: string(entry.Department),
		NewStatus:  string(entry.NewStatus),
		ChangedBy:  entry.ChangedBy,
		ChangedAt:  entry.ChangedAt.UTC(),
	}
	if entry.HadPriorRecord() {
		old := string(entry.OldStatus)
		out.OldStatus = &old
	}
	return out
}

// mapAppError maps app/domain errors into transport-layer error sentinels.
func mapAppError(operation string, err error) error {
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, app.ErrUnauthenticated):
		return fmt.Errorf("%s: %w", operation, errors.Join(ErrUnauthenticated, err))
	case errors.Is(err, app.ErrPermissionDenied):
		return fmt.Errorf("%s: %w", operation, errors.Join(ErrForbidden, err))
	case errors.Is(err, domain.ErrValidation):
		return fmt.Errorf("%s: %w", operation, errors.Join(ErrInvalidRequest, err))
	case errors.Is(err, app.ErrNotFound):
		return fmt.Errorf("%s: %w", operation, errors.Join(ErrNotFound, err))
	case errors.Is(err, app.ErrConflict):
		return fmt.Errorf("%s: %w", operation, errors.Join(ErrConflict, err))
	default:
		return fmt.Errorf("%s: %w", operation, errors.Join(ErrInternal, err))
	}
}
