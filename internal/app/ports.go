package app

import (
	"context"

	"github.com/hylla/shotboard/internal/domain"
)

// Repository is the production-tracking store. Implementations must apply each status
// transition and its audit entry atomically, and each bulk batch as one unit.
type Repository interface {
	// CreateAct persists act. When autoSortOrder is set the store assigns MAX(sort_order)+1.
	// Duplicate codes return ErrConflict.
	CreateAct(ctx context.Context, act domain.Act, autoSortOrder bool) (domain.Act, error)
	GetAct(ctx context.Context, code string) (domain.Act, error)
	ListActs(ctx context.Context) ([]domain.Act, error)

	// CreateShot assigns the shot id. A missing act returns ErrNotFound, a duplicate code ErrConflict.
	CreateShot(ctx context.Context, shot domain.Shot) (domain.Shot, error)
	GetShot(ctx context.Context, id int64) (domain.ShotDetail, error)
	ListShots(ctx context.Context, filter domain.ShotFilter) ([]domain.ShotDetail, error)

	// UpdateDepartmentStatus upserts one row and appends one audit entry in a single transaction.
	UpdateDepartmentStatus(ctx context.Context, change domain.StatusChange, policy domain.TransitionPolicy) (domain.DepartmentStatus, error)
	// BulkUpdateStatus applies change to every distinct id in one transaction and returns the
	// number of shots updated. Unknown ids abort the batch with *MissingShotsError.
	BulkUpdateStatus(ctx context.Context, change domain.BulkStatusChange, policy domain.TransitionPolicy) (int, error)
	// ListStatusHistory returns audit entries newest first. An empty department lists all.
	ListStatusHistory(ctx context.Context, shotID int64, department domain.Department, limit int) ([]domain.AuditEntry, error)
}
