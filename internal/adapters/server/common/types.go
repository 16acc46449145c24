// Package common provides transport-agnostic server contracts used by HTTP and MCP adapters.
package common

import (
	"context"
	"errors"
	"time"
)

// ErrInvalidRequest reports malformed or illegal transport input.
var ErrInvalidRequest = errors.New("invalid request")

// ErrNotFound reports missing transport-visible resources.
var ErrNotFound = errors.New("not found")

// ErrForbidden reports an authenticated caller lacking a required capability.
var ErrForbidden = errors.New("forbidden")

// ErrConflict reports a uniqueness violation.
var ErrConflict = errors.New("conflict")

// ErrUnauthenticated reports a request without a usable identity.
var ErrUnauthenticated = errors.New("unauthenticated")

// ErrInternal reports storage or unexpected failures. Transports never echo its detail.
var ErrInternal = errors.New("internal error")

// Act is the transport view of one act.
type Act struct {
	Code      string    `json:"code"`
	Name      string    `json:"name"`
	SortOrder int       `json:"sort_order"`
	CreatedAt time.Time `json:"created_at"`
}

// DepartmentStatus is the transport view of one (shot, department) row.
type DepartmentStatus struct {
	ShotID     int64     `json:"shot_id"`
	Department string    `json:"department"`
	Status     string    `json:"status"`
	Assignee   *string   `json:"assignee"`
	UpdatedBy  string    `json:"updated_by"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Shot is the transport view of one shot and its current department rows.
type Shot struct {
	ID          int64              `json:"id"`
	ActCode     string             `json:"act_code"`
	Code        string             `json:"code"`
	FullCode    string             `json:"full_code"`
	FrameStart  int                `json:"frame_start"`
	FrameEnd    int                `json:"frame_end"`
	Priority    string             `json:"priority"`
	Notes       string             `json:"notes,omitempty"`
	Departments []DepartmentStatus `json:"departments"`
	CreatedAt   time.Time          `json:"created_at"`
	UpdatedAt   time.Time          `json:"updated_at"`
}

// AuditEntry is the transport view of one status log entry. OldStatus is null for first writes.
type AuditEntry struct {
	ID         int64     `json:"id"`
	ShotID     int64     `json:"shot_id"`
	Department string    `json:"department"`
	OldStatus  *string   `json:"old_status"`
	NewStatus  string    `json:"new_status"`
	ChangedBy  string    `json:"changed_by"`
	ChangedAt  time.Time `json:"changed_at"`
}

// DepartmentProgress reports completion for one department.
type DepartmentProgress struct {
	Department string `json:"department"`
	Total      int    `json:"total"`
	Completed  int    `json:"completed"`
	Percent    int    `json:"percent"`
}

// ActStats reports completion across an act.
type ActStats struct {
	ActCode     string               `json:"act_code"`
	ShotCount   int                  `json:"shot_count"`
	Departments []DepartmentProgress `json:"departments"`
	Overall     int                  `json:"overall_percent"`
}

// Session describes the authenticated caller.
type Session struct {
	Name         string   `json:"name"`
	Role         string   `json:"role"`
	Capabilities []string `json:"capabilities"`
	Policy       string   `json:"transition_policy"`
}

// CreateActRequest captures input for new acts. A nil SortOrder appends after existing acts.
type CreateActRequest struct {
	Code      string `json:"code"`
	Name      string `json:"name"`
	SortOrder *int   `json:"sort_order,omitempty"`
}

// CreateShotRequest captures input for new shots. Zero frames and an empty priority take the defaults.
type CreateShotRequest struct {
	ActCode    string `json:"act_code"`
	Code       string `json:"code"`
	FrameStart int    `json:"frame_start,omitempty"`
	FrameEnd   int    `json:"frame_end,omitempty"`
	Priority   string `json:"priority,omitempty"`
	Notes      string `json:"notes,omitempty"`
}

// ListShotsRequest captures shot list filters.
type ListShotsRequest struct {
	ActCode    string
	Priority   string
	Department string
	Status     string
	Search     string
}

// SetShotStatusRequest captures one department status change.
type SetShotStatusRequest struct {
	ShotID     int64   `json:"-"`
	Department string  `json:"department"`
	Status     string  `json:"status"`
	Assignee   *string `json:"assignee,omitempty"`
}

// BulkSetStatusRequest captures one bulk status change.
type BulkSetStatusRequest struct {
	ShotIDs    []int64 `json:"shot_ids"`
	Department string  `json:"department"`
	Status     string  `json:"status"`
}

// StatusHistoryRequest captures audit trail filters.
type StatusHistoryRequest struct {
	ShotID     int64
	Department string
	Limit      int
}

// ProductionService is the operation surface shared by the HTTP and MCP adapters.
// Every method reads the caller from context.
type ProductionService interface {
	Session(context.Context) (Session, error)
	ListActs(context.Context) ([]Act, error)
	GetAct(context.Context, string) (Act, error)
	CreateAct(context.Context, CreateActRequest) (Act, error)
	ActStats(context.Context, string) (ActStats, error)
	CreateShot(context.Context, CreateShotRequest) (Shot, error)
	ListShots(context.Context, ListShotsRequest) ([]Shot, error)
	GetShot(context.Context, int64) (Shot, error)
	SetShotStatus(context.Context, SetShotStatusRequest) (DepartmentStatus, error)
	BulkSetStatus(context.Context, BulkSetStatusRequest) (int, error)
	ListStatusHistory(context.Context, StatusHistoryRequest) ([]AuditEntry, error)
}

// Logger is the structured logger transports report failures to.
type Logger interface {
	Debug(msg string, keyvals ...any)
	Info(msg string, keyvals ...any)
	Warn(msg string, keyvals ...any)
	Error(msg string, keyvals ...any)
}

// requestIDContextKey stores request ids in context.
type requestIDContextKey struct{}

// WithRequestID attaches a request id to ctx.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDContextKey{}, id)
}

// RequestIDFromContext returns the request id attached to ctx, or "".
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDContextKey{}).(string)
	return id
}
