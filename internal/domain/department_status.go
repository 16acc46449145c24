package domain

import (
	"strings"
	"time"
)

// DepartmentStatus is the current state of one (shot, department) pair.
type DepartmentStatus struct {
	ShotID     int64
	Department Department
	Status     Status
	Assignee   *string
	UpdatedBy  string
	UpdatedAt  time.Time
}

// StatusChange is one requested transition for a (shot, department) pair.
// A nil Assignee leaves the stored assignee unchanged; an empty one clears it.
type StatusChange struct {
	ShotID     int64
	Department Department
	Status     Status
	Assignee   *string
	ChangedBy  string
	ChangedAt  time.Time
}

// Validate checks the change before any storage access.
func (c StatusChange) Validate() error {
	if c.ShotID <= 0 {
		return ErrInvalidShotID
	}
	if !IsValidDepartment(c.Department) {
		return ErrInvalidDepartment
	}
	if !IsValidStatus(c.Status) {
		return ErrInvalidStatus
	}
	if strings.TrimSpace(c.ChangedBy) == "" {
		return ErrInvalidActor
	}
	return nil
}

// Apply produces the row that results from applying c on top of prev.
// prev is nil when the pair has no record yet.
func (c StatusChange) Apply(prev *DepartmentStatus) DepartmentStatus {
	next := DepartmentStatus{
		ShotID:     c.ShotID,
		Department: c.Department,
		Status:     c.Status,
		Assignee:   c.Assignee,
		UpdatedBy:  c.ChangedBy,
		UpdatedAt:  c.ChangedAt.UTC(),
	}
	switch {
	case c.Assignee == nil && prev != nil:
		next.Assignee = prev.Assignee
	case c.Assignee != nil && strings.TrimSpace(*c.Assignee) == "":
		next.Assignee = nil
	}
	return next
}

// AuditEntry records one applied transition.
func (c StatusChange) AuditEntry(prev *DepartmentStatus) AuditEntry {
	entry := AuditEntry{
		ShotID:     c.ShotID,
		Department: c.Department,
		NewStatus:  c.Status,
		ChangedBy:  c.ChangedBy,
		ChangedAt:  c.ChangedAt.UTC(),
	}
	if prev != nil {
		entry.OldStatus = prev.Status
	}
	return entry
}

// BulkStatusChange applies one (department, status) transition across many shots.
type BulkStatusChange struct {
	ShotIDs    []int64
	Department Department
	Status     Status
	ChangedBy  string
	ChangedAt  time.Time
}

// Validate checks the batch before any storage access.
func (c BulkStatusChange) Validate() error {
	if len(c.ShotIDs) == 0 {
		return ErrInvalidShotIDs
	}
	for _, id := range c.ShotIDs {
		if id <= 0 {
			return ErrInvalidShotIDs
		}
	}
	if !IsValidDepartment(c.Department) {
		return ErrInvalidDepartment
	}
	if !IsValidStatus(c.Status) {
		return ErrInvalidStatus
	}
	if strings.TrimSpace(c.ChangedBy) == "" {
		return ErrInvalidActor
	}
	return nil
}

// DistinctShotIDs returns the shot ids with duplicates removed, in first-seen order.
func (c BulkStatusChange) DistinctShotIDs() []int64 {
	seen := make(map[int64]struct{}, len(c.ShotIDs))
	out := make([]int64, 0, len(c.ShotIDs))
	for _, id := range c.ShotIDs {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// Change returns the single-shot change for id. Bulk changes never touch the assignee.
func (c BulkStatusChange) Change(id int64) StatusChange {
	return StatusChange{
		ShotID:     id,
		Department: c.Department,
		Status:     c.Status,
		ChangedBy:  c.ChangedBy,
		ChangedAt:  c.ChangedAt,
	}
}
