package domain

import "time"

// AuditEntry is an append-only record of one status transition.
// OldStatus is empty when the pair had no record before the transition.
type AuditEntry struct {
	ID         int64
	ShotID     int64
	Department Department
	OldStatus  Status
	NewStatus  Status
	ChangedBy  string
	ChangedAt  time.Time
}

// HadPriorRecord reports whether the transition replaced an existing row.
func (e AuditEntry) HadPriorRecord() bool {
	return e.OldStatus != ""
}
