package domain

import (
	"slices"
	"strings"
)

// Status identifies the workflow state of one shot within one department.
type Status string

// Status values.
const (
	StatusNotStarted Status = "not-started"
	StatusInProgress Status = "in-progress"
	StatusReview     Status = "review"
	StatusRevision   Status = "revision"
	StatusApproved   Status = "approved"
	StatusFinal      Status = "final"
	StatusOmit       Status = "omit"
)

// validStatuses stores the closed status set.
var validStatuses = []Status{
	StatusNotStarted,
	StatusInProgress,
	StatusReview,
	StatusRevision,
	StatusApproved,
	StatusFinal,
	StatusOmit,
}

// Statuses returns the status set.
func Statuses() []Status {
	return slices.Clone(validStatuses)
}

// NormalizeStatus trims and lowercases a status value.
func NormalizeStatus(s Status) Status {
	return Status(strings.TrimSpace(strings.ToLower(string(s))))
}

// IsValidStatus reports whether s is one of the seven statuses.
func IsValidStatus(s Status) bool {
	return slices.Contains(validStatuses, s)
}

// ParseStatus normalizes raw input and validates it.
func ParseStatus(raw string) (Status, error) {
	s := NormalizeStatus(Status(raw))
	if !IsValidStatus(s) {
		return "", ErrInvalidStatus
	}
	return s, nil
}
