package domain

import (
	"regexp"
	"slices"
	"strings"
	"time"
)

// Frame range defaults applied when a shot is imported without one.
const (
	DefaultFrameStart = 1001
	DefaultFrameEnd   = 1120
)

// shotCodePattern matches shot codes such as shot01.
var shotCodePattern = regexp.MustCompile(`^shot\d{2}$`)

// Priority describes shot scheduling urgency.
type Priority string

// Priority values.
const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// validPriorities stores supported priorities.
var validPriorities = []Priority{
	PriorityLow,
	PriorityMedium,
	PriorityHigh,
	PriorityCritical,
}

// Priorities returns the priority set from lowest to highest.
func Priorities() []Priority {
	return slices.Clone(validPriorities)
}

// IsValidPriority reports whether p is a supported priority.
func IsValidPriority(p Priority) bool {
	return slices.Contains(validPriorities, p)
}

// IsValidShotCode reports whether code matches shot followed by exactly two digits.
func IsValidShotCode(code string) bool {
	return shotCodePattern.MatchString(code)
}

// Shot is one unit of creative work inside an act.
type Shot struct {
	ID         int64
	ActCode    string
	Code       string
	FrameStart int
	FrameEnd   int
	Priority   Priority
	Notes      string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// ShotInput holds values used to create a shot.
type ShotInput struct {
	ActCode    string
	Code       string
	FrameStart int
	FrameEnd   int
	Priority   Priority
	Notes      string
}

// NewShot validates input and constructs a shot without an id.
func NewShot(in ShotInput, now time.Time) (Shot, error) {
	in.ActCode = strings.TrimSpace(in.ActCode)
	in.Code = strings.TrimSpace(in.Code)
	if !IsValidActCode(in.ActCode) {
		return Shot{}, ErrInvalidActCode
	}
	if !IsValidShotCode(in.Code) {
		return Shot{}, ErrInvalidShotCode
	}
	if in.FrameStart == 0 {
		in.FrameStart = DefaultFrameStart
	}
	if in.FrameEnd == 0 {
		in.FrameEnd = DefaultFrameEnd
	}
	if in.FrameStart < 0 || in.FrameEnd < in.FrameStart {
		return Shot{}, ErrInvalidFrameRange
	}
	in.Priority = Priority(strings.TrimSpace(strings.ToLower(string(in.Priority))))
	if in.Priority == "" {
		in.Priority = PriorityMedium
	}
	if !IsValidPriority(in.Priority) {
		return Shot{}, ErrInvalidPriority
	}
	now = now.UTC()
	return Shot{
		ActCode:    in.ActCode,
		Code:       in.Code,
		FrameStart: in.FrameStart,
		FrameEnd:   in.FrameEnd,
		Priority:   in.Priority,
		Notes:      strings.TrimSpace(in.Notes),
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

// FullCode returns the combined display code, e.g. act01_shot01.
func (s Shot) FullCode() string {
	return s.ActCode + "_" + s.Code
}

// FrameCount returns the inclusive number of frames in the shot.
func (s Shot) FrameCount() int {
	return s.FrameEnd - s.FrameStart + 1
}

// ShotFilter narrows shot listings. Zero values do not filter.
type ShotFilter struct {
	ActCode    string
	Priority   Priority
	Department Department
	Status     Status
	Search     string
}

// Matches reports whether the shot and its current department rows satisfy the filter.
func (f ShotFilter) Matches(shot Shot, statuses []DepartmentStatus) bool {
	if f.ActCode != "" && shot.ActCode != f.ActCode {
		return false
	}
	if f.Priority != "" && shot.Priority != f.Priority {
		return false
	}
	if f.Search != "" && !strings.Contains(strings.ToLower(shot.FullCode()), strings.ToLower(f.Search)) {
		return false
	}
	if f.Department == "" && f.Status == "" {
		return true
	}
	for _, st := range statuses {
		if f.Department != "" && st.Department != f.Department {
			continue
		}
		if f.Status != "" && st.Status != f.Status {
			continue
		}
		return true
	}
	return false
}

// ShotDetail is a shot with its current department rows.
type ShotDetail struct {
	Shot
	Departments []DepartmentStatus
}

// Department returns the current row for d when one has been recorded.
func (d ShotDetail) Department(dep Department) (DepartmentStatus, bool) {
	for _, st := range d.Departments {
		if st.Department == dep {
			return st, true
		}
	}
	return DepartmentStatus{}, false
}
