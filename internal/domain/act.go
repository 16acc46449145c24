package domain

import (
	"regexp"
	"strings"
	"time"
)

// actCodePattern matches act codes such as act01.
var actCodePattern = regexp.MustCompile(`^act\d{2}$`)

// Act is a top-level grouping of shots.
type Act struct {
	Code      string
	Name      string
	SortOrder int
	CreatedAt time.Time
}

// IsValidActCode reports whether code matches act followed by exactly two digits.
func IsValidActCode(code string) bool {
	return actCodePattern.MatchString(code)
}

// NewAct validates and constructs an act.
func NewAct(code, name string, sortOrder int, now time.Time) (Act, error) {
	code = strings.TrimSpace(code)
	name = strings.TrimSpace(name)
	if !IsValidActCode(code) {
		return Act{}, ErrInvalidActCode
	}
	if name == "" {
		return Act{}, ErrInvalidName
	}
	if sortOrder < 0 {
		return Act{}, ErrInvalidSortOrder
	}
	return Act{
		Code:      code,
		Name:      name,
		SortOrder: sortOrder,
		CreatedAt: now.UTC(),
	}, nil
}

// CompareActs orders acts by sort order, then code.
func CompareActs(a, b Act) int {
	if a.SortOrder != b.SortOrder {
		if a.SortOrder < b.SortOrder {
			return -1
		}
		return 1
	}
	return strings.Compare(a.Code, b.Code)
}
