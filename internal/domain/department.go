package domain

import (
	"slices"
	"strings"
)

// Department identifies one production discipline tracked per shot.
type Department string

// Department values, in pipeline order.
const (
	DepartmentLookdev   Department = "lookdev"
	DepartmentBlocking  Department = "blocking"
	DepartmentSpline    Department = "spline"
	DepartmentPolish    Department = "polish"
	DepartmentLighting  Department = "lighting"
	DepartmentRendering Department = "rendering"
	DepartmentComp      Department = "comp"
)

// validDepartments stores the closed department set.
var validDepartments = []Department{
	DepartmentLookdev,
	DepartmentBlocking,
	DepartmentSpline,
	DepartmentPolish,
	DepartmentLighting,
	DepartmentRendering,
	DepartmentComp,
}

// Departments returns the department set in pipeline order.
func Departments() []Department {
	return slices.Clone(validDepartments)
}

// NormalizeDepartment trims and lowercases a department value.
func NormalizeDepartment(d Department) Department {
	return Department(strings.TrimSpace(strings.ToLower(string(d))))
}

// IsValidDepartment reports whether d is one of the seven departments.
func IsValidDepartment(d Department) bool {
	return slices.Contains(validDepartments, d)
}

// ParseDepartment normalizes raw input and validates it.
func ParseDepartment(raw string) (Department, error) {
	d := NormalizeDepartment(Department(raw))
	if !IsValidDepartment(d) {
		return "", ErrInvalidDepartment
	}
	return d, nil
}
