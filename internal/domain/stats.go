package domain

// DepartmentProgress summarizes completion for one department in an act.
// Total counts recorded rows only; shots without a row for the department are not counted.
type DepartmentProgress struct {
	Department Department
	Total      int
	Completed  int
	Percent    int
}

// ActStats summarizes completion for every department in an act.
type ActStats struct {
	ActCode     string
	ShotCount   int
	Departments []DepartmentProgress
	Overall     int
}

// NewActStats computes act progress from the current department rows of the act's shots.
// A row is complete when its status is approved. Percentages are completed over recorded rows,
// rounded half up.
func NewActStats(actCode string, shotCount int, rows []DepartmentStatus) ActStats {
	recorded := make(map[Department]int, len(validDepartments))
	completed := make(map[Department]int, len(validDepartments))
	for _, row := range rows {
		recorded[row.Department]++
		if row.Status == StatusApproved {
			completed[row.Department]++
		}
	}

	stats := ActStats{
		ActCode:     actCode,
		ShotCount:   shotCount,
		Departments: make([]DepartmentProgress, 0, len(validDepartments)),
	}
	totalRows, totalCompleted := 0, 0
	for _, dep := range validDepartments {
		total, done := recorded[dep], completed[dep]
		totalRows += total
		totalCompleted += done
		stats.Departments = append(stats.Departments, DepartmentProgress{
			Department: dep,
			Total:      total,
			Completed:  done,
			Percent:    percent(done, total),
		})
	}
	stats.Overall = percent(totalCompleted, totalRows)
	return stats
}

// percent returns n*100/total rounded half up, or 0 for an empty denominator.
func percent(n, total int) int {
	if total <= 0 {
		return 0
	}
	return (n*200 + total) / (2 * total)
}
