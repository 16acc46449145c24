package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/hylla/shotboard/internal/adapters/server/common"
)

var (
	tableBorderStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("62"))
	tableHeaderStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("230"))
	tableCellStyle   = lipgloss.NewStyle().Padding(0, 1)
)

// writeTable renders rows under headers as a rounded lipgloss table.
func writeTable(w io.Writer, headers []string, rows [][]string) error {
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(tableBorderStyle).
		Headers(headers...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return tableHeaderStyle.Padding(0, 1)
			}
			return tableCellStyle
		})
	for _, row := range rows {
		t.Row(row...)
	}
	_, err := fmt.Fprintln(w, t.String())
	return err
}

// writeJSON writes v as indented JSON.
func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func actRows(acts []common.Act) [][]string {
	rows := make([][]string, 0, len(acts))
	for _, act := range acts {
		rows = append(rows, []string{
			act.Code,
			act.Name,
			strconv.Itoa(act.SortOrder),
			act.CreatedAt.Local().Format(time.DateTime),
		})
	}
	return rows
}

func shotRows(shots []common.Shot) [][]string {
	rows := make([][]string, 0, len(shots))
	for _, shot := range shots {
		rows = append(rows, []string{
			strconv.FormatInt(shot.ID, 10),
			shot.FullCode,
			fmt.Sprintf("%d-%d", shot.FrameStart, shot.FrameEnd),
			shot.Priority,
			departmentSummary(shot.Departments),
		})
	}
	return rows
}

// departmentSummary renders recorded rows as "comp:approved lighting:review".
func departmentSummary(rows []common.DepartmentStatus) string {
	if len(rows) == 0 {
		return "-"
	}
	parts := make([]string, 0, len(rows))
	for _, row := range rows {
		parts = append(parts, row.Department+":"+row.Status)
	}
	return strings.Join(parts, " ")
}

func departmentRows(rows []common.DepartmentStatus) [][]string {
	out := make([][]string, 0, len(rows))
	for _, row := range rows {
		out = append(out, []string{
			row.Department,
			row.Status,
			derefOr(row.Assignee, "-"),
			row.UpdatedBy,
			row.UpdatedAt.Local().Format(time.DateTime),
		})
	}
	return out
}

func historyRows(entries []common.AuditEntry) [][]string {
	rows := make([][]string, 0, len(entries))
	for _, entry := range entries {
		rows = append(rows, []string{
			strconv.FormatInt(entry.ID, 10),
			entry.Department,
			derefOr(entry.OldStatus, "(none)") + " -> " + entry.NewStatus,
			entry.ChangedBy,
			entry.ChangedAt.Local().Format(time.DateTime),
		})
	}
	return rows
}

func statsRows(stats common.ActStats) [][]string {
	rows := make([][]string, 0, len(stats.Departments)+1)
	for _, dep := range stats.Departments {
		rows = append(rows, []string{
			dep.Department,
			fmt.Sprintf("%d/%d", dep.Completed, dep.Total),
			fmt.Sprintf("%d%%", dep.Percent),
		})
	}
	rows = append(rows, []string{"overall", "", fmt.Sprintf("%d%%", stats.Overall)})
	return rows
}

func derefOr(v *string, fallback string) string {
	if v == nil || *v == "" {
		return fallback
	}
	return *v
}
