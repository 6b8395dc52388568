package repository

import (
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/noah-isme/krs-api/internal/models"
)

const (
	defaultRequestLimit = 50
	maxRequestLimit     = 200
)

// requestColumns names the columns a request table filters on. Swap requests
// have two students and two sections, so each role may map to several columns.
type requestColumns struct {
	student []string
	section []string
}

// buildRequestQuery appends WHERE, ORDER BY and paging clauses to base.
func buildRequestQuery(base string, cols requestColumns, filter models.RequestFilter) (string, []interface{}) {
	builder := strings.Builder{}
	builder.WriteString(base)
	args := make([]interface{}, 0, 4)
	conditions := make([]string, 0, 4)

	if filter.StudentID != "" {
		args = append(args, filter.StudentID)
		conditions = append(conditions, anyColumnEquals(cols.student, len(args)))
	}
	if filter.SectionID != "" {
		args = append(args, filter.SectionID)
		conditions = append(conditions, anyColumnEquals(cols.section, len(args)))
	}
	if filter.InstructorID != "" {
		args = append(args, filter.InstructorID)
		parts := make([]string, 0, len(cols.section))
		for _, col := range cols.section {
			parts = append(parts, fmt.Sprintf("%s IN (SELECT section_id FROM section_instructors WHERE user_id = $%d)", col, len(args)))
		}
		conditions = append(conditions, "("+strings.Join(parts, " OR ")+")")
	}
	if len(filter.Status) > 0 {
		statuses := make([]string, 0, len(filter.Status))
		for _, status := range filter.Status {
			statuses = append(statuses, string(status))
		}
		args = append(args, pq.Array(statuses))
		conditions = append(conditions, fmt.Sprintf("status = ANY($%d)", len(args)))
	}

	if len(conditions) > 0 {
		builder.WriteString(" WHERE ")
		builder.WriteString(strings.Join(conditions, " AND "))
	}
	builder.WriteString(" ORDER BY created_at DESC")

	limit := filter.Limit
	if limit <= 0 || limit > maxRequestLimit {
		limit = defaultRequestLimit
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	builder.WriteString(fmt.Sprintf(" LIMIT %d OFFSET %d", limit, offset))
	return builder.String(), args
}

func anyColumnEquals(columns []string, position int) string {
	if len(columns) == 1 {
		return fmt.Sprintf("%s = $%d", columns[0], position)
	}
	parts := make([]string, 0, len(columns))
	for _, col := range columns {
		parts = append(parts, fmt.Sprintf("%s = $%d", col, position))
	}
	return "(" + strings.Join(parts, " OR ") + ")"
}

// NormalizeLimit clamps a page size the same way list queries do.
func NormalizeLimit(limit int) int {
	if limit <= 0 || limit > maxRequestLimit {
		return defaultRequestLimit
	}
	return limit
}
