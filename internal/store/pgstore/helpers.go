package pgstore

import (
	"fmt"
	"strings"
	"time"

	"github.com/lyzr/workflowcore/internal/store"
)

// buildListQuery appends fixed conditions, the caller-supplied equality
// filters in opts.Where, then ORDER BY/LIMIT/OFFSET, producing positional
// placeholders that line up with the returned args slice. OrderBy is
// trusted verbatim: this is a reference adapter, not a public SQL surface,
// so the caller is responsible for only passing known column names.
func buildListQuery(base string, conditions []string, args []interface{}, opts store.ListOptions) (string, []interface{}) {
	conditions = append([]string(nil), conditions...)
	args = append([]interface{}(nil), args...)

	for col, val := range opts.Where {
		args = append(args, val)
		conditions = append(conditions, fmt.Sprintf("%s = $%d", col, len(args)))
	}

	query := base
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	if opts.OrderBy != "" {
		query += " ORDER BY " + opts.OrderBy
	}
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}
	return query, args
}

// nullableString maps an empty string to SQL NULL, used for optional
// foreign keys like BudgetPool.ParentPoolID.
func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func durationMsToDuration(ms int64) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
