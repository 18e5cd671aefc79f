package database

import (
	"database/sql"
	"fmt"
	"strings"
)

// execRequireRows validates that an ExecContext result affected at least one row.
// Returns err if non-nil, or noRowsErr if rowsAffected is 0.
func execRequireRows(result sql.Result, err, noRowsErr error) error {
	if err != nil {
		return err
	}
	n, affectedErr := result.RowsAffected()
	if affectedErr != nil {
		return affectedErr
	}
	if n == 0 {
		return noRowsErr
	}
	return nil
}

// whereBuilder accumulates AND-ed conditions with positional arguments.
type whereBuilder struct {
	clauses []string
	args    []any
}

func (w *whereBuilder) add(column string, value any) {
	w.args = append(w.args, value)
	w.clauses = append(w.clauses, fmt.Sprintf("%s = $%d", column, len(w.args)))
}

// next returns the placeholder for the next argument and records it.
func (w *whereBuilder) next(value any) string {
	w.args = append(w.args, value)
	return fmt.Sprintf("$%d", len(w.args))
}

func (w *whereBuilder) String() string {
	if len(w.clauses) == 0 {
		return ""
	}
	return "WHERE " + strings.Join(w.clauses, " AND ")
}
