package postgres

import (
	"fmt"
	"strings"

	"github.com/alanyoungcy/propengine/internal/domain"
)

// listQuery appends WHERE filters, ordering and pagination to a SELECT.
type listQuery struct {
	sb    strings.Builder
	args  []any
	where bool
}

func newListQuery(base string) *listQuery {
	q := &listQuery{}
	q.sb.WriteString(base)
	return q
}

// and adds a condition; each %s in cond is replaced by the next placeholder.
func (q *listQuery) and(cond string, args ...any) *listQuery {
	if q.where {
		q.sb.WriteString(" AND ")
	} else {
		q.sb.WriteString(" WHERE ")
		q.where = true
	}
	ph := make([]any, len(args))
	for i, a := range args {
		q.args = append(q.args, a)
		ph[i] = fmt.Sprintf("$%d", len(q.args))
	}
	q.sb.WriteString(fmt.Sprintf(cond, ph...))
	return q
}

// window applies the time range in opts to column.
func (q *listQuery) window(column string, opts domain.ListOpts) *listQuery {
	if opts.Since != nil {
		q.and(column+" >= %s", *opts.Since)
	}
	if opts.Until != nil {
		q.and(column+" <= %s", *opts.Until)
	}
	return q
}

// page appends ORDER BY plus LIMIT and OFFSET when set.
func (q *listQuery) page(orderBy string, opts domain.ListOpts) *listQuery {
	q.sb.WriteString(" ORDER BY " + orderBy)
	if opts.Limit > 0 {
		q.args = append(q.args, opts.Limit)
		q.sb.WriteString(fmt.Sprintf(" LIMIT $%d", len(q.args)))
	}
	if opts.Offset > 0 {
		q.args = append(q.args, opts.Offset)
		q.sb.WriteString(fmt.Sprintf(" OFFSET $%d", len(q.args)))
	}
	return q
}

func (q *listQuery) String() string { return q.sb.String() }
