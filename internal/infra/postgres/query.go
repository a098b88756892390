package postgres

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/agencyhub/api/internal/tenancy"
	"github.com/agencyhub/api/pkg/domain/shared"
)

// query collects WHERE conditions written with "?" placeholders. It
// implements tenancy.Query so the tenancy filter can add its predicate.
type query struct {
	conds []string
	args  []any
}

var _ tenancy.Query = (*query)(nil)

func newQuery() *query {
	return &query{}
}

// Where adds a condition. Conditions are joined with AND.
func (q *query) Where(cond string, args ...any) {
	q.conds = append(q.conds, cond)
	q.args = append(q.args, args...)
}

// whereIf adds the condition only when ok is true.
func (q *query) whereIf(ok bool, cond string, args ...any) {
	if ok {
		q.Where(cond, args...)
	}
}

// build renders head, the WHERE clause and tail, then numbers the
// placeholders. headArgs bind before the conditions, tailArgs after.
func (q *query) build(head string, headArgs []any, tail string, tailArgs ...any) (string, []any) {
	var sb strings.Builder
	sb.WriteString(head)
	if len(q.conds) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(q.conds, " AND "))
	}
	if tail != "" {
		sb.WriteString(" ")
		sb.WriteString(tail)
	}

	args := make([]any, 0, len(headArgs)+len(q.args)+len(tailArgs))
	args = append(args, headArgs...)
	args = append(args, q.args...)
	args = append(args, tailArgs...)
	return rebind(sb.String()), args
}

// rebind replaces each "?" with $1, $2, ... in order.
func rebind(s string) string {
	var sb strings.Builder
	sb.Grow(len(s) + 8)
	n := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '?' {
			n++
			sb.WriteByte('$')
			sb.WriteString(strconv.Itoa(n))
			continue
		}
		sb.WriteByte(s[i])
	}
	return sb.String()
}

// storedRecord carries the owner of a row as persisted, for update and
// delete guards.
type storedRecord struct {
	id       shared.ID
	agencyID shared.ID
	resource string
}

func (s storedRecord) ID() shared.ID          { return s.id }
func (s storedRecord) AgencyID() shared.ID    { return s.agencyID }
func (s storedRecord) AssignAgency(shared.ID) {}
func (s storedRecord) ResourceType() string   { return s.resource }

// storedOwner reads the owning agency of a row without tenancy scope. The
// result is only used to run the write guard.
func (db *DB) storedOwner(ctx context.Context, table, column, resource string, id shared.ID) (storedRecord, error) {
	var owner shared.ID
	stmt := fmt.Sprintf("SELECT %s FROM %s WHERE id = $1", column, table)
	if err := db.QueryRowContext(ctx, stmt, id).Scan(&owner); err != nil {
		if isNoRows(err) {
			return storedRecord{}, shared.ErrNotFound
		}
		return storedRecord{}, err
	}
	return storedRecord{id: id, agencyID: owner, resource: resource}, nil
}
