package postgres

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/agencyhub/api/internal/tenancy"
	"github.com/agencyhub/api/pkg/domain/shared"
	"github.com/agencyhub/api/pkg/logger"
)

func TestRebind(t *testing.T) {
	assert.Equal(t, "a = $1 AND b = $2", rebind("a = ? AND b = ?"))
	assert.Equal(t, "SELECT 1", rebind("SELECT 1"))
}

func TestQuery_BuildOrdersArgs(t *testing.T) {
	q := newQuery()
	q.Where("id = ?", "job-1")
	q.whereIf(false, "kind = ?", "skipped")
	q.Where("status = ?", "pending")

	stmt, args := q.build("UPDATE t SET a = ?, b = ?", []any{1, 2}, "RETURNING id LIMIT ?", 5)

	assert.Equal(t, "UPDATE t SET a = $1, b = $2 WHERE id = $3 AND status = $4 RETURNING id LIMIT $5", stmt)
	assert.Equal(t, []any{1, 2, "job-1", "pending", 5}, args)
}

func TestQuery_TenancyScope(t *testing.T) {
	filter := tenancy.NewFilter(nil, logger.NewNop())
	agencyID := shared.NewID()

	tests := []struct {
		name     string
		ctx      context.Context
		wantStmt string
		wantArgs int
	}{
		{
			name:     "agency principal",
			ctx:      tenancy.WithPrincipal(context.Background(), tenancy.Principal{UserID: shared.NewID(), AgencyID: agencyID}),
			wantStmt: "SELECT * FROM buildings WHERE id = $1 AND agency_id = $2",
			wantArgs: 2,
		},
		{
			name:     "unrestricted principal",
			ctx:      tenancy.WithPrincipal(context.Background(), tenancy.Principal{UserID: shared.NewID(), Unrestricted: true}),
			wantStmt: "SELECT * FROM buildings WHERE id = $1",
			wantArgs: 1,
		},
		{
			name:     "no principal",
			ctx:      context.Background(),
			wantStmt: "SELECT * FROM buildings WHERE id = $1 AND FALSE",
			wantArgs: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := newQuery()
			q.Where("id = ?", shared.NewID())
			filter.Apply(tt.ctx, q, agencyColumn)

			stmt, args := q.build("SELECT * FROM buildings", nil, "")
			assert.Equal(t, tt.wantStmt, stmt)
			assert.Len(t, args, tt.wantArgs)
		})
	}
}

func TestEscapeLikePattern(t *testing.T) {
	assert.Equal(t, `50\% off\_now`, escapeLikePattern("50% off_now"))
	assert.Equal(t, `%main%`, likeContains("main"))
}

func TestStoredRecordIsScoped(t *testing.T) {
	var rec tenancy.Scoped = storedRecord{id: shared.NewID(), agencyID: shared.NewID(), resource: "unit"}
	assert.Equal(t, "unit", rec.ResourceType())
}
