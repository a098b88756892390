package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agencyhub/api/internal/tenancy"
	"github.com/agencyhub/api/pkg/domain/agency"
	"github.com/agencyhub/api/pkg/domain/shared"
	"github.com/agencyhub/api/pkg/logger"
)

type memAgencyRepo struct {
	agencies map[shared.ID]*agency.Agency
}

func (r *memAgencyRepo) Create(_ context.Context, a *agency.Agency) error {
	r.agencies[a.ID()] = a
	return nil
}

func (r *memAgencyRepo) GetByID(_ context.Context, id shared.ID) (*agency.Agency, error) {
	a, ok := r.agencies[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return a, nil
}

func (r *memAgencyRepo) ListActiveIDs(context.Context) ([]shared.ID, error) {
	var ids []shared.ID
	for id, a := range r.agencies {
		if a.IsActive() {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func adminCtx() context.Context {
	return tenancy.WithPrincipal(context.Background(), tenancy.Principal{
		UserID:       shared.NewID(),
		Unrestricted: true,
	})
}

func TestAgencyService_CreateRequiresUnrestrictedPrincipal(t *testing.T) {
	repo := &memAgencyRepo{agencies: map[shared.ID]*agency.Agency{}}
	svc := NewAgencyService(repo, logger.NewNop())
	in := CreateAgencyInput{Name: "North Estates", Slug: "north-estates"}

	_, err := svc.CreateAgency(agencyCtx(shared.NewID()), in)
	assert.ErrorIs(t, err, shared.ErrForbidden)

	_, err = svc.CreateAgency(context.Background(), in)
	assert.ErrorIs(t, err, shared.ErrForbidden)
	assert.Empty(t, repo.agencies)

	a, err := svc.CreateAgency(adminCtx(), in)
	require.NoError(t, err)
	assert.Equal(t, "north-estates", a.Slug())
	assert.Contains(t, repo.agencies, a.ID())
}

func TestAgencyService_Current(t *testing.T) {
	repo := &memAgencyRepo{agencies: map[shared.ID]*agency.Agency{}}
	svc := NewAgencyService(repo, logger.NewNop())

	a, err := svc.CreateAgency(adminCtx(), CreateAgencyInput{Name: "South Lettings", Slug: "south"})
	require.NoError(t, err)

	got, err := svc.Current(agencyCtx(a.ID()))
	require.NoError(t, err)
	assert.Equal(t, "South Lettings", got.Name())

	// Neither an anonymous caller nor a platform admin has a current agency.
	_, err = svc.Current(context.Background())
	assert.ErrorIs(t, err, shared.ErrNotFound)
	_, err = svc.Current(adminCtx())
	assert.ErrorIs(t, err, shared.ErrNotFound)

	ids, err := svc.ActiveAgencyIDs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []shared.ID{a.ID()}, ids)
}
