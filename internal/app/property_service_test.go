package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agencyhub/api/internal/tenancy"
	"github.com/agencyhub/api/pkg/domain/audit"
	"github.com/agencyhub/api/pkg/domain/invoice"
	"github.com/agencyhub/api/pkg/domain/property"
	"github.com/agencyhub/api/pkg/domain/shared"
	"github.com/agencyhub/api/pkg/logger"
	"github.com/agencyhub/api/pkg/pagination"
)

// memBuildingRepo mirrors the postgres write path: the guard runs against
// the stored owner before anything changes.
type memBuildingRepo struct {
	mu        sync.Mutex
	buildings map[shared.ID]*property.Building
	filter    *tenancy.Filter
	getErr    error
}

func (r *memBuildingRepo) Create(ctx context.Context, b *property.Building) error {
	if err := r.filter.AssignOnCreate(ctx, b); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buildings[b.ID()] = b
	return nil
}

func (r *memBuildingRepo) GetByID(ctx context.Context, id shared.ID) (*property.Building, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.getErr != nil {
		return nil, r.getErr
	}
	b, ok := r.buildings[id]
	if !ok || !tenancy.ScopeFor(ctx).Allows(b.AgencyID()) {
		return nil, shared.ErrNotFound
	}
	return b, nil
}

func (r *memBuildingRepo) Update(ctx context.Context, b *property.Building) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.buildings[b.ID()]
	if !ok {
		return shared.ErrNotFound
	}
	if err := r.filter.GuardUpdate(ctx, stored); err != nil {
		return err
	}
	_ = stored.UpdateDetails(b.Name(), b.Address(), b.City(), b.YearBuilt())
	return nil
}

func (r *memBuildingRepo) Delete(ctx context.Context, id shared.ID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.buildings[id]
	if !ok {
		return shared.ErrNotFound
	}
	if err := r.filter.GuardDelete(ctx, stored); err != nil {
		return err
	}
	delete(r.buildings, id)
	return nil
}

func (r *memBuildingRepo) List(ctx context.Context, _ property.BuildingFilter, page pagination.Pagination) (pagination.Result[*property.Building], error) {
	all, err := r.ListAll(ctx)
	return pagination.NewResult(all, int64(len(all)), page), err
}

func (r *memBuildingRepo) ListAll(ctx context.Context) ([]*property.Building, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*property.Building
	for _, b := range r.buildings {
		if tenancy.ScopeFor(ctx).Allows(b.AgencyID()) {
			out = append(out, b)
		}
	}
	return out, nil
}

type memUnitRepo struct {
	mu     sync.Mutex
	units  map[shared.ID]*property.Unit
	filter *tenancy.Filter
}

func (r *memUnitRepo) Create(ctx context.Context, u *property.Unit) error {
	if err := r.filter.AssignOnCreate(ctx, u); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.units[u.ID()] = u
	return nil
}

func (r *memUnitRepo) GetByID(ctx context.Context, id shared.ID) (*property.Unit, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.units[id]
	if !ok || !tenancy.ScopeFor(ctx).Allows(u.AgencyID()) {
		return nil, shared.ErrNotFound
	}
	return u, nil
}

func (r *memUnitRepo) Update(ctx context.Context, u *property.Unit) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.units[u.ID()]
	if !ok {
		return shared.ErrNotFound
	}
	return r.filter.GuardUpdate(ctx, stored)
}

func (r *memUnitRepo) ListByBuilding(ctx context.Context, buildingID shared.ID) ([]*property.Unit, error) {
	all, _ := r.ListAll(ctx)
	var out []*property.Unit
	for _, u := range all {
		if u.BuildingID().Equals(buildingID) {
			out = append(out, u)
		}
	}
	return out, nil
}

func (r *memUnitRepo) ListAll(ctx context.Context) ([]*property.Unit, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*property.Unit
	for _, u := range r.units {
		if tenancy.ScopeFor(ctx).Allows(u.AgencyID()) {
			out = append(out, u)
		}
	}
	return out, nil
}

type memInvoiceRepo struct {
	mu       sync.Mutex
	invoices []*invoice.Invoice
	filter   *tenancy.Filter
}

func (r *memInvoiceRepo) Create(ctx context.Context, inv *invoice.Invoice) error {
	if err := r.filter.AssignOnCreate(ctx, inv); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.invoices = append(r.invoices, inv)
	return nil
}

func (r *memInvoiceRepo) GetByID(ctx context.Context, id shared.ID) (*invoice.Invoice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, inv := range r.invoices {
		if inv.ID().Equals(id) && tenancy.ScopeFor(ctx).Allows(inv.AgencyID()) {
			return inv, nil
		}
	}
	return nil, shared.ErrNotFound
}

func (r *memInvoiceRepo) Update(ctx context.Context, inv *invoice.Invoice) error {
	return r.filter.GuardUpdate(ctx, inv)
}

func (r *memInvoiceRepo) List(ctx context.Context, _ invoice.ListFilter, page pagination.Pagination) (pagination.Result[*invoice.Invoice], error) {
	all, err := r.IssuedSince(ctx, time.Time{})
	return pagination.NewResult(all, int64(len(all)), page), err
}

func (r *memInvoiceRepo) IssuedSince(ctx context.Context, since time.Time) ([]*invoice.Invoice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*invoice.Invoice
	for _, inv := range r.invoices {
		if tenancy.ScopeFor(ctx).Allows(inv.AgencyID()) && !inv.IssuedAt().Before(since) {
			out = append(out, inv)
		}
	}
	return out, nil
}

type portfolio struct {
	filter     *tenancy.Filter
	audits     *memAuditRepo
	buildings  *memBuildingRepo
	units      *memUnitRepo
	invoices   *memInvoiceRepo
	props      *PropertyService
	invoiceSvc *InvoiceService
}

func newPortfolio() *portfolio {
	log := logger.NewNop()
	audits := &memAuditRepo{}
	auditSvc := NewAuditService(audits, log)
	filter := tenancy.NewFilter(auditSvc, log)

	p := &portfolio{
		filter:    filter,
		audits:    audits,
		buildings: &memBuildingRepo{buildings: map[shared.ID]*property.Building{}, filter: filter},
		units:     &memUnitRepo{units: map[shared.ID]*property.Unit{}, filter: filter},
		invoices:  &memInvoiceRepo{filter: filter},
	}
	p.props = NewPropertyService(p.buildings, p.units, log)
	p.props.SetAuditService(auditSvc)
	p.invoiceSvc = NewInvoiceService(p.invoices, p.units, log)
	return p
}

func TestPropertyService_CreateAssignsCallerAgency(t *testing.T) {
	p := newPortfolio()
	agencyID := shared.NewID()

	b, err := p.props.CreateBuilding(agencyCtx(agencyID), BuildingInput{Name: "Riverside", City: "Lyon", YearBuilt: 1978})
	require.NoError(t, err)
	assert.True(t, b.AgencyID().Equals(agencyID))

	u, err := p.props.CreateUnit(agencyCtx(agencyID), b.ID().String(), CreateUnitInput{Label: "2B", AreaSqm: 54, Bedrooms: 2, MonthlyRentCents: 95000})
	require.NoError(t, err)
	assert.True(t, u.AgencyID().Equals(agencyID))
}

func TestPropertyService_ReplaceForeignBuildingIsBlocked(t *testing.T) {
	p := newPortfolio()
	owner, intruder := shared.NewID(), shared.NewID()

	b, err := p.props.CreateBuilding(agencyCtx(owner), BuildingInput{Name: "Harbor View"})
	require.NoError(t, err)

	_, err = p.props.ReplaceBuilding(agencyCtx(intruder), b.ID().String(), BuildingInput{Name: "Renamed"})
	require.Error(t, err)
	assert.True(t, tenancy.IsCrossTenant(err))
	assert.ErrorIs(t, err, shared.ErrForbidden)

	got, err := p.props.GetBuilding(agencyCtx(owner), b.ID().String())
	require.NoError(t, err)
	assert.Equal(t, "Harbor View", got.Name())

	require.Len(t, p.audits.entries, 1)
	e := p.audits.entries[0]
	assert.Equal(t, audit.ActionCrossTenantBlocked, e.Action())
	assert.True(t, e.AgencyID().Equals(intruder))
	assert.True(t, e.ResourceAgencyID().Equals(owner))
}

func TestPropertyService_ReplaceOwnBuilding(t *testing.T) {
	p := newPortfolio()
	owner := shared.NewID()
	b, err := p.props.CreateBuilding(agencyCtx(owner), BuildingInput{Name: "Old Mill"})
	require.NoError(t, err)

	got, err := p.props.ReplaceBuilding(agencyCtx(owner), b.ID().String(), BuildingInput{Name: "New Mill", City: "Ghent"})
	require.NoError(t, err)
	assert.Equal(t, "New Mill", got.Name())
	assert.Equal(t, "Ghent", got.City())
}

func TestPropertyService_DeleteForeignBuildingIsBlocked(t *testing.T) {
	p := newPortfolio()
	owner := shared.NewID()
	b, err := p.props.CreateBuilding(agencyCtx(owner), BuildingInput{Name: "Tower"})
	require.NoError(t, err)

	err = p.props.DeleteBuilding(agencyCtx(shared.NewID()), b.ID().String())
	assert.True(t, tenancy.IsCrossTenant(err))

	require.NoError(t, p.props.DeleteBuilding(agencyCtx(owner), b.ID().String()))
	assert.Contains(t, p.audits.actions(), audit.ActionBuildingDeleted)
}

func TestPropertyService_DeleteBuildingReadErrorKeepsBuilding(t *testing.T) {
	p := newPortfolio()
	owner := shared.NewID()
	b, err := p.props.CreateBuilding(agencyCtx(owner), BuildingInput{Name: "Tower"})
	require.NoError(t, err)

	dbErr := errors.New("connection reset")
	p.buildings.getErr = dbErr
	err = p.props.DeleteBuilding(agencyCtx(owner), b.ID().String())
	assert.ErrorIs(t, err, dbErr)
	assert.NotContains(t, p.audits.actions(), audit.ActionBuildingDeleted)

	p.buildings.getErr = nil
	_, err = p.props.GetBuilding(agencyCtx(owner), b.ID().String())
	require.NoError(t, err)
}

func TestPropertyService_UnitOnForeignBuildingIsHidden(t *testing.T) {
	p := newPortfolio()
	b, err := p.props.CreateBuilding(agencyCtx(shared.NewID()), BuildingInput{Name: "Tower"})
	require.NoError(t, err)

	_, err = p.props.CreateUnit(agencyCtx(shared.NewID()), b.ID().String(), CreateUnitInput{Label: "1A", AreaSqm: 30})
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestPropertyService_ListWithoutPrincipalIsEmpty(t *testing.T) {
	p := newPortfolio()
	_, err := p.props.CreateBuilding(agencyCtx(shared.NewID()), BuildingInput{Name: "Tower"})
	require.NoError(t, err)

	res, err := p.props.ListBuildings(context.Background(), ListBuildingsInput{})
	require.NoError(t, err)
	assert.Empty(t, res.Data)
}

func TestPropertyService_UpdateUnit(t *testing.T) {
	p := newPortfolio()
	ctx := agencyCtx(shared.NewID())
	b, err := p.props.CreateBuilding(ctx, BuildingInput{Name: "Tower"})
	require.NoError(t, err)
	u, err := p.props.CreateUnit(ctx, b.ID().String(), CreateUnitInput{Label: "1A", AreaSqm: 30, MonthlyRentCents: 70000})
	require.NoError(t, err)

	occupied := true
	end := time.Now().AddDate(0, 6, 0)
	rent := int64(72000)
	u, err = p.props.UpdateUnit(ctx, u.ID().String(), UpdateUnitInput{Occupied: &occupied, LeaseEndsAt: &end, MonthlyRentCents: &rent})
	require.NoError(t, err)
	assert.True(t, u.IsOccupied())
	assert.Equal(t, int64(72000), u.MonthlyRentCents())

	vacant := false
	u, err = p.props.UpdateUnit(ctx, u.ID().String(), UpdateUnitInput{Occupied: &vacant})
	require.NoError(t, err)
	assert.False(t, u.IsOccupied())
	assert.Nil(t, u.LeaseEndsAt())
}

func TestInvoiceService_CreateAndPay(t *testing.T) {
	p := newPortfolio()
	ctx := agencyCtx(shared.NewID())
	b, err := p.props.CreateBuilding(ctx, BuildingInput{Name: "Tower"})
	require.NoError(t, err)
	u, err := p.props.CreateUnit(ctx, b.ID().String(), CreateUnitInput{Label: "1A", AreaSqm: 30})
	require.NoError(t, err)

	inv, err := p.invoiceSvc.CreateInvoice(ctx, CreateInvoiceInput{
		UnitID:      u.ID().String(),
		AmountCents: 70000,
		DueAt:       time.Now().AddDate(0, 0, 14),
	})
	require.NoError(t, err)
	assert.True(t, inv.AgencyID().Equals(u.AgencyID()))
	assert.Equal(t, invoice.StatusOpen, inv.Status())

	_, err = p.invoiceSvc.MarkPaid(agencyCtx(shared.NewID()), inv.ID().String(), nil)
	assert.ErrorIs(t, err, shared.ErrNotFound)

	paid, err := p.invoiceSvc.MarkPaid(ctx, inv.ID().String(), nil)
	require.NoError(t, err)
	assert.Equal(t, invoice.StatusPaid, paid.Status())

	_, err = p.invoiceSvc.ListInvoices(ctx, ListInvoicesInput{Statuses: []string{"lost"}})
	assert.ErrorIs(t, err, shared.ErrValidation)
}
