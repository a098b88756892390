package app

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/agencyhub/api/internal/tenancy"
	"github.com/agencyhub/api/pkg/domain/analysis"
	"github.com/agencyhub/api/pkg/domain/invoice"
	"github.com/agencyhub/api/pkg/domain/property"
	"github.com/agencyhub/api/pkg/domain/shared"
	"github.com/agencyhub/api/pkg/logger"
	"github.com/agencyhub/api/pkg/pagination"
)

// ErrDemoDisabled is returned by DemoDashboard when demo mode is off.
var ErrDemoDisabled = shared.NewDomainError("DEMO_DISABLED", "demo mode is not enabled", shared.ErrNotFound)

// DashboardStats is the portfolio overview of one scope.
type DashboardStats struct {
	Buildings        int             `json:"buildings"`
	Units            int             `json:"units"`
	OccupiedUnits    int             `json:"occupied_units"`
	OccupancyRate    float64         `json:"occupancy_rate"`
	MonthlyRent      int64           `json:"monthly_rent_cents"`
	OpenInvoices     int             `json:"open_invoices"`
	OverdueAmount    int64           `json:"overdue_amount_cents"`
	RecentAnalyses   []*analysis.Job `json:"-"`
	AnalysesByStatus map[string]int  `json:"analyses_by_status"`
	GeneratedAt      time.Time       `json:"generated_at"`
	Demo             bool            `json:"demo"`
}

// DashboardCache caches dashboards by key.
type DashboardCache interface {
	GetOrLoad(ctx context.Context, key string, loader func(ctx context.Context) (*DashboardStats, error)) (*DashboardStats, error)
}

// DashboardService aggregates the dashboard of the caller's scope.
type DashboardService struct {
	buildings property.BuildingRepository
	units     property.UnitRepository
	invoices  invoice.Repository
	jobs      analysis.Repository
	demo      shared.ID
	demoCache DashboardCache
	logger    *logger.Logger
	now       func() time.Time
}

// NewDashboardService creates a new DashboardService.
func NewDashboardService(
	buildings property.BuildingRepository,
	units property.UnitRepository,
	invoices invoice.Repository,
	jobs analysis.Repository,
	log *logger.Logger,
) *DashboardService {
	return &DashboardService{
		buildings: buildings,
		units:     units,
		invoices:  invoices,
		jobs:      jobs,
		logger:    log.With("service", "dashboard"),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// EnableDemo names the single agency served by DemoDashboard.
func (s *DashboardService) EnableDemo(agencyID shared.ID) {
	s.demo = agencyID
}

// SetDemoCache caches the public demo dashboard.
func (s *DashboardService) SetDemoCache(c DashboardCache) {
	s.demoCache = c
}

// Dashboard builds the dashboard of the caller's scope.
func (s *DashboardService) Dashboard(ctx context.Context) (*DashboardStats, error) {
	return s.collect(ctx)
}

// DemoDashboard builds the dashboard of the configured demo agency for
// unauthenticated visitors. It is the only path that reads agency data
// without a principal.
func (s *DashboardService) DemoDashboard(ctx context.Context) (*DashboardStats, error) {
	if s.demo.IsZero() {
		return nil, ErrDemoDisabled
	}
	load := func(ctx context.Context) (*DashboardStats, error) {
		tctx, err := tenancy.WithTenant(ctx, s.demo)
		if err != nil {
			return nil, err
		}
		stats, err := s.collect(tctx)
		if err != nil {
			return nil, err
		}
		stats.Demo = true
		return stats, nil
	}
	if s.demoCache == nil {
		return load(ctx)
	}
	return s.demoCache.GetOrLoad(ctx, "demo:"+s.demo.String(), load)
}

func (s *DashboardService) collect(ctx context.Context) (*DashboardStats, error) {
	if tenancy.ScopeFor(ctx).Kind() == tenancy.ScopeDenied {
		return nil, tenancy.ErrNoTenantContext
	}

	now := s.now()
	stats := &DashboardStats{GeneratedAt: now, AnalysesByStatus: map[string]int{}}

	var (
		buildings []*property.Building
		units     []*property.Unit
		invoices  []*invoice.Invoice
		jobs      pagination.Result[*analysis.Job]
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		buildings, err = s.buildings.ListAll(gctx)
		return err
	})
	g.Go(func() (err error) {
		units, err = s.units.ListAll(gctx)
		return err
	})
	g.Go(func() (err error) {
		invoices, err = s.invoices.IssuedSince(gctx, now.AddDate(-1, 0, 0))
		return err
	})
	g.Go(func() (err error) {
		jobs, err = s.jobs.List(gctx, analysis.ListFilter{Sort: "-created_at"}, pagination.New(1, 10))
		return err
	})
	if err := g.Wait(); err != nil {
		if !errors.Is(err, context.Canceled) {
			s.logger.Error("dashboard aggregation failed", "error", err)
		}
		return nil, err
	}

	stats.Buildings = len(buildings)
	stats.Units = len(units)
	for _, u := range units {
		if u.IsOccupied() {
			stats.OccupiedUnits++
			stats.MonthlyRent += u.MonthlyRentCents()
		}
	}
	if stats.Units > 0 {
		stats.OccupancyRate = float64(stats.OccupiedUnits) / float64(stats.Units)
	}

	for _, inv := range invoices {
		inv.RefreshStatus(now)
		switch inv.Status() {
		case invoice.StatusOpen:
			stats.OpenInvoices++
		case invoice.StatusOverdue:
			stats.OpenInvoices++
			stats.OverdueAmount += inv.AmountCents()
		}
	}

	stats.RecentAnalyses = jobs.Data
	for _, j := range jobs.Data {
		stats.AnalysesByStatus[string(j.Status())]++
	}
	return stats, nil
}
