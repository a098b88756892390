// Package analyzer computes analysis results from an agency's portfolio.
//
// Every analyzer reads through a DataSource whose repositories apply the
// tenancy scope of ctx, so an analyzer only ever sees the agency the job
// belongs to.
package analyzer

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/agencyhub/api/pkg/domain/agency"
	"github.com/agencyhub/api/pkg/domain/analysis"
	"github.com/agencyhub/api/pkg/domain/invoice"
	"github.com/agencyhub/api/pkg/domain/property"
	"github.com/agencyhub/api/pkg/domain/shared"
)

// Snapshot is the portfolio data an analyzer works on.
type Snapshot struct {
	Agency    *agency.Agency
	Buildings []*property.Building
	Units     []*property.Unit
	Invoices  []*invoice.Invoice
}

// Input is one analyzer invocation.
type Input struct {
	JobID    shared.ID
	AgencyID shared.ID
	Kind     analysis.Kind
	Params   map[string]any
	Data     *Snapshot
	Now      time.Time
}

// Result is what an analyzer produces. A nil Confidence is stored as 0.
type Result struct {
	Output     map[string]any
	Confidence *float64
	Summary    string
}

// Analyzer computes one kind of analysis.
type Analyzer interface {
	Kind() analysis.Kind
	Analyze(ctx context.Context, in Input) (*Result, error)
}

// Registry maps kinds to analyzers.
type Registry struct {
	analyzers map[analysis.Kind]Analyzer
}

// NewRegistry creates a Registry holding as.
func NewRegistry(as ...Analyzer) *Registry {
	r := &Registry{analyzers: make(map[analysis.Kind]Analyzer, len(as))}
	for _, a := range as {
		r.Register(a)
	}
	return r
}

// DefaultRegistry holds an analyzer for every known kind.
func DefaultRegistry() *Registry {
	return NewRegistry(
		MarketTrends{},
		TenantBehavior{},
		PropertyValuation{},
		MaintenancePrediction{},
		PortfolioOptimization{},
		FinancialForecast{},
		RiskAssessment{},
		OccupancyForecast{},
	)
}

// Register adds or replaces the analyzer for a.Kind().
func (r *Registry) Register(a Analyzer) {
	r.analyzers[a.Kind()] = a
}

// Get returns the analyzer for kind.
func (r *Registry) Get(kind analysis.Kind) (Analyzer, error) {
	a, ok := r.analyzers[kind]
	if !ok {
		return nil, shared.NewDomainError(analysis.CodeUnsupportedKind, "no analyzer for kind "+string(kind), analysis.ErrUnsupportedKind)
	}
	return a, nil
}

// Kinds lists registered kinds sorted by name.
func (r *Registry) Kinds() []analysis.Kind {
	kinds := make([]analysis.Kind, 0, len(r.analyzers))
	for k := range r.analyzers {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// DataSource loads portfolio data within the tenancy scope of ctx.
type DataSource interface {
	Agency(ctx context.Context, id shared.ID) (*agency.Agency, error)
	Buildings(ctx context.Context) ([]*property.Building, error)
	Units(ctx context.Context) ([]*property.Unit, error)
	InvoicesSince(ctx context.Context, since time.Time) ([]*invoice.Invoice, error)
}

// RepositorySource is a DataSource over the domain repositories.
type RepositorySource struct {
	agencies  agency.Repository
	buildings property.BuildingRepository
	units     property.UnitRepository
	invoices  invoice.Repository
}

// NewRepositorySource creates a RepositorySource.
func NewRepositorySource(agencies agency.Repository, buildings property.BuildingRepository, units property.UnitRepository, invoices invoice.Repository) *RepositorySource {
	return &RepositorySource{agencies: agencies, buildings: buildings, units: units, invoices: invoices}
}

func (s *RepositorySource) Agency(ctx context.Context, id shared.ID) (*agency.Agency, error) {
	return s.agencies.GetByID(ctx, id)
}

func (s *RepositorySource) Buildings(ctx context.Context) ([]*property.Building, error) {
	return s.buildings.ListAll(ctx)
}

func (s *RepositorySource) Units(ctx context.Context) ([]*property.Unit, error) {
	return s.units.ListAll(ctx)
}

func (s *RepositorySource) InvoicesSince(ctx context.Context, since time.Time) ([]*invoice.Invoice, error) {
	return s.invoices.IssuedSince(ctx, since)
}

// historyWindow is how far back invoices are loaded.
const historyWindow = 24 * 30 * 24 * time.Hour

// LoadSnapshot reads the portfolio of agencyID.
func LoadSnapshot(ctx context.Context, src DataSource, agencyID shared.ID, now time.Time) (*Snapshot, error) {
	ag, err := src.Agency(ctx, agencyID)
	if err != nil {
		return nil, fmt.Errorf("failed to load agency: %w", err)
	}
	buildings, err := src.Buildings(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load buildings: %w", err)
	}
	units, err := src.Units(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load units: %w", err)
	}
	invoices, err := src.InvoicesSince(ctx, now.Add(-historyWindow))
	if err != nil {
		return nil, fmt.Errorf("failed to load invoices: %w", err)
	}
	return &Snapshot{Agency: ag, Buildings: buildings, Units: units, Invoices: invoices}, nil
}
