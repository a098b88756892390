// Package analysis provides the domain model of asynchronous AI analysis jobs.
package analysis

import (
	"sort"

	"github.com/agencyhub/api/pkg/domain/shared"
)

// Kind is the type of insight an analysis job computes.
type Kind string

const (
	KindMarketTrends          Kind = "market_trends"
	KindTenantBehavior        Kind = "tenant_behavior"
	KindPropertyValuation     Kind = "property_valuation"
	KindMaintenancePrediction Kind = "maintenance_prediction"
	KindPortfolioOptimization Kind = "portfolio_optimization"
	KindFinancialForecast     Kind = "financial_forecast"
	KindRiskAssessment        Kind = "risk_assessment"
	KindOccupancyForecast     Kind = "occupancy_forecast"
)

var knownKinds = map[Kind]bool{
	KindMarketTrends:          true,
	KindTenantBehavior:        true,
	KindPropertyValuation:     true,
	KindMaintenancePrediction: true,
	KindPortfolioOptimization: true,
	KindFinancialForecast:     true,
	KindRiskAssessment:        true,
	KindOccupancyForecast:     true,
}

// IsValid reports whether k is a known kind.
func (k Kind) IsValid() bool {
	return knownKinds[k]
}

func (k Kind) String() string {
	return string(k)
}

// AllKinds returns the known kinds sorted by name.
func AllKinds() []Kind {
	kinds := make([]Kind, 0, len(knownKinds))
	for k := range knownKinds {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// ParseKind parses s into a known Kind. The match is exact; unknown values
// fail with ErrUnsupportedKind.
func ParseKind(s string) (Kind, error) {
	k := Kind(s)
	if !k.IsValid() {
		return "", shared.NewDomainError(CodeUnsupportedKind, "unsupported analysis kind: "+s, ErrUnsupportedKind)
	}
	return k, nil
}

// Priority is a queue class. Its string value is the queue name.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

// Queues lists the queue names workers consume, highest first.
var Queues = []Priority{PriorityHigh, PriorityNormal, PriorityLow}

// Queue returns the queue name for the priority.
func (p Priority) Queue() string {
	return string(p)
}

// Priority returns the queue class of the kind. Kinds without an explicit
// class run at normal priority.
func (k Kind) Priority() Priority {
	switch k {
	case KindMarketTrends, KindPortfolioOptimization:
		return PriorityHigh
	case KindTenantBehavior, KindMaintenancePrediction, KindFinancialForecast:
		return PriorityLow
	default:
		return PriorityNormal
	}
}
