package analyzer

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/agencyhub/api/pkg/domain/analysis"
	"github.com/agencyhub/api/pkg/domain/property"
	"github.com/agencyhub/api/pkg/domain/shared"
)

// PropertyValuation estimates building values by income capitalization.
type PropertyValuation struct{}

func (PropertyValuation) Kind() analysis.Kind { return analysis.KindPropertyValuation }

func (PropertyValuation) Analyze(_ context.Context, in Input) (*Result, error) {
	capRate, err := floatParam(in.Params, "cap_rate", 0.05, 0.01, 0.2)
	if err != nil {
		return nil, err
	}
	expenseRatio, err := floatParam(in.Params, "expense_ratio", 0.35, 0, 0.9)
	if err != nil {
		return nil, err
	}

	units := unitsByBuilding(in.Data.Units)
	var total float64
	var priced int
	valuations := make([]map[string]any, 0, len(in.Data.Buildings))
	for _, b := range in.Data.Buildings {
		var potential, effective float64
		for _, u := range units[b.ID()] {
			annual := float64(u.MonthlyRentCents()) * 12
			potential += annual
			if u.IsOccupied() {
				effective += annual
			}
			if u.MonthlyRentCents() > 0 && u.AreaSqm() > 0 {
				priced++
			}
		}
		noi := effective * (1 - expenseRatio)
		depreciation := 1 - math.Min(float64(b.Age(in.Now)), 60)*0.004
		value := noi / capRate * depreciation
		total += value

		valuations = append(valuations, map[string]any{
			"building_id":            b.ID().String(),
			"name":                   b.Name(),
			"units":                  len(units[b.ID()]),
			"occupancy":              round2(occupancy(units[b.ID()])),
			"annual_gross_potential": centsToUnits(potential),
			"net_operating_income":   centsToUnits(noi),
			"estimated_value":        centsToUnits(value),
		})
	}

	f := newFormatter(in.Data.Agency)
	return &Result{
		Output: map[string]any{
			"cap_rate":              capRate,
			"expense_ratio":         expenseRatio,
			"buildings":             valuations,
			"total_estimated_value": centsToUnits(total),
		},
		Confidence: confidence(ratio(float64(priced), float64(len(in.Data.Units))) * 0.85),
		Summary:    fmt.Sprintf("Estimated portfolio value is %s across %s buildings.", f.Money(total), f.Count(len(in.Data.Buildings))),
	}, nil
}

// MaintenancePrediction ranks units by how overdue maintenance likely is.
type MaintenancePrediction struct{}

func (MaintenancePrediction) Kind() analysis.Kind { return analysis.KindMaintenancePrediction }

const (
	maxBuildingAgeYears = 80
	maxMaintenanceGap   = 730
)

func (MaintenancePrediction) Analyze(_ context.Context, in Input) (*Result, error) {
	top, err := intParam(in.Params, "top", 10, 1, 100)
	if err != nil {
		return nil, err
	}
	threshold, err := floatParam(in.Params, "threshold", 0.6, 0, 1)
	if err != nil {
		return nil, err
	}

	buildings := make(map[shared.ID]*property.Building, len(in.Data.Buildings))
	for _, b := range in.Data.Buildings {
		buildings[b.ID()] = b
	}

	type candidate struct {
		unit  *property.Unit
		age   int
		days  int
		score float64
	}
	var candidates []candidate
	withHistory, dueCount := 0, 0
	for _, u := range in.Data.Units {
		since := u.CreatedAt()
		if last := u.LastMaintenanceAt(); last != nil {
			since = *last
			withHistory++
		}
		days := int(in.Now.Sub(since).Hours() / 24)
		age := 0
		if b, ok := buildings[u.BuildingID()]; ok {
			age = b.Age(in.Now)
		}
		score := clamp01(0.4*math.Min(float64(age), maxBuildingAgeYears)/maxBuildingAgeYears +
			0.6*math.Min(float64(days), maxMaintenanceGap)/maxMaintenanceGap)
		if score >= threshold {
			dueCount++
		}
		candidates = append(candidates, candidate{unit: u, age: age, days: days, score: score})
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].unit.Label() < candidates[j].unit.Label()
	})

	ranked := make([]map[string]any, 0, top)
	for _, c := range candidates {
		if len(ranked) == top || c.score < threshold {
			break
		}
		ranked = append(ranked, map[string]any{
			"unit_id":                c.unit.ID().String(),
			"building_id":            c.unit.BuildingID().String(),
			"label":                  c.unit.Label(),
			"score":                  round2(c.score),
			"days_since_maintenance": c.days,
			"building_age":           c.age,
		})
	}

	var conf float64
	if len(in.Data.Units) > 0 {
		conf = 0.5 + 0.4*ratio(float64(withHistory), float64(len(in.Data.Units)))
	}

	f := newFormatter(in.Data.Agency)
	return &Result{
		Output: map[string]any{
			"units_assessed": len(in.Data.Units),
			"due_count":      dueCount,
			"threshold":      threshold,
			"candidates":     ranked,
		},
		Confidence: confidence(conf),
		Summary:    fmt.Sprintf("%s of %s units are likely due for maintenance.", f.Count(dueCount), f.Count(len(in.Data.Units))),
	}, nil
}

// PortfolioOptimization recommends a pricing or leasing action per building.
type PortfolioOptimization struct{}

func (PortfolioOptimization) Kind() analysis.Kind { return analysis.KindPortfolioOptimization }

// Building actions.
const (
	ActionRaiseRent     = "raise_rent"
	ActionReduceVacancy = "reduce_vacancy"
	ActionReviewPricing = "review_pricing"
	ActionHold          = "hold"
)

func (PortfolioOptimization) Analyze(_ context.Context, in Input) (*Result, error) {
	units := unitsByBuilding(in.Data.Units)

	rps := make(map[shared.ID]float64, len(in.Data.Buildings))
	var levels []float64
	for _, b := range in.Data.Buildings {
		var sum float64
		var n int
		for _, u := range units[b.ID()] {
			if u.AreaSqm() > 0 && u.MonthlyRentCents() > 0 {
				sum += u.RentPerSqm()
				n++
			}
		}
		if n > 0 {
			rps[b.ID()] = sum / float64(n)
			levels = append(levels, rps[b.ID()])
		}
	}
	portfolioMedian := median(levels)

	actions := make(map[string]int)
	recs := make([]map[string]any, 0, len(in.Data.Buildings))
	for _, b := range in.Data.Buildings {
		occ := occupancy(units[b.ID()])
		level := rps[b.ID()]
		action, increase := recommend(occ, level, portfolioMedian)
		actions[action]++

		rec := map[string]any{
			"building_id":  b.ID().String(),
			"name":         b.Name(),
			"occupancy":    round2(occ),
			"rent_per_sqm": centsToUnits(level),
			"action":       action,
		}
		if increase > 0 {
			rec["suggested_increase"] = round2(increase)
		}
		recs = append(recs, rec)
	}

	var conf float64
	switch {
	case len(in.Data.Buildings) >= 3:
		conf = 0.75
	case len(in.Data.Buildings) > 0:
		conf = 0.45
	}

	return &Result{
		Output: map[string]any{
			"median_rent_per_sqm": centsToUnits(portfolioMedian),
			"recommendations":     recs,
			"action_counts":       actions,
		},
		Confidence: confidence(conf),
		Summary:    fmt.Sprintf("%d buildings could raise rent and %d need vacancy work.", actions[ActionRaiseRent], actions[ActionReduceVacancy]),
	}, nil
}

func recommend(occ, level, portfolioMedian float64) (string, float64) {
	switch {
	case level > 0 && occ >= 0.95 && level < portfolioMedian*0.95:
		return ActionRaiseRent, math.Min(0.1, (portfolioMedian-level)/level)
	case occ < 0.8:
		return ActionReduceVacancy, 0
	case level > portfolioMedian*1.15 && occ < 0.9:
		return ActionReviewPricing, 0
	}
	return ActionHold, 0
}
