package analyzer

import (
	"context"
	"fmt"
	"sort"

	"github.com/agencyhub/api/pkg/domain/analysis"
	"github.com/agencyhub/api/pkg/domain/invoice"
	"github.com/agencyhub/api/pkg/domain/shared"
)

// TenantBehavior scores payment punctuality of the agency's tenants.
type TenantBehavior struct{}

func (TenantBehavior) Kind() analysis.Kind { return analysis.KindTenantBehavior }

func (TenantBehavior) Analyze(_ context.Context, in Input) (*Result, error) {
	threshold, err := intParam(in.Params, "late_threshold_days", 5, 0, 60)
	if err != nil {
		return nil, err
	}

	var (
		due, onTime, late int
		lateDays          int
		outstanding       float64
	)
	lateByUnit := make(map[shared.ID]int)
	for _, inv := range in.Data.Invoices {
		if inv.Status() == invoice.StatusVoid || inv.DueAt().After(in.Now) {
			continue
		}
		due++
		days := inv.DaysLate(in.Now)
		if days <= threshold {
			onTime++
		} else {
			late++
			lateDays += days
			lateByUnit[inv.UnitID()]++
		}
		if inv.Status() != invoice.StatusPaid {
			outstanding += float64(inv.AmountCents())
		}
	}

	type unitRisk struct {
		id    shared.ID
		count int
	}
	var risky []unitRisk
	for id, n := range lateByUnit {
		if n >= 2 {
			risky = append(risky, unitRisk{id, n})
		}
	}
	sort.Slice(risky, func(i, j int) bool {
		if risky[i].count != risky[j].count {
			return risky[i].count > risky[j].count
		}
		return risky[i].id.String() < risky[j].id.String()
	})
	if len(risky) > 10 {
		risky = risky[:10]
	}
	atRisk := make([]map[string]any, len(risky))
	for i, r := range risky {
		atRisk[i] = map[string]any{"unit_id": r.id.String(), "late_invoices": r.count}
	}

	onTimeRate := ratio(float64(onTime), float64(due))
	f := newFormatter(in.Data.Agency)
	summary := "No invoices are due yet."
	if due > 0 {
		summary = fmt.Sprintf("%s of %s due invoices were paid on time; %s is outstanding.",
			f.Percent(onTimeRate), f.Count(due), f.Money(outstanding))
	}

	return &Result{
		Output: map[string]any{
			"invoices_due":        due,
			"on_time_rate":        round2(onTimeRate),
			"late_invoices":       late,
			"average_days_late":   round2(ratio(float64(lateDays), float64(late))),
			"outstanding_amount":  centsToUnits(outstanding),
			"late_threshold_days": threshold,
			"at_risk_units":       atRisk,
		},
		Confidence: confidence(ratio(float64(due), 50) * 0.9),
		Summary:    summary,
	}, nil
}

// OccupancyForecast projects occupancy after upcoming lease expiries.
type OccupancyForecast struct{}

func (OccupancyForecast) Kind() analysis.Kind { return analysis.KindOccupancyForecast }

func (OccupancyForecast) Analyze(_ context.Context, in Input) (*Result, error) {
	horizon, err := intParam(in.Params, "horizon_days", 90, 7, 365)
	if err != nil {
		return nil, err
	}
	renewal, err := floatParam(in.Params, "renewal_rate", 0.6, 0, 1)
	if err != nil {
		return nil, err
	}

	total := len(in.Data.Units)
	if total == 0 {
		return &Result{
			Output:  map[string]any{"insufficient_data": true, "horizon_days": horizon},
			Summary: "The agency has no units.",
		}, nil
	}

	cutoff := in.Now.AddDate(0, 0, horizon)
	var occupied, expiring, withLease int
	for _, u := range in.Data.Units {
		if !u.IsOccupied() {
			continue
		}
		occupied++
		end := u.LeaseEndsAt()
		if end == nil {
			continue
		}
		withLease++
		if !end.After(cutoff) {
			expiring++
		}
	}

	current := ratio(float64(occupied), float64(total))
	projected := ratio(float64(occupied)-float64(expiring)*(1-renewal), float64(total))

	f := newFormatter(in.Data.Agency)
	summary := fmt.Sprintf("Occupancy is %s and is projected at %s in %d days.",
		f.Percent(current), f.Percent(clamp01(projected)), horizon)

	return &Result{
		Output: map[string]any{
			"units":               total,
			"occupied":            occupied,
			"current_occupancy":   round2(current),
			"expiring_leases":     expiring,
			"renewal_rate":        renewal,
			"horizon_days":        horizon,
			"projected_occupancy": round2(clamp01(projected)),
			"insufficient_data":   false,
		},
		Confidence: confidence(0.5 + 0.4*ratio(float64(withLease), float64(occupied))),
		Summary:    summary,
	}, nil
}
