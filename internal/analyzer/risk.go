package analyzer

import (
	"context"
	"fmt"

	"github.com/agencyhub/api/pkg/domain/analysis"
	"github.com/agencyhub/api/pkg/domain/invoice"
	"github.com/agencyhub/api/pkg/domain/shared"
)

// Risk levels.
const (
	RiskLow    = "low"
	RiskMedium = "medium"
	RiskHigh   = "high"
)

// Risk factor weights.
const (
	weightVacancy       = 0.30
	weightArrears       = 0.35
	weightConcentration = 0.20
	weightBacklog       = 0.15
)

// RiskAssessment combines vacancy, arrears, concentration and maintenance
// backlog into one portfolio risk score.
type RiskAssessment struct{}

func (RiskAssessment) Kind() analysis.Kind { return analysis.KindRiskAssessment }

func (RiskAssessment) Analyze(_ context.Context, in Input) (*Result, error) {
	units := in.Data.Units
	vacancy := 1 - occupancy(units)
	if len(units) == 0 {
		vacancy = 0
	}

	yearAgo := in.Now.AddDate(-1, 0, 0)
	var billed, arrears float64
	for _, inv := range in.Data.Invoices {
		if inv.Status() == invoice.StatusVoid || inv.IssuedAt().Before(yearAgo) {
			continue
		}
		billed += float64(inv.AmountCents())
		if inv.Status() != invoice.StatusPaid && inv.DueAt().Before(in.Now) {
			arrears += float64(inv.AmountCents())
		}
	}
	arrearsRatio := ratio(arrears, billed)

	rentByBuilding := make(map[shared.ID]float64)
	var rentTotal float64
	backlog := 0
	twoYearsAgo := in.Now.AddDate(-2, 0, 0)
	for _, u := range units {
		if u.IsOccupied() {
			rentByBuilding[u.BuildingID()] += float64(u.MonthlyRentCents())
			rentTotal += float64(u.MonthlyRentCents())
		}
		if last := u.LastMaintenanceAt(); last == nil || last.Before(twoYearsAgo) {
			backlog++
		}
	}
	var concentration float64
	for _, rent := range rentByBuilding {
		concentration = max(concentration, ratio(rent, rentTotal))
	}
	backlogRatio := ratio(float64(backlog), float64(len(units)))

	score := clamp01(weightVacancy*vacancy + weightArrears*arrearsRatio +
		weightConcentration*concentration + weightBacklog*backlogRatio)
	level := RiskLow
	switch {
	case score >= 0.5:
		level = RiskHigh
	case score >= 0.25:
		level = RiskMedium
	}

	var conf float64
	if len(units) > 0 {
		conf = 0.8
		if billed == 0 {
			conf = 0.5
		}
	}

	f := newFormatter(in.Data.Agency)
	return &Result{
		Output: map[string]any{
			"score": round2(score),
			"level": level,
			"factors": map[string]any{
				"vacancy_rate":        round2(vacancy),
				"arrears_ratio":       round2(arrearsRatio),
				"rent_concentration":  round2(concentration),
				"maintenance_backlog": round2(backlogRatio),
			},
			"arrears_amount": centsToUnits(arrears),
		},
		Confidence: confidence(conf),
		Summary:    fmt.Sprintf("Portfolio risk is %s (score %s) with %s in arrears.", level, f.Percent(score), f.Money(arrears)),
	}, nil
}
