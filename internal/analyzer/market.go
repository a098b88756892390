package analyzer

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/agencyhub/api/pkg/domain/analysis"
	"github.com/agencyhub/api/pkg/domain/invoice"
	"github.com/agencyhub/api/pkg/domain/shared"
)

// flatTrend is the growth band reported as "flat".
const flatTrend = 0.01

// MarketTrends reports billing growth and rent levels per city.
type MarketTrends struct{}

func (MarketTrends) Kind() analysis.Kind { return analysis.KindMarketTrends }

func (MarketTrends) Analyze(_ context.Context, in Input) (*Result, error) {
	months, err := intParam(in.Params, "months", 12, 3, 24)
	if err != nil {
		return nil, err
	}

	series := monthlyBilled(in.Data.Invoices, in.Now, months)
	growth := averageGrowth(series)
	trend := "flat"
	switch {
	case growth > flatTrend:
		trend = "rising"
	case growth < -flatTrend:
		trend = "falling"
	}

	cityOf := make(map[shared.ID]string, len(in.Data.Buildings))
	for _, b := range in.Data.Buildings {
		cityOf[b.ID()] = b.City()
	}
	type cityAgg struct {
		units int
		sum   float64
	}
	cities := make(map[string]*cityAgg)
	for _, u := range in.Data.Units {
		if u.AreaSqm() <= 0 || u.MonthlyRentCents() == 0 {
			continue
		}
		city := cityOf[u.BuildingID()]
		if city == "" {
			city = "unknown"
		}
		agg, ok := cities[city]
		if !ok {
			agg = &cityAgg{}
			cities[city] = agg
		}
		agg.units++
		agg.sum += u.RentPerSqm()
	}

	byCity := make([]map[string]any, 0, len(cities))
	for city, agg := range cities {
		byCity = append(byCity, map[string]any{
			"city":             city,
			"units":            agg.units,
			"avg_rent_per_sqm": centsToUnits(agg.sum / float64(agg.units)),
		})
	}
	sort.Slice(byCity, func(i, j int) bool { return byCity[i]["city"].(string) < byCity[j]["city"].(string) })

	billed := make([]float64, len(series))
	for i, v := range series {
		billed[i] = centsToUnits(v)
	}

	f := newFormatter(in.Data.Agency)
	return &Result{
		Output: map[string]any{
			"months":                 months,
			"monthly_billed":         billed,
			"average_monthly_growth": math.Round(growth*10000) / 10000,
			"trend":                  trend,
			"rent_per_sqm_by_city":   byCity,
		},
		Confidence: confidence(ratio(float64(activeMonths(series)), float64(months)) * 0.9),
		Summary:    fmt.Sprintf("Billing is %s at %s per month over the last %d months.", trend, f.Percent(growth), months),
	}, nil
}

// FinancialForecast projects billed and collected revenue.
type FinancialForecast struct{}

func (FinancialForecast) Kind() analysis.Kind { return analysis.KindFinancialForecast }

func (FinancialForecast) Analyze(_ context.Context, in Input) (*Result, error) {
	horizon, err := intParam(in.Params, "horizon_months", 6, 1, 24)
	if err != nil {
		return nil, err
	}

	history := monthlyBilled(in.Data.Invoices, in.Now, 12)
	baseline := recentAverage(history, 3)
	if baseline == 0 {
		return &Result{
			Output:  map[string]any{"insufficient_data": true, "horizon_months": horizon},
			Summary: "Not enough billing history to forecast.",
		}, nil
	}

	growth := math.Max(-0.2, math.Min(0.2, averageGrowth(history)))
	collection := collectionRate(in.Data.Invoices, in.Now)

	start := monthStart(in.Now)
	forecast := make([]map[string]any, 0, horizon)
	var total float64
	for i := 1; i <= horizon; i++ {
		billed := baseline * math.Pow(1+growth, float64(i))
		total += billed * collection
		forecast = append(forecast, map[string]any{
			"month":              start.AddDate(0, i-1, 0).Format("2006-01"),
			"billed":             centsToUnits(billed),
			"expected_collected": centsToUnits(billed * collection),
		})
	}

	conf := ratio(float64(activeMonths(history)), 12) * 0.85 * (1 - 0.02*float64(horizon))
	f := newFormatter(in.Data.Agency)
	return &Result{
		Output: map[string]any{
			"horizon_months":    horizon,
			"baseline_monthly":  centsToUnits(baseline),
			"growth_rate":       math.Round(growth*10000) / 10000,
			"collection_rate":   round2(collection),
			"forecast":          forecast,
			"expected_total":    centsToUnits(total),
			"insufficient_data": false,
		},
		Confidence: confidence(conf),
		Summary:    fmt.Sprintf("Expected collections of %s over the next %d months.", f.Money(total), horizon),
	}, nil
}

// recentAverage averages the last n non-zero months.
func recentAverage(series []float64, n int) float64 {
	var sum float64
	count := 0
	for i := len(series) - 1; i >= 0 && count < n; i-- {
		if series[i] > 0 {
			sum += series[i]
			count++
		}
	}
	return ratio(sum, float64(count))
}

// collectionRate is the share of due, non-void billing that was paid.
// Without due invoices it is 1.
func collectionRate(invoices []*invoice.Invoice, now time.Time) float64 {
	var due, paid float64
	for _, inv := range invoices {
		if inv.Status() == invoice.StatusVoid || inv.DueAt().After(now) {
			continue
		}
		due += float64(inv.AmountCents())
		if inv.Status() == invoice.StatusPaid {
			paid += float64(inv.AmountCents())
		}
	}
	if due == 0 {
		return 1
	}
	return paid / due
}
