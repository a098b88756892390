package analyzer

import (
	"math"
	"sort"
	"time"

	"github.com/agencyhub/api/pkg/domain/invoice"
	"github.com/agencyhub/api/pkg/domain/property"
	"github.com/agencyhub/api/pkg/domain/shared"
)

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

func ratio(n, d float64) float64 {
	if d == 0 {
		return 0
	}
	return n / d
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func confidence(v float64) *float64 {
	c := round2(clamp01(v))
	return &c
}

func monthStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// monthlyBilled sums non-void invoice amounts per calendar month for the
// months complete months before now, oldest first.
func monthlyBilled(invoices []*invoice.Invoice, now time.Time, months int) []float64 {
	end := monthStart(now)
	start := end.AddDate(0, -months, 0)

	series := make([]float64, months)
	for _, inv := range invoices {
		if inv.Status() == invoice.StatusVoid {
			continue
		}
		issued := inv.IssuedAt().UTC()
		if issued.Before(start) || !issued.Before(end) {
			continue
		}
		idx := (issued.Year()-start.Year())*12 + int(issued.Month()) - int(start.Month())
		series[idx] += float64(inv.AmountCents())
	}
	return series
}

// activeMonths counts entries of series with any billing.
func activeMonths(series []float64) int {
	n := 0
	for _, v := range series {
		if v > 0 {
			n++
		}
	}
	return n
}

// averageGrowth returns the mean month-over-month growth rate between
// consecutive non-zero months.
func averageGrowth(series []float64) float64 {
	var sum float64
	var n int
	for i := 1; i < len(series); i++ {
		if series[i-1] <= 0 || series[i] <= 0 {
			continue
		}
		sum += series[i]/series[i-1] - 1
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

func median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	s := append([]float64(nil), values...)
	sort.Float64s(s)
	mid := len(s) / 2
	if len(s)%2 == 0 {
		return (s[mid-1] + s[mid]) / 2
	}
	return s[mid]
}

func unitsByBuilding(units []*property.Unit) map[shared.ID][]*property.Unit {
	out := make(map[shared.ID][]*property.Unit)
	for _, u := range units {
		out[u.BuildingID()] = append(out[u.BuildingID()], u)
	}
	return out
}

func occupancy(units []*property.Unit) float64 {
	occupied := 0
	for _, u := range units {
		if u.IsOccupied() {
			occupied++
		}
	}
	return ratio(float64(occupied), float64(len(units)))
}

func centsToUnits(cents float64) float64 {
	return round2(cents / 100)
}
