package analyzer

import (
	"time"

	"github.com/agencyhub/api/pkg/domain/agency"
	"github.com/agencyhub/api/pkg/domain/invoice"
	"github.com/agencyhub/api/pkg/domain/property"
	"github.com/agencyhub/api/pkg/domain/shared"
)

var testNow = time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)

type portfolio struct {
	agency    *agency.Agency
	mill      *property.Building
	glass     *property.Building
	a1, a2    *property.Unit
	b1        *property.Unit
	snapshot  *Snapshot
	agencyID  shared.ID
	createdAt time.Time
}

func days(n int) time.Duration { return time.Duration(n) * 24 * time.Hour }

func timePtr(t time.Time) *time.Time { return &t }

func newPortfolio() *portfolio {
	p := &portfolio{agencyID: shared.NewID(), createdAt: testNow.AddDate(-3, 0, 0)}
	p.agency = agency.Reconstitute(p.agencyID, "Acme Lettings", "acme", "EUR", "en", true, p.createdAt)
	p.mill = property.ReconstituteBuilding(shared.NewID(), p.agencyID, "Old Mill", "1 Canal St", "Lyon", 1970, p.createdAt, p.createdAt)
	p.glass = property.ReconstituteBuilding(shared.NewID(), p.agencyID, "Glass House", "9 Rue Neuve", "Paris", 2010, p.createdAt, p.createdAt)

	p.a1 = property.ReconstituteUnit(property.UnitState{
		ID: shared.NewID(), AgencyID: p.agencyID, BuildingID: p.mill.ID(), Label: "A1",
		AreaSqm: 50, Bedrooms: 2, MonthlyRentCents: 100000, Occupied: true,
		LeaseEndsAt: timePtr(testNow.Add(days(30))), CreatedAt: p.createdAt, UpdatedAt: p.createdAt,
	})
	p.a2 = property.ReconstituteUnit(property.UnitState{
		ID: shared.NewID(), AgencyID: p.agencyID, BuildingID: p.mill.ID(), Label: "A2",
		AreaSqm: 40, Bedrooms: 1, MonthlyRentCents: 80000, CreatedAt: p.createdAt, UpdatedAt: p.createdAt,
	})
	p.b1 = property.ReconstituteUnit(property.UnitState{
		ID: shared.NewID(), AgencyID: p.agencyID, BuildingID: p.glass.ID(), Label: "B1",
		AreaSqm: 60, Bedrooms: 3, MonthlyRentCents: 150000, Occupied: true,
		LeaseEndsAt: timePtr(testNow.Add(days(200))), LastMaintenanceAt: timePtr(testNow.Add(-days(30))),
		CreatedAt: p.createdAt, UpdatedAt: p.createdAt,
	})

	p.snapshot = &Snapshot{
		Agency:    p.agency,
		Buildings: []*property.Building{p.mill, p.glass},
		Units:     []*property.Unit{p.a1, p.a2, p.b1},
	}
	return p
}

func (p *portfolio) invoice(unit *property.Unit, amount int64, status invoice.Status, due time.Time, paid *time.Time) *invoice.Invoice {
	inv := invoice.Reconstitute(shared.NewID(), p.agencyID, unit.ID(), amount, "EUR", status, due.Add(-days(14)), due, paid)
	p.snapshot.Invoices = append(p.snapshot.Invoices, inv)
	return inv
}

func (p *portfolio) input(params map[string]any) Input {
	return Input{AgencyID: p.agencyID, Params: params, Data: p.snapshot, Now: testNow}
}
