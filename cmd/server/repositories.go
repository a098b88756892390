package main

import (
	"github.com/agencyhub/api/internal/infra/postgres"
	"github.com/agencyhub/api/internal/tenancy"
	"github.com/agencyhub/api/pkg/logger"
)

// Repositories holds all repository instances.
type Repositories struct {
	Agency    *postgres.AgencyRepository
	Analysis  *postgres.AnalysisJobRepository
	Audit     *postgres.AuditRepository
	Buildings *postgres.BuildingRepository
	Units     *postgres.UnitRepository
	Invoices  *postgres.InvoiceRepository
}

// NewRepositories builds the repositories around one shared tenancy filter.
// The filter's audit sink is wired once the audit service exists.
func NewRepositories(db *postgres.DB, log *logger.Logger) (*Repositories, *tenancy.Filter) {
	filter := tenancy.NewFilter(nil, log)
	return &Repositories{
		Agency:    postgres.NewAgencyRepository(db, filter),
		Analysis:  postgres.NewAnalysisJobRepository(db, filter),
		Audit:     postgres.NewAuditRepository(db, filter),
		Buildings: postgres.NewBuildingRepository(db, filter),
		Units:     postgres.NewUnitRepository(db, filter),
		Invoices:  postgres.NewInvoiceRepository(db, filter),
	}, filter
}
