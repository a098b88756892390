package app

import (
	"context"

	"github.com/agencyhub/api/internal/tenancy"
	"github.com/agencyhub/api/pkg/domain/agency"
	"github.com/agencyhub/api/pkg/domain/shared"
	"github.com/agencyhub/api/pkg/logger"
)

// ErrUnrestrictedOnly is returned to principals that may not manage agencies.
var ErrUnrestrictedOnly = shared.NewDomainError("UNRESTRICTED_ONLY", "only platform administrators can manage agencies", shared.ErrForbidden)

// AgencyService manages agencies.
type AgencyService struct {
	repo   agency.Repository
	logger *logger.Logger
}

// NewAgencyService creates a new AgencyService.
func NewAgencyService(repo agency.Repository, log *logger.Logger) *AgencyService {
	return &AgencyService{
		repo:   repo,
		logger: log.With("service", "agency"),
	}
}

// CreateAgencyInput creates an agency.
type CreateAgencyInput struct {
	Name     string `json:"name" yaml:"name" validate:"required,max=200"`
	Slug     string `json:"slug" yaml:"slug" validate:"required,max=80,slug"`
	Currency string `json:"currency" yaml:"currency" validate:"omitempty,currency"`
	Locale   string `json:"locale" yaml:"locale" validate:"omitempty,max=10"`
}

// CreateAgency creates an agency. Unrestricted principals only.
func (s *AgencyService) CreateAgency(ctx context.Context, in CreateAgencyInput) (*agency.Agency, error) {
	if tenancy.ScopeFor(ctx).Kind() != tenancy.ScopeAll {
		return nil, ErrUnrestrictedOnly
	}

	a, err := agency.NewAgency(in.Name, in.Slug, in.Currency, in.Locale)
	if err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, a); err != nil {
		return nil, err
	}

	s.logger.Info(logger.AuditPrefix+" agency created", "agency_id", a.ID().String(), "slug", a.Slug())
	return a, nil
}

// Current returns the agency of the caller's scope.
func (s *AgencyService) Current(ctx context.Context) (*agency.Agency, error) {
	scope := tenancy.ScopeFor(ctx)
	if scope.AgencyID().IsZero() {
		return nil, shared.ErrNotFound
	}
	return s.repo.GetByID(ctx, scope.AgencyID())
}

// ActiveAgencyIDs lists active agencies. Background use only.
func (s *AgencyService) ActiveAgencyIDs(ctx context.Context) ([]shared.ID, error) {
	return s.repo.ListActiveIDs(ctx)
}
