// Package agency provides the Agency entity, the unit of tenant isolation.
package agency

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/agencyhub/api/pkg/domain/shared"
)

var slugPattern = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)

// Agency is a real-estate agency. Every scoped record belongs to one.
type Agency struct {
	id        shared.ID
	name      string
	slug      string
	currency  string
	locale    string
	active    bool
	createdAt time.Time
}

// NewAgency creates an active agency.
func NewAgency(name, slug, currency, locale string) (*Agency, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, shared.NewDomainError("VALIDATION", "agency name is required", shared.ErrValidation)
	}
	if !slugPattern.MatchString(slug) {
		return nil, shared.NewDomainError("VALIDATION", "agency slug must be lowercase words separated by dashes", shared.ErrValidation)
	}
	if currency == "" {
		currency = "EUR"
	}
	if locale == "" {
		locale = "en"
	}
	return &Agency{
		id:        shared.NewID(),
		name:      name,
		slug:      slug,
		currency:  strings.ToUpper(currency),
		locale:    locale,
		active:    true,
		createdAt: time.Now().UTC(),
	}, nil
}

// Reconstitute rebuilds an Agency from storage.
func Reconstitute(id shared.ID, name, slug, currency, locale string, active bool, createdAt time.Time) *Agency {
	return &Agency{
		id:        id,
		name:      name,
		slug:      slug,
		currency:  currency,
		locale:    locale,
		active:    active,
		createdAt: createdAt,
	}
}

func (a *Agency) ID() shared.ID        { return a.id }
func (a *Agency) Name() string         { return a.name }
func (a *Agency) Slug() string         { return a.slug }
func (a *Agency) Currency() string     { return a.currency }
func (a *Agency) Locale() string       { return a.locale }
func (a *Agency) IsActive() bool       { return a.active }
func (a *Agency) CreatedAt() time.Time { return a.createdAt }

// Deactivate stops scheduled work for the agency.
func (a *Agency) Deactivate() {
	a.active = false
}

// Repository persists agencies. Agencies are not scoped records; reads are
// still limited to the caller's own agency unless the caller is unrestricted.
type Repository interface {
	Create(ctx context.Context, a *Agency) error
	GetByID(ctx context.Context, id shared.ID) (*Agency, error)

	// ListActiveIDs returns every active agency id. Background use only.
	ListActiveIDs(ctx context.Context) ([]shared.ID, error)
}
