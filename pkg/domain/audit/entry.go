// Package audit provides the audit trail of security relevant actions.
package audit

import (
	"time"

	"github.com/agencyhub/api/pkg/domain/shared"
)

// Action is what happened.
type Action string

const (
	ActionCrossTenantBlocked Action = "tenancy.cross_tenant_blocked"
	ActionAnalysisSubmitted  Action = "analysis.submitted"
	ActionAnalysisFailed     Action = "analysis.failed"
	ActionBuildingDeleted    Action = "building.deleted"
)

// Severity of an entry.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// SeverityFor returns the default severity of an action.
func SeverityFor(a Action) Severity {
	switch a {
	case ActionCrossTenantBlocked:
		return SeverityCritical
	case ActionBuildingDeleted, ActionAnalysisFailed:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// Entry is one audit record. AgencyID is the agency the entry is visible to,
// which for blocked cross-tenant writes is the acting principal's agency.
type Entry struct {
	id               shared.ID
	agencyID         shared.ID
	actorID          shared.ID
	action           Action
	severity         Severity
	resourceType     string
	resourceID       shared.ID
	resourceAgencyID shared.ID
	message          string
	requestID        string
	createdAt        time.Time
}

// NewEntry creates an entry for an action on a resource.
func NewEntry(agencyID shared.ID, action Action, resourceType string, resourceID shared.ID) *Entry {
	return &Entry{
		id:           shared.NewID(),
		agencyID:     agencyID,
		action:       action,
		severity:     SeverityFor(action),
		resourceType: resourceType,
		resourceID:   resourceID,
		createdAt:    time.Now().UTC(),
	}
}

// EntryState is the persisted form of an Entry.
type EntryState struct {
	ID               shared.ID
	AgencyID         shared.ID
	ActorID          shared.ID
	Action           Action
	Severity         Severity
	ResourceType     string
	ResourceID       shared.ID
	ResourceAgencyID shared.ID
	Message          string
	RequestID        string
	CreatedAt        time.Time
}

// Reconstitute rebuilds an Entry from storage.
func Reconstitute(s EntryState) *Entry {
	return &Entry{
		id:               s.ID,
		agencyID:         s.AgencyID,
		actorID:          s.ActorID,
		action:           s.Action,
		severity:         s.Severity,
		resourceType:     s.ResourceType,
		resourceID:       s.ResourceID,
		resourceAgencyID: s.ResourceAgencyID,
		message:          s.Message,
		requestID:        s.RequestID,
		createdAt:        s.CreatedAt,
	}
}

func (e *Entry) ID() shared.ID               { return e.id }
func (e *Entry) AgencyID() shared.ID         { return e.agencyID }
func (e *Entry) ActorID() shared.ID          { return e.actorID }
func (e *Entry) Action() Action              { return e.action }
func (e *Entry) Severity() Severity          { return e.severity }
func (e *Entry) ResourceType() string        { return e.resourceType }
func (e *Entry) ResourceID() shared.ID       { return e.resourceID }
func (e *Entry) ResourceAgencyID() shared.ID { return e.resourceAgencyID }
func (e *Entry) Message() string             { return e.message }
func (e *Entry) RequestID() string           { return e.requestID }
func (e *Entry) CreatedAt() time.Time        { return e.createdAt }

// WithActor sets the acting user.
func (e *Entry) WithActor(actorID shared.ID) *Entry {
	e.actorID = actorID
	return e
}

// WithResourceAgency records the agency owning the resource.
func (e *Entry) WithResourceAgency(agencyID shared.ID) *Entry {
	e.resourceAgencyID = agencyID
	return e
}

// WithMessage sets a human readable message.
func (e *Entry) WithMessage(msg string) *Entry {
	e.message = msg
	return e
}

// WithRequestID links the entry to an HTTP request.
func (e *Entry) WithRequestID(id string) *Entry {
	e.requestID = id
	return e
}

// IsCrossAgency reports whether the resource belongs to another agency.
func (e *Entry) IsCrossAgency() bool {
	return !e.resourceAgencyID.IsZero() && !e.resourceAgencyID.Equals(e.agencyID)
}
