package repository

import (
	"time"

	"github.com/google/uuid"

	"crm_backend/internal/leads/domain"
)

type Lead struct {
	ID            uuid.UUID
	Name          string
	Email         string
	Phone         string
	Company       string
	Title         string
	Source        domain.Source
	Status        domain.Status
	ValueCents    int64
	Notes         string
	CurrentCallID *string
	// CurrentCallStartedAt is when the provider accepted the current call.
	CurrentCallStartedAt *time.Time
	// LastCallAt is the time of the most recent call log entry.
	LastCallAt *time.Time
	// UnconfirmedCallAt is set when an initiation ended without knowing
	// whether the provider placed the call.
	UnconfirmedCallAt *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// CallLogEntry is one append-only record of a lead's call history.
type CallLogEntry struct {
	ID          int64
	LeadID      uuid.UUID
	CallID      string
	EventKind   string
	Notes       string
	ErrorDetail []byte
	Metadata    []byte
	CreatedAt   time.Time
}

type CreateLeadParams struct {
	Name       string
	Email      string
	Phone      string
	Company    string
	Title      string
	Source     domain.Source
	Status     domain.Status
	ValueCents int64
	Notes      string
}

// UpdateLeadParams holds optional changes. Nil fields are left untouched.
type UpdateLeadParams struct {
	ID         uuid.UUID
	Name       *string
	Email      *string
	Phone      *string
	Company    *string
	Title      *string
	Source     *domain.Source
	Status     *domain.Status
	ValueCents *int64
	Notes      *string
}

type ListParams struct {
	Status string
	Source string
	Search string
	Offset int
	Limit  int
}

type AppendCallLogParams struct {
	LeadID      uuid.UUID
	CallID      string
	EventKind   string
	Notes       string
	ErrorDetail []byte
	Metadata    []byte
}

// CallChange is the update a CallTransition asks for.
type CallChange struct {
	Status domain.Status
	// AdoptCall makes the event's call the lead's current call and clears
	// the unconfirmed marker.
	AdoptCall bool
}

// CallTransition decides what happens to a locked lead after a call event.
// Returning false leaves the lead untouched apart from last_call_at.
type CallTransition func(lead Lead) (CallChange, bool)

// CallEventResult describes what ApplyCallEvent did.
type CallEventResult struct {
	Lead     Lead
	Entry    CallLogEntry
	Previous domain.Status
	Changed  bool
	Adopted  bool
}
