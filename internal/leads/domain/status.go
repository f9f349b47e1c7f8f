// Package domain provides core business rules for the leads bounded context.
package domain

import "strings"

// Status is the closed set of lead statuses. Call progress is tracked on the same field.
type Status string

const (
	StatusUntouched     Status = "Untouched"
	StatusHPL           Status = "HPL"
	StatusMPL           Status = "MPL"
	StatusLPL           Status = "LPL"
	StatusUL            Status = "UL"
	StatusConnecting    Status = "Connecting"
	StatusInCall        Status = "InCall"
	StatusCallCompleted Status = "CallCompleted"
	StatusCallFailed    Status = "CallFailed"
	StatusCustomer      Status = "Customer"
	StatusTicket        Status = "Ticket"
)

var allStatuses = []Status{
	StatusUntouched, StatusHPL, StatusMPL, StatusLPL, StatusUL,
	StatusConnecting, StatusInCall, StatusCallCompleted, StatusCallFailed,
	StatusCustomer, StatusTicket,
}

// legacyStatusLabels are free-form labels found in older lead records.
var legacyStatusLabels = map[string]Status{
	"in call":         StatusInCall,
	"call connecting": StatusConnecting,
	"call completed":  StatusCallCompleted,
	"call failed":     StatusCallFailed,
}

// ParseStatus accepts a canonical status or a legacy label.
func ParseStatus(value string) (Status, bool) {
	trimmed := strings.TrimSpace(value)
	for _, s := range allStatuses {
		if strings.EqualFold(trimmed, string(s)) {
			return s, true
		}
	}
	s, ok := legacyStatusLabels[strings.ToLower(trimmed)]
	return s, ok
}

// Statuses returns every valid status in display order.
func Statuses() []Status {
	out := make([]Status, len(allStatuses))
	copy(out, allStatuses)
	return out
}

// IsCallActive reports whether a call attempt is in flight.
func (s Status) IsCallActive() bool {
	return s == StatusConnecting || s == StatusInCall
}

// IsCallTerminal reports whether the last call attempt has finished.
func (s Status) IsCallTerminal() bool {
	return s == StatusCallCompleted || s == StatusCallFailed
}

// Source is where a lead came from.
type Source string

const (
	SourceMeta    Source = "Meta"
	SourceInbound Source = "Inbound"
	SourceManual  Source = "Manual"
	SourceOther   Source = "Other"
)

// ParseSource validates a lead source, case-insensitively.
func ParseSource(value string) (Source, bool) {
	trimmed := strings.TrimSpace(value)
	for _, s := range []Source{SourceMeta, SourceInbound, SourceManual, SourceOther} {
		if strings.EqualFold(trimmed, string(s)) {
			return s, true
		}
	}
	return "", false
}
