// Package domain holds the call lifecycle rules.
package domain

import (
	"strings"

	leads "crm_backend/internal/leads/domain"
)

// EventKind is a normalized call lifecycle event.
type EventKind string

const (
	EventInitiated  EventKind = "call_initiated"
	EventConnecting EventKind = "call_connecting"
	EventStarted    EventKind = "call_started"
	EventAnswered   EventKind = "call_answered"
	EventEnded      EventKind = "call_ended"
	EventCompleted  EventKind = "call_completed"
	EventFailed     EventKind = "call_failed"
	EventExpired    EventKind = "call_expired"
	EventAnalyzed   EventKind = "call_analyzed"
	EventUnknown    EventKind = "unknown"
)

var knownKinds = []EventKind{
	EventInitiated, EventConnecting, EventStarted, EventAnswered, EventEnded,
	EventCompleted, EventFailed, EventExpired, EventAnalyzed,
}

// ParseEventKind maps a provider label such as "call_ended", "ended" or "Call-Ended"
// to a known kind, or EventUnknown.
func ParseEventKind(raw string) EventKind {
	label := strings.ToLower(strings.TrimSpace(raw))
	label = strings.NewReplacer("-", "_", " ", "_").Replace(label)
	if label == "" {
		return EventUnknown
	}
	if !strings.HasPrefix(label, "call_") {
		label = "call_" + label
	}
	for _, kind := range knownKinds {
		if string(kind) == label {
			return kind
		}
	}
	return EventUnknown
}

// Known reports whether the kind is part of the lifecycle vocabulary.
func (k EventKind) Known() bool {
	return k != EventUnknown && k != ""
}

// NextStatus returns the lead status after kind is applied to a lead in status current.
// Only an active call moves; terminal and non-call statuses never change here, which
// keeps duplicate and out-of-order deliveries harmless.
func NextStatus(current leads.Status, kind EventKind) (leads.Status, bool) {
	if !current.IsCallActive() {
		return current, false
	}

	next := current
	switch kind {
	case EventStarted, EventAnswered:
		next = leads.StatusInCall
	case EventEnded, EventCompleted:
		next = leads.StatusCallCompleted
	case EventFailed, EventExpired:
		next = leads.StatusCallFailed
	}
	return next, next != current
}
