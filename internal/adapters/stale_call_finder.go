package adapters

import (
	"context"
	"fmt"
	"time"

	leadrepo "crm_backend/internal/leads/repository"
	"crm_backend/internal/scheduler"
)

// LeadCallReader is the slice of lead storage the stale call finder needs.
type LeadCallReader interface {
	ListStaleCalls(ctx context.Context, before time.Time, limit int) ([]leadrepo.Lead, error)
}

// StaleCallFinder adapts the leads repository for the scheduler's stale call sweep,
// satisfying scheduler.StaleCallFinder.
type StaleCallFinder struct {
	repo LeadCallReader
}

// NewStaleCallFinder creates a new stale call finder adapter.
func NewStaleCallFinder(repo LeadCallReader) *StaleCallFinder {
	return &StaleCallFinder{repo: repo}
}

// ListStaleCalls returns the current call of every lead stuck in an active call.
func (a *StaleCallFinder) ListStaleCalls(ctx context.Context, before time.Time, limit int) ([]scheduler.StaleCall, error) {
	leads, err := a.repo.ListStaleCalls(ctx, before, limit)
	if err != nil {
		return nil, fmt.Errorf("stale call adapter: %w", err)
	}

	calls := make([]scheduler.StaleCall, 0, len(leads))
	for _, lead := range leads {
		if lead.CurrentCallID == nil || *lead.CurrentCallID == "" {
			continue
		}
		calls = append(calls, scheduler.StaleCall{LeadID: lead.ID, CallID: *lead.CurrentCallID})
	}
	return calls, nil
}

var _ scheduler.StaleCallFinder = (*StaleCallFinder)(nil)
