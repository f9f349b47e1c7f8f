package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"crm_backend/internal/calls/idempotency"
	"crm_backend/internal/calls/retell"
	"crm_backend/internal/events"
	leadrepo "crm_backend/internal/leads/repository"
)

type memoryLeads struct {
	mu    sync.Mutex
	leads map[uuid.UUID]leadrepo.Lead
	logs  map[uuid.UUID][]leadrepo.CallLogEntry
	seq   int64
	clock time.Time

	// failConnecting makes the next n MarkCallConnecting calls fail.
	failConnecting  int
	connectingTries int
}

func newMemoryLeads(initial ...leadrepo.Lead) *memoryLeads {
	m := &memoryLeads{leads: map[uuid.UUID]leadrepo.Lead{}, logs: map[uuid.UUID][]leadrepo.CallLogEntry{}}
	for _, l := range initial {
		m.leads[l.ID] = l
	}
	return m
}

func (m *memoryLeads) GetByID(_ context.Context, id uuid.UUID) (leadrepo.Lead, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	lead, ok := m.leads[id]
	if !ok {
		return leadrepo.Lead{}, leadrepo.ErrNotFound
	}
	return lead, nil
}

func (m *memoryLeads) MarkCallConnecting(_ context.Context, leadID uuid.UUID, callID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connectingTries++
	if m.failConnecting > 0 {
		m.failConnecting--
		return errors.New("connection refused")
	}
	lead, ok := m.leads[leadID]
	if !ok {
		return leadrepo.ErrNotFound
	}
	lead.Status = "Connecting"
	lead.CurrentCallID = &callID
	lead.CurrentCallStartedAt = &at
	if lead.LastCallAt == nil || at.After(*lead.LastCallAt) {
		lead.LastCallAt = &at
	}
	lead.UnconfirmedCallAt = nil
	m.leads[leadID] = lead
	return nil
}

func (m *memoryLeads) MarkCallUnconfirmed(_ context.Context, leadID uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	lead, ok := m.leads[leadID]
	if !ok {
		return leadrepo.ErrNotFound
	}
	lead.UnconfirmedCallAt = &at
	m.leads[leadID] = lead
	return nil
}

func (m *memoryLeads) AppendCallLog(_ context.Context, params leadrepo.AppendCallLogParams) (leadrepo.CallLogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.leads[params.LeadID]; !ok {
		return leadrepo.CallLogEntry{}, leadrepo.ErrNotFound
	}
	return m.appendLocked(params), nil
}

func (m *memoryLeads) ApplyCallEvent(_ context.Context, entry leadrepo.AppendCallLogParams, transition leadrepo.CallTransition) (leadrepo.CallEventResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	lead, ok := m.leads[entry.LeadID]
	if !ok {
		return leadrepo.CallEventResult{}, leadrepo.ErrNotFound
	}
	logEntry := m.appendLocked(entry)
	lead = m.leads[entry.LeadID]
	result := leadrepo.CallEventResult{Lead: lead, Entry: logEntry, Previous: lead.Status}
	if change, ok := transition(lead); ok && (change.AdoptCall || change.Status != lead.Status) {
		result.Changed = change.Status != lead.Status
		result.Adopted = change.AdoptCall
		lead.Status = change.Status
		if change.AdoptCall {
			callID := entry.CallID
			lead.CurrentCallID = &callID
			lead.CurrentCallStartedAt = lead.UnconfirmedCallAt
			lead.UnconfirmedCallAt = nil
		}
		m.leads[lead.ID] = lead
		result.Lead = lead
	}
	return result, nil
}

// appendLocked mirrors the repository: every entry moves last_call_at.
func (m *memoryLeads) appendLocked(params leadrepo.AppendCallLogParams) leadrepo.CallLogEntry {
	m.seq++
	createdAt := m.clock
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	if lead, ok := m.leads[params.LeadID]; ok {
		lead.LastCallAt = &createdAt
		m.leads[params.LeadID] = lead
	}
	entry := leadrepo.CallLogEntry{
		CreatedAt:   createdAt,
		ID:          m.seq,
		LeadID:      params.LeadID,
		CallID:      params.CallID,
		EventKind:   params.EventKind,
		Notes:       params.Notes,
		ErrorDetail: params.ErrorDetail,
		Metadata:    params.Metadata,
	}
	m.logs[params.LeadID] = append(m.logs[params.LeadID], entry)
	return entry
}

func (m *memoryLeads) lead(id uuid.UUID) leadrepo.Lead {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.leads[id]
}

func (m *memoryLeads) kinds(id uuid.UUID) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.logs[id]))
	for _, e := range m.logs[id] {
		out = append(out, e.EventKind)
	}
	return out
}

func (m *memoryLeads) entries(id uuid.UUID) []leadrepo.CallLogEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]leadrepo.CallLogEntry(nil), m.logs[id]...)
}

type fakeProvider struct {
	mu     sync.Mutex
	calls  int
	nextID string
	err    error
	last   retell.CreateCallRequest
}

func (p *fakeProvider) CreatePhoneCall(_ context.Context, req retell.CreateCallRequest) (retell.Call, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	p.last = req
	if p.err != nil {
		return retell.Call{}, p.err
	}
	return retell.Call{CallID: p.nextID}, nil
}

type scheduledExpiry struct {
	leadID uuid.UUID
	callID string
	runAt  time.Time
}

type fakeScheduler struct {
	scheduled []scheduledExpiry
}

func (f *fakeScheduler) ScheduleCallExpiry(_ context.Context, leadID uuid.UUID, callID string, runAt time.Time) error {
	f.scheduled = append(f.scheduled, scheduledExpiry{leadID: leadID, callID: callID, runAt: runAt})
	return nil
}

type memoryIdempotency struct {
	mu      sync.Mutex
	pending map[string]bool
	done    map[string]idempotency.Result
}

func newMemoryIdempotency() *memoryIdempotency {
	return &memoryIdempotency{pending: map[string]bool{}, done: map[string]idempotency.Result{}}
}

func (m *memoryIdempotency) Reserve(_ context.Context, key string) (idempotency.Result, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.done[key]; ok {
		return r, true, nil
	}
	if m.pending[key] {
		return idempotency.Result{}, false, idempotency.ErrInFlight
	}
	m.pending[key] = true
	return idempotency.Result{}, false, nil
}

func (m *memoryIdempotency) Complete(_ context.Context, key string, result idempotency.Result) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pending, key)
	m.done[key] = result
	return nil
}

func (m *memoryIdempotency) Release(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pending, key)
	return nil
}

type recordingBus struct {
	mu        sync.Mutex
	published []events.Event
}

func (b *recordingBus) Publish(_ context.Context, event events.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, event)
}

func (b *recordingBus) PublishSync(ctx context.Context, event events.Event) error {
	b.Publish(ctx, event)
	return nil
}

func (b *recordingBus) Subscribe(string, events.Handler) {}

func (b *recordingBus) count(name string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, e := range b.published {
		if e.EventName() == name {
			n++
		}
	}
	return n
}
