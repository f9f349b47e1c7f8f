package service

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"testing"
	"time"

	"github.com/google/uuid"

	"crm_backend/internal/calls/domain"
	"crm_backend/internal/calls/retell"
	leads "crm_backend/internal/leads/domain"
	leadrepo "crm_backend/internal/leads/repository"
	"crm_backend/platform/apperr"
	"crm_backend/platform/logger"
)

const testPhone = "+15551234567"

type fixture struct {
	svc       *Service
	store     *memoryLeads
	provider  *fakeProvider
	scheduler *fakeScheduler
	idem      *memoryIdempotency
	bus       *recordingBus
	leadID    uuid.UUID
	now       time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	leadID := uuid.New()
	f := &fixture{
		store:     newMemoryLeads(leadrepo.Lead{ID: leadID, Name: "Ada", Status: leads.StatusHPL}),
		provider:  &fakeProvider{nextID: "call_1"},
		scheduler: &fakeScheduler{},
		idem:      newMemoryIdempotency(),
		bus:       &recordingBus{},
		leadID:    leadID,
		now:       time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	f.svc = New(f.store, f.provider, f.bus, Options{
		Idempotency: f.idem,
		Scheduler:   f.scheduler,
		CallExpiry:  15 * time.Minute,
	}, logger.New("test"))
	f.svc.now = func() time.Time { return f.now }
	f.svc.retryBackoff = time.Millisecond
	f.store.clock = f.now
	return f
}

func (f *fixture) event(kind, callID string) ProviderEvent {
	return ProviderEvent{CallID: callID, Kind: kind, LeadRef: f.leadID.String(), Metadata: []byte(fmt.Sprintf(`{"leadId":%q}`, f.leadID))}
}

func TestInitiateCallMarksConnecting(t *testing.T) {
	f := newFixture(t)

	result, err := f.svc.InitiateCall(context.Background(), f.leadID, testPhone, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	f.svc.Wait()

	if result.ID != "call_1" || result.Status != "initiated" || !result.Timestamp.Equal(f.now) {
		t.Fatalf("unexpected result %+v", result)
	}
	lead := f.store.lead(f.leadID)
	if lead.Status != leads.StatusConnecting || lead.CurrentCallID == nil || *lead.CurrentCallID != "call_1" {
		t.Fatalf("expected Connecting with current call, got %s / %v", lead.Status, lead.CurrentCallID)
	}
	if got := f.store.kinds(f.leadID); !reflect.DeepEqual(got, []string{"call_initiated"}) {
		t.Fatalf("expected call_initiated log entry, got %v", got)
	}
	if f.provider.last.Metadata["leadId"] != f.leadID.String() || f.provider.last.DynamicVariables["leadName"] != "Ada" {
		t.Fatalf("unexpected provider request %+v", f.provider.last)
	}
	if len(f.scheduler.scheduled) != 1 || !f.scheduler.scheduled[0].runAt.Equal(f.now.Add(15*time.Minute)) {
		t.Fatalf("expected expiry scheduled at +15m, got %+v", f.scheduler.scheduled)
	}
	if f.bus.count("calls.call.initiated") != 1 {
		t.Fatal("expected call initiated event")
	}
}

func TestInitiateCallRejectsInvalidPhone(t *testing.T) {
	f := newFixture(t)

	for _, number := range []string{"", "5551234567", "+0123", "+1555abc"} {
		_, err := f.svc.InitiateCall(context.Background(), f.leadID, number, "")
		if !apperr.HasCode(err, domain.CodeInvalidPhoneNumber) {
			t.Fatalf("expected INVALID_PHONE_NUMBER for %q, got %v", number, err)
		}
	}
	if f.provider.calls != 0 {
		t.Fatalf("provider must not be called, got %d calls", f.provider.calls)
	}
}

func TestInitiateCallUnknownLead(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.InitiateCall(context.Background(), uuid.New(), testPhone, "")
	if !apperr.HasCode(err, domain.CodeLeadNotFound) || !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("expected LEAD_NOT_FOUND, got %v", err)
	}
}

func TestInitiateCallProviderFailureKeepsStatus(t *testing.T) {
	f := newFixture(t)
	f.provider.err = &retell.StatusError{StatusCode: 500, Body: "boom"}

	_, err := f.svc.InitiateCall(context.Background(), f.leadID, testPhone, "")
	if !apperr.HasCode(err, domain.CodeCallInitiationFailed) || !apperr.Is(err, apperr.KindUpstream) {
		t.Fatalf("expected upstream CALL_INITIATION_FAILED, got %v", err)
	}
	f.svc.Wait()

	if f.store.lead(f.leadID).Status != leads.StatusHPL {
		t.Fatalf("status must be unchanged, got %s", f.store.lead(f.leadID).Status)
	}
	entries := f.store.entries(f.leadID)
	if len(entries) != 1 || entries[0].EventKind != "call_failed" || len(entries[0].ErrorDetail) == 0 {
		t.Fatalf("expected call_failed entry with error detail, got %+v", entries)
	}
	if len(f.scheduler.scheduled) != 0 {
		t.Fatal("no expiry should be scheduled for a failed initiation")
	}
}

func TestInitiateCallTimeoutMapsToGatewayTimeout(t *testing.T) {
	f := newFixture(t)
	f.provider.err = fmt.Errorf("retell request failed: %w", context.DeadlineExceeded)

	_, err := f.svc.InitiateCall(context.Background(), f.leadID, testPhone, "")
	if !apperr.Is(err, apperr.KindTimeout) {
		t.Fatalf("expected timeout kind, got %v", err)
	}
}

func TestInitiateCallReplaysIdempotentRequest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.svc.InitiateCall(ctx, f.leadID, testPhone, "key-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	f.provider.nextID = "call_2"
	second, err := f.svc.InitiateCall(ctx, f.leadID, testPhone, "key-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	f.svc.Wait()

	if f.provider.calls != 1 {
		t.Fatalf("expected one provider call, got %d", f.provider.calls)
	}
	if !second.Replayed || second.ID != first.ID {
		t.Fatalf("expected replay of %s, got %+v", first.ID, second)
	}
}

func TestInitiateCallInFlightKeyConflicts(t *testing.T) {
	f := newFixture(t)
	f.idem.pending[f.leadID.String()+":key-1"] = true

	_, err := f.svc.InitiateCall(context.Background(), f.leadID, testPhone, "key-1")
	if !apperr.HasCode(err, domain.CodeCallInProgress) || !apperr.Is(err, apperr.KindConflict) {
		t.Fatalf("expected CALL_IN_PROGRESS conflict, got %v", err)
	}
}

func TestInitiateCallRejectedCallReleasesKey(t *testing.T) {
	for _, cause := range []error{
		&retell.StatusError{StatusCode: 422, Body: "invalid number"},
		&retell.StatusError{StatusCode: 503, Body: "busy"},
		retell.ErrNotConfigured,
	} {
		t.Run(cause.Error(), func(t *testing.T) {
			f := newFixture(t)
			f.provider.err = cause

			_, _ = f.svc.InitiateCall(context.Background(), f.leadID, testPhone, "key-1")
			f.provider.err = nil
			if _, err := f.svc.InitiateCall(context.Background(), f.leadID, testPhone, "key-1"); err != nil {
				t.Fatalf("expected retry with same key to succeed, got %v", err)
			}
			f.svc.Wait()
			if f.provider.calls != 2 {
				t.Fatalf("expected a second dial, got %d", f.provider.calls)
			}
		})
	}
}

func TestInitiateCallUncertainFailureKeepsKey(t *testing.T) {
	for _, cause := range []error{
		fmt.Errorf("retell request failed: %w", context.DeadlineExceeded),
		errors.New("retell request failed: connection reset by peer"),
		&retell.StatusError{StatusCode: 502, Body: "bad gateway"},
	} {
		t.Run(cause.Error(), func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			f.provider.err = cause

			if _, err := f.svc.InitiateCall(ctx, f.leadID, testPhone, "key-1"); err == nil {
				t.Fatal("expected the first attempt to fail")
			}
			f.provider.err = nil
			_, err := f.svc.InitiateCall(ctx, f.leadID, testPhone, "key-1")
			if !apperr.HasCode(err, domain.CodeCallInitiationFailed) || !apperr.Is(err, apperr.KindTimeout) {
				t.Fatalf("expected replayed timeout, got %v", err)
			}
			f.svc.Wait()

			if f.provider.calls != 1 {
				t.Fatalf("a retry with the same key must not dial again, got %d dials", f.provider.calls)
			}
			lead := f.store.lead(f.leadID)
			if lead.UnconfirmedCallAt == nil || !lead.UnconfirmedCallAt.Equal(f.now) {
				t.Fatalf("expected unconfirmed marker, got %v", lead.UnconfirmedCallAt)
			}
			if lead.Status != leads.StatusHPL {
				t.Fatalf("status must be unchanged, got %s", lead.Status)
			}
		})
	}
}

func TestInitiateCallSucceedsWhenConnectingWriteFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.store.failConnecting = 2

	first, err := f.svc.InitiateCall(ctx, f.leadID, testPhone, "key-1")
	if err != nil {
		t.Fatalf("an accepted call must be reported, got %v", err)
	}
	f.provider.nextID = "call_2"
	second, err := f.svc.InitiateCall(ctx, f.leadID, testPhone, "key-1")
	if err != nil {
		t.Fatalf("unexpected error on retry: %v", err)
	}
	f.svc.Wait()

	if f.provider.calls != 1 {
		t.Fatalf("expected one dial, got %d", f.provider.calls)
	}
	if first.ID != "call_1" || !second.Replayed || second.ID != "call_1" {
		t.Fatalf("expected replay of call_1, got %+v then %+v", first, second)
	}
	lead := f.store.lead(f.leadID)
	if lead.Status != leads.StatusConnecting || lead.CurrentCallID == nil || *lead.CurrentCallID != "call_1" {
		t.Fatalf("expected the retried write to land, got %s / %v", lead.Status, lead.CurrentCallID)
	}
	if f.store.connectingTries != 3 {
		t.Fatalf("expected two failed writes and one retry success, got %d tries", f.store.connectingTries)
	}
	if len(f.scheduler.scheduled) != 1 || f.bus.count("calls.call.initiated") != 1 {
		t.Fatalf("expected expiry and event for the accepted call, got %d / %d", len(f.scheduler.scheduled), f.bus.count("calls.call.initiated"))
	}
}

func TestCallLogEntriesMoveLastCallAt(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.svc.InitiateCall(ctx, f.leadID, testPhone, ""); err != nil {
		t.Fatalf("initiate: %v", err)
	}
	f.svc.Wait()

	f.store.clock = f.now.Add(2 * time.Minute)
	if _, err := f.svc.HandleProviderEvent(ctx, f.event("call_analyzed", "call_1")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	lead := f.store.lead(f.leadID)
	if lead.LastCallAt == nil || !lead.LastCallAt.Equal(f.now.Add(2*time.Minute)) {
		t.Fatalf("expected last_call_at to follow the log-only entry, got %v", lead.LastCallAt)
	}
	if lead.CurrentCallStartedAt == nil || !lead.CurrentCallStartedAt.Equal(f.now) {
		t.Fatalf("call start must stay at initiation, got %v", lead.CurrentCallStartedAt)
	}

	f.store.clock = f.now.Add(3 * time.Minute)
	f.provider.err = &retell.StatusError{StatusCode: 400}
	_, _ = f.svc.InitiateCall(ctx, f.leadID, testPhone, "")
	if lead := f.store.lead(f.leadID); !lead.LastCallAt.Equal(f.now.Add(3 * time.Minute)) {
		t.Fatalf("expected failed initiation to move last_call_at, got %v", lead.LastCallAt)
	}
}

func TestHandleProviderEventAdoptsUnconfirmedCall(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.provider.err = fmt.Errorf("retell request failed: %w", context.DeadlineExceeded)
	_, _ = f.svc.InitiateCall(ctx, f.leadID, testPhone, "key-1")
	f.svc.Wait()

	f.now = f.now.Add(time.Minute)
	outcome, err := f.svc.HandleProviderEvent(ctx, f.event("call_started", "call_7"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Status != string(leads.StatusInCall) {
		t.Fatalf("expected adopted call to move the lead, got %+v", outcome)
	}
	lead := f.store.lead(f.leadID)
	if lead.CurrentCallID == nil || *lead.CurrentCallID != "call_7" || lead.UnconfirmedCallAt != nil {
		t.Fatalf("expected call_7 adopted, got %v / %v", lead.CurrentCallID, lead.UnconfirmedCallAt)
	}

	if _, err := f.svc.HandleProviderEvent(ctx, f.event("call_ended", "call_7")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := f.store.lead(f.leadID).Status; got != leads.StatusCallCompleted {
		t.Fatalf("expected adopted call to complete, got %s", got)
	}
}

func TestHandleProviderEventAdoptionIsBounded(t *testing.T) {
	t.Run("outside expiry window", func(t *testing.T) {
		f := newFixture(t)
		marker := f.now
		lead := f.store.leads[f.leadID]
		lead.UnconfirmedCallAt = &marker
		f.store.leads[f.leadID] = lead
		f.now = f.now.Add(16 * time.Minute)

		outcome, err := f.svc.HandleProviderEvent(context.Background(), f.event("call_started", "call_late"))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if outcome.Status != StatusUnchanged || f.store.lead(f.leadID).CurrentCallID != nil {
			t.Fatalf("late event must stay log-only, got %+v", outcome)
		}
	})

	t.Run("another call active", func(t *testing.T) {
		f := newFixture(t)
		ctx := context.Background()
		_, _ = f.svc.InitiateCall(ctx, f.leadID, testPhone, "")
		f.svc.Wait()
		marker := f.now
		lead := f.store.leads[f.leadID]
		lead.UnconfirmedCallAt = &marker
		f.store.leads[f.leadID] = lead

		outcome, err := f.svc.HandleProviderEvent(ctx, f.event("call_ended", "call_other"))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if outcome.Status != StatusUnchanged || *f.store.lead(f.leadID).CurrentCallID != "call_1" {
			t.Fatalf("active call must not be replaced, got %+v", outcome)
		}
	})

	t.Run("no unconfirmed initiation", func(t *testing.T) {
		f := newFixture(t)
		outcome, err := f.svc.HandleProviderEvent(context.Background(), f.event("call_started", "call_x"))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if outcome.Status != StatusUnchanged {
			t.Fatalf("expected log-only, got %+v", outcome)
		}
	})
}

func TestHandleProviderEventLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.svc.InitiateCall(ctx, f.leadID, testPhone, ""); err != nil {
		t.Fatalf("initiate: %v", err)
	}
	f.svc.Wait()

	steps := []struct {
		kind string
		want string
	}{
		{"call_started", string(leads.StatusInCall)},
		{"call_answered", StatusUnchanged},
		{"call_ended", string(leads.StatusCallCompleted)},
		{"call_failed", StatusUnchanged},
		{"call_started", StatusUnchanged},
		{"call_analyzed", StatusUnchanged},
	}
	for _, step := range steps {
		outcome, err := f.svc.HandleProviderEvent(ctx, f.event(step.kind, "call_1"))
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", step.kind, err)
		}
		if outcome.Status != step.want || outcome.LeadID != f.leadID || outcome.CallID != "call_1" || outcome.EventID == "" {
			t.Fatalf("%s: unexpected outcome %+v, want status %s", step.kind, outcome, step.want)
		}
	}

	if f.store.lead(f.leadID).Status != leads.StatusCallCompleted {
		t.Fatalf("terminal status must hold, got %s", f.store.lead(f.leadID).Status)
	}
	if got := len(f.store.kinds(f.leadID)); got != 1+len(steps) {
		t.Fatalf("expected every event logged, got %d entries", got)
	}
	if f.bus.count("calls.call.status_changed") != 2 {
		t.Fatalf("expected two status changes, got %d", f.bus.count("calls.call.status_changed"))
	}
}

func TestHandleProviderEventFailedRecordsErrorDetail(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, _ = f.svc.InitiateCall(ctx, f.leadID, testPhone, "")
	f.svc.Wait()

	outcome, err := f.svc.HandleProviderEvent(ctx, f.event("call_failed", "call_1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Status != string(leads.StatusCallFailed) {
		t.Fatalf("expected CallFailed, got %s", outcome.Status)
	}
	entries := f.store.entries(f.leadID)
	if last := entries[len(entries)-1]; len(last.ErrorDetail) == 0 {
		t.Fatal("expected a default error detail on call_failed")
	}
}

func TestHandleProviderEventForOtherCallIsLogOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, _ = f.svc.InitiateCall(ctx, f.leadID, testPhone, "")
	f.svc.Wait()

	outcome, err := f.svc.HandleProviderEvent(ctx, f.event("call_ended", "call_old"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Status != StatusUnchanged || f.store.lead(f.leadID).Status != leads.StatusConnecting {
		t.Fatalf("stale call must not move the lead, got %+v", outcome)
	}
}

func TestHandleProviderEventUnknownKindIsLogged(t *testing.T) {
	f := newFixture(t)

	outcome, err := f.svc.HandleProviderEvent(context.Background(), f.event("Transferred", "call_1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Status != StatusUnchanged {
		t.Fatalf("expected unchanged, got %s", outcome.Status)
	}
	if got := f.store.kinds(f.leadID); !reflect.DeepEqual(got, []string{"transferred"}) {
		t.Fatalf("expected raw label logged, got %v", got)
	}
}

func TestHandleProviderEventValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.HandleProviderEvent(ctx, ProviderEvent{Kind: "call_ended", LeadRef: f.leadID.String()})
	if !apperr.HasCode(err, domain.CodeMissingCallID) {
		t.Fatalf("expected MISSING_CALL_ID, got %v", err)
	}

	_, err = f.svc.HandleProviderEvent(ctx, ProviderEvent{CallID: "call_1", Kind: "call_ended"})
	if !apperr.HasCode(err, domain.CodeMissingLeadReference) || !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("expected MISSING_LEAD_REFERENCE, got %v", err)
	}

	_, err = f.svc.HandleProviderEvent(ctx, ProviderEvent{CallID: "call_1", Kind: "call_ended", LeadRef: uuid.NewString()})
	if !apperr.HasCode(err, domain.CodeLeadNotFound) {
		t.Fatalf("expected LEAD_NOT_FOUND, got %v", err)
	}

	if n := len(f.store.kinds(f.leadID)); n != 0 {
		t.Fatalf("rejected events must not be logged, got %d entries", n)
	}
}

func TestExpireCallFailsActiveCurrentCall(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, _ = f.svc.InitiateCall(ctx, f.leadID, testPhone, "")
	f.svc.Wait()

	if err := f.svc.ExpireCall(ctx, f.leadID, "call_1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.store.lead(f.leadID).Status != leads.StatusCallFailed {
		t.Fatalf("expected CallFailed, got %s", f.store.lead(f.leadID).Status)
	}
	if got := f.store.kinds(f.leadID); got[len(got)-1] != "call_expired" {
		t.Fatalf("expected call_expired entry, got %v", got)
	}
}

func TestExpireCallIgnoresFinishedOrStaleCalls(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, _ = f.svc.InitiateCall(ctx, f.leadID, testPhone, "")
	f.svc.Wait()
	_, _ = f.svc.HandleProviderEvent(ctx, f.event("call_ended", "call_1"))
	before := len(f.store.kinds(f.leadID))

	if err := f.svc.ExpireCall(ctx, f.leadID, "call_1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := f.svc.ExpireCall(ctx, f.leadID, "call_other"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := f.svc.ExpireCall(ctx, uuid.New(), "call_1"); err != nil {
		t.Fatalf("missing lead should be ignored, got %v", err)
	}

	if f.store.lead(f.leadID).Status != leads.StatusCallCompleted {
		t.Fatalf("completed call must stay completed, got %s", f.store.lead(f.leadID).Status)
	}
	if after := len(f.store.kinds(f.leadID)); after != before {
		t.Fatalf("no-op expiry must not log, got %d -> %d", before, after)
	}
}
