// Package service implements the call lifecycle tracker: placing outbound calls and
// folding provider events into the lead's status and call log.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"crm_backend/internal/calls/domain"
	"crm_backend/internal/calls/idempotency"
	"crm_backend/internal/calls/retell"
	"crm_backend/internal/events"
	leads "crm_backend/internal/leads/domain"
	leadrepo "crm_backend/internal/leads/repository"
	"crm_backend/platform/logger"
	"crm_backend/platform/phone"
)

// StatusUnchanged is reported when an event was logged without moving the lead.
const StatusUnchanged = "unchanged"

// StatusUnconfirmed is stored for an idempotency key whose initiation ended
// without knowing whether the provider dialed. Replays never dial again.
const StatusUnconfirmed = "unconfirmed"

var errCallOutcomeUnknown = errors.New("an earlier attempt with this idempotency key may have placed the call")

const (
	detachedWriteTimeout = 5 * time.Second
	connectingRetries    = 3
)

// LeadStore is the lead persistence the tracker needs.
type LeadStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (leadrepo.Lead, error)
	MarkCallConnecting(ctx context.Context, leadID uuid.UUID, callID string, at time.Time) error
	MarkCallUnconfirmed(ctx context.Context, leadID uuid.UUID, at time.Time) error
	AppendCallLog(ctx context.Context, params leadrepo.AppendCallLogParams) (leadrepo.CallLogEntry, error)
	ApplyCallEvent(ctx context.Context, entry leadrepo.AppendCallLogParams, transition leadrepo.CallTransition) (leadrepo.CallEventResult, error)
}

// Provider places outbound calls.
type Provider interface {
	CreatePhoneCall(ctx context.Context, req retell.CreateCallRequest) (retell.Call, error)
}

// ExpiryScheduler arranges for ExpireCall to run once the call has had time to finish.
type ExpiryScheduler interface {
	ScheduleCallExpiry(ctx context.Context, leadID uuid.UUID, callID string, runAt time.Time) error
}

type noopScheduler struct{}

func (noopScheduler) ScheduleCallExpiry(context.Context, uuid.UUID, string, time.Time) error {
	return nil
}

type CallResult struct {
	ID        string
	Status    string
	Timestamp time.Time
	Replayed  bool
}

// ProviderEvent is a normalized webhook delivery.
type ProviderEvent struct {
	CallID      string
	Kind        string
	LeadRef     string
	Metadata    json.RawMessage
	ErrorDetail json.RawMessage
}

type EventOutcome struct {
	EventID string
	CallID  string
	LeadID  uuid.UUID
	Status  string
	Changed bool
}

type Service struct {
	leads     LeadStore
	provider  Provider
	idem      idempotency.Store
	scheduler ExpiryScheduler
	bus       events.Bus
	expiry    time.Duration
	log       *logger.Logger
	now       func() time.Time
	wg        sync.WaitGroup

	retryBackoff time.Duration
}

// Options carries the optional collaborators. Nil values fall back to no-ops.
type Options struct {
	Idempotency idempotency.Store
	Scheduler   ExpiryScheduler
	CallExpiry  time.Duration
}

func New(leadStore LeadStore, provider Provider, bus events.Bus, opts Options, log *logger.Logger) *Service {
	s := &Service{
		leads:     leadStore,
		provider:  provider,
		idem:      opts.Idempotency,
		scheduler: opts.Scheduler,
		bus:       bus,
		expiry:    opts.CallExpiry,
		log:       log,
		now:       func() time.Time { return time.Now().UTC() },

		retryBackoff: 200 * time.Millisecond,
	}
	if s.idem == nil {
		s.idem = idempotency.Noop{}
	}
	if s.scheduler == nil {
		s.scheduler = noopScheduler{}
	}
	if s.expiry <= 0 {
		s.expiry = 30 * time.Minute
	}
	return s
}

// Wait blocks until detached lead writes have finished.
func (s *Service) Wait() {
	s.wg.Wait()
}

// InitiateCall places an outbound call to a lead. When idempotencyKey is set, a
// repeated request replays the first answer instead of dialing again. The key is
// only released when the provider certainly did not place the call.
func (s *Service) InitiateCall(ctx context.Context, leadID uuid.UUID, phoneNumber, idempotencyKey string) (CallResult, error) {
	toNumber := strings.TrimSpace(phoneNumber)
	if !phone.IsE164(toNumber) {
		return CallResult{}, domain.InvalidPhoneNumber()
	}

	lead, err := s.leads.GetByID(ctx, leadID)
	if err != nil {
		return CallResult{}, mapLeadErr(err)
	}

	key := ""
	if idempotencyKey = strings.TrimSpace(idempotencyKey); idempotencyKey != "" {
		key = leadID.String() + ":" + idempotencyKey
		stored, replay, err := s.idem.Reserve(ctx, key)
		if errors.Is(err, idempotency.ErrInFlight) {
			return CallResult{}, domain.CallInProgress()
		}
		if err != nil {
			return CallResult{}, err
		}
		if replay {
			if stored.Status == StatusUnconfirmed {
				return CallResult{}, domain.CallInitiationFailed(errCallOutcomeUnknown, true)
			}
			return CallResult{ID: stored.CallID, Status: stored.Status, Timestamp: stored.Timestamp, Replayed: true}, nil
		}
	}

	call, err := s.provider.CreatePhoneCall(ctx, retell.CreateCallRequest{
		ToNumber:         toNumber,
		DynamicVariables: map[string]string{"leadId": lead.ID.String(), "leadName": displayName(lead)},
		Metadata:         map[string]string{"leadId": lead.ID.String()},
	})
	if err != nil {
		s.recordInitiationFailure(ctx, lead.ID, toNumber, err)
		if retell.NotPlaced(err) {
			s.release(ctx, key)
		} else {
			s.markUnconfirmed(ctx, lead.ID, key)
		}
		return CallResult{}, domain.CallInitiationFailed(err, errors.Is(err, context.DeadlineExceeded))
	}

	at := s.now()
	if err := s.leads.MarkCallConnecting(ctx, lead.ID, call.CallID, at); err != nil {
		// The provider is already dialing: answer with the call and keep retrying the write.
		s.log.DatabaseError("mark call connecting", err, "leadId", lead.ID, "callId", call.CallID)
		s.retryConnecting(ctx, lead.ID, call.CallID, at)
	}
	s.log.CallEvent(string(domain.EventConnecting), lead.ID.String(), call.CallID, string(leads.StatusConnecting))

	s.appendDetached(ctx, leadrepo.AppendCallLogParams{
		LeadID:    lead.ID,
		CallID:    call.CallID,
		EventKind: string(domain.EventInitiated),
		Notes:     "call initiated via retell",
	})

	// The call exists now, so the remaining bookkeeping outlives a client that hung up.
	ctx = context.WithoutCancel(ctx)
	if err := s.scheduler.ScheduleCallExpiry(ctx, lead.ID, call.CallID, at.Add(s.expiry)); err != nil {
		s.log.Warn("failed to schedule call expiry", "leadId", lead.ID, "callId", call.CallID, "error", err)
	}

	s.bus.Publish(ctx, events.CallInitiated{BaseEvent: events.NewBaseEvent(), LeadID: lead.ID, CallID: call.CallID})

	result := CallResult{ID: call.CallID, Status: "initiated", Timestamp: at}
	if key != "" {
		if err := s.idem.Complete(ctx, key, idempotency.Result{CallID: result.ID, Status: result.Status, Timestamp: result.Timestamp}); err != nil {
			s.log.Warn("failed to store idempotent call result", "leadId", lead.ID, "error", err)
		}
	}
	return result, nil
}

// HandleProviderEvent appends the event to the lead's call log and moves the status
// when the event belongs to the lead's current call.
func (s *Service) HandleProviderEvent(ctx context.Context, event ProviderEvent) (EventOutcome, error) {
	callID := strings.TrimSpace(event.CallID)
	if callID == "" {
		return EventOutcome{}, domain.MissingCallID()
	}
	if strings.TrimSpace(event.LeadRef) == "" {
		return EventOutcome{}, domain.MissingLeadReference("missing leadId in metadata")
	}
	leadID, err := uuid.Parse(strings.TrimSpace(event.LeadRef))
	if err != nil {
		return EventOutcome{}, domain.MissingLeadReference("invalid leadId in metadata")
	}

	kind := domain.ParseEventKind(event.Kind)
	label := string(kind)
	if !kind.Known() && strings.TrimSpace(event.Kind) != "" {
		label = strings.ToLower(strings.TrimSpace(event.Kind))
	}

	errorDetail := event.ErrorDetail
	if kind == domain.EventFailed && len(errorDetail) == 0 {
		errorDetail = json.RawMessage(`{"message":"unknown error"}`)
	}

	result, err := s.leads.ApplyCallEvent(ctx, leadrepo.AppendCallLogParams{
		LeadID:      leadID,
		CallID:      callID,
		EventKind:   label,
		ErrorDetail: errorDetail,
		Metadata:    event.Metadata,
	}, s.eventTransition(callID, kind))
	if err != nil {
		return EventOutcome{}, mapLeadErr(err)
	}
	if result.Adopted {
		s.log.Info("adopted unconfirmed call", "leadId", leadID, "callId", callID)
	}

	outcome := EventOutcome{
		EventID: newEventID(s.now()),
		CallID:  callID,
		LeadID:  leadID,
		Status:  StatusUnchanged,
		Changed: result.Changed,
	}
	if result.Changed {
		outcome.Status = string(result.Lead.Status)
		s.publishStatusChange(ctx, leadID, callID, kind, result)
	}
	s.log.CallEvent(label, leadID.String(), callID, outcome.Status)
	return outcome, nil
}

// ExpireCall fails a call that is still the lead's current, unfinished call.
// Anything else is a no-op, so a late expiry never touches a newer call.
func (s *Service) ExpireCall(ctx context.Context, leadID uuid.UUID, callID string) error {
	lead, err := s.leads.GetByID(ctx, leadID)
	if errors.Is(err, leadrepo.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if !isCurrentCall(lead, callID) || !lead.Status.IsCallActive() {
		return nil
	}

	result, err := s.leads.ApplyCallEvent(ctx, leadrepo.AppendCallLogParams{
		LeadID:      leadID,
		CallID:      callID,
		EventKind:   string(domain.EventExpired),
		Notes:       fmt.Sprintf("no final provider event within %s", s.expiry),
		ErrorDetail: json.RawMessage(`{"message":"call expired"}`),
	}, currentCallTransition(callID, domain.EventExpired))
	if errors.Is(err, leadrepo.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	if result.Changed {
		s.publishStatusChange(ctx, leadID, callID, domain.EventExpired, result)
	}
	s.log.CallEvent(string(domain.EventExpired), leadID.String(), callID, string(result.Lead.Status))
	return nil
}

func currentCallTransition(callID string, kind domain.EventKind) leadrepo.CallTransition {
	return func(lead leadrepo.Lead) (leadrepo.CallChange, bool) {
		if !isCurrentCall(lead, callID) {
			return leadrepo.CallChange{}, false
		}
		next, ok := domain.NextStatus(lead.Status, kind)
		return leadrepo.CallChange{Status: next}, ok
	}
}

// eventTransition extends currentCallTransition for webhooks: an event for an
// unknown call on a lead with a recent unconfirmed initiation adopts that call,
// as long as no other call is active.
func (s *Service) eventTransition(callID string, kind domain.EventKind) leadrepo.CallTransition {
	current := currentCallTransition(callID, kind)
	return func(lead leadrepo.Lead) (leadrepo.CallChange, bool) {
		if isCurrentCall(lead, callID) {
			return current(lead)
		}
		if kind == domain.EventExpired || lead.UnconfirmedCallAt == nil || lead.Status.IsCallActive() {
			return leadrepo.CallChange{}, false
		}
		if s.now().Sub(*lead.UnconfirmedCallAt) > s.expiry {
			return leadrepo.CallChange{}, false
		}
		next, ok := domain.NextStatus(leads.StatusConnecting, kind)
		if !ok {
			if kind != domain.EventInitiated && kind != domain.EventConnecting {
				return leadrepo.CallChange{}, false
			}
			next = leads.StatusConnecting
		}
		return leadrepo.CallChange{Status: next, AdoptCall: true}, true
	}
}

func isCurrentCall(lead leadrepo.Lead, callID string) bool {
	return lead.CurrentCallID != nil && *lead.CurrentCallID == callID
}

func (s *Service) publishStatusChange(ctx context.Context, leadID uuid.UUID, callID string, kind domain.EventKind, result leadrepo.CallEventResult) {
	s.bus.Publish(ctx, events.CallStatusChanged{
		BaseEvent:      events.NewBaseEvent(),
		LeadID:         leadID,
		CallID:         callID,
		EventKind:      string(kind),
		PreviousStatus: string(result.Previous),
		Status:         string(result.Lead.Status),
	})
}

// recordInitiationFailure logs the failed attempt on the lead without touching its status.
func (s *Service) recordInitiationFailure(ctx context.Context, leadID uuid.UUID, toNumber string, cause error) {
	detail := map[string]any{"message": cause.Error()}
	var statusErr *retell.StatusError
	if errors.As(cause, &statusErr) {
		detail["status"] = statusErr.StatusCode
	}
	if errors.Is(cause, context.DeadlineExceeded) {
		detail["timeout"] = true
	}
	data, _ := json.Marshal(detail)

	s.log.Warn("call initiation failed", "leadId", leadID, "to", phone.Redact(toNumber), "error", cause)

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), detachedWriteTimeout)
	defer cancel()
	if _, err := s.leads.AppendCallLog(writeCtx, leadrepo.AppendCallLogParams{
		LeadID:      leadID,
		EventKind:   string(domain.EventFailed),
		Notes:       "failed to initiate call: " + cause.Error(),
		ErrorDetail: data,
	}); err != nil {
		s.log.DatabaseError("record call initiation failure", err, "leadId", leadID)
	}
}

// markUnconfirmed pins the idempotency key so a retry cannot dial twice and flags
// the lead so a later webhook for the unknown call can adopt it.
func (s *Service) markUnconfirmed(ctx context.Context, leadID uuid.UUID, key string) {
	at := s.now()
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), detachedWriteTimeout)
	defer cancel()

	if key != "" {
		if err := s.idem.Complete(writeCtx, key, idempotency.Result{Status: StatusUnconfirmed, Timestamp: at}); err != nil {
			s.log.Warn("failed to store unconfirmed call result", "leadId", leadID, "error", err)
		}
	}
	if err := s.leads.MarkCallUnconfirmed(writeCtx, leadID, at); err != nil {
		s.log.DatabaseError("mark call unconfirmed", err, "leadId", leadID)
	}
}

// retryConnecting keeps trying to record an accepted call after the request
// has been answered.
func (s *Service) retryConnecting(ctx context.Context, leadID uuid.UUID, callID string, at time.Time) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		detached := context.WithoutCancel(ctx)
		backoff := s.retryBackoff
		for attempt := 1; attempt <= connectingRetries; attempt++ {
			time.Sleep(backoff)
			backoff *= 2
			writeCtx, cancel := context.WithTimeout(detached, detachedWriteTimeout)
			err := s.leads.MarkCallConnecting(writeCtx, leadID, callID, at)
			cancel()
			if err == nil || errors.Is(err, leadrepo.ErrNotFound) {
				return
			}
			s.log.DatabaseError("mark call connecting retry", err, "leadId", leadID, "callId", callID, "attempt", attempt)
		}
		s.log.Error("gave up recording accepted call, stale sweep will not see it", "leadId", leadID, "callId", callID)
	}()
}

// appendDetached writes a call log entry after the request has been answered.
// Failures are only logged.
func (s *Service) appendDetached(ctx context.Context, entry leadrepo.AppendCallLogParams) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), detachedWriteTimeout)
		defer cancel()
		if _, err := s.leads.AppendCallLog(writeCtx, entry); err != nil {
			s.log.DatabaseError("append call log", err, "leadId", entry.LeadID, "callId", entry.CallID, "event", entry.EventKind)
		}
	}()
}

func (s *Service) release(ctx context.Context, key string) {
	if key == "" {
		return
	}
	if err := s.idem.Release(context.WithoutCancel(ctx), key); err != nil {
		s.log.Warn("failed to release idempotency key", "error", err)
	}
}

func mapLeadErr(err error) error {
	if errors.Is(err, leadrepo.ErrNotFound) {
		return domain.LeadNotFound()
	}
	return err
}

func displayName(lead leadrepo.Lead) string {
	if name := strings.TrimSpace(lead.Name); name != "" {
		return name
	}
	return "Customer"
}

func newEventID(at time.Time) string {
	return fmt.Sprintf("evt_%d_%s", at.UnixMilli(), strings.ReplaceAll(uuid.NewString(), "-", "")[:6])
}
