package transport

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

type InitiateCallRequest struct {
	PhoneNumber string `json:"phoneNumber" validate:"required,max=32"`
}

type CallInfo struct {
	ID        string    `json:"id"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

type InitiateCallResponse struct {
	Success bool     `json:"success"`
	Call    CallInfo `json:"call"`
}

type WebhookResponse struct {
	Success bool   `json:"success"`
	EventID string `json:"eventId"`
	CallID  string `json:"callId"`
	LeadID  string `json:"leadId"`
	Status  string `json:"status"`
}

// WebhookPayload accepts both the flat event shape and Retell's nested
// {event, call:{call_id, metadata}} shape.
type WebhookPayload struct {
	Event       string          `json:"event"`
	EventType   string          `json:"eventType"`
	CallID      string          `json:"callId"`
	CallIDSnake string          `json:"call_id"`
	Metadata    json.RawMessage `json:"metadata"`
	Error       json.RawMessage `json:"error"`
	Call        *WebhookCall    `json:"call"`
}

type WebhookCall struct {
	CallID              string          `json:"call_id"`
	CallStatus          string          `json:"call_status"`
	DisconnectionReason string          `json:"disconnection_reason"`
	Metadata            json.RawMessage `json:"metadata"`
}

// EventKind returns the raw event label.
func (p WebhookPayload) EventKind() string {
	return firstNonEmpty(p.Event, p.EventType)
}

// EffectiveCallID returns the call id from whichever shape was sent.
func (p WebhookPayload) EffectiveCallID() string {
	id := firstNonEmpty(p.CallID, p.CallIDSnake)
	if id == "" && p.Call != nil {
		id = strings.TrimSpace(p.Call.CallID)
	}
	return id
}

// EffectiveMetadata returns the metadata object from whichever shape was sent.
func (p WebhookPayload) EffectiveMetadata() json.RawMessage {
	if len(p.Metadata) > 0 && string(p.Metadata) != "null" {
		return p.Metadata
	}
	if p.Call != nil && len(p.Call.Metadata) > 0 && string(p.Call.Metadata) != "null" {
		return p.Call.Metadata
	}
	return nil
}

// LeadReference extracts metadata.leadId. Numbers are accepted and stringified.
func (p WebhookPayload) LeadReference() string {
	raw := p.EffectiveMetadata()
	if raw == nil {
		return ""
	}
	var meta map[string]any
	if err := json.Unmarshal(raw, &meta); err != nil {
		return ""
	}
	switch v := meta["leadId"].(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return fmt.Sprintf("%.0f", v)
	default:
		return ""
	}
}

// ErrorDetail returns the provider error, falling back to the disconnection reason.
func (p WebhookPayload) ErrorDetail() json.RawMessage {
	if len(p.Error) > 0 && string(p.Error) != "null" {
		return p.Error
	}
	if p.Call != nil && p.Call.DisconnectionReason != "" {
		data, _ := json.Marshal(map[string]string{"disconnectionReason": p.Call.DisconnectionReason})
		return data
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
