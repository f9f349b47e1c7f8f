// Package retell is a minimal client for the Retell AI phone call API.
package retell

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"crm_backend/platform/config"
	"crm_backend/platform/logger"
	"crm_backend/platform/phone"
)

const createPhoneCallPath = "/v2/create-phone-call"

// ErrNotConfigured is returned when no API key or agent is configured.
var ErrNotConfigured = errors.New("retell client is not configured")

// errNotSent marks failures that happened before any request left the process.
var errNotSent = errors.New("retell request not sent")

// StatusError is a non-2xx answer from the provider.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("retell returned %d: %s", e.StatusCode, e.Body)
}

// retryable covers answers where the provider has certainly not placed the call.
func (e *StatusError) retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode == http.StatusServiceUnavailable
}

// NotPlaced reports whether err proves that no call was created. Timeouts,
// transport failures, unreadable answers and other 5xx answers return false:
// the provider may have dialed.
func NotPlaced(err error) bool {
	if errors.Is(err, ErrNotConfigured) || errors.Is(err, errNotSent) {
		return true
	}
	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		return false
	}
	return statusErr.StatusCode < http.StatusInternalServerError || statusErr.retryable()
}

type CreateCallRequest struct {
	ToNumber         string
	DynamicVariables map[string]string
	Metadata         map[string]string
}

type Call struct {
	CallID     string `json:"call_id"`
	CallStatus string `json:"call_status"`
	AgentID    string `json:"agent_id"`
}

type createCallPayload struct {
	FromNumber       string            `json:"from_number"`
	ToNumber         string            `json:"to_number"`
	AgentID          string            `json:"override_agent_id,omitempty"`
	DynamicVariables map[string]string `json:"retell_llm_dynamic_variables,omitempty"`
	Metadata         map[string]string `json:"metadata,omitempty"`
}

type Client struct {
	baseURL     string
	apiKey      string
	agentID     string
	fromNumber  string
	timeout     time.Duration
	maxAttempts int
	backoff     time.Duration
	http        *http.Client
	log         *logger.Logger
}

func NewClient(cfg config.RetellConfig, log *logger.Logger) *Client {
	return &Client{
		baseURL:     strings.TrimRight(cfg.GetRetellBaseURL(), "/"),
		apiKey:      cfg.GetRetellAPIKey(),
		agentID:     cfg.GetRetellAgentID(),
		fromNumber:  cfg.GetRetellFromNumber(),
		timeout:     cfg.GetRetellTimeout(),
		maxAttempts: max(cfg.GetRetellMaxAttempts(), 1),
		backoff:     250 * time.Millisecond,
		http:        &http.Client{},
		log:         log,
	}
}

// Configured reports whether calls can be placed.
func (c *Client) Configured() bool {
	return c.apiKey != "" && c.fromNumber != ""
}

// CreatePhoneCall asks the provider to dial ToNumber. The whole exchange, retries
// included, is bounded by the configured timeout.
func (c *Client) CreatePhoneCall(ctx context.Context, req CreateCallRequest) (Call, error) {
	if !c.Configured() {
		return Call{}, ErrNotConfigured
	}

	body, err := json.Marshal(createCallPayload{
		FromNumber:       c.fromNumber,
		ToNumber:         req.ToNumber,
		AgentID:          c.agentID,
		DynamicVariables: req.DynamicVariables,
		Metadata:         req.Metadata,
	})
	if err != nil {
		return Call{}, fmt.Errorf("%w: marshal payload: %w", errNotSent, err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		call, err := c.post(ctx, body)
		if err == nil {
			c.log.Info("retell call created", "callId", call.CallID, "to", phone.Redact(req.ToNumber), "attempt", attempt)
			return call, nil
		}
		lastErr = err

		var statusErr *StatusError
		if !errors.As(err, &statusErr) || !statusErr.retryable() || attempt == c.maxAttempts {
			break
		}

		c.log.Warn("retell call throttled, retrying", "status", statusErr.StatusCode, "attempt", attempt)
		select {
		case <-ctx.Done():
			// Every attempt so far was refused, so the call was not placed.
			return Call{}, fmt.Errorf("%w while waiting to retry: %w", ctx.Err(), lastErr)
		case <-time.After(c.backoff * time.Duration(attempt)):
		}
	}
	return Call{}, lastErr
}

func (c *Client) post(ctx context.Context, body []byte) (Call, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+createPhoneCallPath, bytes.NewReader(body))
	if err != nil {
		return Call{}, fmt.Errorf("%w: %w", errNotSent, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return Call{}, fmt.Errorf("retell request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Call{}, fmt.Errorf("read retell response: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return Call{}, &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}

	var call Call
	if err := json.Unmarshal(data, &call); err != nil {
		return Call{}, fmt.Errorf("decode retell response: %w", err)
	}
	if call.CallID == "" {
		return Call{}, errors.New("missing call_id in retell response")
	}
	return call, nil
}
