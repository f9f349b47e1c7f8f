package transport

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type CreateLeadRequest struct {
	Name    string           `json:"name" validate:"required,min=1,max=200"`
	Email   string           `json:"email" validate:"required,email,max=254"`
	Phone   string           `json:"phone,omitempty" validate:"omitempty,max=32"`
	Company string           `json:"company,omitempty" validate:"omitempty,max=200"`
	Title   string           `json:"title,omitempty" validate:"omitempty,max=200"`
	Source  string           `json:"source,omitempty" validate:"omitempty,max=32"`
	Status  string           `json:"status,omitempty" validate:"omitempty,max=32"`
	Value   *decimal.Decimal `json:"value,omitempty"`
	Notes   string           `json:"notes,omitempty" validate:"omitempty,max=5000"`
}

type UpdateLeadRequest struct {
	Name    *string          `json:"name,omitempty" validate:"omitempty,min=1,max=200"`
	Email   *string          `json:"email,omitempty" validate:"omitempty,email,max=254"`
	Phone   *string          `json:"phone,omitempty" validate:"omitempty,max=32"`
	Company *string          `json:"company,omitempty" validate:"omitempty,max=200"`
	Title   *string          `json:"title,omitempty" validate:"omitempty,max=200"`
	Source  *string          `json:"source,omitempty" validate:"omitempty,max=32"`
	Status  *string          `json:"status,omitempty" validate:"omitempty,max=32"`
	Value   *decimal.Decimal `json:"value,omitempty"`
	Notes   *string          `json:"notes,omitempty" validate:"omitempty,max=5000"`
}

type ListLeadsRequest struct {
	Page   int    `form:"page" validate:"omitempty,min=1"`
	Limit  int    `form:"limit" validate:"omitempty,min=1,max=100"`
	Status string `form:"status" validate:"omitempty,max=32"`
	Source string `form:"source" validate:"omitempty,max=32"`
	Search string `form:"search" validate:"omitempty,max=100"`
}

type CallLogEntryResponse struct {
	ID          int64           `json:"id"`
	CallID      string          `json:"callId"`
	EventKind   string          `json:"eventKind"`
	Notes       string          `json:"notes,omitempty"`
	ErrorDetail json.RawMessage `json:"errorDetail,omitempty"`
	Metadata    json.RawMessage `json:"metadata,omitempty"`
	Timestamp   time.Time       `json:"timestamp"`
}

type LeadResponse struct {
	ID                   uuid.UUID              `json:"id"`
	Name                 string                 `json:"name"`
	Email                string                 `json:"email"`
	Phone                string                 `json:"phone,omitempty"`
	Company              string                 `json:"company,omitempty"`
	Title                string                 `json:"title,omitempty"`
	Source               string                 `json:"source"`
	Status               string                 `json:"status"`
	Value                decimal.Decimal        `json:"value"`
	Notes                string                 `json:"notes,omitempty"`
	CurrentCallID        *string                `json:"currentCallId,omitempty"`
	CurrentCallStartedAt *time.Time             `json:"currentCallStartedAt,omitempty"`
	LastCallAt           *time.Time             `json:"lastCallAt,omitempty"`
	CallLog              []CallLogEntryResponse `json:"callLog,omitempty"`
	CreatedAt            time.Time              `json:"createdAt"`
	UpdatedAt            time.Time              `json:"updatedAt"`
}

// LeadListResponse keeps the paging fields at the top level of the envelope.
type LeadListResponse struct {
	Success bool           `json:"success"`
	Count   int            `json:"count"`
	Total   int            `json:"total"`
	Page    int            `json:"page"`
	Pages   int            `json:"pages"`
	Data    []LeadResponse `json:"data"`
}
