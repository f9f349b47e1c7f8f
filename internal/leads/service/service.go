package service

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"crm_backend/internal/leads/domain"
	"crm_backend/internal/leads/repository"
	"crm_backend/internal/leads/transport"
	"crm_backend/platform/logger"
	"crm_backend/platform/phone"
)

var (
	ErrLeadNotFound  = errors.New("lead not found")
	ErrInvalidStatus = errors.New("invalid lead status")
	ErrInvalidSource = errors.New("invalid lead source")
	ErrInvalidValue  = errors.New("lead value must not be negative")
)

const (
	defaultPageLimit = 25
	maxPageLimit     = 100
	detailLogLimit   = 50
	maxLogLimit      = 500
)

// Repository is the persistence the lead service needs.
type Repository interface {
	Create(ctx context.Context, params repository.CreateLeadParams) (repository.Lead, error)
	GetByID(ctx context.Context, id uuid.UUID) (repository.Lead, error)
	Update(ctx context.Context, params repository.UpdateLeadParams) (repository.Lead, error)
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, params repository.ListParams) ([]repository.Lead, int, error)
	ListCallLog(ctx context.Context, leadID uuid.UUID, limit int) ([]repository.CallLogEntry, error)
}

type Service struct {
	repo Repository
	log  *logger.Logger
}

func New(repo Repository, log *logger.Logger) *Service {
	return &Service{repo: repo, log: log}
}

func (s *Service) Create(ctx context.Context, req transport.CreateLeadRequest) (transport.LeadResponse, error) {
	params := repository.CreateLeadParams{
		Name:    strings.TrimSpace(req.Name),
		Email:   strings.ToLower(strings.TrimSpace(req.Email)),
		Phone:   phone.NormalizeE164(req.Phone),
		Company: strings.TrimSpace(req.Company),
		Title:   strings.TrimSpace(req.Title),
		Source:  domain.SourceInbound,
		Status:  domain.StatusUntouched,
		Notes:   req.Notes,
	}

	if req.Source != "" {
		source, ok := domain.ParseSource(req.Source)
		if !ok {
			return transport.LeadResponse{}, ErrInvalidSource
		}
		params.Source = source
	}
	if req.Status != "" {
		status, ok := domain.ParseStatus(req.Status)
		if !ok {
			return transport.LeadResponse{}, ErrInvalidStatus
		}
		params.Status = status
	}
	if req.Value != nil {
		cents, err := toCents(*req.Value)
		if err != nil {
			return transport.LeadResponse{}, err
		}
		params.ValueCents = cents
	}

	lead, err := s.repo.Create(ctx, params)
	if err != nil {
		return transport.LeadResponse{}, err
	}
	s.log.Info("lead created", "leadId", lead.ID, "source", lead.Source)
	return toLeadResponse(lead, nil), nil
}

// GetByID returns the lead together with its most recent call history.
func (s *Service) GetByID(ctx context.Context, id uuid.UUID) (transport.LeadResponse, error) {
	lead, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return transport.LeadResponse{}, mapNotFound(err)
	}

	entries, err := s.repo.ListCallLog(ctx, id, detailLogLimit)
	if err != nil {
		return transport.LeadResponse{}, err
	}
	return toLeadResponse(lead, entries), nil
}

func (s *Service) Update(ctx context.Context, id uuid.UUID, req transport.UpdateLeadRequest) (transport.LeadResponse, error) {
	params := repository.UpdateLeadParams{
		ID:      id,
		Name:    trimPtr(req.Name),
		Email:   trimPtr(req.Email),
		Company: trimPtr(req.Company),
		Title:   trimPtr(req.Title),
		Notes:   req.Notes,
	}
	if params.Email != nil {
		lowered := strings.ToLower(*params.Email)
		params.Email = &lowered
	}
	if req.Phone != nil {
		normalized := phone.NormalizeE164(*req.Phone)
		params.Phone = &normalized
	}
	if req.Source != nil {
		source, ok := domain.ParseSource(*req.Source)
		if !ok {
			return transport.LeadResponse{}, ErrInvalidSource
		}
		params.Source = &source
	}
	if req.Status != nil {
		status, ok := domain.ParseStatus(*req.Status)
		if !ok {
			return transport.LeadResponse{}, ErrInvalidStatus
		}
		params.Status = &status
	}
	if req.Value != nil {
		cents, err := toCents(*req.Value)
		if err != nil {
			return transport.LeadResponse{}, err
		}
		params.ValueCents = &cents
	}

	lead, err := s.repo.Update(ctx, params)
	if err != nil {
		return transport.LeadResponse{}, mapNotFound(err)
	}
	return toLeadResponse(lead, nil), nil
}

func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return mapNotFound(err)
	}
	s.log.Info("lead deleted", "leadId", id)
	return nil
}

func (s *Service) List(ctx context.Context, req transport.ListLeadsRequest) (transport.LeadListResponse, error) {
	page := req.Page
	if page < 1 {
		page = 1
	}
	limit := req.Limit
	if limit < 1 {
		limit = defaultPageLimit
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}

	params := repository.ListParams{
		Search: strings.TrimSpace(req.Search),
		Offset: (page - 1) * limit,
		Limit:  limit,
	}
	if req.Status != "" {
		status, ok := domain.ParseStatus(req.Status)
		if !ok {
			return transport.LeadListResponse{}, ErrInvalidStatus
		}
		params.Status = string(status)
	}
	if req.Source != "" {
		source, ok := domain.ParseSource(req.Source)
		if !ok {
			return transport.LeadListResponse{}, ErrInvalidSource
		}
		params.Source = string(source)
	}

	leads, total, err := s.repo.List(ctx, params)
	if err != nil {
		return transport.LeadListResponse{}, err
	}

	data := make([]transport.LeadResponse, len(leads))
	for i, lead := range leads {
		data[i] = toLeadResponse(lead, nil)
	}

	pages := (total + limit - 1) / limit
	return transport.LeadListResponse{
		Success: true,
		Count:   len(data),
		Total:   total,
		Page:    page,
		Pages:   pages,
		Data:    data,
	}, nil
}

// ListCallLog returns up to limit entries of the lead's call history, oldest first.
func (s *Service) ListCallLog(ctx context.Context, id uuid.UUID, limit int) ([]transport.CallLogEntryResponse, error) {
	if _, err := s.repo.GetByID(ctx, id); err != nil {
		return nil, mapNotFound(err)
	}
	if limit < 1 || limit > maxLogLimit {
		limit = maxLogLimit
	}

	entries, err := s.repo.ListCallLog(ctx, id, limit)
	if err != nil {
		return nil, err
	}
	return toCallLogResponses(entries), nil
}

func mapNotFound(err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return ErrLeadNotFound
	}
	return err
}

func toCents(value decimal.Decimal) (int64, error) {
	if value.IsNegative() {
		return 0, ErrInvalidValue
	}
	return value.Round(2).Shift(2).IntPart(), nil
}

func trimPtr(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	return &trimmed
}

func toLeadResponse(lead repository.Lead, entries []repository.CallLogEntry) transport.LeadResponse {
	resp := transport.LeadResponse{
		ID:            lead.ID,
		Name:          lead.Name,
		Email:         lead.Email,
		Phone:         lead.Phone,
		Company:       lead.Company,
		Title:         lead.Title,
		Source:        string(lead.Source),
		Status:        string(lead.Status),
		Value:         decimal.New(lead.ValueCents, -2),
		Notes:         lead.Notes,
		CurrentCallID: lead.CurrentCallID,
		LastCallAt:    lead.LastCallAt,
		CreatedAt:     lead.CreatedAt,

		CurrentCallStartedAt: lead.CurrentCallStartedAt,
		UpdatedAt:            lead.UpdatedAt,
	}
	if entries != nil {
		resp.CallLog = toCallLogResponses(entries)
	}
	return resp
}

func toCallLogResponses(entries []repository.CallLogEntry) []transport.CallLogEntryResponse {
	out := make([]transport.CallLogEntryResponse, len(entries))
	for i, e := range entries {
		out[i] = transport.CallLogEntryResponse{
			ID:          e.ID,
			CallID:      e.CallID,
			EventKind:   e.EventKind,
			Notes:       e.Notes,
			ErrorDetail: e.ErrorDetail,
			Metadata:    e.Metadata,
			Timestamp:   e.CreatedAt,
		}
	}
	return out
}
