package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"crm_backend/internal/leads/domain"
)

var ErrNotFound = errors.New("lead not found")

const leadColumns = `id, name, email, phone, company, title, source, status, value_cents, notes,
	current_call_id, current_call_started_at, last_call_at, unconfirmed_call_at, created_at, updated_at`

type Repository struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func scanLead(row pgx.Row) (Lead, error) {
	var l Lead
	var source, status string
	err := row.Scan(&l.ID, &l.Name, &l.Email, &l.Phone, &l.Company, &l.Title, &source, &status,
		&l.ValueCents, &l.Notes, &l.CurrentCallID, &l.CurrentCallStartedAt, &l.LastCallAt, &l.UnconfirmedCallAt,
		&l.CreatedAt, &l.UpdatedAt)
	l.Source = domain.Source(source)
	l.Status = domain.Status(status)
	return l, err
}

func (r *Repository) Create(ctx context.Context, params CreateLeadParams) (Lead, error) {
	lead, err := scanLead(r.pool.QueryRow(ctx, `
		INSERT INTO leads (name, email, phone, company, title, source, status, value_cents, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING `+leadColumns,
		params.Name, params.Email, params.Phone, params.Company, params.Title,
		string(params.Source), string(params.Status), params.ValueCents, params.Notes,
	))
	if err != nil {
		return Lead{}, fmt.Errorf("create lead: %w", err)
	}
	return lead, nil
}

func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (Lead, error) {
	lead, err := scanLead(r.pool.QueryRow(ctx, `SELECT `+leadColumns+` FROM leads WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Lead{}, ErrNotFound
	}
	if err != nil {
		return Lead{}, fmt.Errorf("get lead: %w", err)
	}
	return lead, nil
}

func (r *Repository) Update(ctx context.Context, params UpdateLeadParams) (Lead, error) {
	var source, status *string
	if params.Source != nil {
		s := string(*params.Source)
		source = &s
	}
	if params.Status != nil {
		s := string(*params.Status)
		status = &s
	}

	lead, err := scanLead(r.pool.QueryRow(ctx, `
		UPDATE leads
		SET name = COALESCE($2, name),
			email = COALESCE($3, email),
			phone = COALESCE($4, phone),
			company = COALESCE($5, company),
			title = COALESCE($6, title),
			source = COALESCE($7, source),
			status = COALESCE($8, status),
			value_cents = COALESCE($9, value_cents),
			notes = COALESCE($10, notes),
			updated_at = now()
		WHERE id = $1
		RETURNING `+leadColumns,
		params.ID, params.Name, params.Email, params.Phone, params.Company, params.Title,
		source, status, params.ValueCents, params.Notes,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return Lead{}, ErrNotFound
	}
	if err != nil {
		return Lead{}, fmt.Errorf("update lead: %w", err)
	}
	return lead, nil
}

func (r *Repository) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := r.pool.Exec(ctx, `DELETE FROM leads WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete lead: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repository) List(ctx context.Context, params ListParams) ([]Lead, int, error) {
	whereClauses := []string{"TRUE"}
	args := []interface{}{}
	argIdx := 1

	if params.Status != "" {
		whereClauses = append(whereClauses, fmt.Sprintf("status = $%d", argIdx))
		args = append(args, params.Status)
		argIdx++
	}
	if params.Source != "" {
		whereClauses = append(whereClauses, fmt.Sprintf("source = $%d", argIdx))
		args = append(args, params.Source)
		argIdx++
	}
	if params.Search != "" {
		whereClauses = append(whereClauses, fmt.Sprintf("(name ILIKE $%d OR email ILIKE $%d OR company ILIKE $%d)", argIdx, argIdx, argIdx))
		args = append(args, "%"+params.Search+"%")
		argIdx++
	}
	whereClause := strings.Join(whereClauses, " AND ")

	var total int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM leads WHERE "+whereClause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count leads: %w", err)
	}

	args = append(args, params.Limit, params.Offset)
	rows, err := r.pool.Query(ctx, fmt.Sprintf(`
		SELECT %s
		FROM leads
		WHERE %s
		ORDER BY created_at DESC, id ASC
		LIMIT $%d OFFSET $%d`, leadColumns, whereClause, argIdx, argIdx+1), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list leads: %w", err)
	}
	defer rows.Close()

	leads := make([]Lead, 0)
	for rows.Next() {
		lead, err := scanLead(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan lead: %w", err)
		}
		leads = append(leads, lead)
	}
	if rows.Err() != nil {
		return nil, 0, fmt.Errorf("iterate leads: %w", rows.Err())
	}
	return leads, total, nil
}

// MarkCallConnecting records a call accepted by the provider as the lead's current call.
func (r *Repository) MarkCallConnecting(ctx context.Context, leadID uuid.UUID, callID string, at time.Time) error {
	result, err := r.pool.Exec(ctx, `
		UPDATE leads
		SET status = $2, current_call_id = $3, current_call_started_at = $4,
			last_call_at = GREATEST(last_call_at, $4), unconfirmed_call_at = NULL, updated_at = now()
		WHERE id = $1`, leadID, string(domain.StatusConnecting), callID, at)
	if err != nil {
		return fmt.Errorf("mark call connecting: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkCallUnconfirmed flags a lead whose last initiation may or may not have
// been placed by the provider. A later event for an unknown call can adopt it.
func (r *Repository) MarkCallUnconfirmed(ctx context.Context, leadID uuid.UUID, at time.Time) error {
	result, err := r.pool.Exec(ctx, `
		UPDATE leads SET unconfirmed_call_at = $2, updated_at = now() WHERE id = $1`, leadID, at)
	if err != nil {
		return fmt.Errorf("mark call unconfirmed: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// AppendCallLog adds one entry to a lead's call history and moves the lead's
// last_call_at to the entry time.
func (r *Repository) AppendCallLog(ctx context.Context, params AppendCallLogParams) (CallLogEntry, error) {
	return appendCallLog(ctx, r.pool, params)
}

type queryRower interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func appendCallLog(ctx context.Context, q queryRower, params AppendCallLogParams) (CallLogEntry, error) {
	metadata := params.Metadata
	if metadata == nil {
		metadata = []byte(`{}`)
	}

	var entry CallLogEntry
	err := q.QueryRow(ctx, `
		WITH entry AS (
			INSERT INTO lead_call_logs (lead_id, call_id, event_kind, notes, error_detail, metadata)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING id, lead_id, call_id, event_kind, notes, error_detail, metadata, created_at
		), touched AS (
			UPDATE leads SET last_call_at = entry.created_at, updated_at = now()
			FROM entry
			WHERE leads.id = entry.lead_id
			RETURNING leads.id
		)
		SELECT id, lead_id, call_id, event_kind, notes, error_detail, metadata, created_at FROM entry`,
		params.LeadID, params.CallID, params.EventKind, params.Notes, params.ErrorDetail, metadata,
	).Scan(&entry.ID, &entry.LeadID, &entry.CallID, &entry.EventKind, &entry.Notes, &entry.ErrorDetail, &entry.Metadata, &entry.CreatedAt)
	if err != nil {
		return CallLogEntry{}, fmt.Errorf("append call log: %w", err)
	}
	return entry, nil
}

// ListCallLog returns the call history of a lead, oldest first.
func (r *Repository) ListCallLog(ctx context.Context, leadID uuid.UUID, limit int) ([]CallLogEntry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, lead_id, call_id, event_kind, notes, error_detail, metadata, created_at
		FROM (
			SELECT * FROM lead_call_logs WHERE lead_id = $1 ORDER BY id DESC LIMIT $2
		) recent
		ORDER BY id ASC`, leadID, limit)
	if err != nil {
		return nil, fmt.Errorf("list call log: %w", err)
	}
	defer rows.Close()

	entries := make([]CallLogEntry, 0)
	for rows.Next() {
		var e CallLogEntry
		if err := rows.Scan(&e.ID, &e.LeadID, &e.CallID, &e.EventKind, &e.Notes, &e.ErrorDetail, &e.Metadata, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan call log entry: %w", err)
		}
		entries = append(entries, e)
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("iterate call log: %w", rows.Err())
	}
	return entries, nil
}

// ApplyCallEvent locks the lead, appends the entry and applies the change chosen by
// transition, so concurrent deliveries for one lead are serialized. last_call_at
// follows the entry whether or not the status moves.
func (r *Repository) ApplyCallEvent(ctx context.Context, entry AppendCallLogParams, transition CallTransition) (CallEventResult, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return CallEventResult{}, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	lead, err := scanLead(tx.QueryRow(ctx, `SELECT `+leadColumns+` FROM leads WHERE id = $1 FOR UPDATE`, entry.LeadID))
	if errors.Is(err, pgx.ErrNoRows) {
		return CallEventResult{}, ErrNotFound
	}
	if err != nil {
		return CallEventResult{}, fmt.Errorf("lock lead: %w", err)
	}

	logEntry, err := appendCallLog(ctx, tx, entry)
	if err != nil {
		return CallEventResult{}, err
	}

	lead.LastCallAt = &logEntry.CreatedAt
	result := CallEventResult{Lead: lead, Entry: logEntry, Previous: lead.Status}
	if change, ok := transition(lead); ok && (change.AdoptCall || change.Status != lead.Status) {
		updated, err := scanLead(tx.QueryRow(ctx, `
			UPDATE leads
			SET status = $2,
				current_call_id = CASE WHEN $3::boolean THEN $4::text ELSE current_call_id END,
				current_call_started_at = CASE WHEN $3::boolean THEN unconfirmed_call_at ELSE current_call_started_at END,
				unconfirmed_call_at = CASE WHEN $3::boolean THEN NULL ELSE unconfirmed_call_at END,
				updated_at = now()
			WHERE id = $1
			RETURNING `+leadColumns, lead.ID, string(change.Status), change.AdoptCall, entry.CallID))
		if err != nil {
			return CallEventResult{}, fmt.Errorf("update lead call status: %w", err)
		}
		result.Lead = updated
		result.Changed = change.Status != lead.Status
		result.Adopted = change.AdoptCall
	}

	if err := tx.Commit(ctx); err != nil {
		return CallEventResult{}, fmt.Errorf("commit tx: %w", err)
	}
	return result, nil
}

// ListStaleCalls returns leads whose current call is still active and started
// before the cutoff.
func (r *Repository) ListStaleCalls(ctx context.Context, before time.Time, limit int) ([]Lead, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+leadColumns+`
		FROM leads
		WHERE status = ANY($1) AND current_call_id IS NOT NULL
			AND COALESCE(current_call_started_at, last_call_at) < $2
		ORDER BY COALESCE(current_call_started_at, last_call_at) ASC
		LIMIT $3`,
		[]string{string(domain.StatusConnecting), string(domain.StatusInCall)}, before, limit)
	if err != nil {
		return nil, fmt.Errorf("list stale calls: %w", err)
	}
	defer rows.Close()

	leads := make([]Lead, 0)
	for rows.Next() {
		lead, err := scanLead(rows)
		if err != nil {
			return nil, fmt.Errorf("scan lead: %w", err)
		}
		leads = append(leads, lead)
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("iterate stale calls: %w", rows.Err())
	}
	return leads, nil
}
