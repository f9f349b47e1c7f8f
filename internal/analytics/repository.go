package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	leads "crm_backend/internal/leads/domain"
)

// Bucket is one group of a GROUP BY count.
type Bucket struct {
	Key   string `json:"key"`
	Count int    `json:"count"`
}

// DayCount is the number of leads created on one day.
type DayCount struct {
	Day   string `json:"day"`
	Count int    `json:"count"`
}

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// LeadTotals returns the number of leads and how many of them became customers.
func (r *Repository) LeadTotals(ctx context.Context) (int, int, error) {
	var total, customers int
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*), COUNT(*) FILTER (WHERE status = $1)
		FROM leads`, string(leads.StatusCustomer)).Scan(&total, &customers)
	if err != nil {
		return 0, 0, fmt.Errorf("lead totals: %w", err)
	}
	return total, customers, nil
}

func (r *Repository) LeadsByStatus(ctx context.Context) ([]Bucket, error) {
	return r.buckets(ctx, `SELECT status, COUNT(*) FROM leads GROUP BY status ORDER BY COUNT(*) DESC, status`)
}

func (r *Repository) LeadsBySource(ctx context.Context) ([]Bucket, error) {
	return r.buckets(ctx, `SELECT source, COUNT(*) FROM leads GROUP BY source ORDER BY COUNT(*) DESC, source`)
}

func (r *Repository) OrdersByFulfillment(ctx context.Context) ([]Bucket, error) {
	return r.buckets(ctx, `SELECT fulfillment_state, COUNT(*) FROM orders GROUP BY fulfillment_state ORDER BY fulfillment_state`)
}

// OrderTotals returns the order count and the revenue of paid, non-cancelled orders.
func (r *Repository) OrderTotals(ctx context.Context) (int, int64, error) {
	var count int
	var revenue int64
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*),
			COALESCE(SUM(grand_total_cents) FILTER (WHERE payment_state = 'paid' AND fulfillment_state <> 'cancelled'), 0)
		FROM orders`).Scan(&count, &revenue)
	if err != nil {
		return 0, 0, fmt.Errorf("order totals: %w", err)
	}
	return count, revenue, nil
}

func (r *Repository) LeadTrend(ctx context.Context, since time.Time) ([]DayCount, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT to_char(date_trunc('day', created_at AT TIME ZONE 'UTC'), 'YYYY-MM-DD') AS day, COUNT(*)
		FROM leads
		WHERE created_at >= $1
		GROUP BY day
		ORDER BY day`, since)
	if err != nil {
		return nil, fmt.Errorf("lead trend: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (DayCount, error) {
		var d DayCount
		err := row.Scan(&d.Day, &d.Count)
		return d, err
	})
}

func (r *Repository) buckets(ctx context.Context, query string) ([]Bucket, error) {
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("bucket query: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Bucket, error) {
		var b Bucket
		err := row.Scan(&b.Key, &b.Count)
		return b, err
	})
}
