// Package analytics serves the CRM dashboard aggregates.
package analytics

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

const trendWindow = 30 * 24 * time.Hour

// Reader is the aggregate storage the dashboard reads from.
type Reader interface {
	LeadTotals(ctx context.Context) (int, int, error)
	LeadsByStatus(ctx context.Context) ([]Bucket, error)
	LeadsBySource(ctx context.Context) ([]Bucket, error)
	OrdersByFulfillment(ctx context.Context) ([]Bucket, error)
	OrderTotals(ctx context.Context) (int, int64, error)
	LeadTrend(ctx context.Context, since time.Time) ([]DayCount, error)
}

type Metrics struct {
	TotalLeads     int             `json:"totalLeads"`
	TotalCustomers int             `json:"totalCustomers"`
	ConversionRate decimal.Decimal `json:"conversionRate"`
	TotalOrders    int             `json:"totalOrders"`
	PaidRevenue    decimal.Decimal `json:"paidRevenue"`
}

type Charts struct {
	LeadsByStatus       []Bucket   `json:"leadsByStatus"`
	LeadsBySource       []Bucket   `json:"leadsBySource"`
	OrdersByFulfillment []Bucket   `json:"ordersByFulfillment"`
	LeadTrend           []DayCount `json:"leadTrend"`
}

type Dashboard struct {
	Metrics Metrics `json:"metrics"`
	Charts  Charts  `json:"charts"`
}

type Service struct {
	reader Reader
	now    func() time.Time
}

func NewService(reader Reader) *Service {
	return &Service{reader: reader, now: time.Now}
}

// Dashboard runs every aggregate concurrently and fails if any of them fails.
func (s *Service) Dashboard(ctx context.Context) (Dashboard, error) {
	var d Dashboard
	var revenueCents int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)

	g.Go(func() (err error) {
		d.Metrics.TotalLeads, d.Metrics.TotalCustomers, err = s.reader.LeadTotals(gctx)
		return err
	})
	g.Go(func() (err error) {
		d.Metrics.TotalOrders, revenueCents, err = s.reader.OrderTotals(gctx)
		return err
	})
	g.Go(func() (err error) {
		d.Charts.LeadsByStatus, err = s.reader.LeadsByStatus(gctx)
		return err
	})
	g.Go(func() (err error) {
		d.Charts.LeadsBySource, err = s.reader.LeadsBySource(gctx)
		return err
	})
	g.Go(func() (err error) {
		d.Charts.OrdersByFulfillment, err = s.reader.OrdersByFulfillment(gctx)
		return err
	})
	g.Go(func() (err error) {
		d.Charts.LeadTrend, err = s.reader.LeadTrend(gctx, s.now().UTC().Add(-trendWindow))
		return err
	})

	if err := g.Wait(); err != nil {
		return Dashboard{}, err
	}

	d.Metrics.ConversionRate = conversionRate(d.Metrics.TotalCustomers, d.Metrics.TotalLeads)
	d.Metrics.PaidRevenue = decimal.New(revenueCents, -2)
	return d, nil
}

// conversionRate is customers as a percentage of leads, rounded to two places.
func conversionRate(customers, leads int) decimal.Decimal {
	if leads == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(int64(customers)).
		Mul(decimal.NewFromInt(100)).
		DivRound(decimal.NewFromInt(int64(leads)), 2)
}
