package analytics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

type stubReader struct {
	trendSince time.Time
	failOrders bool
}

func (s *stubReader) LeadTotals(context.Context) (int, int, error) { return 8, 3, nil }

func (s *stubReader) LeadsByStatus(context.Context) ([]Bucket, error) {
	return []Bucket{{Key: "Customer", Count: 3}, {Key: "HPL", Count: 5}}, nil
}

func (s *stubReader) LeadsBySource(context.Context) ([]Bucket, error) {
	return []Bucket{{Key: "Meta", Count: 8}}, nil
}

func (s *stubReader) OrdersByFulfillment(context.Context) ([]Bucket, error) {
	return []Bucket{{Key: "pending", Count: 2}}, nil
}

func (s *stubReader) OrderTotals(context.Context) (int, int64, error) {
	if s.failOrders {
		return 0, 0, errors.New("orders unavailable")
	}
	return 2, 24250, nil
}

func (s *stubReader) LeadTrend(_ context.Context, since time.Time) ([]DayCount, error) {
	s.trendSince = since
	return []DayCount{{Day: "2026-04-30", Count: 1}}, nil
}

func TestDashboardAggregates(t *testing.T) {
	reader := &stubReader{}
	svc := NewService(reader)
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	d, err := svc.Dashboard(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Metrics.TotalLeads != 8 || d.Metrics.TotalCustomers != 3 || d.Metrics.TotalOrders != 2 {
		t.Fatalf("unexpected metrics %+v", d.Metrics)
	}
	if !d.Metrics.ConversionRate.Equal(decimal.RequireFromString("37.5")) {
		t.Fatalf("expected 37.5%% conversion, got %s", d.Metrics.ConversionRate)
	}
	if !d.Metrics.PaidRevenue.Equal(decimal.RequireFromString("242.5")) {
		t.Fatalf("expected 242.50 revenue, got %s", d.Metrics.PaidRevenue)
	}
	if len(d.Charts.LeadsByStatus) != 2 || len(d.Charts.LeadTrend) != 1 {
		t.Fatalf("unexpected charts %+v", d.Charts)
	}
	if !reader.trendSince.Equal(now.Add(-trendWindow)) {
		t.Fatalf("unexpected trend window start %s", reader.trendSince)
	}
}

func TestDashboardFailsWhenAnyQueryFails(t *testing.T) {
	svc := NewService(&stubReader{failOrders: true})

	if _, err := svc.Dashboard(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

func TestConversionRateWithoutLeads(t *testing.T) {
	if !conversionRate(0, 0).IsZero() {
		t.Fatal("expected zero conversion rate")
	}
	if !conversionRate(1, 3).Equal(decimal.RequireFromString("33.33")) {
		t.Fatalf("expected 33.33, got %s", conversionRate(1, 3))
	}
}
