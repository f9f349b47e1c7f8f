package scheduler

import (
	"context"
	"time"

	"crm_backend/platform/logger"

	"github.com/google/uuid"
)

const (
	defaultStaleCallSweepInterval = 5 * time.Minute
	staleCallSweepBatch           = 100
)

// StaleCall identifies a lead whose current call is still active.
type StaleCall struct {
	LeadID uuid.UUID
	CallID string
}

// StaleCallFinder lists active calls started before a cutoff.
type StaleCallFinder interface {
	ListStaleCalls(ctx context.Context, before time.Time, limit int) ([]StaleCall, error)
}

// StaleCallSweeper periodically expires active calls whose expiry task was lost.
type StaleCallSweeper struct {
	finder   StaleCallFinder
	expirer  CallExpirer
	log      *logger.Logger
	interval time.Duration
	expiry   time.Duration
	now      func() time.Time
}

func NewStaleCallSweeper(finder StaleCallFinder, expirer CallExpirer, log *logger.Logger, interval, expiry time.Duration) *StaleCallSweeper {
	if interval <= 0 {
		interval = defaultStaleCallSweepInterval
	}
	return &StaleCallSweeper{
		finder:   finder,
		expirer:  expirer,
		log:      log,
		interval: interval,
		expiry:   expiry,
		now:      time.Now,
	}
}

func (s *StaleCallSweeper) Run(ctx context.Context) {
	if s == nil || s.finder == nil {
		return
	}

	s.sweep(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *StaleCallSweeper) sweep(ctx context.Context) int {
	stale, err := s.finder.ListStaleCalls(ctx, s.now().Add(-s.expiry), staleCallSweepBatch)
	if err != nil {
		s.log.Warn("stale call sweep failed", "error", err)
		return 0
	}

	expired := 0
	for _, call := range stale {
		if err := s.expirer.ExpireCall(ctx, call.LeadID, call.CallID); err != nil {
			s.log.Warn("failed to expire stale call", "leadId", call.LeadID, "callId", call.CallID, "error", err)
			continue
		}
		expired++
	}

	if expired > 0 {
		s.log.Info("stale call sweep expired calls", "expired", expired)
	}
	return expired
}
