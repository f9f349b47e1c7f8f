package scheduler

import (
	"context"
	"fmt"

	"crm_backend/platform/config"
	"crm_backend/platform/logger"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

// CallExpirer fails calls that never reported a final event.
type CallExpirer interface {
	ExpireCall(ctx context.Context, leadID uuid.UUID, callID string) error
}

type Worker struct {
	server  *asynq.Server
	mux     *asynq.ServeMux
	expirer CallExpirer
	log     *logger.Logger
}

func NewWorker(cfg config.SchedulerConfig, expirer CallExpirer, log *logger.Logger) (*Worker, error) {
	opt, err := redisClientOpt(cfg)
	if err != nil {
		return nil, err
	}

	concurrency := cfg.GetAsynqConcurrency()
	if concurrency < 1 {
		concurrency = 10
	}

	server := asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			queueName(cfg): 1,
		},
	})

	w := newWorker(expirer, log)
	w.server = server
	return w, nil
}

func newWorker(expirer CallExpirer, log *logger.Logger) *Worker {
	mux := asynq.NewServeMux()
	w := &Worker{
		mux:     mux,
		expirer: expirer,
		log:     log,
	}
	mux.HandleFunc(TaskCallExpire, w.handleCallExpire)
	return w
}

func (w *Worker) Run(ctx context.Context) {
	if w == nil || w.server == nil {
		return
	}

	go func() {
		<-ctx.Done()
		w.server.Shutdown()
	}()

	if err := w.server.Run(w.mux); err != nil {
		w.log.Error("scheduler worker stopped", "error", err)
	}
}

func (w *Worker) handleCallExpire(ctx context.Context, task *asynq.Task) error {
	payload, err := ParseCallExpirePayload(task)
	if err != nil {
		return fmt.Errorf("decode call expiry payload: %v: %w", err, asynq.SkipRetry)
	}

	leadID, err := uuid.Parse(payload.LeadID)
	if err != nil || payload.CallID == "" {
		return fmt.Errorf("invalid call expiry payload: %w", asynq.SkipRetry)
	}

	return w.expirer.ExpireCall(ctx, leadID, payload.CallID)
}
