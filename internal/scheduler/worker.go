package scheduler

import (
	"context"
	"fmt"
	"time"

	"crm_dialog_relay/internal/dialogs/dispatch"
	"crm_dialog_relay/platform/config"
	"crm_dialog_relay/platform/logger"

	"github.com/hibiken/asynq"
)

const (
	defaultShutdownTimeout = 2 * time.Minute
	shutdownMargin         = 5 * time.Second
)

type Worker struct {
	server  *asynq.Server
	mux     *asynq.ServeMux
	batches dispatch.BatchHandler
	log     *logger.Logger
}

func NewWorker(cfg config.SchedulerConfig, batches dispatch.BatchHandler, log *logger.Logger) (*Worker, error) {
	redisURL := cfg.GetRedisURL()
	if redisURL == "" {
		return nil, fmt.Errorf("redis url not configured")
	}

	opt, err := redisClientOpt(redisURL, cfg.GetRedisTLSInsecure())
	if err != nil {
		return nil, err
	}

	server := asynq.NewServer(opt, serverConfig(cfg))

	mux := asynq.NewServeMux()
	w := &Worker{
		server:  server,
		mux:     mux,
		batches: batches,
		log:     log,
	}

	mux.HandleFunc(TaskDialogBatch, w.handleDialogBatch)

	return w, nil
}

// serverConfig lets a running batch finish on shutdown. asynq requeues
// handlers still running after ShutdownTimeout, which would replay a reply
// that was already sent.
func serverConfig(cfg config.SchedulerConfig) asynq.Config {
	concurrency := cfg.GetAsynqConcurrency()
	if concurrency < 1 {
		concurrency = 1
	}

	shutdown := cfg.GetDialogWorkTimeout()
	if shutdown <= 0 {
		shutdown = defaultShutdownTimeout
	}

	return asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			queueName(cfg): 1,
		},
		ShutdownTimeout: shutdown + shutdownMargin,
	}
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

func (w *Worker) handleDialogBatch(ctx context.Context, task *asynq.Task) error {
	payload, err := ParseDialogBatchPayload(task)
	if err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	return w.batches.Process(ctx, payload.Batch())
}
