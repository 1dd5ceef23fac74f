package dispatch

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"crm_dialog_relay/internal/dialogs/domain"
	"crm_dialog_relay/platform/logger"
)

// defaultDrainTimeout bounds a batch that is still running when shutdown starts.
const defaultDrainTimeout = 2 * time.Minute

// Drainer is the debounce queue the poller scans.
type Drainer interface {
	DrainDue(ctx context.Context, grace time.Duration) ([]domain.Batch, error)
}

// BatchHandler consumes drained batches, either in process or by handing
// them to a queue.
type BatchHandler interface {
	Process(ctx context.Context, batch domain.Batch) error
}

type PollerConfig struct {
	GracePeriod  time.Duration
	PollInterval time.Duration
	DrainTimeout time.Duration
}

// Poller scans for quiet inboxes on a fixed interval and hands every due
// batch to the handler sequentially.
type Poller struct {
	inbox   Drainer
	handler BatchHandler
	cfg     PollerConfig
	log     *logger.Logger
}

func NewPoller(inbox Drainer, handler BatchHandler, cfg PollerConfig, log *logger.Logger) *Poller {
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = defaultDrainTimeout
	}
	return &Poller{inbox: inbox, handler: handler, cfg: cfg, log: log}
}

// Run blocks until ctx is cancelled. Cancellation is observed at tick
// boundaries; batches already drained are finished on a detached context.
func (p *Poller) Run(ctx context.Context) {
	p.log.Info("dispatch poller started",
		"gracePeriod", p.cfg.GracePeriod.String(),
		"pollInterval", p.cfg.PollInterval.String(),
	)

	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.log.Info("dispatch poller stopped")
			return
		case <-ticker.C:
		}

		p.Tick(ctx)
	}
}

// Tick drains due dialogs once and processes them in order. It returns the
// number of batches handled.
func (p *Poller) Tick(ctx context.Context) int {
	batches, err := p.inbox.DrainDue(ctx, p.cfg.GracePeriod)
	if err != nil {
		p.log.Warn("dispatch: drain failed", "error", err)
		return 0
	}
	if len(batches) == 0 {
		return 0
	}

	workCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.cfg.DrainTimeout*time.Duration(len(batches)))
	defer cancel()

	for _, batch := range batches {
		if err := p.safeProcess(workCtx, batch); err != nil {
			p.log.WithChatID(batch.Dialog.ChatID).Error("dispatch: batch failed", "error", err)
		}
	}
	return len(batches)
}

func (p *Poller) safeProcess(ctx context.Context, batch domain.Batch) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	return p.handler.Process(ctx, batch)
}
