package scheduler

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"crm_dialog_relay/internal/dialogs/domain"
	"crm_dialog_relay/platform/config"
	"crm_dialog_relay/platform/logger"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
)

// Client enqueues drained dialog batches for the worker.
type Client struct {
	client *asynq.Client
	queue  string
}

func NewClient(cfg config.SchedulerConfig) (*Client, error) {
	redisURL := cfg.GetRedisURL()
	if redisURL == "" {
		return nil, fmt.Errorf("redis url not configured")
	}

	opt, err := redisClientOpt(redisURL, cfg.GetRedisTLSInsecure())
	if err != nil {
		return nil, err
	}

	return &Client{
		client: asynq.NewClient(opt),
		queue:  queueName(cfg),
	}, nil
}

func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

// EnqueueDialogBatch hands one batch to the queue. Batches are never retried:
// a failed batch escalates its dialog instead of replaying the oracle call.
func (c *Client) EnqueueDialogBatch(ctx context.Context, batch domain.Batch) error {
	if c == nil || c.client == nil {
		return fmt.Errorf("scheduler client not configured")
	}

	drainedAt := time.Now().UTC()
	task, err := NewDialogBatchTask(DialogBatchPayload{
		ChatID:    batch.Dialog.ChatID,
		Messages:  batch.Messages,
		DrainedAt: drainedAt,
	})
	if err != nil {
		return err
	}

	_, err = c.client.EnqueueContext(ctx, task,
		asynq.Queue(c.queue),
		asynq.MaxRetry(0),
		asynq.TaskID(dialogBatchTaskID(batch.Dialog.ChatID, drainedAt)),
	)
	return err
}

// PendingRestorer puts messages back into a dialog inbox.
type PendingRestorer interface {
	RestorePending(ctx context.Context, chatID string, msgs []domain.PendingMessage) error
}

// BatchForwarder is the poller's batch handler when a worker pool is
// configured. Messages of a batch that could not be enqueued go back into the inbox.
type BatchForwarder struct {
	client  *Client
	restore PendingRestorer
	log     *logger.Logger
}

func NewBatchForwarder(client *Client, restore PendingRestorer, log *logger.Logger) *BatchForwarder {
	return &BatchForwarder{client: client, restore: restore, log: log}
}

func (f *BatchForwarder) Process(ctx context.Context, batch domain.Batch) error {
	err := f.client.EnqueueDialogBatch(ctx, batch)
	if err == nil {
		return nil
	}

	chatID := batch.Dialog.ChatID
	if rerr := f.restore.RestorePending(ctx, chatID, batch.Messages); rerr != nil {
		f.log.WithChatID(chatID).Error("scheduler: failed to restore pending messages", "messages", len(batch.Messages), "error", rerr)
	}
	return fmt.Errorf("enqueue dialog batch %s: %w", chatID, err)
}

func queueName(cfg config.SchedulerConfig) string {
	if queue := cfg.GetAsynqQueueName(); queue != "" {
		return queue
	}
	return "default"
}

func redisClientOpt(redisURL string, tlsInsecure bool) (asynq.RedisClientOpt, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return asynq.RedisClientOpt{}, err
	}

	var tlsConfig *tls.Config
	if opt.TLSConfig != nil {
		clone := opt.TLSConfig.Clone()
		if tlsInsecure {
			clone.InsecureSkipVerify = true
		}
		tlsConfig = clone
	} else if tlsInsecure {
		tlsConfig = &tls.Config{InsecureSkipVerify: true}
	}

	return asynq.RedisClientOpt{
		Addr:      opt.Addr,
		Password:  opt.Password,
		DB:        opt.DB,
		TLSConfig: tlsConfig,
	}, nil
}
