package scheduler

import (
	"encoding/json"
	"fmt"
	"time"

	"crm_dialog_relay/internal/dialogs/domain"

	"github.com/hibiken/asynq"
)

const TaskDialogBatch = "dialogs.batch"

// DialogBatchPayload carries messages drained from one dialog inbox. The
// worker reloads the dialog itself, so only the chat id travels with them.
type DialogBatchPayload struct {
	ChatID    string                  `json:"chatId"`
	Messages  []domain.PendingMessage `json:"messages"`
	DrainedAt time.Time               `json:"drainedAt"`
}

func NewDialogBatchTask(payload DialogBatchPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskDialogBatch, data), nil
}

func ParseDialogBatchPayload(task *asynq.Task) (DialogBatchPayload, error) {
	var payload DialogBatchPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return DialogBatchPayload{}, err
	}
	if payload.ChatID == "" {
		return DialogBatchPayload{}, fmt.Errorf("dialog batch without chat id")
	}
	return payload, nil
}

// Batch rebuilds the dispatch batch described by the payload.
func (p DialogBatchPayload) Batch() domain.Batch {
	return domain.Batch{
		Dialog:   domain.Dialog{ChatID: p.ChatID},
		Messages: p.Messages,
	}
}

func dialogBatchTaskID(chatID string, drainedAt time.Time) string {
	return fmt.Sprintf("%s:%s:%d", TaskDialogBatch, chatID, drainedAt.UnixNano())
}
