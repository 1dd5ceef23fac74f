package repository

import (
	"context"
	"errors"
	"time"

	"crm_dialog_relay/internal/dialogs/domain"
)

var (
	ErrDialogNotFound = errors.New("dialog not found")
	// ErrHistoryRegression is returned when a replacement history is shorter than the stored one.
	ErrHistoryRegression = errors.New("replacement history is shorter than stored history")
)

// DialogReader provides read-only access to dialogs.
type DialogReader interface {
	Get(ctx context.Context, chatID string) (domain.Dialog, error)
}

// DialogWriter creates dialogs and commits worker results.
type DialogWriter interface {
	// GetOrCreate returns the dialog for chatID, creating it when missing.
	// Non-nil links overwrite the stored values; nil links never clear them.
	GetOrCreate(ctx context.Context, chatID string, links domain.Links) (domain.Dialog, error)
	// Replace sets state and full history in one write.
	Replace(ctx context.Context, chatID string, state string, history []domain.Entry) error
	// ResetState moves a dialog back to idle and restarts the debounce clock
	// of any messages that accumulated while it was frozen.
	ResetState(ctx context.Context, chatID string) (domain.Dialog, error)
}

// PendingInbox is the debounce queue.
type PendingInbox interface {
	// AppendPending adds msg to the inbox and sets pending_since to now.
	AppendPending(ctx context.Context, chatID string, msg domain.PendingMessage) error
	// RestorePending puts drained messages back in front of anything that
	// arrived since the drain. pending_since is kept when already set.
	RestorePending(ctx context.Context, chatID string, msgs []domain.PendingMessage) error
	// DrainDue captures and clears every non-terminal inbox quiet for at least grace.
	DrainDue(ctx context.Context, grace time.Duration) ([]domain.Batch, error)
}

// Store is the full Dialog Store contract shared by the postgres and memory implementations.
type Store interface {
	DialogReader
	DialogWriter
	PendingInbox
}
