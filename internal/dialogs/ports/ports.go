package ports

import (
	"context"
	"time"

	"crm_dialog_relay/internal/dialogs/domain"
)

// ChatSender delivers a text message to a chat. A nil error means the
// provider accepted the message.
type ChatSender interface {
	Send(ctx context.Context, chatID string, text string) error
}

// Oracle decides the next reply, state and action for a dialog.
type Oracle interface {
	Decide(ctx context.Context, history []domain.Entry, policyText string) (domain.Decision, error)
}

// PolicyProvider returns the policy text handed to the oracle. It never fails;
// implementations fall back to stale or default text.
type PolicyProvider interface {
	Get(ctx context.Context, ttl time.Duration) string
}

// Locker serializes work on a single dialog across goroutines and processes.
type Locker interface {
	// Lock blocks until the key is held or ctx is done. The returned func releases it.
	Lock(ctx context.Context, key string) (func(), error)
}

// Deduper suppresses repeated events within a window.
type Deduper interface {
	// FirstSeen reports whether key was not seen within window, and records it.
	FirstSeen(ctx context.Context, key string, window time.Duration) (bool, error)
	// Forget removes key so a retry of a failed event is not suppressed.
	Forget(ctx context.Context, key string) error
}
