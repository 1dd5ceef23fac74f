package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"crm_dialog_relay/internal/dialogs/domain"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Dialog Store with the same contract as Repository.
// It backs tests and single-process development runs.
type MemoryStore struct {
	mu      sync.Mutex
	dialogs map[string]*domain.Dialog
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		dialogs: make(map[string]*domain.Dialog),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the store clock.
func (s *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	s.now = now
	return s
}

func (s *MemoryStore) Get(_ context.Context, chatID string) (domain.Dialog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.dialogs[chatID]
	if !ok {
		return domain.Dialog{}, ErrDialogNotFound
	}
	return cloneDialog(d), nil
}

func (s *MemoryStore) GetOrCreate(_ context.Context, chatID string, links domain.Links) (domain.Dialog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d := s.getOrCreateLocked(chatID)
	if links.DealID != nil {
		v := *links.DealID
		d.DealID = &v
	}
	if links.ManagerID != nil {
		v := *links.ManagerID
		d.ManagerID = &v
	}
	if links.FunnelID != nil {
		v := *links.FunnelID
		d.FunnelID = &v
	}
	if !links.IsEmpty() {
		d.UpdatedAt = s.now()
	}
	return cloneDialog(d), nil
}

func (s *MemoryStore) AppendPending(_ context.Context, chatID string, msg domain.PendingMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if msg.Role == "" {
		msg.Role = domain.RoleUser
	}
	if msg.ReceivedAt.IsZero() {
		msg.ReceivedAt = now
	}

	d := s.getOrCreateLocked(chatID)
	d.PendingMessages = append(d.PendingMessages, msg)
	d.PendingSince = &now
	d.UpdatedAt = now
	return nil
}

func (s *MemoryStore) RestorePending(_ context.Context, chatID string, msgs []domain.PendingMessage) error {
	if len(msgs) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	d := s.getOrCreateLocked(chatID)
	restored := make([]domain.PendingMessage, 0, len(msgs)+len(d.PendingMessages))
	restored = append(restored, msgs...)
	d.PendingMessages = append(restored, d.PendingMessages...)
	if d.PendingSince == nil {
		d.PendingSince = &now
	}
	d.UpdatedAt = now
	return nil
}

func (s *MemoryStore) DrainDue(_ context.Context, grace time.Duration) ([]domain.Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	cutoff := now.Add(-grace)

	var due []*domain.Dialog
	for _, d := range s.dialogs {
		if d.PendingSince == nil || d.PendingSince.After(cutoff) || d.IsTerminal() {
			continue
		}
		due = append(due, d)
	}
	sort.Slice(due, func(i, j int) bool { return due[i].PendingSince.Before(*due[j].PendingSince) })

	batches := make([]domain.Batch, 0, len(due))
	for _, d := range due {
		messages := d.PendingMessages
		d.PendingMessages = nil
		d.PendingSince = nil
		d.UpdatedAt = now
		batches = append(batches, domain.Batch{Dialog: cloneDialog(d), Messages: messages})
	}
	return batches, nil
}

func (s *MemoryStore) Replace(_ context.Context, chatID string, state string, history []domain.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.dialogs[chatID]
	if !ok {
		return ErrDialogNotFound
	}
	if len(history) < len(d.History) {
		return ErrHistoryRegression
	}
	d.CurrentState = state
	d.History = append([]domain.Entry(nil), history...)
	d.UpdatedAt = s.now()
	return nil
}

func (s *MemoryStore) ResetState(_ context.Context, chatID string) (domain.Dialog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.dialogs[chatID]
	if !ok {
		return domain.Dialog{}, ErrDialogNotFound
	}
	now := s.now()
	d.CurrentState = domain.StateIdle
	if len(d.PendingMessages) > 0 {
		d.PendingSince = &now
	}
	d.UpdatedAt = now
	return cloneDialog(d), nil
}

func (s *MemoryStore) getOrCreateLocked(chatID string) *domain.Dialog {
	if d, ok := s.dialogs[chatID]; ok {
		return d
	}
	now := s.now()
	d := &domain.Dialog{
		ID:           uuid.New(),
		ChatID:       chatID,
		CurrentState: domain.StateIdle,
		History:      []domain.Entry{},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	s.dialogs[chatID] = d
	return d
}

func cloneDialog(d *domain.Dialog) domain.Dialog {
	out := *d
	out.History = append([]domain.Entry(nil), d.History...)
	out.PendingMessages = append([]domain.PendingMessage(nil), d.PendingMessages...)
	if d.PendingSince != nil {
		ts := *d.PendingSince
		out.PendingSince = &ts
	}
	return out
}

// Compile-time check.
var _ Store = (*MemoryStore)(nil)
