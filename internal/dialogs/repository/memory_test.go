package repository

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"crm_dialog_relay/internal/dialogs/domain"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestDrainDueReturnsBurstAsOneBatchInArrivalOrder(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock()
	store := NewMemoryStore().WithClock(clock.Now)

	for _, text := range []string{"Hi", "Are you there?", "Hello?"} {
		if err := store.AppendPending(ctx, "79991234567", domain.PendingMessage{Content: text}); err != nil {
			t.Fatalf("append: %v", err)
		}
		clock.Advance(time.Second)
	}

	batches, err := store.DrainDue(ctx, 5*time.Second)
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if len(batches) != 0 {
		t.Fatalf("expected no batch inside the grace period, got %d", len(batches))
	}

	clock.Advance(5 * time.Second)
	batches, err = store.DrainDue(ctx, 5*time.Second)
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if len(batches) != 1 {
		t.Fatalf("expected one batch, got %d", len(batches))
	}
	got := batches[0].Messages
	if len(got) != 3 || got[0].Content != "Hi" || got[1].Content != "Are you there?" || got[2].Content != "Hello?" {
		t.Fatalf("unexpected batch order: %+v", got)
	}
	if got[0].Role != domain.RoleUser {
		t.Fatalf("expected user role, got %q", got[0].Role)
	}
}

func TestDrainDueDoesNotRedeliver(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock()
	store := NewMemoryStore().WithClock(clock.Now)

	_ = store.AppendPending(ctx, "chat", domain.PendingMessage{Content: "one"})
	clock.Advance(20 * time.Second)

	first, _ := store.DrainDue(ctx, 10*time.Second)
	second, _ := store.DrainDue(ctx, 10*time.Second)
	if len(first) != 1 {
		t.Fatalf("expected first drain to return one batch, got %d", len(first))
	}
	if len(second) != 0 {
		t.Fatalf("expected immediate re-drain to be empty, got %d", len(second))
	}

	d, err := store.Get(ctx, "chat")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if d.PendingSince != nil || len(d.PendingMessages) != 0 {
		t.Fatalf("expected empty inbox with cleared watermark, got %+v", d)
	}
}

func TestAppendPendingResetsWatermark(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock()
	store := NewMemoryStore().WithClock(clock.Now)

	_ = store.AppendPending(ctx, "chat", domain.PendingMessage{Content: "a"})
	clock.Advance(8 * time.Second)
	_ = store.AppendPending(ctx, "chat", domain.PendingMessage{Content: "b"})
	clock.Advance(8 * time.Second)

	batches, _ := store.DrainDue(ctx, 10*time.Second)
	if len(batches) != 0 {
		t.Fatalf("expected trailing-edge watermark to delay the batch")
	}

	clock.Advance(2 * time.Second)
	batches, _ = store.DrainDue(ctx, 10*time.Second)
	if len(batches) != 1 || len(batches[0].Messages) != 2 {
		t.Fatalf("expected one batch of two messages, got %+v", batches)
	}
}

func TestDrainDueSkipsEscalatedDialogs(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock()
	store := NewMemoryStore().WithClock(clock.Now)

	_, _ = store.GetOrCreate(ctx, "chat", domain.Links{})
	if err := store.Replace(ctx, "chat", domain.StateEscalated, nil); err != nil {
		t.Fatalf("replace: %v", err)
	}
	_ = store.AppendPending(ctx, "chat", domain.PendingMessage{Content: "still there?"})
	clock.Advance(time.Minute)

	batches, _ := store.DrainDue(ctx, 10*time.Second)
	if len(batches) != 0 {
		t.Fatalf("expected escalated dialog to stay undrained, got %d batches", len(batches))
	}
	d, _ := store.Get(ctx, "chat")
	if len(d.PendingMessages) != 1 || d.PendingSince == nil {
		t.Fatalf("expected message to accumulate inertly, got %+v", d)
	}

	reset, err := store.ResetState(ctx, "chat")
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	if reset.CurrentState != domain.StateIdle || !reset.PendingSince.Equal(clock.Now()) {
		t.Fatalf("expected reset to idle with fresh watermark, got %+v", reset)
	}
	clock.Advance(10 * time.Second)
	batches, _ = store.DrainDue(ctx, 10*time.Second)
	if len(batches) != 1 {
		t.Fatalf("expected accumulated messages to replay after reset")
	}
}

func TestGetOrCreateNeverClearsLinks(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	deal := int64(501)
	manager := int64(7)

	_, _ = store.GetOrCreate(ctx, "chat", domain.Links{DealID: &deal, ManagerID: &manager})
	d, err := store.GetOrCreate(ctx, "chat", domain.Links{})
	if err != nil {
		t.Fatalf("get or create: %v", err)
	}
	if d.DealID == nil || *d.DealID != 501 || d.ManagerID == nil || *d.ManagerID != 7 {
		t.Fatalf("expected links to survive empty re-association, got %+v", d)
	}

	nextDeal := int64(502)
	d, _ = store.GetOrCreate(ctx, "chat", domain.Links{DealID: &nextDeal})
	if *d.DealID != 502 || *d.ManagerID != 7 {
		t.Fatalf("expected deal update only, got deal=%d manager=%d", *d.DealID, *d.ManagerID)
	}
	if d.CurrentState != domain.StateIdle {
		t.Fatalf("expected idle state, got %q", d.CurrentState)
	}
}

func TestReplaceIsAtomicAndRejectsShorterHistory(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	if err := store.Replace(ctx, "missing", "general", nil); !errors.Is(err, ErrDialogNotFound) {
		t.Fatalf("expected ErrDialogNotFound, got %v", err)
	}

	_, _ = store.GetOrCreate(ctx, "chat", domain.Links{})
	history := []domain.Entry{{Role: domain.RoleUser, Content: "Hi"}, {Role: domain.RoleAssistant, Content: "Hello"}}
	if err := store.Replace(ctx, "chat", "general", history); err != nil {
		t.Fatalf("replace: %v", err)
	}
	history[0].Content = "mutated"

	d, _ := store.Get(ctx, "chat")
	if d.CurrentState != "general" || len(d.History) != 2 || d.History[0].Content != "Hi" {
		t.Fatalf("unexpected dialog after replace: %+v", d)
	}

	if err := store.Replace(ctx, "chat", "other", history[:1]); !errors.Is(err, ErrHistoryRegression) {
		t.Fatalf("expected ErrHistoryRegression, got %v", err)
	}
	d, _ = store.Get(ctx, "chat")
	if d.CurrentState != "general" || len(d.History) != 2 {
		t.Fatalf("expected rejected replace to leave state and history untouched, got %+v", d)
	}
}

func TestReplaceKeepsMessagesArrivingDuringProcessing(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock()
	store := NewMemoryStore().WithClock(clock.Now)

	_ = store.AppendPending(ctx, "chat", domain.PendingMessage{Content: "first"})
	clock.Advance(15 * time.Second)
	batches, _ := store.DrainDue(ctx, 10*time.Second)
	if len(batches) != 1 {
		t.Fatalf("expected one batch")
	}

	_ = store.AppendPending(ctx, "chat", domain.PendingMessage{Content: "second"})
	merged := domain.MergeHistory(batches[0].Dialog.History, batches[0].Messages)
	if err := store.Replace(ctx, "chat", "general", merged); err != nil {
		t.Fatalf("replace: %v", err)
	}

	d, _ := store.Get(ctx, "chat")
	if len(d.PendingMessages) != 1 || d.PendingMessages[0].Content != "second" {
		t.Fatalf("expected new message to remain pending, got %+v", d.PendingMessages)
	}
}

func TestConcurrentDrainDeliversEachMessageOnce(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock()
	store := NewMemoryStore().WithClock(clock.Now)

	for i := 0; i < 20; i++ {
		_ = store.AppendPending(ctx, "chat-"+string(rune('a'+i)), domain.PendingMessage{Content: "x"})
	}
	clock.Advance(time.Minute)

	var wg sync.WaitGroup
	var mu sync.Mutex
	seen := map[string]int{}
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			batches, err := store.DrainDue(ctx, 10*time.Second)
			if err != nil {
				return
			}
			mu.Lock()
			for _, b := range batches {
				seen[b.Dialog.ChatID]++
			}
			mu.Unlock()
		}()
	}
	wg.Wait()

	if len(seen) != 20 {
		t.Fatalf("expected 20 drained dialogs, got %d", len(seen))
	}
	for chatID, n := range seen {
		if n != 1 {
			t.Fatalf("dialog %s drained %d times", chatID, n)
		}
	}
}

func TestRestorePendingKeepsArrivalOrder(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock()
	store := NewMemoryStore().WithClock(clock.Now)

	_ = store.AppendPending(ctx, "chat", domain.PendingMessage{Content: "first"})
	_ = store.AppendPending(ctx, "chat", domain.PendingMessage{Content: "second"})
	clock.Advance(15 * time.Second)
	batches, _ := store.DrainDue(ctx, 10*time.Second)
	if len(batches) != 1 {
		t.Fatalf("expected one batch")
	}

	clock.Advance(time.Second)
	_ = store.AppendPending(ctx, "chat", domain.PendingMessage{Content: "third"})
	arrived := clock.Now()
	clock.Advance(time.Second)

	if err := store.RestorePending(ctx, "chat", batches[0].Messages); err != nil {
		t.Fatalf("restore: %v", err)
	}

	d, _ := store.Get(ctx, "chat")
	var got []string
	for _, m := range d.PendingMessages {
		got = append(got, m.Content)
	}
	if len(got) != 3 || got[0] != "first" || got[1] != "second" || got[2] != "third" {
		t.Fatalf("unexpected order %v", got)
	}
	if d.PendingSince == nil || !d.PendingSince.Equal(arrived) {
		t.Fatalf("expected pending_since of the newest arrival, got %v", d.PendingSince)
	}
}

func TestConcurrentGetOrCreateYieldsOneDialog(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	const workers = 16
	ids := make(chan string, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			dealID := int64(500 + i)
			d, err := store.GetOrCreate(ctx, "79991234567", domain.Links{DealID: &dealID})
			if err != nil {
				t.Errorf("get or create: %v", err)
				return
			}
			ids <- d.ID.String()
		}(i)
	}
	wg.Wait()
	close(ids)

	first := ""
	for id := range ids {
		if first == "" {
			first = id
		}
		if id != first {
			t.Fatalf("expected one dialog row, got %s and %s", first, id)
		}
	}
	d, err := store.Get(ctx, "79991234567")
	if err != nil || d.DealID == nil {
		t.Fatalf("expected linked dialog, got %+v err=%v", d, err)
	}
}
