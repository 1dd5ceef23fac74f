package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"crm_dialog_relay/internal/coordination"
	"crm_dialog_relay/internal/dialogs/actions"
	"crm_dialog_relay/internal/dialogs/domain"
	"crm_dialog_relay/internal/dialogs/ports"
	"crm_dialog_relay/internal/dialogs/repository"
	"crm_dialog_relay/platform/logger"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
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

type fakeOracle struct {
	mu       sync.Mutex
	calls    [][]domain.Entry
	decision domain.Decision
	err      error
}

func (f *fakeOracle) Decide(_ context.Context, history []domain.Entry, _ string) (domain.Decision, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, append([]domain.Entry(nil), history...))
	return f.decision, f.err
}

type fakeSender struct {
	sent []string
	err  error
}

func (f *fakeSender) Send(_ context.Context, _ string, text string) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, text)
	return nil
}

type fakeCRM struct {
	comments      []string
	notifications []string
	commentErr    error
}

func (f *fakeCRM) AddComment(_ context.Context, _ int64, text string) error {
	f.comments = append(f.comments, text)
	return f.commentErr
}

func (f *fakeCRM) CreateTask(context.Context, ports.TaskParams) (int64, error) { return 1, nil }

func (f *fakeCRM) NotifyUser(_ context.Context, _ int64, message string) error {
	f.notifications = append(f.notifications, message)
	return nil
}

type staticPolicy string

func (s staticPolicy) Get(context.Context, time.Duration) string { return string(s) }

type harness struct {
	clock  *testClock
	store  *repository.MemoryStore
	oracle *fakeOracle
	sender *fakeSender
	crm    *fakeCRM
	poller *Poller
	proc   *Processor
}

func newHarness(grace time.Duration) *harness {
	clock := &testClock{now: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
	store := repository.NewMemoryStore().WithClock(clock.Now)
	oracle := &fakeOracle{decision: domain.Decision{ReplyText: "Thanks", NewState: "general", Action: domain.ActionNone}}
	sender := &fakeSender{}
	crm := &fakeCRM{}
	log := logger.Discard()

	proc := NewProcessor(store, oracle, staticPolicy("policy"), sender, actions.NewExecutor(crm, log),
		coordination.NewMemoryLocker(), ProcessorConfig{OracleTimeout: time.Second, PolicyTTL: time.Minute}, log)
	poller := NewPoller(store, proc, PollerConfig{GracePeriod: grace, PollInterval: time.Second}, log)

	return &harness{clock: clock, store: store, oracle: oracle, sender: sender, crm: crm, poller: poller, proc: proc}
}

func (h *harness) linkDialog(t *testing.T, chatID string) {
	t.Helper()
	deal, manager := int64(501), int64(9)
	if _, err := h.store.GetOrCreate(context.Background(), chatID, domain.Links{DealID: &deal, ManagerID: &manager}); err != nil {
		t.Fatalf("get or create: %v", err)
	}
}

func TestBurstWithinGraceProducesOneOracleCall(t *testing.T) {
	h := newHarness(5 * time.Second)
	ctx := context.Background()

	for _, text := range []string{"Hi", "Are you there?", "Hello?"} {
		_ = h.store.AppendPending(ctx, "79991234567", domain.PendingMessage{Content: text})
		h.clock.Advance(time.Second)
	}

	if n := h.poller.Tick(ctx); n != 0 {
		t.Fatalf("expected nothing due inside the grace period, got %d", n)
	}
	h.clock.Advance(5 * time.Second)
	if n := h.poller.Tick(ctx); n != 1 {
		t.Fatalf("expected one batch, got %d", n)
	}

	if len(h.oracle.calls) != 1 {
		t.Fatalf("expected one oracle call, got %d", len(h.oracle.calls))
	}
	history := h.oracle.calls[0]
	if len(history) != 3 {
		t.Fatalf("expected three user entries, got %+v", history)
	}
	for i, want := range []string{"Hi", "Are you there?", "Hello?"} {
		if history[i].Role != domain.RoleUser || history[i].Content != want {
			t.Fatalf("entry %d: unexpected %+v", i, history[i])
		}
	}

	if n := h.poller.Tick(ctx); n != 0 {
		t.Fatalf("expected no redelivery, got %d", n)
	}
	if len(h.oracle.calls) != 1 {
		t.Fatalf("expected no second oracle call")
	}
}

func TestDecisionIsDeliveredLoggedAndCommitted(t *testing.T) {
	h := newHarness(time.Second)
	ctx := context.Background()
	h.linkDialog(t, "79991234567")
	h.oracle.decision = domain.Decision{
		ReplyText:    "Thanks",
		NewState:     "general",
		Action:       domain.ActionLogComment,
		ActionParams: map[string]any{"comment_text": "ok"},
	}

	_ = h.store.AppendPending(ctx, "79991234567", domain.PendingMessage{Content: "Hello"})
	h.clock.Advance(2 * time.Second)
	h.poller.Tick(ctx)

	if len(h.sender.sent) != 1 || h.sender.sent[0] != "Thanks" {
		t.Fatalf("expected reply to be delivered, got %v", h.sender.sent)
	}
	if len(h.crm.comments) != 1 || h.crm.comments[0] != "ok" {
		t.Fatalf("expected comment ok, got %v", h.crm.comments)
	}
	d, _ := h.store.Get(ctx, "79991234567")
	if d.CurrentState != "general" {
		t.Fatalf("expected state general, got %q", d.CurrentState)
	}
	if len(d.History) != 2 || d.History[1].Role != domain.RoleAssistant || d.History[1].Content != "Thanks" {
		t.Fatalf("expected user and assistant entries, got %+v", d.History)
	}
}

func TestActionFailureStillCommitsState(t *testing.T) {
	h := newHarness(time.Second)
	ctx := context.Background()
	h.linkDialog(t, "79991234567")
	h.crm.commentErr = errors.New("bitrix down")
	h.oracle.decision = domain.Decision{
		ReplyText:    "Thanks",
		NewState:     "general",
		Action:       domain.ActionLogComment,
		ActionParams: map[string]any{"comment_text": "ok"},
	}

	_ = h.store.AppendPending(ctx, "79991234567", domain.PendingMessage{Content: "Hello"})
	h.clock.Advance(2 * time.Second)
	h.poller.Tick(ctx)

	d, _ := h.store.Get(ctx, "79991234567")
	if d.CurrentState != "general" || len(d.History) != 2 {
		t.Fatalf("expected commit despite comment failure, got %+v", d)
	}
}

func TestOracleFailureEscalatesWithoutReplyOrReprocessing(t *testing.T) {
	h := newHarness(time.Second)
	ctx := context.Background()
	h.linkDialog(t, "79991234567")
	h.oracle.err = context.DeadlineExceeded

	_ = h.store.AppendPending(ctx, "79991234567", domain.PendingMessage{Content: "Hello"})
	h.clock.Advance(2 * time.Second)
	h.poller.Tick(ctx)

	d, _ := h.store.Get(ctx, "79991234567")
	if d.CurrentState != domain.StateEscalated {
		t.Fatalf("expected escalated, got %q", d.CurrentState)
	}
	if len(d.History) != 1 || d.History[0].Content != "Hello" {
		t.Fatalf("expected merged user message kept, got %+v", d.History)
	}
	if len(h.sender.sent) != 0 {
		t.Fatalf("expected no reply, got %v", h.sender.sent)
	}
	if len(h.crm.notifications) != 1 {
		t.Fatalf("expected escalation notice, got %v", h.crm.notifications)
	}

	_ = h.store.AppendPending(ctx, "79991234567", domain.PendingMessage{Content: "Anyone?"})
	h.clock.Advance(time.Minute)
	h.poller.Tick(ctx)
	if len(h.oracle.calls) != 1 {
		t.Fatalf("expected frozen dialog to never reach the oracle again, got %d calls", len(h.oracle.calls))
	}
	d, _ = h.store.Get(ctx, "79991234567")
	if len(d.History) != 1 || len(d.PendingMessages) != 1 {
		t.Fatalf("expected frozen dialog to accumulate inertly, got %+v", d)
	}
}

func TestDeliveryFailureEscalates(t *testing.T) {
	h := newHarness(time.Second)
	ctx := context.Background()
	h.sender.err = errors.New("channel blocked")
	h.oracle.decision = domain.Decision{ReplyText: "Thanks", NewState: "general", Action: domain.ActionNone}

	_ = h.store.AppendPending(ctx, "79991234567", domain.PendingMessage{Content: "Hello"})
	h.clock.Advance(2 * time.Second)
	h.poller.Tick(ctx)

	d, _ := h.store.Get(ctx, "79991234567")
	if d.CurrentState != domain.StateEscalated || len(d.History) != 1 {
		t.Fatalf("expected escalation without assistant entry, got %+v", d)
	}
}

func TestFrozenDialogSkippedAndMessagesRestored(t *testing.T) {
	h := newHarness(time.Second)
	ctx := context.Background()

	_ = h.store.AppendPending(ctx, "79991234567", domain.PendingMessage{Content: "Hello"})
	h.clock.Advance(2 * time.Second)
	batches, _ := h.store.DrainDue(ctx, time.Second)
	if len(batches) != 1 {
		t.Fatalf("expected one batch")
	}

	// escalated between drain and processing
	if err := h.store.Replace(ctx, "79991234567", domain.StateEscalated, nil); err != nil {
		t.Fatalf("replace: %v", err)
	}
	_ = h.store.AppendPending(ctx, "79991234567", domain.PendingMessage{Content: "Later"})

	if err := h.proc.Process(ctx, batches[0]); err != nil {
		t.Fatalf("process: %v", err)
	}
	if len(h.oracle.calls) != 0 {
		t.Fatalf("expected oracle not to be called for a frozen dialog")
	}
	d, _ := h.store.Get(ctx, "79991234567")
	if d.CurrentState != domain.StateEscalated || len(d.History) != 0 || len(d.PendingMessages) != 2 {
		t.Fatalf("expected frozen dialog untouched with messages in inbox, got %+v", d)
	}
	if d.PendingMessages[0].Content != "Hello" || d.PendingMessages[1].Content != "Later" {
		t.Fatalf("restored message should precede later arrivals, got %+v", d.PendingMessages)
	}
}

type panickingHandler struct{ calls int }

func (p *panickingHandler) Process(context.Context, domain.Batch) error {
	p.calls++
	panic("boom")
}

func TestPollerSurvivesPanickingBatch(t *testing.T) {
	clock := &testClock{now: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
	store := repository.NewMemoryStore().WithClock(clock.Now)
	handler := &panickingHandler{}
	poller := NewPoller(store, handler, PollerConfig{GracePeriod: time.Second, PollInterval: time.Second}, logger.Discard())

	ctx := context.Background()
	_ = store.AppendPending(ctx, "a", domain.PendingMessage{Content: "1"})
	_ = store.AppendPending(ctx, "b", domain.PendingMessage{Content: "2"})
	clock.Advance(2 * time.Second)

	if n := poller.Tick(ctx); n != 2 {
		t.Fatalf("expected two batches, got %d", n)
	}
	if handler.calls != 2 {
		t.Fatalf("expected the second batch to run after the first panicked, got %d calls", handler.calls)
	}
}

func TestPollerRunStopsOnCancel(t *testing.T) {
	store := repository.NewMemoryStore()
	poller := NewPoller(store, &panickingHandler{}, PollerConfig{GracePeriod: time.Second, PollInterval: 10 * time.Millisecond}, logger.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		poller.Run(ctx)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("poller did not stop")
	}
}
