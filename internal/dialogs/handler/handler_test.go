package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"crm_dialog_relay/internal/dialogs/domain"
	"crm_dialog_relay/internal/dialogs/ingress"
	"crm_dialog_relay/internal/dialogs/repository"
	"crm_dialog_relay/internal/dialogs/transport"
	"crm_dialog_relay/platform/apperr"
	"crm_dialog_relay/platform/logger"
	"crm_dialog_relay/platform/validator"

	"github.com/gin-gonic/gin"
)

type fakeChat struct {
	received []ingress.InboundMessage
}

func (f *fakeChat) Receive(_ context.Context, msgs []ingress.InboundMessage) ingress.ChatResult {
	f.received = append(f.received, msgs...)
	var r ingress.ChatResult
	for _, m := range msgs {
		if m.IsEcho {
			r.Echoes++
		} else {
			r.Accepted++
		}
	}
	return r
}

type fakeDeals struct {
	calls   []int64
	outcome ingress.Outcome
	err     error
}

func (f *fakeDeals) HandleDealUpdate(_ context.Context, dealID int64) (ingress.Outcome, error) {
	f.calls = append(f.calls, dealID)
	return f.outcome, f.err
}

func newTestRouter(t *testing.T, appToken string) (*gin.Engine, *fakeChat, *fakeDeals, *repository.MemoryStore) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	chat := &fakeChat{}
	deals := &fakeDeals{outcome: ingress.Outcome{Status: ingress.OutcomeProcessed}}
	store := repository.NewMemoryStore()
	h := New(chat, deals, store, validator.New(), appToken, logger.Discard())

	r := gin.New()
	r.POST("/webhook/wazzup", h.HandleWazzupWebhook)
	r.POST("/webhook/bitrix", h.HandleBitrixWebhook)
	r.GET("/api/v1/dialogs/:chatId", h.HandleGetDialog)
	r.POST("/api/v1/dialogs/:chatId/reset", h.HandleResetDialog)
	return r, chat, deals, store
}

func postForm(r http.Handler, path string, form url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func postJSON(r http.Handler, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestWazzupWebhookQueuesMessages(t *testing.T) {
	r, chat, _, _ := newTestRouter(t, "")

	w := postJSON(r, "/webhook/wazzup", `{"messages":[
		{"messageId":"m1","chatId":"79991234567","text":"Hi","dateTime":"2026-03-01T10:00:00Z","isEcho":false},
		{"messageId":"m2","chatId":"79991234567","text":"bot reply","isEcho":true},
		{"messageId":"m3","chatId":"","text":"no chat"}
	]}`)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if len(chat.received) != 2 || chat.received[0].Text != "Hi" || chat.received[0].SentAt.IsZero() {
		t.Fatalf("unexpected forwarded messages %+v", chat.received)
	}

	var ack transport.ChatAck
	if err := json.Unmarshal(w.Body.Bytes(), &ack); err != nil {
		t.Fatalf("decode ack: %v", err)
	}
	if ack.Accepted != 1 || ack.Echoes != 1 || ack.Skipped != 1 {
		t.Fatalf("unexpected ack %+v", ack)
	}
}

func TestWazzupWebhookAcknowledgesPingsAndGarbage(t *testing.T) {
	r, chat, _, _ := newTestRouter(t, "")

	for _, body := range []string{`{"test":true}`, `not json`} {
		if w := postJSON(r, "/webhook/wazzup", body); w.Code != http.StatusOK {
			t.Fatalf("body %q: expected 200, got %d", body, w.Code)
		}
	}
	if len(chat.received) != 0 {
		t.Fatalf("nothing should be forwarded, got %+v", chat.received)
	}
}

func TestBitrixWebhookDispatchesDealUpdate(t *testing.T) {
	r, _, deals, _ := newTestRouter(t, "")

	w := postForm(r, "/webhook/bitrix", url.Values{"event": {"ONCRMDEALUPDATE"}, "data[FIELDS][ID]": {"501"}})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if len(deals.calls) != 1 || deals.calls[0] != 501 {
		t.Fatalf("unexpected calls %v", deals.calls)
	}
}

func TestBitrixWebhookIgnoresOtherEvents(t *testing.T) {
	r, _, deals, _ := newTestRouter(t, "")

	w := postForm(r, "/webhook/bitrix", url.Values{"event": {"ONCRMCONTACTUPDATE"}, "data[FIELDS][ID]": {"7"}})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if len(deals.calls) != 0 {
		t.Fatalf("non-deal events must not be dispatched")
	}
}

func TestBitrixWebhookSurfacesFailures(t *testing.T) {
	r, _, deals, _ := newTestRouter(t, "")
	deals.err = apperr.Unavailable("oracle failed", errors.New("timeout"))

	w := postForm(r, "/webhook/bitrix", url.Values{"event": {"ONCRMDEALUPDATE"}, "data[FIELDS][ID]": {"501"}})
	if w.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", w.Code)
	}

	deals.err = apperr.NotFound("deal not found")
	w = postForm(r, "/webhook/bitrix", url.Values{"event": {"ONCRMDEALUPDATE"}, "data[FIELDS][ID]": {"501"}})
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestBitrixWebhookChecksApplicationToken(t *testing.T) {
	r, _, deals, _ := newTestRouter(t, "secret")

	w := postForm(r, "/webhook/bitrix", url.Values{"event": {"ONCRMDEALUPDATE"}, "data[FIELDS][ID]": {"501"}, "auth[application_token]": {"wrong"}})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
	w = postForm(r, "/webhook/bitrix", url.Values{"event": {"ONCRMDEALUPDATE"}, "data[FIELDS][ID]": {"501"}, "auth[application_token]": {"secret"}})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if len(deals.calls) != 1 {
		t.Fatalf("expected one dispatched call, got %d", len(deals.calls))
	}
}

func TestAdminGetAndReset(t *testing.T) {
	r, _, _, store := newTestRouter(t, "")
	ctx := context.Background()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/dialogs/79990000000", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown dialog, got %d", w.Code)
	}

	if _, err := store.GetOrCreate(ctx, "79991234567", domain.Links{}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := store.Replace(ctx, "79991234567", domain.StateEscalated, []domain.Entry{{Role: domain.RoleUser, Content: "help"}}); err != nil {
		t.Fatalf("escalate: %v", err)
	}

	w = postJSON(r, "/api/v1/dialogs/79991234567/reset", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp transport.DialogResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.CurrentState != domain.StateIdle || len(resp.History) != 1 {
		t.Fatalf("unexpected dialog after reset %+v", resp)
	}
}
