package transport

import (
	"net/url"
	"testing"
	"time"

	"crm_dialog_relay/platform/apperr"
)

func TestNestFormExpandsBracketedKeys(t *testing.T) {
	form := NestForm(url.Values{
		"event":                   {"ONCRMDEALUPDATE"},
		"data[FIELDS][ID]":        {"501"},
		"auth[domain]":            {"example.bitrix24.ru"},
		"auth[application_token]": {"secret"},
	})

	data, ok := form["data"].(map[string]any)
	if !ok {
		t.Fatalf("expected nested data map, got %#v", form["data"])
	}
	fields, ok := data["FIELDS"].(map[string]any)
	if !ok || fields["ID"] != "501" {
		t.Fatalf("expected data.FIELDS.ID=501, got %#v", data)
	}
	if form["event"] != "ONCRMDEALUPDATE" {
		t.Fatalf("unexpected event %#v", form["event"])
	}
}

func TestParseBitrixEvent(t *testing.T) {
	ev, err := ParseBitrixEvent(url.Values{
		"event":                   {"ONCRMDEALUPDATE"},
		"data[FIELDS][ID]":        {" 501 "},
		"auth[application_token]": {"secret"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ev.Event != "ONCRMDEALUPDATE" || ev.DealID != 501 || ev.ApplicationToken != "secret" {
		t.Fatalf("unexpected event %+v", ev)
	}
}

func TestParseBitrixEventRejectsBadDealID(t *testing.T) {
	_, err := ParseBitrixEvent(url.Values{"event": {"ONCRMDEALUPDATE"}, "data[FIELDS][ID]": {"abc"}})
	if !apperr.Is(err, apperr.KindBadRequest) {
		t.Fatalf("expected bad request, got %v", err)
	}
	_, err = ParseBitrixEvent(url.Values{})
	if !apperr.Is(err, apperr.KindBadRequest) {
		t.Fatalf("expected bad request for missing event, got %v", err)
	}
}

func TestWazzupMessageSentAt(t *testing.T) {
	m := WazzupMessage{DateTime: "2026-03-01T10:00:00.000Z"}
	if got := m.SentAt(); !got.Equal(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected time %v", got)
	}
	if !(WazzupMessage{DateTime: "yesterday"}).SentAt().IsZero() {
		t.Fatalf("malformed time should be zero")
	}
}
