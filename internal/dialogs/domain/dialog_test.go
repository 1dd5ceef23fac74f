package domain

import (
	"testing"
)

func TestMergeHistoryAppendsUserEntriesInArrivalOrder(t *testing.T) {
	history := []Entry{{Role: RoleAssistant, Content: "Hello"}}
	merged := MergeHistory(history, []PendingMessage{
		{Content: "Hi"},
		{Content: "Are you there?"},
		{Content: "Hello?"},
	})

	if len(merged) != 4 {
		t.Fatalf("expected 4 entries, got %d", len(merged))
	}
	want := []string{"Hello", "Hi", "Are you there?", "Hello?"}
	for i, entry := range merged {
		if entry.Content != want[i] {
			t.Fatalf("entry %d: expected %q, got %q", i, want[i], entry.Content)
		}
		if i > 0 && entry.Role != RoleUser {
			t.Fatalf("entry %d: expected user role, got %q", i, entry.Role)
		}
	}
	if len(history) != 1 {
		t.Fatalf("expected input history untouched, got %d entries", len(history))
	}
}

func TestPendingMessageTextIncludesAttachment(t *testing.T) {
	msg := PendingMessage{Content: "see photo", FileURL: "https://cdn/x.jpg", FileName: "x.jpg"}
	if got := msg.Text(); got != "see photo\n[attachment: x.jpg https://cdn/x.jpg]" {
		t.Fatalf("unexpected text %q", got)
	}

	bare := PendingMessage{FileURL: "https://cdn/y.pdf"}
	if got := bare.Text(); got != "[attachment: file https://cdn/y.pdf]" {
		t.Fatalf("unexpected text %q", got)
	}
}

func TestIsTerminal(t *testing.T) {
	if !IsTerminal(StateEscalated) {
		t.Fatalf("expected escalated to be terminal")
	}
	if IsTerminal(StateIdle) || IsTerminal("general") {
		t.Fatalf("expected idle and oracle states to be non-terminal")
	}
}

func TestDecisionParams(t *testing.T) {
	d := Decision{ActionParams: map[string]any{
		"comment_text":   " ok ",
		"deadline_hours": float64(48),
		"bad_hours":      "soon",
	}}
	if d.Param("comment_text") != "ok" {
		t.Fatalf("expected trimmed comment, got %q", d.Param("comment_text"))
	}
	if d.Param("missing") != "" {
		t.Fatalf("expected empty value for missing key")
	}
	if d.IntParam("deadline_hours", 24) != 48 {
		t.Fatalf("expected 48, got %d", d.IntParam("deadline_hours", 24))
	}
	if d.IntParam("bad_hours", 24) != 24 {
		t.Fatalf("expected fallback for invalid value")
	}
	if ParseAction(" log_comment ") != ActionLogComment {
		t.Fatalf("expected LOG_COMMENT")
	}
	if ParseAction("") != ActionNone {
		t.Fatalf("expected NONE for empty action")
	}
}
