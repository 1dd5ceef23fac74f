package phone

import "testing"

func TestChatIDCanonicalizesFormattedNumbers(t *testing.T) {
	inputs := []string{"+7 (999) 123-45-67", "79991234567", "8 999 123 45 67"}
	for _, input := range inputs {
		if got := ChatID(input, "RU"); got != "79991234567" {
			t.Fatalf("ChatID(%q) = %q, want 79991234567", input, got)
		}
	}
}

func TestChatIDFallsBackToDigits(t *testing.T) {
	if got := ChatID("abc-12-3", "RU"); got != "123" {
		t.Fatalf("expected digits fallback, got %q", got)
	}
	if got := ChatID("   ", "RU"); got != "" {
		t.Fatalf("expected empty chat id for blank input, got %q", got)
	}
}
