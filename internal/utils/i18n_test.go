package utils

import "testing"

func TestT_Fallback(t *testing.T) {
	if got := T("fr", "health.ok"); got != "ok" {
		t.Fatalf("fallback to en failed: %s", got)
	}
	if got := T("en", "missing.key"); got != "missing.key" {
		t.Fatalf("unknown key should echo, got %s", got)
	}
}

func TestTf_ReminderBody(t *testing.T) {
	if got := Tf("en", "reminder.body", "Morning"); got != "Time for your Morning check-in" {
		t.Fatalf("unexpected body %q", got)
	}
	if got := Tf("de", "reminder.body", "Evening"); got != "Time for your Evening check-in" {
		t.Fatalf("unexpected fallback body %q", got)
	}
}
