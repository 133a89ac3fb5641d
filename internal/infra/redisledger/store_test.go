package redisledger

import (
	"testing"
	"time"
)

func TestKeys(t *testing.T) {
	if got := RecordKey("u1"); got != "greenproof:user:u1" {
		t.Errorf("RecordKey = %q", got)
	}
	if got := ActionsKey("u1"); got != "greenproof:user:u1:actions" {
		t.Errorf("ActionsKey = %q", got)
	}
}

func TestTimestamp(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC)
	if got := timestamp(at); got != "2026-03-01T12:30:00Z" {
		t.Errorf("timestamp = %q", got)
	}
	if got := timestamp(time.Time{}); got == "" {
		t.Error("zero time should fall back to now, not empty")
	}
}
