package util

import (
	"testing"
	"time"
)

func TestGetEnvParsers(t *testing.T) {
	t.Setenv("PEERSCOPE_TEST_INT", "42")
	t.Setenv("PEERSCOPE_TEST_FLOAT", "0.25")
	t.Setenv("PEERSCOPE_TEST_DURATION", "90s")
	t.Setenv("PEERSCOPE_TEST_BOOL", "true")
	t.Setenv("PEERSCOPE_TEST_BAD", "nope")

	if got := GetEnvInt("PEERSCOPE_TEST_INT", 1); got != 42 {
		t.Fatalf("expected 42, got %d", got)
	}
	if got := GetEnvInt("PEERSCOPE_TEST_BAD", 7); got != 7 {
		t.Fatalf("expected default 7, got %d", got)
	}
	if got := GetEnvInt("PEERSCOPE_TEST_UNSET", 3); got != 3 {
		t.Fatalf("expected default 3, got %d", got)
	}
	if got := GetEnvFloat("PEERSCOPE_TEST_FLOAT", 1); got != 0.25 {
		t.Fatalf("expected 0.25, got %v", got)
	}
	if got := GetEnvNumeric("PEERSCOPE_TEST_BAD", 5); got != 5 {
		t.Fatalf("expected default 5, got %v", got)
	}
	if got := GetEnvDuration("PEERSCOPE_TEST_DURATION", time.Second); got != 90*time.Second {
		t.Fatalf("expected 90s, got %v", got)
	}
	if got := GetEnvDuration("PEERSCOPE_TEST_BAD", time.Minute); got != time.Minute {
		t.Fatalf("expected default 1m, got %v", got)
	}
	if !GetEnvBool("PEERSCOPE_TEST_BOOL", false) {
		t.Fatal("expected true")
	}
	if GetEnvBool("PEERSCOPE_TEST_BAD", false) {
		t.Fatal("expected default false")
	}
	if got := GetEnvString("PEERSCOPE_TEST_UNSET", "x"); got != "x" {
		t.Fatalf("expected x, got %q", got)
	}
}
