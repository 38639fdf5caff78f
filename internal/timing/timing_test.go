package timing

import (
	"testing"
	"time"
)

func TestClock(t *testing.T) {
	tests := []struct {
		name string
		in   time.Duration
		want string
	}{
		{name: "zero", in: 0, want: "00:00:00"},
		{name: "seconds", in: 42*time.Second + 900*time.Millisecond, want: "00:00:42"},
		{name: "hours", in: 26*time.Hour + 3*time.Minute + 4*time.Second, want: "26:03:04"},
		{name: "negative", in: -time.Second, want: "00:00:00"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Clock(tt.in); got != tt.want {
				t.Fatalf("expected %s, got %s", tt.want, got)
			}
		})
	}
}
