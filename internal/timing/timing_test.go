package timing

import (
	"testing"
	"time"
)

func TestClock(t *testing.T) {
	cases := []struct {
		in   time.Duration
		want string
	}{
		{0, "00:00:00"},
		{-time.Second, "00:00:00"},
		{59 * time.Second, "00:00:59"},
		{61*time.Minute + 5*time.Second, "01:01:05"},
		{26 * time.Hour, "26:00:00"},
	}
	for _, tc := range cases {
		if got := Clock(tc.in); got != tc.want {
			t.Fatalf("Clock(%v) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestPerItem(t *testing.T) {
	if got := PerItem(10*time.Second, 4); got != 2500*time.Millisecond {
		t.Fatalf("PerItem = %v", got)
	}
	if got := PerItem(time.Second, 0); got != 0 {
		t.Fatalf("PerItem with no items = %v", got)
	}
}
