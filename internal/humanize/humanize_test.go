package humanize

import (
	"testing"
	"time"
)

func TestPrecise(t *testing.T) {
	cases := []struct {
		in   time.Duration
		want string
	}{
		{0, "0 seconds"},
		{500 * time.Nanosecond, "0 seconds"},
		{time.Second, "1 second"},
		{90 * time.Second, "1 minute and 30 seconds"},
		{time.Minute + 40*time.Second + 500*time.Millisecond, "1 minute, 40 seconds and 500 milliseconds"},
		{25 * time.Hour, "1 day and 1 hour"},
		{1500 * time.Microsecond, "1 millisecond and 500 microseconds"},
		{-90 * time.Second, "minus 1 minute and 30 seconds"},
	}
	for _, tc := range cases {
		if got := Precise(tc.in); got != tc.want {
			t.Errorf("Precise(%v) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestRough(t *testing.T) {
	cases := []struct {
		in   time.Duration
		want string
	}{
		{400 * time.Millisecond, "less than a second"},
		{500 * time.Millisecond, "about a second"},
		{time.Second, "about a second"},
		{89 * time.Second, "about a minute"},
		{90 * time.Second, "about 2 minutes"},
		{time.Hour, "about an hour"},
		{36 * time.Hour, "about 2 days"},
		{-2 * time.Hour, "minus about 2 hours"},
	}
	for _, tc := range cases {
		if got := Rough(tc.in); got != tc.want {
			t.Errorf("Rough(%v) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
