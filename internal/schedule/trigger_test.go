package schedule

import (
	"errors"
	"testing"
	"time"
)

func TestParseTriggerVariants(t *testing.T) {
	t.Parallel()
	tests := []struct {
		raw    string
		hour   int
		minute int
		want   string
	}{
		{raw: "08:00", hour: 8, minute: 0, want: "08:00"},
		{raw: "23:59", hour: 23, minute: 59, want: "23:59"},
		{raw: "00:00", hour: 0, minute: 0, want: "00:00"},
		{raw: " 9:05 ", hour: 9, minute: 5, want: "09:05"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.raw, func(t *testing.T) {
			got, err := ParseTrigger(tt.raw)
			if err != nil {
				t.Fatalf("ParseTrigger(%q) error: %v", tt.raw, err)
			}
			if got.Hour != tt.hour || got.Minute != tt.minute {
				t.Fatalf("got %d:%d, want %d:%d", got.Hour, got.Minute, tt.hour, tt.minute)
			}
			if got.String() != tt.want {
				t.Fatalf("String() = %q, want %q", got.String(), tt.want)
			}
		})
	}
}

func TestParseTriggerInvalid(t *testing.T) {
	t.Parallel()
	for _, raw := range []string{"", "8", "24:00", "12:60", "ab:cd", "12:00:00", "-1:30"} {
		if _, err := ParseTrigger(raw); !errors.Is(err, ErrBadTime) {
			t.Fatalf("ParseTrigger(%q) = %v, want ErrBadTime", raw, err)
		}
	}
}

func TestTriggerMatches(t *testing.T) {
	t.Parallel()
	tr := Trigger{Hour: 8, Minute: 0}
	at := func(h, m, s int) time.Time {
		return time.Date(2026, 3, 14, h, m, s, 0, time.UTC)
	}
	if !tr.Matches(at(8, 0, 0)) || !tr.Matches(at(8, 0, 59)) {
		t.Fatal("expected match anywhere inside the trigger minute")
	}
	if tr.Matches(at(7, 59, 59)) || tr.Matches(at(8, 1, 0)) {
		t.Fatal("expected no match outside the trigger minute")
	}
}
