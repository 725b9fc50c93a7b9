package schedule

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Trigger is a daily time-of-day at which feeding should occur.
type Trigger struct {
	Hour   int
	Minute int
}

// ParseTrigger parses "HH:MM" (24-hour, zero-padded accepted but not
// required on input; output is always zero-padded).
func ParseTrigger(raw string) (Trigger, error) {
	s := strings.TrimSpace(raw)
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return Trigger{}, fmt.Errorf("%w: %q, expected HH:MM", ErrBadTime, raw)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return Trigger{}, fmt.Errorf("%w: invalid hour in %q", ErrBadTime, raw)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return Trigger{}, fmt.Errorf("%w: invalid minute in %q", ErrBadTime, raw)
	}
	return Trigger{Hour: h, Minute: m}, nil
}

// String renders the canonical zero-padded HH:MM form.
func (t Trigger) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// Before orders triggers by time-of-day.
func (t Trigger) Before(o Trigger) bool {
	if t.Hour != o.Hour {
		return t.Hour < o.Hour
	}
	return t.Minute < o.Minute
}

// Matches reports whether the wall-clock minute of now equals the trigger.
func (t Trigger) Matches(now time.Time) bool {
	return now.Hour() == t.Hour && now.Minute() == t.Minute
}
