package scheduler

import (
	"path/filepath"
	"testing"
	"time"

	"feederd/internal/actuator"
	"feederd/internal/schedule"
	logx "feederd/pkg/logx"
)

func newFixture(t *testing.T) (*Service, *schedule.Store, *actuator.MockDriver) {
	t.Helper()
	store := schedule.Open(filepath.Join(t.TempDir(), "schedules.json"), logx.Nop(), nil)
	drv := &actuator.MockDriver{}
	feeder := actuator.NewFeeder(drv, actuator.Timing{
		RestSettle: time.Microsecond, DispenseHold: time.Microsecond, ReturnSettle: time.Microsecond,
	}, logx.Nop(), nil)
	svc := New(Config{Enabled: true, Tick: time.Second, Timezone: "UTC"}, store, feeder, logx.Nop())
	svc.loc = time.UTC
	return svc, store, drv
}

func feedCount(drv *actuator.MockDriver) int {
	n := 0
	for _, p := range drv.Phases() {
		if p == "dispense" {
			n++
		}
	}
	return n
}

func at(h, m, s int) time.Time {
	return time.Date(2026, 3, 14, h, m, s, 0, time.UTC)
}

func TestNoDoubleFireWithinMinute(t *testing.T) {
	t.Parallel()
	svc, store, drv := newFixture(t)
	if _, err := store.Replace([]string{"08:00"}); err != nil {
		t.Fatal(err)
	}

	// One tick per second from 07:59:59 through 08:01:00.
	clock := at(7, 59, 59)
	for !clock.After(at(8, 1, 0)) {
		svc.runTick(clock)
		clock = clock.Add(time.Second)
	}

	if got := feedCount(drv); got != 1 {
		t.Fatalf("trigger fired %d times, want exactly 1", got)
	}
}

func TestFiresAgainNextDay(t *testing.T) {
	t.Parallel()
	svc, store, drv := newFixture(t)
	if _, err := store.Replace([]string{"08:00"}); err != nil {
		t.Fatal(err)
	}

	svc.runTick(at(8, 0, 0))
	svc.runTick(at(8, 0, 30))
	svc.runTick(at(8, 0, 0).AddDate(0, 0, 1))

	if got := feedCount(drv); got != 2 {
		t.Fatalf("fired %d times across two days, want 2", got)
	}
}

func TestReplaceVisibleOnNextTick(t *testing.T) {
	t.Parallel()
	svc, store, drv := newFixture(t)
	if _, err := store.Replace([]string{"08:00"}); err != nil {
		t.Fatal(err)
	}

	// Removed trigger must not fire, even though it was armed moments ago.
	if _, err := store.Replace([]string{"09:00"}); err != nil {
		t.Fatal(err)
	}
	svc.runTick(at(8, 0, 0))
	if got := feedCount(drv); got != 0 {
		t.Fatalf("removed trigger fired %d times", got)
	}

	// Newly added trigger fires on its minute, even if added seconds before.
	svc.runTick(at(9, 0, 1))
	if got := feedCount(drv); got != 1 {
		t.Fatalf("added trigger fired %d times, want 1", got)
	}
}

func TestFiredStateSurvivesReplace(t *testing.T) {
	t.Parallel()
	svc, store, drv := newFixture(t)
	if _, err := store.Replace([]string{"08:00"}); err != nil {
		t.Fatal(err)
	}

	svc.runTick(at(8, 0, 0))
	// Replace with a set that still contains 08:00; still inside the
	// trigger minute, so it must not fire again.
	if _, err := store.Replace([]string{"08:00", "12:00"}); err != nil {
		t.Fatal(err)
	}
	svc.runTick(at(8, 0, 10))

	if got := feedCount(drv); got != 1 {
		t.Fatalf("trigger re-fired after replace: %d feeds", got)
	}
}

func TestMultipleTriggers(t *testing.T) {
	t.Parallel()
	svc, store, drv := newFixture(t)
	if _, err := store.Replace([]string{"08:00", "12:00"}); err != nil {
		t.Fatal(err)
	}

	svc.runTick(at(8, 0, 0))
	svc.runTick(at(12, 0, 0))
	svc.runTick(at(18, 0, 0))

	if got := feedCount(drv); got != 2 {
		t.Fatalf("fired %d times, want 2", got)
	}
}

func TestFailingFeedDoesNotKillLoop(t *testing.T) {
	t.Parallel()
	svc, store, drv := newFixture(t)
	drv.FailOn = "dispense"
	if _, err := store.Replace([]string{"08:00", "08:01"}); err != nil {
		t.Fatal(err)
	}

	svc.runTick(at(8, 0, 0))
	svc.runTick(at(8, 1, 0))

	// Both triggers attempted despite hardware faults.
	if got := feedCount(drv); got != 2 {
		t.Fatalf("attempted %d feeds, want 2", got)
	}
}
