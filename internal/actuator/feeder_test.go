package actuator

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	logx "feederd/pkg/logx"
)

// fastTiming keeps the three-phase motion near-instant in tests.
func fastTiming() Timing {
	return Timing{RestSettle: time.Millisecond, DispenseHold: time.Millisecond, ReturnSettle: time.Millisecond}
}

func TestFeedPhaseSequence(t *testing.T) {
	t.Parallel()
	drv := &MockDriver{}
	f := NewFeeder(drv, fastTiming(), logx.Nop(), nil)

	if err := f.Feed(context.Background(), SourceManual); err != nil {
		t.Fatalf("Feed error: %v", err)
	}
	want := []string{"rest", "dispense", "rest", "release"}
	if got := drv.Phases(); !reflect.DeepEqual(got, want) {
		t.Fatalf("phases = %v, want %v", got, want)
	}
}

func TestFeedNotInitialized(t *testing.T) {
	t.Parallel()
	f := NewFeeder(nil, fastTiming(), logx.Nop(), nil)
	if err := f.Feed(context.Background(), SourceManual); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("Feed = %v, want ErrNotInitialized", err)
	}
}

func TestFeedFailureStillReleases(t *testing.T) {
	t.Parallel()
	drv := &MockDriver{FailOn: "dispense"}
	f := NewFeeder(drv, fastTiming(), logx.Nop(), nil)

	err := f.Feed(context.Background(), SourceRemoteTest)
	var de *DriveError
	if !errors.As(err, &de) {
		t.Fatalf("Feed = %v, want DriveError", err)
	}
	if de.Phase != "dispense" {
		t.Fatalf("failed phase = %q, want dispense", de.Phase)
	}
	phases := drv.Phases()
	if phases[len(phases)-1] != "release" {
		t.Fatalf("servo left energized after failed feed: %v", phases)
	}
}

// guardedDriver fails the test if two phase calls ever overlap, which is
// exactly what the feed mutex must prevent.
type guardedDriver struct {
	t        *testing.T
	inFlight atomic.Int32
	feeds    atomic.Int32
}

func (g *guardedDriver) phase(name string) error {
	if g.inFlight.Add(1) != 1 {
		g.t.Errorf("concurrent %s phase observed", name)
	}
	time.Sleep(time.Millisecond)
	g.inFlight.Add(-1)
	return nil
}

func (g *guardedDriver) MoveToRest() error     { return g.phase("rest") }
func (g *guardedDriver) MoveToDispense() error { return g.phase("dispense") }
func (g *guardedDriver) Release() error {
	g.feeds.Add(1)
	return g.phase("release")
}

func TestFeedMutualExclusion(t *testing.T) {
	t.Parallel()
	drv := &guardedDriver{t: t}
	f := NewFeeder(drv, fastTiming(), logx.Nop(), nil)

	// Manual, remote-test and scheduled feeds all racing for the servo.
	var wg sync.WaitGroup
	for _, src := range []Source{SourceManual, SourceRemoteTest, SourceScheduled, SourceManual, SourceScheduled} {
		wg.Add(1)
		go func(src Source) {
			defer wg.Done()
			if err := f.Feed(context.Background(), src); err != nil {
				t.Errorf("Feed(%s) error: %v", src, err)
			}
		}(src)
	}
	wg.Wait()

	if got := drv.feeds.Load(); got != 5 {
		t.Fatalf("completed feeds = %d, want 5", got)
	}
}
