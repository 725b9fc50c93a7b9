package actuator

import (
	"context"
	"sync"
	"time"

	"feederd/internal/eventbus"
	logx "feederd/pkg/logx"
)

// Source identifies what requested an actuation.
type Source string

const (
	SourceManual     Source = "manual"
	SourceScheduled  Source = "scheduled"
	SourceRemoteTest Source = "remote-test"
)

// Bus event types published per actuation attempt. Data is a FeedEvent.
const (
	EventFeedOK     = "feed.ok"
	EventFeedFailed = "feed.failed"
)

// FeedEvent records one actuation attempt. It is ephemeral: published on
// the bus for logging/history, never required for correctness.
type FeedEvent struct {
	Source Source    `json:"source"`
	At     time.Time `json:"at"`
	OK     bool      `json:"ok"`
	Error  string    `json:"error,omitempty"`
	Took   int64     `json:"took_ms"`
}

// Feeder serializes all access to the dispense servo.
//
// Feed is not reentrant at the hardware level, so a single mutex covers the
// whole three-phase motion: a manual feed and a scheduled feed can never
// interleave their phases. Callers block until the servo is free; feeds are
// short (~2s) and rare, so no timeout is applied.
type Feeder struct {
	mu     sync.Mutex
	drv    Driver
	timing Timing

	log logx.Logger
	bus eventbus.Bus
}

// NewFeeder wraps drv. A nil drv models failed servo attachment: the
// process keeps running and every Feed reports ErrNotInitialized.
func NewFeeder(drv Driver, timing Timing, log logx.Logger, bus eventbus.Bus) *Feeder {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Feeder{drv: drv, timing: timing.withDefaults(), log: log, bus: bus}
}

// Initialized reports whether a servo driver is attached.
func (f *Feeder) Initialized() bool { return f.drv != nil }

// Feed runs one three-phase dispense motion: rest, dispense, rest, release.
//
// The motion is never canceled mid-flight -- interrupting it would leave
// the drum in an undefined position -- so ctx is only used for the
// surrounding bookkeeping. On any phase failure the servo is still
// released to avoid leaving it energized.
func (f *Feeder) Feed(ctx context.Context, src Source) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	start := time.Now()
	err := f.runLocked()
	f.report(ctx, src, start, err)
	return err
}

func (f *Feeder) runLocked() error {
	if f.drv == nil {
		return ErrNotInitialized
	}

	f.log.Info("feeding started")

	if err := f.drv.MoveToRest(); err != nil {
		f.releaseLocked()
		return &DriveError{Phase: "rest", Err: err}
	}
	hold(f.timing.RestSettle)

	if err := f.drv.MoveToDispense(); err != nil {
		f.releaseLocked()
		return &DriveError{Phase: "dispense", Err: err}
	}
	hold(f.timing.DispenseHold)

	if err := f.drv.MoveToRest(); err != nil {
		f.releaseLocked()
		return &DriveError{Phase: "return", Err: err}
	}
	hold(f.timing.ReturnSettle)

	if err := f.drv.Release(); err != nil {
		return &DriveError{Phase: "release", Err: err}
	}

	f.log.Info("feeding finished")
	return nil
}

func (f *Feeder) releaseLocked() {
	if f.drv == nil {
		return
	}
	if err := f.drv.Release(); err != nil {
		f.log.Warn("release after failed feed", logx.Err(err))
	}
}

func (f *Feeder) report(ctx context.Context, src Source, start time.Time, err error) {
	_ = ctx
	ev := FeedEvent{
		Source: src,
		At:     start,
		OK:     err == nil,
		Took:   time.Since(start).Milliseconds(),
	}
	typ := EventFeedOK
	if err != nil {
		ev.Error = err.Error()
		typ = EventFeedFailed
		f.log.Error("feed failed", logx.String("source", string(src)), logx.Err(err))
	} else {
		f.log.Info("feed ok", logx.String("source", string(src)), logx.Duration("took", time.Since(start)))
	}
	if f.bus != nil {
		f.bus.Publish(eventbus.Event{Type: typ, Time: start, Data: ev})
	}
}

func hold(d time.Duration) {
	if d > 0 {
		time.Sleep(d)
	}
}
