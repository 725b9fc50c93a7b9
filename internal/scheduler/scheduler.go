package scheduler

import (
	"context"
	"strings"
	"sync"
	"time"

	"feederd/internal/actuator"
	"feederd/internal/schedule"
	logx "feederd/pkg/logx"
)

type Config struct {
	Enabled  bool
	Tick     time.Duration
	Timezone string // IANA TZ, e.g. "Europe/Warsaw"; empty means local time
}

// Service is the trigger loop: it wakes every tick, compares wall-clock
// time against the schedule snapshot and fires each trigger at most once
// per calendar day.
//
// The tick-and-compare model is deliberate: it needs no per-trigger timer
// bookkeeping when the schedule is replaced concurrently, and it is
// testable through the injectable clock.
type Service struct {
	mu  sync.Mutex
	cfg Config
	loc *time.Location

	store  *schedule.Store
	feeder *actuator.Feeder
	log    logx.Logger

	// now is the clock; tests replace it.
	now func() time.Time

	stopCh chan struct{}
	doneCh chan struct{}

	// fired maps a trigger to the calendar date (YYYY-MM-DD) it last fired
	// on, preventing re-fires on every tick inside the trigger minute.
	// Entries for past days are pruned each tick.
	fmu   sync.Mutex
	fired map[schedule.Trigger]string
}

func New(cfg Config, store *schedule.Store, feeder *actuator.Feeder, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:    cfg,
		store:  store,
		feeder: feeder,
		log:    log,
		now:    time.Now,
		fired:  map[schedule.Trigger]string{},
	}
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Apply swaps the config. If the loop is running and tick or timezone
// changed, it is restarted in place; same-day fired state survives.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	old := s.cfg
	s.cfg = cfg
	running := s.stopCh != nil
	s.mu.Unlock()

	if running && (old.Tick != cfg.Tick || strings.TrimSpace(old.Timezone) != strings.TrimSpace(cfg.Timezone)) {
		s.stopLoop()
		s.startLoop(context.Background())
		s.log.Info("scheduler restarted", logx.Duration("tick", s.tick()), logx.String("tz", s.location().String()))
	}
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	if s.stopCh != nil {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	s.startLoop(ctx)
	s.log.Info("scheduler started", logx.Duration("tick", s.tick()), logx.String("tz", s.location().String()))
}

// Stop halts the loop. An in-flight feed is allowed to complete; hard
// cancellation would leave the servo in an undefined position.
func (s *Service) Stop(ctx context.Context) {
	_ = ctx
	s.mu.Lock()
	running := s.stopCh != nil
	s.mu.Unlock()
	if !running {
		return
	}
	s.stopLoop()
	s.log.Info("scheduler stopped")
}

func (s *Service) startLoop(ctx context.Context) {
	s.mu.Lock()
	if s.stopCh != nil {
		s.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	done := make(chan struct{})
	s.stopCh = stop
	s.doneCh = done
	loc := s.loadLocationLocked()
	s.loc = loc
	tick := s.cfg.Tick
	s.mu.Unlock()

	if tick <= 0 {
		tick = time.Second
	}

	go func() {
		defer close(done)
		ticker := time.NewTicker(tick)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			case <-ticker.C:
				s.runTick(s.now())
			}
		}
	}()
}

func (s *Service) stopLoop() {
	s.mu.Lock()
	stop := s.stopCh
	done := s.doneCh
	s.stopCh = nil
	s.doneCh = nil
	s.mu.Unlock()
	if stop != nil {
		close(stop)
	}
	if done != nil {
		<-done
	}
}

// runTick fires every due trigger exactly once per day. It re-reads the
// store snapshot each call, so a Replace is visible on the very next tick.
// One failing trigger (or a panic) never kills future ticks.
func (s *Service) runTick(now time.Time) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("scheduler tick panicked", logx.Any("panic", r))
		}
	}()

	now = now.In(s.location())
	date := now.Format("2006-01-02")

	s.fmu.Lock()
	for t, d := range s.fired {
		if d != date {
			delete(s.fired, t)
		}
	}
	s.fmu.Unlock()

	for _, t := range s.store.Triggers() {
		if !t.Matches(now) {
			continue
		}
		s.fmu.Lock()
		already := s.fired[t] == date
		if !already {
			// Mark before actuating: the feed takes ~2s and ticks keep
			// arriving during the trigger minute.
			s.fired[t] = date
		}
		s.fmu.Unlock()
		if already {
			continue
		}

		s.log.Info("scheduled feeding due", logx.String("trigger", t.String()))
		if err := s.feeder.Feed(context.Background(), actuator.SourceScheduled); err != nil {
			s.log.Error("scheduled feed failed", logx.String("trigger", t.String()), logx.Err(err))
		}
	}
}

func (s *Service) tick() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cfg.Tick <= 0 {
		return time.Second
	}
	return s.cfg.Tick
}

func (s *Service) location() *time.Location {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loc == nil {
		return time.Local
	}
	return s.loc
}

func (s *Service) loadLocationLocked() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone, falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}
