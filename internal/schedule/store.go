package schedule

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"feederd/internal/eventbus"
	logx "feederd/pkg/logx"
)

var (
	// ErrBadTime reports a malformed trigger time.
	ErrBadTime = errors.New("invalid time")
	// ErrNotFound reports removal of a trigger that is not scheduled.
	ErrNotFound = errors.New("time not scheduled")
)

// EventReplaced is published on the bus after the active trigger set changed.
// Data is the new sorted []string snapshot.
const EventReplaced = "schedule.replaced"

// scheduleFile is the on-disk shape: {"schedules": ["HH:MM", ...]}.
type scheduleFile struct {
	Schedules []string `json:"schedules"`
}

// Store owns the feeding schedule: a mutex-guarded sorted set of Triggers
// backed by a JSON file. All reads and writes go through the Store; the
// scheduler loop only ever sees Snapshot() copies.
type Store struct {
	mu       sync.Mutex
	path     string
	triggers []Trigger

	log logx.Logger
	bus eventbus.Bus
}

// Open creates a Store and loads the persisted schedule. A missing or
// corrupt file yields an empty schedule; Open never fails the process for
// persistence reasons.
func Open(path string, log logx.Logger, bus eventbus.Bus) *Store {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Store{path: path, log: log, bus: bus}
	s.load()
	return s
}

func (s *Store) load() {
	b, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			s.log.Info("no saved schedule", logx.String("path", s.path))
		} else {
			s.log.Warn("schedule read failed; starting empty", logx.String("path", s.path), logx.Err(err))
		}
		return
	}
	var f scheduleFile
	if err := json.Unmarshal(b, &f); err != nil {
		s.log.Warn("schedule file corrupt; starting empty", logx.String("path", s.path), logx.Err(err))
		return
	}
	ts, bad := parseAll(f.Schedules)
	for _, raw := range bad {
		s.log.Warn("dropping invalid saved trigger", logx.String("time", raw))
	}
	s.mu.Lock()
	s.triggers = ts
	s.mu.Unlock()
	s.log.Info("schedule loaded", logx.Int("triggers", len(ts)), logx.String("path", s.path))
}

// Replace validates, dedupes and atomically swaps the active trigger set,
// then persists it. Returns the number of active triggers after the swap.
//
// Persistence is best-effort: a write failure is logged and the in-memory
// schedule stays authoritative for the running process.
func (s *Store) Replace(times []string) (int, error) {
	ts := make([]Trigger, 0, len(times))
	for _, raw := range times {
		t, err := ParseTrigger(raw)
		if err != nil {
			return 0, err
		}
		ts = append(ts, t)
	}
	ts = dedupeSorted(ts)

	s.mu.Lock()
	s.triggers = ts
	snap := renderLocked(ts)
	s.persistLocked(snap)
	s.mu.Unlock()

	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: EventReplaced, Data: snap})
	}
	s.log.Info("schedule replaced", logx.Int("triggers", len(ts)))
	return len(ts), nil
}

// Add inserts one trigger. Adding an already-scheduled time is an
// idempotent no-op; added reports whether the set actually changed.
func (s *Store) Add(raw string) (added bool, err error) {
	t, err := ParseTrigger(raw)
	if err != nil {
		return false, err
	}

	s.mu.Lock()
	for _, cur := range s.triggers {
		if cur == t {
			s.mu.Unlock()
			return false, nil
		}
	}
	s.triggers = dedupeSorted(append(s.triggers, t))
	snap := renderLocked(s.triggers)
	s.persistLocked(snap)
	s.mu.Unlock()

	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: EventReplaced, Data: snap})
	}
	s.log.Info("trigger added", logx.String("time", t.String()))
	return true, nil
}

// Remove deletes one trigger. Removing an absent time reports ErrNotFound;
// the store itself is untouched in that case.
func (s *Store) Remove(raw string) error {
	t, err := ParseTrigger(raw)
	if err != nil {
		return err
	}

	s.mu.Lock()
	idx := -1
	for i, cur := range s.triggers {
		if cur == t {
			idx = i
			break
		}
	}
	if idx < 0 {
		s.mu.Unlock()
		return ErrNotFound
	}
	s.triggers = append(s.triggers[:idx], s.triggers[idx+1:]...)
	snap := renderLocked(s.triggers)
	s.persistLocked(snap)
	s.mu.Unlock()

	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: EventReplaced, Data: snap})
	}
	s.log.Info("trigger removed", logx.String("time", t.String()))
	return nil
}

// Snapshot returns the sorted triggers as canonical HH:MM strings.
func (s *Store) Snapshot() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return renderLocked(s.triggers)
}

// Triggers returns a sorted copy of the active trigger set.
func (s *Store) Triggers() []Trigger {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Trigger, len(s.triggers))
	copy(out, s.triggers)
	return out
}

// persistLocked rewrites the schedule file via temp-file + rename so a
// crash mid-write can't leave a truncated file. Caller holds s.mu; the
// write is local and fast, so holding the lock across it is acceptable.
func (s *Store) persistLocked(snap []string) {
	b, err := json.Marshal(scheduleFile{Schedules: snap})
	if err != nil {
		s.log.Error("schedule marshal failed", logx.Err(err))
		return
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		s.log.Warn("schedule persist failed", logx.String("path", s.path), logx.Err(err))
		return
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		s.log.Warn("schedule persist failed", logx.String("path", tmp), logx.Err(err))
		return
	}
	if err := os.Rename(tmp, s.path); err != nil {
		s.log.Warn("schedule persist failed", logx.String("path", s.path), logx.Err(err))
		return
	}
	s.log.Debug("schedule persisted", logx.Int("triggers", len(snap)))
}

func parseAll(raw []string) (ts []Trigger, bad []string) {
	for _, r := range raw {
		t, err := ParseTrigger(r)
		if err != nil {
			bad = append(bad, r)
			continue
		}
		ts = append(ts, t)
	}
	return dedupeSorted(ts), bad
}

func dedupeSorted(ts []Trigger) []Trigger {
	sort.Slice(ts, func(i, j int) bool { return ts[i].Before(ts[j]) })
	out := ts[:0]
	var prev Trigger
	for i, t := range ts {
		if i > 0 && t == prev {
			continue
		}
		out = append(out, t)
		prev = t
	}
	return out
}

func renderLocked(ts []Trigger) []string {
	out := make([]string, len(ts))
	for i, t := range ts {
		out[i] = t.String()
	}
	return out
}
