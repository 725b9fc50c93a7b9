package schedule

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	logx "feederd/pkg/logx"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "schedules.json")
	return Open(path, logx.Nop(), nil)
}

func TestReplaceSortsAndDedupes(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	n, err := s.Replace([]string{"18:00", "08:00", "12:00", "08:00"})
	if err != nil {
		t.Fatalf("Replace error: %v", err)
	}
	if n != 3 {
		t.Fatalf("Replace count = %d, want 3", n)
	}
	want := []string{"08:00", "12:00", "18:00"}
	if got := s.Snapshot(); !reflect.DeepEqual(got, want) {
		t.Fatalf("Snapshot = %v, want %v", got, want)
	}
}

func TestReplaceRejectsInvalid(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	if _, err := s.Replace([]string{"08:00", "25:00"}); !errors.Is(err, ErrBadTime) {
		t.Fatalf("Replace = %v, want ErrBadTime", err)
	}
	// A rejected replace must not touch the active schedule.
	if got := s.Snapshot(); len(got) != 0 {
		t.Fatalf("schedule mutated by failed replace: %v", got)
	}
}

func TestAddIsIdempotent(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	added, err := s.Add("08:00")
	if err != nil || !added {
		t.Fatalf("first Add = (%v, %v), want (true, nil)", added, err)
	}
	added, err = s.Add("08:00")
	if err != nil {
		t.Fatalf("duplicate Add error: %v", err)
	}
	if added {
		t.Fatal("duplicate Add reported a change")
	}
	if got := s.Snapshot(); len(got) != 1 || got[0] != "08:00" {
		t.Fatalf("Snapshot = %v, want exactly one 08:00", got)
	}
}

func TestRemoveAbsent(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	if _, err := s.Add("08:00"); err != nil {
		t.Fatal(err)
	}
	if err := s.Remove("09:00"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Remove absent = %v, want ErrNotFound", err)
	}
	if got := s.Snapshot(); len(got) != 1 {
		t.Fatalf("failed remove mutated the schedule: %v", got)
	}
	if err := s.Remove("08:00"); err != nil {
		t.Fatalf("Remove error: %v", err)
	}
	if got := s.Snapshot(); len(got) != 0 {
		t.Fatalf("Snapshot after remove = %v, want empty", got)
	}
}

func TestRoundTripPersistence(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "schedules.json")

	s := Open(path, logx.Nop(), nil)
	want := []string{"06:30", "12:00", "19:45"}
	if _, err := s.Replace([]string{"19:45", "06:30", "12:00"}); err != nil {
		t.Fatalf("Replace error: %v", err)
	}

	// A fresh store over the same file must see the same set.
	reloaded := Open(path, logx.Nop(), nil)
	if got := reloaded.Snapshot(); !reflect.DeepEqual(got, want) {
		t.Fatalf("reloaded Snapshot = %v, want %v", got, want)
	}
}

func TestOpenMissingAndCorrupt(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	s := Open(filepath.Join(dir, "missing.json"), logx.Nop(), nil)
	if got := s.Snapshot(); len(got) != 0 {
		t.Fatalf("missing file Snapshot = %v, want empty", got)
	}

	bad := filepath.Join(dir, "bad.json")
	if err := os.WriteFile(bad, []byte(`{"schedules":`), 0o644); err != nil {
		t.Fatal(err)
	}
	s = Open(bad, logx.Nop(), nil)
	if got := s.Snapshot(); len(got) != 0 {
		t.Fatalf("corrupt file Snapshot = %v, want empty", got)
	}
}
