package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	logx "feederd/pkg/logx"
)

// tailMax bounds the in-memory tail served by RecentFeeds. The file
// itself keeps growing until Prune rewrites it.
const tailMax = 500

// fileStore is a dependency-free history backend: one append-only JSON
// Lines file (<prefix>.feeds.jsonl) plus a bounded in-memory tail loaded
// at open time so reads never re-scan the file.
type fileStore struct {
	log logx.Logger

	mu   sync.Mutex
	file *os.File
	path string
	tail []FeedRecord // oldest first, len <= tailMax
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(filepath.Base(path)))
	feedPath := filepath.Join(dir, base) + ".feeds.jsonl"

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	tail, err := loadTail(feedPath)
	if err != nil && !os.IsNotExist(err) {
		log.Warn("feed history unreadable; starting empty", logx.String("path", feedPath), logx.Err(err))
	}

	f, err := os.OpenFile(feedPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}

	return &fileStore{log: log, file: f, path: feedPath, tail: tail}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}

func (s *fileStore) AppendFeed(ctx context.Context, r FeedRecord) error {
	_ = ctx
	if r.At.IsZero() {
		r.At = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return errors.New("feed history closed")
	}
	if err := json.NewEncoder(s.file).Encode(r); err != nil {
		return err
	}
	s.tail = append(s.tail, r)
	if len(s.tail) > tailMax {
		s.tail = append(s.tail[:0], s.tail[len(s.tail)-tailMax:]...)
	}
	return nil
}

func (s *fileStore) RecentFeeds(ctx context.Context, n int) ([]FeedRecord, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if n <= 0 || n > len(s.tail) {
		n = len(s.tail)
	}
	out := make([]FeedRecord, 0, n)
	for i := len(s.tail) - 1; i >= len(s.tail)-n; i-- {
		out = append(out, s.tail[i])
	}
	return out, nil
}

// Prune rewrites the file keeping only records at or after cutoff, via
// temp file + rename so a crash can't truncate history.
func (s *fileStore) Prune(ctx context.Context, cutoff time.Time) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return errors.New("feed history closed")
	}

	kept, err := loadSince(s.path, cutoff)
	if err != nil {
		return err
	}

	tmp := s.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(f)
	for _, r := range kept {
		if err := enc.Encode(r); err != nil {
			_ = f.Close()
			return err
		}
	}
	if err := f.Close(); err != nil {
		return err
	}

	if err := s.file.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.path); err != nil {
		s.file = nil
		return err
	}
	s.file, err = os.OpenFile(s.path, os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}

	if len(kept) > tailMax {
		kept = kept[len(kept)-tailMax:]
	}
	s.tail = kept
	s.log.Debug("feed history pruned", logx.Int("kept", len(kept)))
	return nil
}

func loadTail(path string) ([]FeedRecord, error) {
	return scanFeeds(path, func(FeedRecord) bool { return true }, tailMax)
}

func loadSince(path string, cutoff time.Time) ([]FeedRecord, error) {
	return scanFeeds(path, func(r FeedRecord) bool { return !r.At.Before(cutoff) }, 0)
}

// scanFeeds reads the JSONL file, skipping lines that don't parse (a
// crash mid-append leaves at most one bad line). keepLast > 0 bounds the
// result to the newest keepLast records.
func scanFeeds(path string, keep func(FeedRecord) bool, keepLast int) ([]FeedRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []FeedRecord
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var r FeedRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			continue
		}
		if !keep(r) {
			continue
		}
		out = append(out, r)
		if keepLast > 0 && len(out) > keepLast {
			out = append(out[:0], out[len(out)-keepLast:]...)
		}
	}
	return out, sc.Err()
}
