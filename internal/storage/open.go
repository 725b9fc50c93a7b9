package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	logx "feederd/pkg/logx"
)

// Store is the feed history API used by the app and the HTTP panel.
type Store interface {
	AppendFeed(ctx context.Context, r FeedRecord) error
	// RecentFeeds returns up to n records, newest first.
	RecentFeeds(ctx context.Context, n int) ([]FeedRecord, error)
	// Prune drops records older than cutoff.
	Prune(ctx context.Context, cutoff time.Time) error
	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if history is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
