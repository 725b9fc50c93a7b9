package maintenance

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"feederd/internal/storage"
	logx "feederd/pkg/logx"
)

const defaultPruneSpec = "30 3 * * *"

type Config struct {
	Enabled bool
	// PruneSpec is a standard 5-field cron expression for the nightly
	// history prune.
	PruneSpec string
	// Retention is how far back feed history is kept. 0 disables pruning.
	Retention time.Duration
}

// Service runs housekeeping jobs on a cron schedule. Today that is one
// job: pruning feed history past the retention window.
type Service struct {
	mu    sync.Mutex
	cfg   Config
	cron  *cron.Cron
	store storage.Store
	log   logx.Logger
}

func New(cfg Config, store storage.Store, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{cfg: cfg, store: store, log: log}
}

func (s *Service) Start(ctx context.Context) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.cfg.Enabled || s.store == nil || s.cfg.Retention <= 0 {
		s.log.Debug("maintenance disabled")
		return nil
	}
	if s.cron != nil {
		return nil
	}

	spec := strings.TrimSpace(s.cfg.PruneSpec)
	if spec == "" {
		spec = defaultPruneSpec
	}

	c := cron.New()
	if _, err := c.AddFunc(spec, s.pruneHistory); err != nil {
		return err
	}
	c.Start()
	s.cron = c
	s.log.Info("maintenance started", logx.String("prune_spec", spec),
		logx.Duration("retention", s.cfg.Retention))
	return nil
}

// Stop waits for a running job to finish, bounded by ctx.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
		s.log.Warn("maintenance stop timed out")
	}
}

func (s *Service) pruneHistory() {
	s.mu.Lock()
	retention := s.cfg.Retention
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cutoff := time.Now().Add(-retention)
	if err := s.store.Prune(ctx, cutoff); err != nil {
		s.log.Error("history prune failed", logx.Err(err))
		return
	}
	s.log.Info("history pruned", logx.Time("cutoff", cutoff))
}
