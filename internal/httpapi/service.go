package httpapi

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"feederd/internal/actuator"
	"feederd/internal/runtime/supervisor"
	"feederd/internal/schedule"
	"feederd/internal/storage"
	logx "feederd/pkg/logx"
)

const defaultFeedRatePerMin = 6

type Config struct {
	Enabled bool
	Addr    string

	// FeedRatePerMin caps /api/test calls; the flap motor is not built
	// for continuous operation.
	FeedRatePerMin int

	// Unit is the systemd unit /api/restart and /api/status act on.
	Unit string

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

func (c Config) withDefaults() Config {
	if strings.TrimSpace(c.Addr) == "" {
		c.Addr = "0.0.0.0:5000"
	}
	if c.FeedRatePerMin <= 0 {
		c.FeedRatePerMin = defaultFeedRatePerMin
	}
	if strings.TrimSpace(c.Unit) == "" {
		c.Unit = "feederd.service"
	}
	return c
}

// SystemController is the slice of systemd control the API needs.
// pkg/sysdctl provides it on linux; elsewhere (or when the D-Bus
// connection failed) the Service runs with nil and reports unavailable.
type SystemController interface {
	Restart(ctx context.Context, unit string) error
	ActiveState(ctx context.Context, unit string) (string, error)
}

// Service is the control-panel HTTP API: the same store and feeder
// operations the command session exposes, plus supervision endpoints.
type Service struct {
	mu  sync.Mutex
	cfg Config

	store   *schedule.Store
	feeder  *actuator.Feeder
	history storage.Store
	sysd    SystemController
	sup     *supervisor.Supervisor
	log     logx.Logger

	// limiter guards feed-triggering endpoints; swapped on reload.
	limiter *rate.Limiter

	ln  net.Listener
	srv *http.Server
}

func New(cfg Config, store *schedule.Store, feeder *actuator.Feeder, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	cfg = cfg.withDefaults()
	return &Service{
		cfg:     cfg,
		store:   store,
		feeder:  feeder,
		log:     log,
		limiter: newFeedLimiter(cfg.FeedRatePerMin),
	}
}

func newFeedLimiter(perMin int) *rate.Limiter {
	return rate.NewLimiter(rate.Limit(float64(perMin)/60.0), 1)
}

// SetHistory wires the feed history store backing /api/logs. Optional.
func (s *Service) SetHistory(h storage.Store) { s.history = h }

// SetSystemController wires systemd control for /api/restart and
// /api/status. Optional.
func (s *Service) SetSystemController(c SystemController) { s.sysd = c }

// SetSupervisor wires the app supervisor whose counters /api/status
// reports. Optional.
func (s *Service) SetSupervisor(sup *supervisor.Supervisor) { s.sup = sup }

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Apply swaps hot-reloadable settings. Address and timeout changes need
// a restart and are only logged.
func (s *Service) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	s.mu.Lock()
	old := s.cfg
	s.cfg = cfg
	if old.FeedRatePerMin != cfg.FeedRatePerMin {
		s.limiter = newFeedLimiter(cfg.FeedRatePerMin)
		s.log.Info("feed rate limit updated", logx.Int("per_min", cfg.FeedRatePerMin))
	}
	s.mu.Unlock()

	if old.Addr != cfg.Addr {
		s.log.Warn("http addr change requires restart",
			logx.String("old", old.Addr), logx.String("new", cfg.Addr))
	}
}

// Run binds and serves until ctx is canceled. Meant to run under the
// supervisor's restart loop.
func (s *Service) Run(ctx context.Context) error {
	s.mu.Lock()
	cfg := s.cfg
	s.mu.Unlock()

	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Handler:      s.routes(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	s.mu.Lock()
	s.ln = ln
	s.srv = srv
	s.mu.Unlock()

	stopWatch := context.AfterFunc(ctx, func() {
		cctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = srv.Shutdown(cctx)
		cancel()
	})
	defer stopWatch()

	s.log.Info("http api started", logx.String("addr", ln.Addr().String()))

	err = srv.Serve(ln)

	s.mu.Lock()
	if s.srv == srv {
		s.srv = nil
		s.ln = nil
	}
	s.mu.Unlock()

	if ctx.Err() != nil || errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Addr reports the bound address, for tests using ":0".
func (s *Service) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

func (s *Service) allowFeed() bool {
	s.mu.Lock()
	lim := s.limiter
	s.mu.Unlock()
	return lim.Allow()
}

func (s *Service) unit() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Unit
}
