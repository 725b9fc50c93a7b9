package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"feederd/internal/actuator"
	"feederd/internal/config"
	"feederd/internal/eventbus"
	"feederd/internal/httpapi"
	"feederd/internal/maintenance"
	"feederd/internal/runtime/supervisor"
	"feederd/internal/schedule"
	"feederd/internal/scheduler"
	"feederd/internal/server"
	"feederd/internal/storage"
	logx "feederd/pkg/logx"
	"feederd/pkg/sysdctl"
)

// App wires the feeder daemon together: config, logging, servo driver,
// schedule store, scheduler loop, command listener, HTTP panel and the
// housekeeping cron, all running under one supervisor.
type App struct {
	cfgPath string

	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	driver  *actuator.PigpioDriver // nil when attachment failed or driver is "none"
	feeder  *actuator.Feeder
	store   *schedule.Store
	history storage.Store

	sched    *scheduler.Service
	listener *server.Listener
	api      *httpapi.Service
	maint    *maintenance.Service
	sysd     *sysdctl.Controller
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLogConfig(cfg))
	log = log.With(logx.String("comp", "app"))

	bus := eventbus.New()

	// Feed history (optional)
	var history storage.Store
	if sc, err := mapStorageConfig(cfg); err != nil {
		return nil, err
	} else if sc != nil {
		history, err = storage.Open(*sc, log.With(logx.String("comp", "storage")))
		if err != nil {
			return nil, err
		}
		if history != nil {
			log.Info("feed history enabled", logx.String("driver", sc.Driver))
		}
	}

	// Servo driver. Attachment failure is not fatal: the daemon keeps
	// serving the schedule and reports feed failures until the pigpio
	// daemon comes back and a restart re-attaches.
	driver, err := buildDriver(cfg.Servo, log.With(logx.String("comp", "servo")))
	if err != nil {
		log.Error("servo attach failed; feeds will report not-initialized", logx.Err(err))
	}

	timing, err := mapTiming(cfg.Servo)
	if err != nil {
		return nil, err
	}

	var feeder *actuator.Feeder
	if driver != nil {
		feeder = actuator.NewFeeder(driver, timing, log.With(logx.String("comp", "actuator")), bus)
	} else if strings.EqualFold(strings.TrimSpace(cfg.Servo.Driver), "none") {
		feeder = actuator.NewFeeder(&actuator.MockDriver{}, timing, log.With(logx.String("comp", "actuator")), bus)
		log.Warn("servo driver is none; feeds are simulated")
	} else {
		feeder = actuator.NewFeeder(nil, timing, log.With(logx.String("comp", "actuator")), bus)
	}

	schedPath := strings.TrimSpace(cfg.Schedule.Path)
	if schedPath == "" {
		schedPath = "./schedules.json"
	}
	store := schedule.Open(schedPath, log.With(logx.String("comp", "schedule")), bus)

	schedCfg, err := mapSchedulerConfig(cfg)
	if err != nil {
		return nil, err
	}
	schedSvc := scheduler.New(schedCfg, store, feeder, log.With(logx.String("comp", "scheduler")))

	lnCfg, err := mapListenerConfig(cfg)
	if err != nil {
		return nil, err
	}
	listener := server.NewListener(lnCfg, store, feeder, log.With(logx.String("comp", "listener")))

	apiCfg, err := mapHTTPConfig(cfg)
	if err != nil {
		return nil, err
	}
	api := httpapi.New(apiCfg, store, feeder, log.With(logx.String("comp", "http")))
	api.SetHistory(history)

	maint := maintenance.New(mapMaintenanceConfig(cfg), history,
		log.With(logx.String("comp", "maintenance")))

	return &App{
		cfgPath:  cfgPath,
		cfgm:     cfgm,
		log:      log,
		logs:     logSvc,
		bus:      bus,
		driver:   driver,
		feeder:   feeder,
		store:    store,
		history:  history,
		sched:    schedSvc,
		listener: listener,
		api:      api,
		maint:    maint,
	}, nil
}

// Done is closed when the app supervisor context is canceled (fatal
// error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor, if any.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx,
		supervisor.WithLogger(a.log),
		supervisor.WithCancelOnError(true),
	)
	a.api.SetSupervisor(a.sup)

	// systemd control is best-effort: off linux, outside systemd or
	// without D-Bus access the restart/status endpoints degrade.
	if c, err := sysdctl.NewController(a.sup.Context()); err != nil {
		a.log.Debug("systemd unavailable", logx.Err(err))
	} else {
		a.sysd = c
		a.api.SetSystemController(c)
	}

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(c context.Context, cfg *config.Config) error {
		_ = c
		return cfg.Validate()
	})

	if a.sched.Enabled() {
		a.sched.Start(a.sup.Context())
	}
	if a.listener.Enabled() {
		a.sup.GoRestart("listener.serve", a.listener.Run,
			supervisor.WithPublishFirstError(true),
			supervisor.WithRestartBackoff(500*time.Millisecond, 10*time.Second),
		)
	}
	if a.api.Enabled() {
		a.sup.GoRestart("http.serve", a.api.Run,
			supervisor.WithPublishFirstError(true),
			supervisor.WithRestartBackoff(500*time.Millisecond, 10*time.Second),
		)
	}
	if err := a.maint.Start(a.sup.Context()); err != nil {
		return fmt.Errorf("maintenance: %w", err)
	}

	if a.history != nil {
		a.recordFeedHistory()
	}

	a.watchConfig()
	a.sup.Go("config.watch", a.cfgm.Watch)

	a.log.Info("app started")
	return nil
}

// recordFeedHistory subscribes to actuation events and appends them to
// the history store.
func (a *App) recordFeedHistory() {
	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("history.record", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				fe, isFeed := e.Data.(actuator.FeedEvent)
				if !isFeed {
					continue
				}
				wctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				err := a.history.AppendFeed(wctx, storage.FeedRecord{
					At:     fe.At,
					Source: string(fe.Source),
					OK:     fe.OK,
					Error:  fe.Error,
					TookMS: fe.Took,
				})
				cancel()
				if err != nil {
					a.log.Warn("feed history append failed", logx.Err(err))
				}
			}
		}
	})
}

// watchConfig applies hot-reloadable settings published by the config
// watcher. Sections that need a restart only log a warning.
func (a *App) watchConfig() {
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the newest config.
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						goto APPLY
					}
				}
			APPLY:
				a.applyReload(c, lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})
}

func (a *App) applyReload(ctx context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}

	for _, s := range sections {
		switch s {
		case "servo", "listener", "storage", "schedule":
			a.log.Warn("config section needs a restart to take effect", logx.String("section", s))
		}
	}

	a.logs.Apply(mapLogConfig(newCfg))

	if schedCfg, err := mapSchedulerConfig(newCfg); err != nil {
		a.log.Warn("invalid scheduler config; keeping previous", logx.Err(err))
	} else {
		prevEnabled := a.sched.Enabled()
		a.sched.Apply(schedCfg)
		if prevEnabled && !schedCfg.Enabled {
			a.log.Info("scheduler disabled via config")
			stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
			a.sched.Stop(stopCtx)
			cancel()
		} else if !prevEnabled && schedCfg.Enabled {
			a.log.Info("scheduler enabled via config")
			a.sched.Start(ctx)
		}
	}

	if apiCfg, err := mapHTTPConfig(newCfg); err != nil {
		a.log.Warn("invalid http config; keeping previous", logx.Err(err))
	} else {
		a.api.Apply(apiCfg)
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// Cancel the run context first so the listener, HTTP server and
	// background loops start unwinding immediately.
	a.sup.Cancel()

	// step runs one shutdown stage with an upper bound so a stuck
	// component can't stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			if dl, ok := ctx.Deadline(); ok {
				if rem := time.Until(dl); rem > 0 && rem < max {
					max = rem
				}
			}
			stepCtx, cancel = context.WithTimeout(ctx, max)
			defer cancel()
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name))
		}
	}

	// Scheduler first: an in-flight feed completes before the driver
	// goes away.
	step("scheduler", 3*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("maintenance", time.Second, func(c context.Context) error { a.maint.Stop(c); return nil })
	step("supervisor", 3*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	step("history", time.Second, func(c context.Context) error {
		if a.history != nil {
			return a.history.Close()
		}
		return nil
	})
	step("servo", time.Second, func(c context.Context) error {
		if a.driver != nil {
			return a.driver.Close()
		}
		return nil
	})
	if a.sysd != nil {
		_ = a.sysd.Close()
	}

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
