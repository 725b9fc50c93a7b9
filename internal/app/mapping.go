package app

import (
	"strings"
	"time"

	"feederd/internal/actuator"
	"feederd/internal/config"
	"feederd/internal/httpapi"
	"feederd/internal/maintenance"
	"feederd/internal/scheduler"
	"feederd/internal/server"
	"feederd/internal/storage"
	logx "feederd/pkg/logx"
)

// The mapXxx helpers translate the on-disk config into each component's
// own Config, parsing duration strings along the way. They are also the
// reload path, so parse failures return errors instead of panicking.

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapStorageConfig(cfg *config.Config) (*storage.Config, error) {
	if cfg.Storage == nil {
		return nil, nil
	}
	busy, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return nil, err
	}
	return &storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: busy,
	}, nil
}

func mapTiming(sc config.ServoConfig) (actuator.Timing, error) {
	def := actuator.DefaultTiming()
	rest, err := config.ParseDurationOrDefault("servo.rest_settle", sc.RestSettle, def.RestSettle)
	if err != nil {
		return actuator.Timing{}, err
	}
	hold, err := config.ParseDurationOrDefault("servo.dispense_hold", sc.DispenseHold, def.DispenseHold)
	if err != nil {
		return actuator.Timing{}, err
	}
	ret, err := config.ParseDurationOrDefault("servo.return_settle", sc.ReturnSettle, def.ReturnSettle)
	if err != nil {
		return actuator.Timing{}, err
	}
	return actuator.Timing{RestSettle: rest, DispenseHold: hold, ReturnSettle: ret}, nil
}

// buildDriver attaches the pigpio driver. Driver "none" intentionally
// returns (nil, nil); the caller substitutes a simulated driver.
func buildDriver(sc config.ServoConfig, log logx.Logger) (*actuator.PigpioDriver, error) {
	if strings.EqualFold(strings.TrimSpace(sc.Driver), "none") {
		return nil, nil
	}
	return actuator.NewPigpio(actuator.PigpioConfig{
		Addr:            sc.DaemonAddr,
		Pin:             sc.Pin,
		RestPulseUS:     sc.RestPulseUS,
		DispensePulseUS: sc.DispensePulseUS,
	}, log)
}

func mapSchedulerConfig(cfg *config.Config) (scheduler.Config, error) {
	tick, err := config.ParseDurationOrDefault("scheduler.tick", cfg.Scheduler.Tick, time.Second)
	if err != nil {
		return scheduler.Config{}, err
	}
	return scheduler.Config{
		Enabled:  cfg.Scheduler.Enabled,
		Tick:     tick,
		Timezone: cfg.Scheduler.Timezone,
	}, nil
}

func mapListenerConfig(cfg *config.Config) (server.Config, error) {
	accept, err := config.ParseDurationOrDefault("listener.accept_timeout", cfg.Listener.AcceptTimeout, time.Second)
	if err != nil {
		return server.Config{}, err
	}
	return server.Config{
		Enabled:       cfg.Listener.Enabled,
		Addr:          cfg.Listener.Addr,
		AcceptTimeout: accept,
	}, nil
}

func mapHTTPConfig(cfg *config.Config) (httpapi.Config, error) {
	read, err := config.ParseDurationField("http.read_timeout", cfg.HTTP.ReadTimeout)
	if err != nil {
		return httpapi.Config{}, err
	}
	write, err := config.ParseDurationField("http.write_timeout", cfg.HTTP.WriteTimeout)
	if err != nil {
		return httpapi.Config{}, err
	}
	idle, err := config.ParseDurationField("http.idle_timeout", cfg.HTTP.IdleTimeout)
	if err != nil {
		return httpapi.Config{}, err
	}
	return httpapi.Config{
		Enabled:        cfg.HTTP.Enabled,
		Addr:           cfg.HTTP.Addr,
		FeedRatePerMin: cfg.HTTP.FeedRatePerMin,
		Unit:           cfg.HTTP.Unit,
		ReadTimeout:    read,
		WriteTimeout:   write,
		IdleTimeout:    idle,
	}, nil
}

func mapMaintenanceConfig(cfg *config.Config) maintenance.Config {
	retention := time.Duration(0)
	if cfg.Storage != nil && cfg.Storage.RetentionDays > 0 {
		retention = time.Duration(cfg.Storage.RetentionDays) * 24 * time.Hour
	}
	return maintenance.Config{
		Enabled:   cfg.Maint.Enabled,
		PruneSpec: cfg.Maint.PruneSpec,
		Retention: retention,
	}
}
