package config

import (
	"fmt"
	"strings"
	"time"
)

type Config struct {
	Logging   LoggingConfig     `json:"logging"`
	Servo     ServoConfig       `json:"servo"`
	Schedule  ScheduleConfig    `json:"schedule"`
	Scheduler SchedulerConfig   `json:"scheduler"`
	Listener  ListenerConfig    `json:"listener"`
	HTTP      HTTPConfig        `json:"http"`
	Storage   *StorageConfig    `json:"storage,omitempty"`
	Maint     MaintenanceConfig `json:"maintenance"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// ServoConfig describes the servo attached to the dispensing flap and the
// pigpio daemon that drives it.
//
// All *_settle / *_hold fields are Go duration strings (e.g. "500ms", "1s").
// Changing the pin or daemon address requires a restart; a reload only
// warns about it.
type ServoConfig struct {
	// Driver selects the hardware backend: "pigpio" (default) or "none"
	// for bench runs without a servo attached.
	Driver string `json:"driver,omitempty"`

	DaemonAddr      string `json:"daemon_addr,omitempty"` // default: "127.0.0.1:8888"
	Pin             int    `json:"pin"`
	RestPulseUS     int    `json:"rest_pulse_us,omitempty"`     // default: 500
	DispensePulseUS int    `json:"dispense_pulse_us,omitempty"` // default: 2500

	RestSettle   string `json:"rest_settle,omitempty"`
	DispenseHold string `json:"dispense_hold,omitempty"`
	ReturnSettle string `json:"return_settle,omitempty"`
}

type ScheduleConfig struct {
	Path string `json:"path"` // default: "./schedules.json"
}

type SchedulerConfig struct {
	Enabled bool `json:"enabled"`
	// Tick is a Go duration string; default "1s".
	Tick string `json:"tick,omitempty"`
	// Timezone is an IANA name (e.g. "Europe/Warsaw"); empty means local time.
	Timezone string `json:"timezone,omitempty"`
}

type ListenerConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // default: "0.0.0.0:7777"
	// AcceptTimeout bounds each Accept wait so shutdown is prompt.
	AcceptTimeout string `json:"accept_timeout,omitempty"` // default: "1s"
}

type HTTPConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // default: "0.0.0.0:5000"

	// FeedRatePerMin caps feed-triggering requests (/api/test); 0 keeps
	// the default of 6.
	FeedRatePerMin int `json:"feed_rate_per_min,omitempty"`

	// Unit is the systemd unit /api/restart and /api/status act on.
	Unit string `json:"unit,omitempty"` // default: "feederd.service"

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}

// StorageConfig controls the feed history store. Omitting the section
// disables history.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./feederd-history" }
type StorageConfig struct {
	Driver        string `json:"driver"`
	Path          string `json:"path"`
	BusyTimeout   string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
	RetentionDays int    `json:"retention_days,omitempty"`
}

type MaintenanceConfig struct {
	Enabled bool `json:"enabled"`
	// PruneSpec is a cron expression for the nightly history prune.
	PruneSpec string `json:"prune_spec,omitempty"` // default: "30 3 * * *"
}

// Validate checks cross-field consistency. It is installed as the
// manager's validator so a bad edit never reaches running services.
func (c *Config) Validate() error {
	switch strings.ToLower(strings.TrimSpace(c.Servo.Driver)) {
	case "", "pigpio", "none":
	default:
		return fmt.Errorf("servo.driver: unknown driver %q", c.Servo.Driver)
	}
	if c.Servo.Pin < 0 || c.Servo.Pin > 53 {
		return fmt.Errorf("servo.pin: %d out of range", c.Servo.Pin)
	}
	for _, f := range []struct{ path, raw string }{
		{"servo.rest_settle", c.Servo.RestSettle},
		{"servo.dispense_hold", c.Servo.DispenseHold},
		{"servo.return_settle", c.Servo.ReturnSettle},
		{"scheduler.tick", c.Scheduler.Tick},
		{"listener.accept_timeout", c.Listener.AcceptTimeout},
		{"http.read_timeout", c.HTTP.ReadTimeout},
		{"http.write_timeout", c.HTTP.WriteTimeout},
		{"http.idle_timeout", c.HTTP.IdleTimeout},
	} {
		if _, err := ParseDurationField(f.path, f.raw); err != nil {
			return err
		}
	}
	if tz := strings.TrimSpace(c.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("scheduler.timezone: %w", err)
		}
	}
	if c.Storage != nil {
		switch strings.ToLower(strings.TrimSpace(c.Storage.Driver)) {
		case "", "none", "file", "sqlite":
		default:
			return fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver)
		}
		if _, err := ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout); err != nil {
			return err
		}
		if c.Storage.RetentionDays < 0 {
			return fmt.Errorf("storage.retention_days: must be >= 0")
		}
	}
	if c.HTTP.FeedRatePerMin < 0 {
		return fmt.Errorf("http.feed_rate_per_min: must be >= 0")
	}
	return nil
}
