package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return p
}

func TestParseStrictJSON(t *testing.T) {
	t.Parallel()
	p := writeConfig(t, "feederd.json", `{
		"logging": {"level": "DEBUG", "console": true, "file": {"enabled": false, "path": ""}},
		"servo": {"pin": 18},
		"schedule": {"path": "./schedules.json"},
		"scheduler": {"enabled": true, "tick": "1s"},
		"listener": {"enabled": true, "addr": "0.0.0.0:7777"},
		"http": {"enabled": false},
		"maintenance": {"enabled": false}
	}`)
	m := NewManager(p)
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Servo.Pin != 18 || !cfg.Scheduler.Enabled {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if m.Get() != cfg {
		t.Fatal("Get did not return committed config")
	}
}

func TestParseRejectsUnknownField(t *testing.T) {
	t.Parallel()
	p := writeConfig(t, "feederd.json", `{"servo": {"pin": 18, "torque": 9}}`)
	if _, err := NewManager(p).Parse(); err == nil {
		t.Fatal("unknown field accepted")
	}
}

func TestParseRejectsTrailingData(t *testing.T) {
	t.Parallel()
	p := writeConfig(t, "feederd.json", `{"servo": {"pin": 1}} {"servo": {"pin": 2}}`)
	if _, err := NewManager(p).Parse(); err == nil {
		t.Fatal("trailing data accepted")
	}
}

func TestParseYAML(t *testing.T) {
	t.Parallel()
	p := writeConfig(t, "feederd.yaml", "servo:\n  pin: 12\nscheduler:\n  enabled: true\n  tick: 2s\n")
	cfg, err := NewManager(p).Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Servo.Pin != 12 || cfg.Scheduler.Tick != "2s" {
		t.Fatalf("yaml coercion lost fields: %+v", cfg)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name   string
		mut    func(*Config)
		wantOK bool
	}{
		{"defaults", func(c *Config) {}, true},
		{"bad driver", func(c *Config) { c.Servo.Driver = "gpiozero" }, false},
		{"pin out of range", func(c *Config) { c.Servo.Pin = 90 }, false},
		{"bad tick", func(c *Config) { c.Scheduler.Tick = "fast" }, false},
		{"negative hold", func(c *Config) { c.Servo.DispenseHold = "-1s" }, false},
		{"bad timezone", func(c *Config) { c.Scheduler.Timezone = "Mars/Olympus" }, false},
		{"bad storage driver", func(c *Config) { c.Storage = &StorageConfig{Driver: "redis"} }, false},
		{"sqlite storage", func(c *Config) { c.Storage = &StorageConfig{Driver: "sqlite", Path: "x.db"} }, true},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			var c Config
			tc.mut(&c)
			err := c.Validate()
			if (err == nil) != tc.wantOK {
				t.Fatalf("Validate: err=%v, wantOK=%v", err, tc.wantOK)
			}
		})
	}
}

func TestSubscribeDropOldest(t *testing.T) {
	t.Parallel()
	m := NewManager("unused")
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	first := &Config{Servo: ServoConfig{Pin: 1}}
	second := &Config{Servo: ServoConfig{Pin: 2}}
	m.publish(first)
	m.publish(second)

	got := <-ch
	if got.Servo.Pin != 2 {
		t.Fatalf("expected newest config, got pin %d", got.Servo.Pin)
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()
	_, err := NewManager(filepath.Join(t.TempDir(), "nope.json")).Load()
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected not-exist error, got %v", err)
	}
}
