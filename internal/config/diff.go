package config

import (
	"reflect"
	"strings"

	logx "feederd/pkg/logx"
)

// SummarizeChange returns a compact list of changed sections plus
// structured attrs for the reload log line.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 16)

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logx.level", newCfg.Logging.Level),
			logx.Bool("logx.console", newCfg.Logging.Console),
			logx.Bool("logx.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if oldCfg.Servo != newCfg.Servo {
		changed = append(changed, "servo")
		attrs = append(attrs,
			logx.Int("servo.pin", newCfg.Servo.Pin),
			logx.String("servo.daemon_addr", strings.TrimSpace(newCfg.Servo.DaemonAddr)),
		)
	}

	if oldCfg.Schedule != newCfg.Schedule {
		changed = append(changed, "schedule")
		attrs = append(attrs, logx.String("schedule.path", newCfg.Schedule.Path))
	}

	if oldCfg.Scheduler != newCfg.Scheduler {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.Bool("scheduler.enabled", newCfg.Scheduler.Enabled),
			logx.String("scheduler.tick", newCfg.Scheduler.Tick),
			logx.String("scheduler.timezone", newCfg.Scheduler.Timezone),
		)
	}

	if oldCfg.Listener != newCfg.Listener {
		changed = append(changed, "listener")
		attrs = append(attrs,
			logx.Bool("listener.enabled", newCfg.Listener.Enabled),
			logx.String("listener.addr", strings.TrimSpace(newCfg.Listener.Addr)),
		)
	}

	if oldCfg.HTTP != newCfg.HTTP {
		changed = append(changed, "http")
		attrs = append(attrs,
			logx.Bool("http.enabled", newCfg.HTTP.Enabled),
			logx.String("http.addr", strings.TrimSpace(newCfg.HTTP.Addr)),
			logx.Int("http.feed_rate_per_min", newCfg.HTTP.FeedRatePerMin),
		)
	}

	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		changed = append(changed, "storage")
		if newCfg.Storage != nil {
			attrs = append(attrs, logx.String("storage.driver", newCfg.Storage.Driver))
		}
	}

	if oldCfg.Maint != newCfg.Maint {
		changed = append(changed, "maintenance")
		attrs = append(attrs, logx.Bool("maintenance.enabled", newCfg.Maint.Enabled))
	}

	return changed, attrs
}
