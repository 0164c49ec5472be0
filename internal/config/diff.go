package config

import (
	"strings"

	logx "pushbridge/pkg/logx"
)

// SummarizeConfigChange returns (1) a compact list of changed sections,
// (2) safe structured attrs for logging (never tokens, passwords or DSNs),
// and (3) the changed sections that only take effect after a restart.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field, []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 16)
	var restart []string

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if oldCfg.Scheduler != newCfg.Scheduler {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.String("scheduler.timezone", strings.TrimSpace(newCfg.Scheduler.Timezone)),
			logx.String("scheduler.presenter_timeout", newCfg.Scheduler.PresenterTimeout),
			logx.Int("scheduler.max_batch", newCfg.Scheduler.MaxBatch),
		)
		// Only the timezone is applied live.
		o, n := oldCfg.Scheduler, newCfg.Scheduler
		o.Timezone, n.Timezone = "", ""
		if o != n {
			restart = append(restart, "scheduler")
		}
	}

	if oldCfg.Storage != newCfg.Storage {
		changed = append(changed, "storage")
		restart = append(restart, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", newCfg.Storage.Driver),
			logx.String("storage.codec", newCfg.Storage.Codec),
			logx.Bool("storage.dsn_set", strings.TrimSpace(newCfg.Storage.DSN) != ""),
		)
	}

	if oldCfg.Presenter != newCfg.Presenter {
		changed = append(changed, "presenter")
		restart = append(restart, "presenter")
		attrs = append(attrs,
			logx.String("presenter.driver", newCfg.Presenter.Driver),
			logx.Any("presenter.rate_per_sec", newCfg.Presenter.RatePerSec),
			logx.Bool("presenter.telegram_token_set", strings.TrimSpace(newCfg.Presenter.Telegram.Token) != ""),
		)
	}

	if oldCfg.HTTP != newCfg.HTTP || oldCfg.Pprof != newCfg.Pprof {
		changed = append(changed, "http")
		attrs = append(attrs,
			logx.Bool("http.enabled", newCfg.HTTP.Enabled),
			logx.String("http.addr", newCfg.HTTP.Addr),
			logx.Bool("http.token_set", strings.TrimSpace(newCfg.HTTP.Token) != ""),
			logx.Bool("pprof.enabled", newCfg.Pprof.Enabled),
		)
	}

	return changed, attrs, restart
}

// LoggingOf maps the logging section onto logx.Config.
func LoggingOf(cfg *Config) logx.Config {
	if cfg == nil {
		return logx.Config{Level: "info", Console: true}
	}
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File:    logx.FileConfig{Enabled: cfg.Logging.File.Enabled, Path: cfg.Logging.File.Path},
	}
}
