package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Validate checks values the decoder cannot: enums, durations, required
// fields per driver and the timezone name.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Logging.Level)) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		add(fmt.Errorf("logging.level: unknown level %q", cfg.Logging.Level))
	}
	if cfg.Logging.File.Enabled && strings.TrimSpace(cfg.Logging.File.Path) == "" {
		add(errors.New("logging.file.path is required when file logging is enabled"))
	}

	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			add(fmt.Errorf("scheduler.timezone: %w", err))
		}
	}
	_, err := ParseDurationField("scheduler.presenter_timeout", cfg.Scheduler.PresenterTimeout)
	add(err)
	if cfg.Scheduler.MaxBatch < 0 {
		add(errors.New("scheduler.max_batch must be >= 0"))
	}

	st := cfg.Storage
	switch strings.ToLower(strings.TrimSpace(st.Driver)) {
	case "", "file", "sqlite", "sqlite3":
		if strings.TrimSpace(st.Path) == "" {
			add(errors.New("storage.path is required"))
		}
	case "postgres", "postgresql":
		if strings.TrimSpace(st.DSN) == "" {
			add(errors.New("storage.dsn is required for postgres"))
		}
	case "redis":
		if strings.TrimSpace(st.Redis.Addr) == "" {
			add(errors.New("storage.redis.addr is required for redis"))
		}
	case "memory", "mem":
	default:
		add(fmt.Errorf("storage.driver: unknown driver %q", st.Driver))
	}
	switch strings.ToLower(strings.TrimSpace(st.Codec)) {
	case "", "json", "msgpack":
	default:
		add(fmt.Errorf("storage.codec: unknown codec %q", st.Codec))
	}
	_, err = ParseDurationField("storage.busy_timeout", st.BusyTimeout)
	add(err)

	p := cfg.Presenter
	switch strings.ToLower(strings.TrimSpace(p.Driver)) {
	case "", "log":
	case "telegram":
		if strings.TrimSpace(p.Telegram.Token) == "" || p.Telegram.ChatID == 0 {
			add(errors.New("presenter.telegram.token and chat_id are required"))
		}
	default:
		add(fmt.Errorf("presenter.driver: unknown driver %q", p.Driver))
	}
	if p.RatePerSec < 0 {
		add(errors.New("presenter.rate_per_sec must be >= 0"))
	}
	_, err = ParseDurationField("presenter.max_wait", p.MaxWait)
	add(err)

	for field, raw := range map[string]string{
		"http.read_timeout":  cfg.HTTP.ReadTimeout,
		"http.write_timeout": cfg.HTTP.WriteTimeout,
		"http.idle_timeout":  cfg.HTTP.IdleTimeout,
	} {
		_, err := ParseDurationField(field, raw)
		add(err)
	}
	if cfg.Pprof.Enabled && !cfg.HTTP.Enabled {
		add(errors.New("pprof.enabled requires http.enabled"))
	}
	return errors.Join(errs...)
}
