package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleJSON = `{
  "logging": {"level": "debug", "console": true},
  "scheduler": {"timezone": "UTC", "presenter_timeout": "5s"},
  "storage": {"driver": "file", "path": "./data/schedules"},
  "presenter": {"driver": "log"},
  "http": {"enabled": true, "addr": "127.0.0.1:8080"}
}`

const sampleYAML = `
logging:
  level: debug
  console: true
scheduler:
  timezone: UTC
  presenter_timeout: 5s
storage:
  driver: file
  path: ./data/schedules
presenter:
  driver: log
http:
  enabled: true
  addr: 127.0.0.1:8080
`

const sampleTOML = `
[logging]
level = "debug"
console = true

[scheduler]
timezone = "UTC"
presenter_timeout = "5s"

[storage]
driver = "file"
path = "./data/schedules"

[presenter]
driver = "log"

[http]
enabled = true
addr = "127.0.0.1:8080"
`

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestDecodeFormats(t *testing.T) {
	for name, body := range map[string]string{
		"config.json": sampleJSON,
		"config.yaml": sampleYAML,
		"config.toml": sampleTOML,
	} {
		t.Run(name, func(t *testing.T) {
			cfg, err := Decode(name, []byte(body))
			require.NoError(t, err)
			assert.Equal(t, "debug", cfg.Logging.Level)
			assert.True(t, cfg.Logging.Console)
			assert.Equal(t, "UTC", cfg.Scheduler.Timezone)
			assert.Equal(t, "file", cfg.Storage.Driver)
			assert.Equal(t, "./data/schedules", cfg.Storage.Path)
			assert.True(t, cfg.HTTP.Enabled)
			assert.Equal(t, "127.0.0.1:8080", cfg.HTTP.Addr)
			assert.NoError(t, Validate(cfg))
		})
	}
}

func TestDecodeRejectsUnknownFields(t *testing.T) {
	_, err := Decode("c.json", []byte(`{"storage":{"driver":"file","path":"x","bogus":1}}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bogus")

	_, err = Decode("c.yaml", []byte("nope: true\n"))
	require.Error(t, err)

	_, err = Decode("c.json", []byte(`{} {}`))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg, err := Decode("c.json", []byte(sampleJSON))
		require.NoError(t, err)
		return cfg
	}
	cases := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{"ok", func(c *Config) {}, ""},
		{"bad level", func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
		{"bad timezone", func(c *Config) { c.Scheduler.Timezone = "Mars/Olympus" }, "scheduler.timezone"},
		{"bad duration", func(c *Config) { c.Scheduler.PresenterTimeout = "soon" }, "scheduler.presenter_timeout"},
		{"negative batch", func(c *Config) { c.Scheduler.MaxBatch = -1 }, "max_batch"},
		{"missing path", func(c *Config) { c.Storage.Path = "" }, "storage.path"},
		{"postgres without dsn", func(c *Config) { c.Storage.Driver = "postgres" }, "storage.dsn"},
		{"redis without addr", func(c *Config) { c.Storage.Driver = "redis" }, "storage.redis.addr"},
		{"unknown driver", func(c *Config) { c.Storage.Driver = "tape" }, "storage.driver"},
		{"unknown codec", func(c *Config) { c.Storage.Codec = "xml" }, "storage.codec"},
		{"telegram without token", func(c *Config) { c.Presenter.Driver = "telegram" }, "presenter.telegram"},
		{"pprof without http", func(c *Config) { c.HTTP.Enabled = false; c.Pprof.Enabled = true }, "pprof.enabled"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base()
			tc.mutate(cfg)
			err := Validate(cfg)
			if tc.want == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestDurationOr(t *testing.T) {
	assert.Equal(t, 3*time.Second, DurationOr("", 3*time.Second))
	assert.Equal(t, 3*time.Second, DurationOr("junk", 3*time.Second))
	assert.Equal(t, 250*time.Millisecond, DurationOr("250ms", 3*time.Second))

	_, err := ParseDurationField("x", "-1s")
	assert.Error(t, err)
}

func TestLoadAndGet(t *testing.T) {
	p := writeFile(t, t.TempDir(), "config.json", sampleJSON)
	m := NewConfigManager(p)
	assert.Nil(t, m.Get())

	cfg, err := m.Load()
	require.NoError(t, err)
	assert.Same(t, cfg, m.Get())

	bad := writeFile(t, t.TempDir(), "config.json", `{"storage":{"driver":"tape"}}`)
	_, err = NewConfigManager(bad).Load()
	assert.Error(t, err)
}

func TestWatchPublishesChangedConfig(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "config.json", sampleJSON)
	m := NewConfigManager(p)
	_, err := m.Load()
	require.NoError(t, err)

	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = m.Watch(ctx)
		close(done)
	}()
	defer func() {
		cancel()
		<-done
	}()

	// Give the watcher time to register before writing.
	updated := strings.Replace(sampleJSON, `"level": "debug"`, `"level": "warn"`, 1)
	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(300 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case cfg := <-ch:
			assert.Equal(t, "warn", cfg.Logging.Level)
			assert.Equal(t, "warn", m.Get().Logging.Level)
			return
		case <-tick.C:
			require.NoError(t, os.WriteFile(p, []byte(updated), 0o644))
		case <-deadline:
			t.Fatalf("no config published after file change")
		}
	}
}

func TestWatchRejectsInvalidConfig(t *testing.T) {
	p := writeFile(t, t.TempDir(), "config.json", sampleJSON)
	m := NewConfigManager(p)
	_, err := m.Load()
	require.NoError(t, err)
	ch := m.Subscribe(1)

	require.NoError(t, os.WriteFile(p, []byte(`{"storage":{"driver":"tape"}}`), 0o644))
	assert.False(t, m.reload(context.Background()))

	// Unchanged content is not republished.
	require.NoError(t, os.WriteFile(p, []byte(sampleJSON), 0o644))
	assert.False(t, m.reload(context.Background()))

	select {
	case <-ch:
		t.Fatalf("unexpected publish")
	default:
	}
	assert.Equal(t, "debug", m.Get().Logging.Level)
}

func TestPublishKeepsNewest(t *testing.T) {
	m := NewConfigManager("unused.json")
	ch := m.Subscribe(1)
	a, b := &Config{}, &Config{}
	m.publish(a)
	m.publish(b)
	assert.Same(t, b, <-ch)

	m.Unsubscribe(ch)
	_, ok := <-ch
	assert.False(t, ok)
}

func TestSummarizeConfigChange(t *testing.T) {
	oldCfg, err := Decode("c.json", []byte(sampleJSON))
	require.NoError(t, err)
	newCfg := *oldCfg
	newCfg.Logging.Level = "info"
	newCfg.Scheduler.Timezone = "Asia/Jakarta"
	newCfg.Presenter.Telegram.Token = "secret-token"

	changed, attrs, restart := SummarizeConfigChange(oldCfg, &newCfg)
	assert.Equal(t, []string{"logging", "scheduler", "presenter"}, changed)
	assert.Equal(t, []string{"presenter"}, restart)
	assert.NotEmpty(t, attrs)

	changed, _, restart = SummarizeConfigChange(oldCfg, oldCfg)
	assert.Empty(t, changed)
	assert.Empty(t, restart)

	newCfg = *oldCfg
	newCfg.Storage.DSN = "postgres://u:p@h/db"
	_, _, restart = SummarizeConfigChange(oldCfg, &newCfg)
	assert.Equal(t, []string{"storage"}, restart)
}
