package config

// Config is the service configuration file.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Storage   StorageConfig   `json:"storage"`
	Presenter PresenterConfig `json:"presenter"`
	HTTP      HTTPConfig      `json:"http"`
	Pprof     PprofConfig     `json:"pprof,omitempty"`
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

// SchedulerConfig tunes the schedule manager.
//
// Defaults: timezone Local, presenter_timeout "10s", max_batch 0 (no cap).
type SchedulerConfig struct {
	// Timezone calendar expressions are evaluated in (IANA name).
	Timezone         string `json:"timezone,omitempty"`
	PresenterTimeout string `json:"presenter_timeout,omitempty"`
	MaxBatch         int    `json:"max_batch,omitempty"`
}

// StorageConfig selects the schedule store.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./data/schedules" }
type StorageConfig struct {
	Driver       string             `json:"driver"`
	Path         string             `json:"path,omitempty"`
	DSN          string             `json:"dsn,omitempty"`          // postgres (do not log)
	BusyTimeout  string             `json:"busy_timeout,omitempty"` // sqlite
	Codec        string             `json:"codec,omitempty"`        // json | msgpack
	CompactEvery int                `json:"compact_every,omitempty"`
	Redis        StorageRedisConfig `json:"redis,omitempty"`
}

type StorageRedisConfig struct {
	Addr     string `json:"addr,omitempty"`
	Password string `json:"password,omitempty"` // do not log
	DB       int    `json:"db,omitempty"`
	Prefix   string `json:"prefix,omitempty"`
}

// PresenterConfig selects where fired notifications go.
type PresenterConfig struct {
	Driver     string                  `json:"driver"` // log | telegram
	RatePerSec float64                 `json:"rate_per_sec,omitempty"`
	Burst      int                     `json:"burst,omitempty"`
	MaxWait    string                  `json:"max_wait,omitempty"`
	Telegram   PresenterTelegramConfig `json:"telegram,omitempty"`
}

type PresenterTelegramConfig struct {
	Token    string `json:"token,omitempty"` // do not log
	ChatID   int64  `json:"chat_id,omitempty"`
	ThreadID int    `json:"thread_id,omitempty"`
	APIURL   string `json:"api_url,omitempty"`
}

// HTTPConfig controls the scheduling API server.
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:8080").
//   - A non-loopback address requires a token or allow_insecure.
type HTTPConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`  // default: "127.0.0.1:8080"
	Token         string `json:"token,omitempty"` // bearer token (do not log)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}

// PprofConfig mounts net/http/pprof on the API server.
type PprofConfig struct {
	Enabled bool   `json:"enabled"`
	Prefix  string `json:"prefix,omitempty"` // default: "/debug/pprof/"

	// Runtime profiling rates. Leave 0 to keep Go defaults.
	MutexProfileFraction int `json:"mutex_profile_fraction,omitempty"`
	BlockProfileRate     int `json:"block_profile_rate,omitempty"`
}
