package storage

import (
	"errors"
	"sort"
	"strings"
	"time"

	"pushbridge/internal/schedule"
	logx "pushbridge/pkg/logx"
)

const defaultOpenTimeout = 5 * time.Second

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" {
		driver = "file"
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	codec, err := CodecByName(cfg.Codec)
	if err != nil {
		return nil, err
	}

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, codec, log)
	case "postgres", "postgresql":
		return openPostgres(cfg, codec, log)
	case "redis":
		return openRedis(cfg, codec, log)
	case "memory", "mem":
		return NewMemory(), nil
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}

// sortModels orders records by next fire time, then id.
func sortModels(ms []schedule.Model) {
	sort.Slice(ms, func(i, j int) bool { return schedule.Less(ms[i], ms[j]) })
}
