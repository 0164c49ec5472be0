package storage

import (
	"context"
	"errors"
	"time"

	"pushbridge/internal/schedule"
)

var (
	ErrClosed   = errors.New("storage closed")
	ErrNotFound = errors.New("schedule not found")
)

// Store is durable keyed storage of schedule records.
//
// Put with an existing id overwrites the record (used to reschedule after a fire).
type Store interface {
	Put(ctx context.Context, m schedule.Model) error
	Remove(ctx context.Context, id string) (found bool, err error)
	Get(ctx context.Context, id string) (m schedule.Model, ok bool, err error)
	List(ctx context.Context) ([]schedule.Model, error)
	ListByOwner(ctx context.Context, owner string) ([]schedule.Model, error)
	RemoveByOwner(ctx context.Context, owner string) (int, error)
	Close() error
}

// Config configures storage.
//
// Driver values:
//   - "file": snapshot + journal under Path (default)
//   - "sqlite": SQLite database file at Path
//   - "postgres": PostgreSQL at DSN
//   - "redis": Redis at Redis.Addr
//   - "memory": in-process only
type Config struct {
	Driver      string
	Path        string
	DSN         string
	BusyTimeout time.Duration // sqlite only; 0 means default

	// Codec encodes records for sql/redis backends: "json" (default) or "msgpack".
	Codec string

	// CompactEvery compacts the file journal into the snapshot every N writes.
	CompactEvery int

	Redis RedisConfig
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}
