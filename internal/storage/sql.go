package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"pushbridge/internal/schedule"
	logx "pushbridge/pkg/logx"
)

//go:embed migrations_sqlite.sql migrations_postgres.sql
var migrationsFS embed.FS

// sqlStore stores one row per schedule. The encoded record is authoritative;
// the other columns exist for indexing.
type sqlStore struct {
	db    *sql.DB
	sb    sq.StatementBuilderType
	codec Codec
	log   logx.Logger

	migrations string
	closed     atomic.Bool
}

func openSQLite(cfg Config, codec Codec, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("storage.path is required for sqlite driver")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = FULL")

	st := &sqlStore{
		db:         db,
		sb:         sq.StatementBuilder.PlaceholderFormat(sq.Question),
		codec:      codec,
		log:        log,
		migrations: "migrations_sqlite.sql",
	}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Debug("sqlite store opened", logx.String("path", path), logx.String("codec", codec.Name()))
	return st, nil
}

func openPostgres(cfg Config, codec Codec, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, errors.New("storage.dsn is required for postgres driver")
	}
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), defaultOpenTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	st := &sqlStore{
		db:         db,
		sb:         sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
		codec:      codec,
		log:        log,
		migrations: "migrations_postgres.sql",
	}
	if err := st.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Debug("postgres store opened", logx.String("codec", codec.Name()))
	return st, nil
}

func (s *sqlStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile(s.migrations)
	if err != nil {
		return err
	}
	for _, stmt := range strings.Split(string(b), ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (s *sqlStore) Put(ctx context.Context, m schedule.Model) error {
	if s.closed.Load() {
		return ErrClosed
	}
	rec, err := s.codec.Marshal(m)
	if err != nil {
		return err
	}
	query, args, err := s.sb.Insert("schedules").
		Columns("id", "owner", "kind", "next_fire_at", "created_at", "record").
		Values(m.ID, m.Owner, string(m.Kind), m.NextFireAt, m.CreatedAt, rec).
		Suffix("ON CONFLICT(id) DO UPDATE SET owner = excluded.owner, kind = excluded.kind, " +
			"next_fire_at = excluded.next_fire_at, created_at = excluded.created_at, record = excluded.record").
		ToSql()
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, query, args...)
	return err
}

func (s *sqlStore) Remove(ctx context.Context, id string) (bool, error) {
	if s.closed.Load() {
		return false, ErrClosed
	}
	query, args, err := s.sb.Delete("schedules").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return false, err
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *sqlStore) Get(ctx context.Context, id string) (schedule.Model, bool, error) {
	if s.closed.Load() {
		return schedule.Model{}, false, ErrClosed
	}
	query, args, err := s.sb.Select("record").From("schedules").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return schedule.Model{}, false, err
	}
	var rec []byte
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&rec); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return schedule.Model{}, false, nil
		}
		return schedule.Model{}, false, err
	}
	var m schedule.Model
	if err := s.codec.Unmarshal(rec, &m); err != nil {
		return schedule.Model{}, false, err
	}
	return m, true, nil
}

func (s *sqlStore) List(ctx context.Context) ([]schedule.Model, error) {
	return s.list(ctx, s.sb.Select("record").From("schedules"))
}

func (s *sqlStore) ListByOwner(ctx context.Context, owner string) ([]schedule.Model, error) {
	return s.list(ctx, s.sb.Select("record").From("schedules").Where(sq.Eq{"owner": owner}))
}

func (s *sqlStore) list(ctx context.Context, q sq.SelectBuilder) ([]schedule.Model, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	query, args, err := q.OrderBy("next_fire_at", "id").ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []schedule.Model
	for rows.Next() {
		var rec []byte
		if err := rows.Scan(&rec); err != nil {
			return nil, err
		}
		var m schedule.Model
		if err := s.codec.Unmarshal(rec, &m); err != nil {
			s.log.Warn("skip undecodable schedule row", logx.Err(err))
			continue
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// Column order and record contents agree unless a row was edited by hand.
	sortModels(out)
	return out, nil
}

func (s *sqlStore) RemoveByOwner(ctx context.Context, owner string) (int, error) {
	if s.closed.Load() {
		return 0, ErrClosed
	}
	query, args, err := s.sb.Delete("schedules").Where(sq.Eq{"owner": owner}).ToSql()
	if err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func (s *sqlStore) Close() error {
	if s == nil || !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return s.db.Close()
}
