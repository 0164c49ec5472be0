package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/redis/go-redis/v9"

	"pushbridge/internal/schedule"
	logx "pushbridge/pkg/logx"
)

// redisStore keeps records in Redis.
//
// Keys:
//   - {prefix}schedules      hash, field=id value=encoded record
//   - {prefix}owner:{owner}  set of ids owned by owner
type redisStore struct {
	client redis.UniversalClient
	prefix string
	codec  Codec
	log    logx.Logger
	closed atomic.Bool
}

func openRedis(cfg Config, codec Codec, log logx.Logger) (Store, error) {
	addr := strings.TrimSpace(cfg.Redis.Addr)
	if addr == "" {
		return nil, errors.New("storage.redis.addr is required for redis driver")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), defaultOpenTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	log.Debug("redis store opened", logx.String("addr", addr), logx.String("codec", codec.Name()))
	return newRedisStore(client, cfg.Redis.Prefix, codec, log), nil
}

func newRedisStore(client redis.UniversalClient, prefix string, codec Codec, log logx.Logger) *redisStore {
	if prefix == "" {
		prefix = "pushbridge:"
	}
	return &redisStore{client: client, prefix: prefix, codec: codec, log: log}
}

func (s *redisStore) hashKey() string { return s.prefix + "schedules" }
func (s *redisStore) ownerKey(owner string) string { return s.prefix + "owner:" + owner }

// maxTxRetries bounds optimistic retries when a watched key changes mid-write.
const maxTxRetries = 8

// watch runs fn under WATCH on keys and retries when another client wins the race.
func (s *redisStore) watch(ctx context.Context, fn func(tx *redis.Tx) error, keys ...string) error {
	var err error
	for range maxTxRetries {
		err = s.client.Watch(ctx, fn, keys...)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return err
}

// ownerOf decodes the stored record for id inside tx. ok is false when no
// record exists.
func (s *redisStore) ownerOf(ctx context.Context, tx *redis.Tx, id string) (owner string, ok bool, err error) {
	b, err := tx.HGet(ctx, s.hashKey(), id).Bytes()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	var m schedule.Model
	if err := s.codec.Unmarshal(b, &m); err != nil {
		// Still a record; the caller removes it without an owner set to clean.
		return "", true, nil
	}
	return m.Owner, true, nil
}

// Put writes the record and moves its id between owner sets when an
// overwrite changes the owner.
func (s *redisStore) Put(ctx context.Context, m schedule.Model) error {
	if s.closed.Load() {
		return ErrClosed
	}
	rec, err := s.codec.Marshal(m)
	if err != nil {
		return err
	}
	err = s.watch(ctx, func(tx *redis.Tx) error {
		prevOwner, existed, err := s.ownerOf(ctx, tx, m.ID)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.HSet(ctx, s.hashKey(), m.ID, rec)
			if existed && prevOwner != m.Owner {
				p.SRem(ctx, s.ownerKey(prevOwner), m.ID)
			}
			p.SAdd(ctx, s.ownerKey(m.Owner), m.ID)
			return nil
		})
		return err
	}, s.hashKey())
	if err != nil {
		return fmt.Errorf("redis put: %w", err)
	}
	return nil
}

func (s *redisStore) Remove(ctx context.Context, id string) (bool, error) {
	if s.closed.Load() {
		return false, ErrClosed
	}
	var found bool
	err := s.watch(ctx, func(tx *redis.Tx) error {
		owner, ok, err := s.ownerOf(ctx, tx, id)
		if err != nil || !ok {
			found = false
			return err
		}
		var del *redis.IntCmd
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			del = p.HDel(ctx, s.hashKey(), id)
			p.SRem(ctx, s.ownerKey(owner), id)
			return nil
		})
		if err != nil {
			return err
		}
		found = del.Val() > 0
		return nil
	}, s.hashKey())
	if err != nil {
		return false, fmt.Errorf("redis remove: %w", err)
	}
	return found, nil
}

func (s *redisStore) Get(ctx context.Context, id string) (schedule.Model, bool, error) {
	if s.closed.Load() {
		return schedule.Model{}, false, ErrClosed
	}
	b, err := s.client.HGet(ctx, s.hashKey(), id).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return schedule.Model{}, false, nil
		}
		return schedule.Model{}, false, fmt.Errorf("redis get: %w", err)
	}
	var m schedule.Model
	if err := s.codec.Unmarshal(b, &m); err != nil {
		return schedule.Model{}, false, err
	}
	return m, true, nil
}

func (s *redisStore) List(ctx context.Context) ([]schedule.Model, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	all, err := s.client.HGetAll(ctx, s.hashKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("redis list: %w", err)
	}
	out := make([]schedule.Model, 0, len(all))
	for id, v := range all {
		var m schedule.Model
		if err := s.codec.Unmarshal([]byte(v), &m); err != nil {
			s.log.Warn("skip undecodable schedule", logx.String("id", id), logx.Err(err))
			continue
		}
		out = append(out, m)
	}
	sortModels(out)
	return out, nil
}

// ownerReader is the read side shared by the client and a WATCH transaction.
type ownerReader interface {
	SMembers(ctx context.Context, key string) *redis.StringSliceCmd
	HMGet(ctx context.Context, key string, fields ...string) *redis.SliceCmd
}

// owned resolves the owner set against the hash. Members whose record is
// gone, or now belongs to another owner, are skipped.
func (s *redisStore) owned(ctx context.Context, c ownerReader, owner string) ([]schedule.Model, error) {
	ids, err := c.SMembers(ctx, s.ownerKey(owner)).Result()
	if err != nil || len(ids) == 0 {
		return nil, err
	}
	vals, err := c.HMGet(ctx, s.hashKey(), ids...).Result()
	if err != nil {
		return nil, err
	}
	out := make([]schedule.Model, 0, len(vals))
	for i, v := range vals {
		str, ok := v.(string)
		if !ok {
			continue
		}
		var m schedule.Model
		if err := s.codec.Unmarshal([]byte(str), &m); err != nil {
			s.log.Warn("skip undecodable schedule", logx.String("id", ids[i]), logx.Err(err))
			continue
		}
		if m.Owner != owner {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

func (s *redisStore) ListByOwner(ctx context.Context, owner string) ([]schedule.Model, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	out, err := s.owned(ctx, s.client, owner)
	if err != nil {
		return nil, fmt.Errorf("redis list owner: %w", err)
	}
	sortModels(out)
	return out, nil
}

func (s *redisStore) RemoveByOwner(ctx context.Context, owner string) (int, error) {
	if s.closed.Load() {
		return 0, ErrClosed
	}
	var n int
	err := s.watch(ctx, func(tx *redis.Tx) error {
		live, err := s.owned(ctx, tx, owner)
		if err != nil {
			return err
		}
		ids := make([]string, 0, len(live))
		for _, m := range live {
			ids = append(ids, m.ID)
		}
		var del *redis.IntCmd
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			if len(ids) > 0 {
				del = p.HDel(ctx, s.hashKey(), ids...)
			}
			p.Del(ctx, s.ownerKey(owner))
			return nil
		})
		if err != nil {
			return err
		}
		n = 0
		if del != nil {
			n = int(del.Val())
		}
		return nil
	}, s.hashKey(), s.ownerKey(owner))
	if err != nil {
		return 0, fmt.Errorf("redis remove owner: %w", err)
	}
	return n, nil
}

func (s *redisStore) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return s.client.Close()
}
