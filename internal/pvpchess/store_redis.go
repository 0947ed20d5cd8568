package pvpchess

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	sessionTTL     = 48 * time.Hour
	activeIndexKey = "pvp:active"
)

// RedisStore keeps sessions as JSON documents and detects concurrent writers
// with WATCH/MULTI. Active sessions are indexed in a sorted set scored by
// their last update.
type RedisStore struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisStore connects to redisURL (redis:// or rediss://) and pings it.
func NewRedisStore(ctx context.Context, redisURL string) (*RedisStore, error) {
	if strings.TrimSpace(redisURL) == "" {
		return nil, fmt.Errorf("REDIS_URL required for session store")
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisStore{rdb: rdb, ttl: sessionTTL}, nil
}

func (r *RedisStore) Close() error {
	if r == nil || r.rdb == nil {
		return nil
	}
	return r.rdb.Close()
}

func (r *RedisStore) Ping(ctx context.Context) error {
	return r.rdb.Ping(ctx).Err()
}

func (r *RedisStore) Create(ctx context.Context, s *Session) error {
	if s == nil || strings.TrimSpace(s.ID) == "" {
		return fmt.Errorf("create session: missing id")
	}
	raw, err := json.Marshal(s)
	if err != nil {
		return err
	}
	key := sessionKey(s.ID)
	ok, err := r.rdb.SetNX(ctx, key, raw, r.ttl).Result()
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionExists, s.ID)
	}
	if s.Status == StatusActive {
		return r.rdb.ZAdd(ctx, activeIndexKey, redis.Z{Score: float64(s.UpdatedAt.Unix()), Member: s.ID}).Err()
	}
	return nil
}

func (r *RedisStore) Load(ctx context.Context, id string) (*Session, error) {
	raw, err := r.rdb.Get(ctx, sessionKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	var s Session
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", id, err)
	}
	return &s, nil
}

func (r *RedisStore) Update(ctx context.Context, id string, fn func(*Session) error) (*Session, error) {
	key := sessionKey(id)
	var out *Session
	err := r.rdb.Watch(ctx, func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
		}
		if err != nil {
			return err
		}
		var cur Session
		if err := json.Unmarshal(raw, &cur); err != nil {
			return fmt.Errorf("decode session %s: %w", id, err)
		}
		if err := fn(&cur); err != nil {
			return err
		}
		newRaw, err := json.Marshal(&cur)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, newRaw, r.ttl)
			if cur.Status == StatusActive {
				pipe.ZAdd(ctx, activeIndexKey, redis.Z{Score: float64(cur.UpdatedAt.Unix()), Member: cur.ID})
			} else {
				pipe.ZRem(ctx, activeIndexKey, cur.ID)
			}
			return nil
		})
		if err != nil {
			return err
		}
		out = &cur
		return nil
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		return nil, fmt.Errorf("%w: %s", ErrConflict, id)
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *RedisStore) ListActive(ctx context.Context, cutoff time.Time, limit int64) ([]string, error) {
	by := &redis.ZRangeBy{Min: "-inf", Max: strconv.FormatInt(cutoff.Unix(), 10)}
	if limit > 0 {
		by.Offset, by.Count = 0, limit
	}
	ids, err := r.rdb.ZRangeByScore(ctx, activeIndexKey, by).Result()
	if err != nil {
		return nil, fmt.Errorf("list active: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	// Index entries can outlive expired documents; prune them here.
	pipe := r.rdb.Pipeline()
	exists := make([]*redis.IntCmd, len(ids))
	for i, id := range ids {
		exists[i] = pipe.Exists(ctx, sessionKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("list active: %w", err)
	}
	live := ids[:0]
	var gone []any
	for i, id := range ids {
		if exists[i].Val() > 0 {
			live = append(live, id)
		} else {
			gone = append(gone, id)
		}
	}
	if len(gone) > 0 {
		_ = r.rdb.ZRem(ctx, activeIndexKey, gone...).Err()
	}
	return live, nil
}

func sessionKey(id string) string { return "pvp:session:" + strings.TrimSpace(id) }

// NewRedisStoreFromClient wraps an existing client, mainly for tests and tools
// that already own a connection.
func NewRedisStoreFromClient(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb, ttl: sessionTTL}
}
