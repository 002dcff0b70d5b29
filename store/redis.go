package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisKV shares the persisted state between client processes.
type RedisKV struct {
	rdb       *redis.Client
	keyPrefix string
	ttl       time.Duration
}

type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	// TTL of 0 keeps keys until they are cleared explicitly.
	TTL       time.Duration
	KeyPrefix string
}

func NewRedisKV(opts RedisOptions) (*RedisKV, error) {
	addr := strings.TrimSpace(opts.Addr)
	if addr == "" {
		return nil, errors.New("REDIS_ADDR is empty")
	}
	db := opts.DB
	if db < 0 {
		db = 0
	}
	prefix := opts.KeyPrefix
	if prefix == "" {
		prefix = "docbridge:"
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: strings.TrimSpace(opts.Password),
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	slog.Info("store.redis.enabled", "addr", addr, "db", db, "ttl", opts.TTL.String())

	return &RedisKV{rdb: rdb, keyPrefix: prefix, ttl: opts.TTL}, nil
}

// Client exposes the connection so the bus mirror can reuse it.
func (s *RedisKV) Client() *redis.Client { return s.rdb }

func (s *RedisKV) key(k string) string {
	return s.keyPrefix + strings.TrimSpace(k)
}

func (s *RedisKV) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := s.rdb.Get(ctx, s.key(key)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

func (s *RedisKV) Set(ctx context.Context, key, value string) error {
	return s.rdb.Set(ctx, s.key(key), value, s.ttl).Err()
}

func (s *RedisKV) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = s.key(k)
	}
	return s.rdb.Del(ctx, full...).Err()
}

// SetMany writes several keys in one MULTI/EXEC so readers never see the id without its
// timestamp.
func (s *RedisKV) SetMany(ctx context.Context, kv map[string]string) error {
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for k, v := range kv {
			pipe.Set(ctx, s.key(k), v, s.ttl)
		}
		return nil
	})
	return err
}

func (s *RedisKV) Close() error { return s.rdb.Close() }
