package store

import (
	"fmt"
	"strings"
)

const (
	BackendMemory = "memory"
	BackendBolt   = "bolt"
	BackendRedis  = "redis"
)

// Open builds the backend named by STORE_BACKEND.
func Open(backend, path string, redisOpts RedisOptions) (KV, error) {
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case "", BackendMemory:
		return NewMemoryKV(), nil
	case BackendBolt:
		if strings.TrimSpace(path) == "" {
			return nil, fmt.Errorf("bolt store: STORE_PATH is empty")
		}
		return NewBoltKV(path)
	case BackendRedis:
		return NewRedisKV(redisOpts)
	}
	return nil, fmt.Errorf("unknown store backend %q", backend)
}
