// Package cache provides the entity lookup cache used during evidence
// building. Detection rules resolve entity display names repeatedly for
// the same handful of vendors; the cache keeps those reads off the store.
package cache

import (
	"fmt"

	"github.com/openaudit/kestrel/internal/domain"
)

// New creates a cache based on configuration: an in-process LRU for
// single-node runs, or Redis when several workers share lookups.
func New(cfg domain.CacheConfig) (domain.Cache, error) {
	switch cfg.Type {
	case "", "memory":
		return NewLRUCache(cfg.LocalMaxSize), nil

	case "redis":
		return NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)

	default:
		return nil, fmt.Errorf("unsupported cache type: %s", cfg.Type)
	}
}

// entityKey builds the cache key for a canonical entity.
func entityKey(kind domain.EntityKind, id int64) string {
	return fmt.Sprintf("entity:%s:%d", kind, id)
}
