package domain

import (
	"context"
	"time"
)

// Cache fronts hot entity lookups during evidence building. Supports an
// in-process LRU or Redis.
type Cache interface {
	// Get retrieves a value from cache. Returns nil, nil if key not found.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value in cache with expiration.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a value from cache.
	Delete(ctx context.Context, key string) error

	// GetEntity retrieves a cached canonical entity.
	GetEntity(ctx context.Context, kind EntityKind, id int64) (*CanonicalEntity, error)

	// SetEntity caches a canonical entity for evidence lookups.
	SetEntity(ctx context.Context, entity *CanonicalEntity, ttl time.Duration) error

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}
