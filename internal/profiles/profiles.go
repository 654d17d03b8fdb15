// Package profiles resolves display labels through a read-through cache.
package profiles

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/NarayanBavisetti/roomvia-sub000/internal/messenger"
)

// DefaultTTL bounds how long a label is served from cache.
const DefaultTTL = 5 * time.Minute

// ErrMiss is returned by a Cache for absent or expired keys.
var ErrMiss = errors.New("cache miss")

// Cache is a string cache with per-entry expiry.
type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
}

// Cached is a messenger.Profiles that consults cache before source.
type Cached struct {
	source messenger.Profiles
	cache  Cache
	ttl    time.Duration
	logger *zap.Logger
}

var _ messenger.Profiles = (*Cached)(nil)

// NewCached wraps source. A zero ttl selects DefaultTTL.
func NewCached(source messenger.Profiles, cache Cache, ttl time.Duration, logger *zap.Logger) *Cached {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cached{source: source, cache: cache, ttl: ttl, logger: logger}
}

// DisplayLabel returns the cached label or loads it from the source. Unknown
// users (empty label) are not cached. Cache failures fall through to the source.
func (c *Cached) DisplayLabel(ctx context.Context, userID string) (string, error) {
	key := "profile:label:" + userID
	label, err := c.cache.Get(ctx, key)
	switch {
	case err == nil:
		return label, nil
	case !errors.Is(err, ErrMiss):
		c.logger.Debug("profile cache get failed", zap.String("user", userID), zap.Error(err))
	}

	label, err = c.source.DisplayLabel(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("display label %s: %w", userID, err)
	}
	if label == "" {
		return "", nil
	}
	if err := c.cache.Set(ctx, key, label, c.ttl); err != nil {
		c.logger.Debug("profile cache set failed", zap.String("user", userID), zap.Error(err))
	}
	return label, nil
}

// Memory is an in-process Cache.
type Memory struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

type memoryEntry struct {
	value   string
	expires time.Time
}

var _ Cache = (*Memory)(nil)

// NewMemory creates an empty in-process cache.
func NewMemory() *Memory {
	return &Memory{entries: make(map[string]memoryEntry), now: time.Now}
}

func (m *Memory) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok {
		return "", ErrMiss
	}
	if !m.now().Before(e.expires) {
		delete(m.entries, key)
		return "", ErrMiss
	}
	return e.value, nil
}

func (m *Memory) Set(_ context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = memoryEntry{value: value, expires: m.now().Add(ttl)}
	return nil
}

// Redis is a Cache over a go-redis client.
type Redis struct {
	client redis.UniversalClient
}

var _ Cache = (*Redis)(nil)

// NewRedis wraps client.
func NewRedis(client redis.UniversalClient) *Redis {
	return &Redis{client: client}
}

func (r *Redis) Get(ctx context.Context, key string) (string, error) {
	res, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrMiss
	}
	if err != nil {
		return "", err
	}
	return res, nil
}

func (r *Redis) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return r.client.Set(ctx, key, value, ttl).Err()
}
