// Package cache stores serialized citation results keyed by request content.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/teilomillet/citegate/config"
	"go.uber.org/zap"
)

// KeyPrefix namespaces every key written by this package.
const KeyPrefix = "citegate:"

// Cache is a byte-oriented key/value store with per-entry expiry.
type Cache interface {
	// Get returns the value and true on a hit. A miss is not an error.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// Key derives a cache key from the given parts. Parts are length-prefixed
// before hashing so ("ab", "c") and ("a", "bc") do not collide.
func Key(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		fmt.Fprintf(h, "%d:", len(p))
		h.Write([]byte(p))
	}
	return KeyPrefix + hex.EncodeToString(h.Sum(nil))
}

// New builds the cache described by cfg. It returns nil when caching is disabled.
func New(cfg config.CacheConfig, logger *zap.Logger) (Cache, error) {
	if !cfg.Enable {
		return nil, nil
	}
	switch cfg.Type {
	case "", "memory":
		logger.Info("Using in-memory citation cache", zap.Int("max_size", cfg.MaxSize))
		return NewMemoryCache(cfg.MaxSize, cfg.TTL), nil
	case "redis":
		if cfg.Redis == nil {
			return nil, fmt.Errorf("redis cache requires redis settings")
		}
		logger.Info("Using redis citation cache", zap.String("address", cfg.Redis.Address))
		rc, err := NewRedisCache(context.Background(), *cfg.Redis)
		if err != nil {
			return nil, err
		}
		return rc, nil
	default:
		return nil, fmt.Errorf("unknown cache type: %s", cfg.Type)
	}
}
