package cache

import (
	"fmt"
	"strings"

	"github.com/bitechdev/tagstream/pkg/config"
	"github.com/bitechdev/tagstream/pkg/logger"
)

// NewProviderFromConfig builds the backend named by cfg.Provider.
// An empty provider means memory.
func NewProviderFromConfig(cfg config.CacheConfig) (Provider, error) {
	opts := &Options{DefaultTTL: cfg.TTL}

	switch strings.ToLower(cfg.Provider) {
	case "", "memory":
		return NewMemoryProvider(opts), nil
	case "redis":
		p, err := NewRedisProvider(cfg.Redis, opts)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize Redis provider: %w", err)
		}
		logger.Info("[Cache] Using Redis at %s:%d", cfg.Redis.Host, cfg.Redis.Port)
		return p, nil
	case "memcache":
		p, err := NewMemcacheProvider(cfg.Memcache, opts)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize Memcache provider: %w", err)
		}
		logger.Info("[Cache] Using Memcache at %v", cfg.Memcache.Servers)
		return p, nil
	default:
		return nil, fmt.Errorf("unknown cache provider: %s", cfg.Provider)
	}
}

// NewFromConfig builds a Cache over the configured provider
func NewFromConfig(cfg config.CacheConfig) (*Cache, error) {
	p, err := NewProviderFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	return NewCache(p), nil
}
