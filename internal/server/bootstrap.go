package server

import (
	"fmt"
	"path/filepath"

	"github.com/any-hub/edge-router/internal/cache"
	"github.com/any-hub/edge-router/internal/config"
)

// NewCacheStore 根据 CacheBackend 构建边缘缓存。none 返回 nil store；
// 返回的 closer 总是可以安全调用。
func NewCacheStore(cfg *config.Config) (cache.Store, func() error, error) {
	noop := func() error { return nil }
	if cfg == nil {
		return nil, noop, fmt.Errorf("config is nil")
	}

	switch cfg.Global.CacheBackend {
	case config.CacheBackendNone:
		return nil, noop, nil
	case config.CacheBackendSQLite:
		dsn := cfg.Global.CacheDSN
		if dsn == "" {
			dsn = filepath.Join(cfg.Global.StoragePath, "edge-cache.db")
		}
		store, err := cache.NewSQLiteStore(dsn)
		if err != nil {
			return nil, noop, err
		}
		return store, store.Close, nil
	case config.CacheBackendFile, "":
		store, err := cache.NewStore(cfg.Global.StoragePath)
		if err != nil {
			return nil, noop, err
		}
		return store, noop, nil
	default:
		return nil, noop, fmt.Errorf("unsupported cache backend %q", cfg.Global.CacheBackend)
	}
}
