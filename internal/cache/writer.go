package cache

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrStoreUnavailable 表示当前部署未启用缓存后端（CacheBackend = "none"）。
var ErrStoreUnavailable = errors.New("cache store unavailable")

// TTLWriter 在 Store 之上提供基于 max-age 的新鲜度判断与写入封装。
type TTLWriter struct {
	store Store
	now   func() time.Time
}

// NewTTLWriter 构造写入器，默认使用 time.Now 作为时钟；store 可以为 nil。
func NewTTLWriter(store Store) TTLWriter {
	return TTLWriter{
		store: store,
		now:   time.Now,
	}
}

// Enabled 返回当前是否具备缓存能力。
func (w TTLWriter) Enabled() bool {
	return w.store != nil
}

// Get 透传到底层 Store；未启用时视为未命中。
func (w TTLWriter) Get(ctx context.Context, locator Locator) (*ReadResult, error) {
	if w.store == nil {
		return nil, ErrNotFound
	}
	return w.store.Get(ctx, locator)
}

// Put 写入缓存正文，ModTime 缺省为当前时钟。
func (w TTLWriter) Put(ctx context.Context, locator Locator, body io.Reader) (*Entry, error) {
	if w.store == nil {
		return nil, ErrStoreUnavailable
	}
	return w.store.Put(ctx, locator, body, PutOptions{ModTime: w.now().UTC()})
}

// Fresh 判断条目是否仍在 maxAge 之内。
func (w TTLWriter) Fresh(entry Entry, maxAge time.Duration) bool {
	if maxAge <= 0 {
		return false
	}
	return w.now().Before(entry.ModTime.Add(maxAge))
}

// WithClock 返回使用指定时钟的副本，测试中用于固定时间。
func (w TTLWriter) WithClock(now func() time.Time) TTLWriter {
	if now != nil {
		w.now = now
	}
	return w
}
