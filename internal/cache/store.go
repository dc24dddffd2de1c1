package cache

import (
	"context"
	"errors"
	"io"
	"time"
)

// Store 负责边缘缓存条目的读写。磁盘布局遵循：
//
//	<StoragePath>/<Namespace>/<sha256(Key)>.body    # 实际正文
//
// 单个 key 的写入必须是原子的；同一未命中被并发写入多次是允许的，结果等价。
type Store interface {
	// Get 返回一个可流式读取的缓存条目。若不存在则返回 ErrNotFound。
	Get(ctx context.Context, locator Locator) (*ReadResult, error)

	// Put 写入正文并产出新的 Entry 描述。失败时不得留下半写入的条目。
	// 可选地根据 opts.ModTime 设置条目时间戳。
	Put(ctx context.Context, locator Locator, body io.Reader, opts PutOptions) (*Entry, error)

	// Remove 删除条目，不存在时不报错。
	Remove(ctx context.Context, locator Locator) error
}

// PutOptions 控制写入过程中的可选属性。
type PutOptions struct {
	ModTime time.Time
}

// Locator 唯一定位一个缓存条目。Key 为完整的远端 URL（含查询串）。
type Locator struct {
	Namespace string
	Key       string
}

// Entry 表示一次缓存命中结果；FilePath 仅磁盘后端填写。
type Entry struct {
	Locator   Locator `json:"locator"`
	FilePath  string  `json:"file_path,omitempty"`
	SizeBytes int64   `json:"size_bytes"`
	ModTime   time.Time
}

// ReadResult 组合 Entry 与正文 Reader，调用方负责 Close。
type ReadResult struct {
	Entry  Entry
	Reader io.ReadSeekCloser
}

// ErrNotFound 表示缓存不存在。
var ErrNotFound = errors.New("cache entry not found")

func locatorKey(locator Locator) string {
	return locator.Namespace + "::" + locator.Key
}
