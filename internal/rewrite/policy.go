package rewrite

import (
	"fmt"
	"time"

	"github.com/dunglas/httpsfv"

	"github.com/any-hub/edge-router/internal/routing"
)

// PolicyKind 标识对响应采用的缓存策略，同时写入 X-Edge-Cache-Policy 诊断头。
type PolicyKind string

const (
	PolicyBypass    PolicyKind = "bypass"
	PolicyStatic    PolicyKind = "static"
	PolicyImmutable PolicyKind = "immutable"
	PolicyUpstream  PolicyKind = "upstream"
)

// CachePolicy 保存预先序列化好的 Cache-Control 取值。
type CachePolicy struct {
	immutablePrefixes []string
	bypassValue       string
	staticValue       string
}

// NewCachePolicy 以 RFC 8941 Dictionary 形式序列化 bypass 与 static 两种指令。
func NewCachePolicy(staticMaxAge, staleWhileRevalidate time.Duration, immutablePrefixes []string) (CachePolicy, error) {
	bypass := httpsfv.NewDictionary()
	bypass.Add("no-store", httpsfv.NewItem(true))
	bypass.Add("no-cache", httpsfv.NewItem(true))
	bypass.Add("must-revalidate", httpsfv.NewItem(true))
	bypass.Add("private", httpsfv.NewItem(true))
	bypass.Add("max-age", httpsfv.NewItem(int64(0)))
	bypassValue, err := httpsfv.Marshal(bypass)
	if err != nil {
		return CachePolicy{}, fmt.Errorf("marshal bypass cache-control: %w", err)
	}

	static := httpsfv.NewDictionary()
	static.Add("public", httpsfv.NewItem(true))
	static.Add("max-age", httpsfv.NewItem(int64(staticMaxAge/time.Second)))
	if staleWhileRevalidate > 0 {
		static.Add("stale-while-revalidate", httpsfv.NewItem(int64(staleWhileRevalidate/time.Second)))
	}
	staticValue, err := httpsfv.Marshal(static)
	if err != nil {
		return CachePolicy{}, fmt.Errorf("marshal static cache-control: %w", err)
	}

	return CachePolicy{
		immutablePrefixes: append([]string(nil), immutablePrefixes...),
		bypassValue:       bypassValue,
		staticValue:       staticValue,
	}, nil
}

// Decide 返回请求对应的策略。bypass 优先；静态源站的构建哈希资源保留上游取值。
func (p CachePolicy) Decide(d routing.Decision, clientPath string) PolicyKind {
	switch {
	case d.BypassCache:
		return PolicyBypass
	case d.Origin == routing.OriginStatic && routing.HasAnyPrefix(clientPath, p.immutablePrefixes):
		return PolicyImmutable
	case d.Origin == routing.OriginStatic:
		return PolicyStatic
	default:
		return PolicyUpstream
	}
}

// HeaderValue 返回需要写入的 Cache-Control；ok 为 false 时保留上游原值。
func (p CachePolicy) HeaderValue(kind PolicyKind) (string, bool) {
	switch kind {
	case PolicyBypass:
		return p.bypassValue, true
	case PolicyStatic:
		return p.staticValue, true
	default:
		return "", false
	}
}

// ScriptCacheControl 生成代理脚本使用的 public, max-age=N。
func ScriptCacheControl(maxAge time.Duration) string {
	dict := httpsfv.NewDictionary()
	dict.Add("public", httpsfv.NewItem(true))
	dict.Add("max-age", httpsfv.NewItem(int64(maxAge/time.Second)))
	value, err := httpsfv.Marshal(dict)
	if err != nil {
		return fmt.Sprintf("public, max-age=%d", int64(maxAge/time.Second))
	}
	return value
}

// Header 是一组按顺序写出的响应头。
type Header struct {
	Name  string
	Value string
}

// SecurityHeaders 返回所有响应都附带的基础安全头。
func SecurityHeaders() []Header {
	return []Header{
		{Name: "Strict-Transport-Security", Value: "max-age=31536000; includeSubDomains"},
		{Name: "X-Frame-Options", Value: "SAMEORIGIN"},
		{Name: "X-Content-Type-Options", Value: "nosniff"},
	}
}
