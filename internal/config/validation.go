package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"

	"golang.org/x/net/http/httpguts"

	"github.com/any-hub/edge-router/internal/routing"
)

var supportedCacheBackends = map[string]struct{}{
	CacheBackendFile:   {},
	CacheBackendSQLite: {},
	CacheBackendNone:   {},
}

const supportedCacheBackendList = "file|sqlite|none"

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	if err := c.validateGlobal(); err != nil {
		return err
	}

	if err := validateOrigin("Static", c.Static); err != nil {
		return err
	}
	if err := validateOrigin("Dynamic", c.Dynamic); err != nil {
		return err
	}
	staticURL, _ := url.Parse(c.Static.URL)
	dynamicURL, _ := url.Parse(c.Dynamic.URL)
	if strings.EqualFold(staticURL.Host, dynamicURL.Host) {
		return newFieldError("Dynamic.URL", "不能与 Static.URL 使用同一 Host")
	}

	if err := c.validateRules(); err != nil {
		return err
	}
	return c.validateScripts()
}

func (c *Config) validateGlobal() error {
	g := c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("Global.ListenPort", "必须在 1-65535")
	}
	if _, ok := supportedCacheBackends[g.CacheBackend]; !ok {
		return newFieldError("Global.CacheBackend", "仅支持 "+supportedCacheBackendList)
	}
	if g.CacheBackend == CacheBackendFile && g.StoragePath == "" {
		return newFieldError("Global.StoragePath", "file 缓存后端需要 StoragePath")
	}
	if g.UpstreamTimeout.DurationValue() <= 0 {
		return newFieldError("Global.UpstreamTimeout", "必须大于 0")
	}
	if g.StaticMaxAge.DurationValue() <= 0 {
		return newFieldError("Global.StaticMaxAge", "必须大于 0")
	}
	if g.StaleWhileRevalidate.DurationValue() < 0 {
		return newFieldError("Global.StaleWhileRevalidate", "不能为负数")
	}
	if !httpguts.ValidHeaderFieldName(g.CookieMirrorHeader) {
		return newFieldError("Global.CookieMirrorHeader", "不是合法的 Header 名称")
	}
	if strings.EqualFold(g.CookieMirrorHeader, "Cookie") {
		return newFieldError("Global.CookieMirrorHeader", "不能为 Cookie 本身")
	}
	if g.PublicURL != "" {
		if err := validateUpstream(g.PublicURL); err != nil {
			return fmt.Errorf("Global.PublicURL: %w", err)
		}
	}
	for i, prefix := range g.ImmutablePrefixes {
		if !strings.HasPrefix(prefix, "/") {
			return newFieldError(indexedField("Global.ImmutablePrefixes", i, ""), "必须以 / 开头")
		}
	}
	for i, prefix := range g.APIPrefixes {
		if !strings.HasPrefix(prefix, "/") {
			return newFieldError(indexedField("Global.APIPrefixes", i, ""), "必须以 / 开头")
		}
	}
	return nil
}

func validateOrigin(name string, o OriginConfig) error {
	if err := validateUpstream(o.URL); err != nil {
		return fmt.Errorf("%s.URL: %w", name, err)
	}
	if (o.Username == "") != (o.Password == "") {
		return newFieldError(name+".Username/Password", "必须同时提供或同时留空")
	}
	if o.ResolveOverride != "" {
		host, port, err := net.SplitHostPort(o.ResolveOverride)
		if err != nil || host == "" || port == "" {
			return newFieldError(name+".ResolveOverride", "必须为 host:port 形式")
		}
	}
	return nil
}

func (c *Config) validateRules() error {
	r := c.Rules
	if strings.TrimSpace(r.AjaxQueryMarker) == "" {
		return newFieldError("Rules.AjaxQueryMarker", "不能为空")
	}
	for i, p := range r.NoCachePaths {
		if !strings.HasPrefix(p, "/") {
			return newFieldError(indexedField("Rules.NoCachePaths", i, ""), "必须以 / 开头")
		}
	}
	for i, p := range r.DynamicPaths {
		if !strings.HasPrefix(p, "/") {
			return newFieldError(indexedField("Rules.DynamicPaths", i, ""), "必须以 / 开头")
		}
	}
	for i, rw := range r.PathRewrites {
		if !strings.HasPrefix(rw.From, "/") || strings.TrimSuffix(rw.From, "/") == "" {
			return newFieldError(indexedField("Rules.PathRewrite", i, "From"), "必须是以 / 开头的非根前缀")
		}
		if !strings.HasPrefix(rw.To, "/") {
			return newFieldError(indexedField("Rules.PathRewrite", i, "To"), "必须以 / 开头")
		}
	}
	for i, rule := range r.Redirects {
		switch rule.Kind {
		case routing.RedirectExact, routing.RedirectPrefix:
		default:
			return newFieldError(indexedField("Rules.Redirect", i, "Kind"), "仅支持 exact|prefix")
		}
		if !strings.HasPrefix(rule.Path, "/") {
			return newFieldError(indexedField("Rules.Redirect", i, "Path"), "必须以 / 开头")
		}
		if !strings.HasPrefix(rule.Target, "/") {
			return newFieldError(indexedField("Rules.Redirect", i, "Target"), "必须是以 / 开头的站内路径")
		}
		if rule.Kind == routing.RedirectExact && strings.Contains(rule.Target, routing.SlugPlaceholder) {
			return newFieldError(indexedField("Rules.Redirect", i, "Target"), "exact 规则不能使用 {slug}")
		}
	}
	return nil
}

func (c *Config) validateScripts() error {
	seen := map[string]struct{}{}
	for i, s := range c.Scripts {
		if !strings.HasPrefix(s.Path, "/") {
			return newFieldError(indexedField("Script", i, "Path"), "必须以 / 开头")
		}
		if _, exists := seen[s.Path]; exists {
			return newFieldError(indexedField("Script", i, "Path"), "重复")
		}
		seen[s.Path] = struct{}{}
		if err := validateUpstream(s.URL); err != nil {
			return fmt.Errorf("%s: %w", indexedField("Script", i, "URL"), err)
		}
		if s.MaxAge.DurationValue() <= 0 {
			return newFieldError(indexedField("Script", i, "MaxAge"), "必须大于 0")
		}
	}
	return nil
}

func validateUpstream(raw string) error {
	if raw == "" {
		return errors.New("缺少地址")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("仅支持 http/https: %s", raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("缺少 Host: %s", raw)
	}
	return nil
}
