package server

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/any-hub/edge-router/internal/config"
	"github.com/any-hub/edge-router/internal/routing"
)

// OriginRoute 将源站配置与派生属性（解析后的 URL、专用 http.Client）聚合在一起，
// 供代理层直接复用，避免每个请求重复解析配置。
type OriginRoute struct {
	// Name 是 static 或 dynamic，日志与诊断头只输出该名称。
	Name routing.Origin
	// Config 是配置中的源站字段副本。
	Config config.OriginConfig
	// BaseURL 在构造 Registry 时提前解析完成。
	BaseURL *url.URL
	// Client 从不跟随重定向；动态源站可能带有拨号覆盖。
	Client *http.Client
	// BypassSharedCache 为 true 时请求附带 no-cache 并镜像 Cookie 头。
	BypassSharedCache bool
}

// Host 返回源站 host（含非默认端口）。
func (r *OriginRoute) Host() string {
	if r == nil || r.BaseURL == nil {
		return ""
	}
	return r.BaseURL.Host
}

// OriginRegistry 持有两个源站以及可选的固定公共地址，启动时构建一次并在请求间共享。
type OriginRegistry struct {
	routes  map[routing.Origin]*OriginRoute
	ordered []*OriginRoute
	public  *url.URL
}

// NewOriginRegistry 根据配置构建源站表。调用方应在启动阶段创建一次并复用。
func NewOriginRegistry(cfg *config.Config) (*OriginRegistry, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}

	registry := &OriginRegistry{
		routes: make(map[routing.Origin]*OriginRoute, 2),
	}

	static, err := buildOriginRoute(cfg, routing.OriginStatic, cfg.Static, false)
	if err != nil {
		return nil, err
	}
	dynamic, err := buildOriginRoute(cfg, routing.OriginDynamic, cfg.Dynamic, true)
	if err != nil {
		return nil, err
	}
	if strings.EqualFold(static.Host(), dynamic.Host()) {
		return nil, fmt.Errorf("static and dynamic origins share host %s", static.Host())
	}

	for _, route := range []*OriginRoute{static, dynamic} {
		registry.routes[route.Name] = route
		registry.ordered = append(registry.ordered, route)
	}

	if raw := strings.TrimSpace(cfg.Global.PublicURL); raw != "" {
		public, err := url.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid public url: %w", err)
		}
		registry.public = &url.URL{Scheme: public.Scheme, Host: strings.ToLower(public.Host)}
	}

	return registry, nil
}

func buildOriginRoute(cfg *config.Config, name routing.Origin, origin config.OriginConfig, bypass bool) (*OriginRoute, error) {
	baseURL, err := url.Parse(origin.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid url for %s origin: %w", name, err)
	}
	if baseURL.Host == "" {
		return nil, fmt.Errorf("%s origin url has no host", name)
	}
	baseURL.Host = strings.ToLower(baseURL.Host)

	return &OriginRoute{
		Name:              name,
		Config:            origin,
		BaseURL:           baseURL,
		Client:            NewOriginClient(cfg, origin),
		BypassSharedCache: bypass,
	}, nil
}

// Lookup 返回指定源站。
func (r *OriginRegistry) Lookup(origin routing.Origin) (*OriginRoute, bool) {
	if r == nil {
		return nil, false
	}
	route, ok := r.routes[origin]
	return route, ok
}

// List 返回源站列表（static 在前），用于诊断输出。
func (r *OriginRegistry) List() []OriginRoute {
	if r == nil || len(r.ordered) == 0 {
		return nil
	}

	result := make([]OriginRoute, len(r.ordered))
	for i, route := range r.ordered {
		result[i] = *route
	}
	return result
}

// UpstreamHosts 返回需要在响应中被替换的全部上游 host。
func (r *OriginRegistry) UpstreamHosts() []string {
	if r == nil {
		return nil
	}
	hosts := make([]string, 0, len(r.ordered))
	for _, route := range r.ordered {
		hosts = append(hosts, route.Host())
	}
	return hosts
}

// PublicOrigin 返回客户端看到的 scheme 与 host：配置了 PublicURL 时固定使用，
// 否则取入站请求的 scheme 与 Host。
func (r *OriginRegistry) PublicOrigin(requestScheme, requestHost string) (string, string) {
	if r != nil && r.public != nil {
		return r.public.Scheme, r.public.Host
	}
	scheme := strings.ToLower(strings.TrimSpace(requestScheme))
	if scheme != "http" && scheme != "https" {
		scheme = "https"
	}
	return scheme, normalizeHost(requestHost)
}

// normalizeHost 将 Host 头转为小写并去掉末尾的点，保留非默认端口。
func normalizeHost(raw string) string {
	raw = strings.ToLower(strings.TrimSpace(raw))
	if raw == "" {
		return ""
	}
	if host, port, err := net.SplitHostPort(raw); err == nil {
		host = strings.TrimSuffix(host, ".")
		if strings.Contains(host, ":") {
			return "[" + host + "]:" + port
		}
		return host + ":" + port
	}
	return strings.TrimSuffix(raw, ".")
}
