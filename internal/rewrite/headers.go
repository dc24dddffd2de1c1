package rewrite

import (
	"net/url"
	"strings"

	"github.com/any-hub/edge-router/internal/routing"
)

// RewriteLocation 将 Location 相对上游目标解析为绝对地址；命中上游 host 时改写为公共源，
// 并把动态源站的路径改写映射回客户端路径。外部地址原样返回。
func RewriteLocation(location string, target *url.URL, m HostMap, pathRewrite *routing.PathRewrite) string {
	if strings.TrimSpace(location) == "" || target == nil {
		return location
	}
	parsed, err := url.Parse(location)
	if err != nil {
		return location
	}
	abs := target.ResolveReference(parsed)
	if !m.IsUpstreamHost(abs.Host) {
		return location
	}

	out := *abs
	out.Scheme = m.PublicScheme
	out.Host = m.PublicHost
	if pathRewrite != nil {
		if clientPath, ok := pathRewrite.Reverse(out.Path); ok {
			out.Path = clientPath
			out.RawPath = ""
		}
	}
	return out.String()
}

// RewriteSetCookie 删除 Domain 属性，并把残留的上游主机名替换为公共主机名。
func RewriteSetCookie(value string, m HostMap) string {
	parts := strings.Split(value, ";")
	kept := make([]string, 0, len(parts))
	for i, part := range parts {
		trimmed := strings.TrimSpace(part)
		if i > 0 && strings.HasPrefix(strings.ToLower(trimmed), "domain=") {
			continue
		}
		if i > 0 && trimmed == "" {
			continue
		}
		kept = append(kept, trimmed)
	}
	out := strings.Join(kept, "; ")

	publicName := hostnameOf(m.PublicHost)
	for _, h := range m.UpstreamHosts {
		name := hostnameOf(h)
		if name == "" || name == publicName {
			continue
		}
		out = replaceHost(out, name, publicName)
	}
	return out
}
