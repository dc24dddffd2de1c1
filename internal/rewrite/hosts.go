package rewrite

import (
	"net"
	"strings"
)

// HostMap 描述需要被替换的上游 Host 以及对外暴露的公共源。
type HostMap struct {
	// UpstreamHosts 为两个源站的 host（可带端口），按声明顺序替换。
	UpstreamHosts []string
	// PublicScheme/PublicHost 组成客户端看到的公共源，例如 https + shop.example。
	PublicScheme string
	PublicHost   string
}

// NewHostMap 构造 HostMap，忽略空 host 与重复 host。
func NewHostMap(upstreamHosts []string, publicScheme, publicHost string) HostMap {
	seen := make(map[string]struct{}, len(upstreamHosts))
	hosts := make([]string, 0, len(upstreamHosts))
	for _, h := range upstreamHosts {
		h = strings.ToLower(strings.TrimSpace(h))
		if h == "" {
			continue
		}
		if _, ok := seen[h]; ok {
			continue
		}
		seen[h] = struct{}{}
		hosts = append(hosts, h)
	}
	if publicScheme == "" {
		publicScheme = "https"
	}
	return HostMap{
		UpstreamHosts: hosts,
		PublicScheme:  publicScheme,
		PublicHost:    publicHost,
	}
}

// PublicOrigin 返回 scheme://host 形式的公共源。
func (m HostMap) PublicOrigin() string {
	return m.PublicScheme + "://" + m.PublicHost
}

// IsUpstreamHost 判断 host（可带端口）是否属于任一上游。
func (m HostMap) IsUpstreamHost(host string) bool {
	name := hostnameOf(host)
	if name == "" {
		return false
	}
	for _, h := range m.UpstreamHosts {
		if strings.EqualFold(host, h) || strings.EqualFold(name, hostnameOf(h)) {
			return true
		}
	}
	return false
}

// RewriteHostReferences 将正文中所有上游 host 的绝对、协议相对与 JSON 转义形式替换为公共源。
// 匹配以 host 边界为准，shop.example 不会命中 shop.example.org；重复执行结果不变。
func RewriteHostReferences(body string, m HostMap) string {
	if body == "" || m.PublicHost == "" {
		return body
	}
	origin := m.PublicOrigin()
	escapedOrigin := strings.ReplaceAll(origin, "/", `\/`)
	for _, h := range m.UpstreamHosts {
		if h == m.PublicHost {
			continue
		}
		body = replaceHost(body, "https://"+h, origin)
		body = replaceHost(body, "http://"+h, origin)
		body = replaceHost(body, "//"+h, "//"+m.PublicHost)
		body = replaceHost(body, `https:\/\/`+h, escapedOrigin)
		body = replaceHost(body, `http:\/\/`+h, escapedOrigin)
		body = replaceHost(body, `\/\/`+h, `\/\/`+m.PublicHost)
	}
	return body
}

// replaceHost 仅在 needle 之后不是 host 字符时替换。
func replaceHost(body, needle, replacement string) string {
	idx := strings.Index(body, needle)
	if idx < 0 {
		return body
	}
	var b strings.Builder
	b.Grow(len(body))
	for idx >= 0 {
		end := idx + len(needle)
		b.WriteString(body[:idx])
		if continuesHost(body, end) {
			b.WriteString(needle)
		} else {
			b.WriteString(replacement)
		}
		body = body[end:]
		idx = strings.Index(body, needle)
	}
	b.WriteString(body)
	return b.String()
}

func continuesHost(s string, i int) bool {
	if i >= len(s) {
		return false
	}
	c := s[i]
	if isAlnum(c) || c == '-' || c == '_' {
		return true
	}
	return c == '.' && i+1 < len(s) && isAlnum(s[i+1])
}

func isAlnum(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

func hostnameOf(host string) string {
	host = strings.TrimSpace(host)
	if h, _, err := net.SplitHostPort(host); err == nil {
		return strings.ToLower(h)
	}
	return strings.ToLower(strings.TrimSuffix(strings.TrimPrefix(host, "["), "]"))
}

// RestoreClientPath 在正文已完成 host 替换后，把指向公共源的上游路径还原为客户端请求的路径，
// 例如 canonical 链接中的 /products/x 还原为 /buy/x。仅替换完整路径，/products/x-large 不受影响。
func RestoreClientPath(body string, m HostMap, upstreamPath, clientPath string) string {
	if body == "" || m.PublicHost == "" || upstreamPath == "" || upstreamPath == clientPath {
		return body
	}
	origin := m.PublicOrigin()
	escape := func(s string) string { return strings.ReplaceAll(s, "/", `\/`) }
	body = replaceHost(body, origin+upstreamPath, origin+clientPath)
	body = replaceHost(body, escape(origin+upstreamPath), escape(origin+clientPath))
	return body
}
