package routing

import (
	"strings"
	"time"
)

// Origin 标识一次请求最终转发到的源站。
type Origin string

const (
	// OriginStatic 为静态站点（SSG 构建产物）。
	OriginStatic Origin = "static"
	// OriginDynamic 为 WordPress/WooCommerce 动态源站。
	OriginDynamic Origin = "dynamic"
)

func (o Origin) String() string {
	return string(o)
}

// PathRewrite 描述仅对动态源站生效的前缀改写，例如 /buy/ → /products/。
type PathRewrite struct {
	From string
	To   string
}

// RedirectKind 区分精确匹配与带 slug 捕获的前缀匹配。
type RedirectKind string

const (
	RedirectExact  RedirectKind = "exact"
	RedirectPrefix RedirectKind = "prefix"
)

// SlugPlaceholder 出现在 Target 中时会被前缀之后的剩余路径替换。
const SlugPlaceholder = "{slug}"

// RedirectRule 是旧链接表中的一条 301 规则，按声明顺序匹配。
type RedirectRule struct {
	Kind   RedirectKind
	Path   string
	Target string
}

// ScriptRoute 将本地路径映射到需要边缘缓存的第三方脚本。
type ScriptRoute struct {
	Path        string
	URL         string
	MaxAge      time.Duration
	ContentType string
}

// Tables 汇总启动时加载的全部路由表，构建后只读，可在请求间共享。
type Tables struct {
	NoCachePaths      []string
	DynamicPaths      []string
	DynamicExtensions []string
	AjaxQueryMarker   string
	PathRewrites      []PathRewrite
	Redirects         []RedirectRule
	Scripts           []ScriptRoute
}

// DefaultScriptContentType 用于未声明 ContentType 的脚本条目。
const DefaultScriptContentType = "application/javascript; charset=utf-8"

// DefaultTables 返回店铺当前使用的默认规则。每次调用都会返回新的切片。
func DefaultTables() Tables {
	return Tables{
		NoCachePaths:      DefaultNoCachePaths(),
		DynamicPaths:      DefaultDynamicPaths(),
		DynamicExtensions: []string{".php"},
		AjaxQueryMarker:   "wc-ajax",
		PathRewrites:      DefaultPathRewrites(),
		Redirects:         DefaultRedirects(),
	}
}

// DefaultNoCachePaths 涵盖会话相关页面与 REST API。
func DefaultNoCachePaths() []string {
	return []string{
		"/wp-json",
		"/cart",
		"/checkout",
		"/my-account",
		"/wp-admin",
		"/wp-login.php",
	}
}

// DefaultDynamicPaths 列出必须由 WordPress 处理的路径前缀。
func DefaultDynamicPaths() []string {
	return []string{
		"/wp-json",
		"/wp-admin",
		"/wp-content",
		"/wp-includes",
		"/wp-login.php",
		"/cart",
		"/checkout",
		"/my-account",
		"/buy",
	}
}

// DefaultPathRewrites 将购买流程别名映射到 WooCommerce 的商品路径。
func DefaultPathRewrites() []PathRewrite {
	return []PathRewrite{
		{From: "/buy/", To: "/products/"},
	}
}

// DefaultRedirects 是德语旧链接到当前结构的映射。
// 顺序有意义：根路径、带斜杠的根路径与前缀规则分别列出，首个命中生效。
func DefaultRedirects() []RedirectRule {
	return []RedirectRule{
		{Kind: RedirectExact, Path: "/kollektionen", Target: "/collections/"},
		{Kind: RedirectExact, Path: "/kollektionen/", Target: "/collections/"},
		{Kind: RedirectPrefix, Path: "/kollektionen/", Target: "/collections/" + SlugPlaceholder},
		{Kind: RedirectExact, Path: "/produkte", Target: "/products/"},
		{Kind: RedirectExact, Path: "/produkte/", Target: "/products/"},
		{Kind: RedirectPrefix, Path: "/produkte/", Target: "/products/" + SlugPlaceholder},
		{Kind: RedirectPrefix, Path: "/produkt/", Target: "/products/" + SlugPlaceholder},
		{Kind: RedirectPrefix, Path: "/product-category/", Target: "/collections/" + SlugPlaceholder},
		{Kind: RedirectExact, Path: "/warenkorb", Target: "/cart/"},
		{Kind: RedirectExact, Path: "/warenkorb/", Target: "/cart/"},
		{Kind: RedirectExact, Path: "/kasse", Target: "/checkout/"},
		{Kind: RedirectExact, Path: "/kasse/", Target: "/checkout/"},
	}
}

// MatchRedirect 依序匹配旧链接规则，返回目标路径（不含 scheme/host）。
func (t Tables) MatchRedirect(p string) (string, bool) {
	for _, rule := range t.Redirects {
		switch rule.Kind {
		case RedirectExact:
			if p == rule.Path {
				return rule.Target, true
			}
		case RedirectPrefix:
			if len(p) <= len(rule.Path) || !strings.HasPrefix(p, rule.Path) {
				continue
			}
			slug := p[len(rule.Path):]
			return strings.ReplaceAll(rule.Target, SlugPlaceholder, slug), true
		}
	}
	return "", false
}

// MatchScript 按本地路径精确查找脚本目录条目。
func (t Tables) MatchScript(p string) (ScriptRoute, bool) {
	for _, script := range t.Scripts {
		if script.Path == p {
			return script, true
		}
	}
	return ScriptRoute{}, false
}

// Apply 在 p 命中 From 前缀时返回改写后的路径。
func (r PathRewrite) Apply(p string) (string, bool) {
	return swapPrefix(p, r.From, r.To)
}

// Reverse 将上游路径映射回客户端可见的路径，用于 Location 回写。
func (r PathRewrite) Reverse(p string) (string, bool) {
	return swapPrefix(p, r.To, r.From)
}

func swapPrefix(p, from, to string) (string, bool) {
	base := strings.TrimSuffix(from, "/")
	if base == "" || !hasPathPrefix(p, base) {
		return p, false
	}
	return strings.TrimSuffix(to, "/") + p[len(base):], true
}

// hasPathPrefix 以路径段为边界判断前缀：/cart 命中 /cart 与 /cart/x，但不命中 /cartoon。
func hasPathPrefix(p, prefix string) bool {
	prefix = strings.TrimSuffix(prefix, "/")
	if prefix == "" {
		return true
	}
	if p == prefix {
		return true
	}
	return strings.HasPrefix(p, prefix+"/")
}

// HasAnyPrefix 判断 p 是否等于或位于任一前缀之下。
func HasAnyPrefix(p string, prefixes []string) bool {
	for _, prefix := range prefixes {
		if hasPathPrefix(p, prefix) {
			return true
		}
	}
	return false
}
