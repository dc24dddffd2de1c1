package routes

import (
	"net/http"
	"sort"
	"strings"

	"github.com/gofiber/fiber/v3"

	"github.com/any-hub/edge-router/internal/routing"
	"github.com/any-hub/edge-router/internal/server"
)

const redactedValue = "[redacted]"

// RegisterDiagnosticRoutes 暴露 /-/ 下的诊断接口：
//   - /-/debug/headers 回显入站请求头，用于排查 Cookie 是否完整到达边缘；
//   - /-/routes 输出当前生效的路由表，只包含源站名称，不包含 Host 与凭证。
func RegisterDiagnosticRoutes(app *fiber.App, registry *server.OriginRegistry, tables routing.Tables, mirrorHeader string) {
	if app == nil || registry == nil {
		return
	}

	app.Get("/-/debug/headers", func(c fiber.Ctx) error {
		headers := make(map[string]string)
		c.Request().Header.VisitAll(func(key, value []byte) {
			name := http.CanonicalHeaderKey(string(key))
			if isRedactedHeader(name, mirrorHeader) {
				headers[name] = redactedValue
				return
			}
			if existing, ok := headers[name]; ok {
				headers[name] = existing + ", " + string(value)
				return
			}
			headers[name] = string(value)
		})

		c.Set(fiber.HeaderCacheControl, "no-store")
		return c.JSON(fiber.Map{
			"cookie":  c.Get(fiber.HeaderCookie),
			"headers": headers,
		})
	})

	app.Get("/-/routes", func(c fiber.Ctx) error {
		c.Set(fiber.HeaderCacheControl, "no-store")
		return c.JSON(fiber.Map{
			"origins": encodeOrigins(registry.List()),
			"rules":   encodeRules(tables),
			"scripts": encodeScripts(tables.Scripts),
		})
	})
}

type originPayload struct {
	Name              string `json:"name"`
	AuthMode          string `json:"auth_mode"`
	BypassSharedCache bool   `json:"bypass_shared_cache"`
	ResolveOverride   bool   `json:"resolve_override"`
}

type redirectPayload struct {
	Kind   string `json:"kind"`
	Path   string `json:"path"`
	Target string `json:"target"`
}

type rewritePayload struct {
	From string `json:"from"`
	To   string `json:"to"`
}

type rulesPayload struct {
	NoCachePaths      []string          `json:"no_cache_paths"`
	DynamicPaths      []string          `json:"dynamic_paths"`
	DynamicExtensions []string          `json:"dynamic_extensions"`
	AjaxQueryMarker   string            `json:"ajax_query_marker"`
	PathRewrites      []rewritePayload  `json:"path_rewrites"`
	Redirects         []redirectPayload `json:"redirects"`
}

type scriptPayload struct {
	Path          string `json:"path"`
	MaxAgeSeconds int64  `json:"max_age_seconds"`
	ContentType   string `json:"content_type"`
}

func encodeOrigins(routes []server.OriginRoute) []originPayload {
	if len(routes) == 0 {
		return nil
	}
	result := make([]originPayload, 0, len(routes))
	for _, route := range routes {
		result = append(result, originPayload{
			Name:              route.Name.String(),
			AuthMode:          route.Config.AuthMode(),
			BypassSharedCache: route.BypassSharedCache,
			ResolveOverride:   strings.TrimSpace(route.Config.ResolveOverride) != "",
		})
	}
	return result
}

func encodeRules(t routing.Tables) rulesPayload {
	payload := rulesPayload{
		NoCachePaths:      append([]string(nil), t.NoCachePaths...),
		DynamicPaths:      append([]string(nil), t.DynamicPaths...),
		DynamicExtensions: append([]string(nil), t.DynamicExtensions...),
		AjaxQueryMarker:   t.AjaxQueryMarker,
	}
	for _, rw := range t.PathRewrites {
		payload.PathRewrites = append(payload.PathRewrites, rewritePayload{From: rw.From, To: rw.To})
	}
	// 重定向保持声明顺序，首个命中生效，顺序本身就是规则的一部分。
	for _, rule := range t.Redirects {
		payload.Redirects = append(payload.Redirects, redirectPayload{
			Kind:   string(rule.Kind),
			Path:   rule.Path,
			Target: rule.Target,
		})
	}
	return payload
}

func encodeScripts(scripts []routing.ScriptRoute) []scriptPayload {
	if len(scripts) == 0 {
		return nil
	}
	result := make([]scriptPayload, 0, len(scripts))
	for _, s := range scripts {
		result = append(result, scriptPayload{
			Path:          s.Path,
			MaxAgeSeconds: int64(s.MaxAge.Seconds()),
			ContentType:   s.ContentType,
		})
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Path < result[j].Path
	})
	return result
}

func isRedactedHeader(name, mirrorHeader string) bool {
	switch {
	case strings.EqualFold(name, fiber.HeaderAuthorization),
		strings.EqualFold(name, "Proxy-Authorization"):
		return true
	case mirrorHeader != "" && strings.EqualFold(name, mirrorHeader):
		return true
	default:
		return false
	}
}
