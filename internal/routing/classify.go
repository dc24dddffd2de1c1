package routing

import (
	"net/url"
	"path"
	"strings"
)

// 分类原因，写入日志与诊断头。
const (
	ReasonStatic           = "static"
	ReasonAjax             = "ajax_marker"
	ReasonDynamicPath      = "dynamic_path"
	ReasonDynamicExtension = "dynamic_extension"
)

// Request 是分类器的输入：解码后的路径与原始查询串。
type Request struct {
	Path     string
	RawQuery string
	Method   string
}

// Decision 是一次请求的路由结果。UpstreamPath 只用于回源，客户端可见路径保持不变。
type Decision struct {
	Origin       Origin
	BypassCache  bool
	UpstreamPath string
	Reason       string
	// Rewrite 指向命中的前缀改写规则，未改写时为 nil。
	Rewrite *PathRewrite
}

// Classify 根据路径、查询串与扩展名选择源站。纯函数，无副作用。
// 不缓存与源站选择是两条独立的判定轴。
func Classify(t Tables, req Request) Decision {
	p := req.Path
	if p == "" {
		p = "/"
	}

	d := Decision{
		Origin:       OriginStatic,
		UpstreamPath: p,
		Reason:       ReasonStatic,
	}

	if t.AjaxQueryMarker != "" && queryHasKey(req.RawQuery, t.AjaxQueryMarker) {
		d.Origin = OriginDynamic
		d.BypassCache = true
		d.Reason = ReasonAjax
	}

	if HasAnyPrefix(p, t.NoCachePaths) {
		d.BypassCache = true
	}

	if d.Origin == OriginStatic {
		switch {
		case HasAnyPrefix(p, t.DynamicPaths):
			d.Origin = OriginDynamic
			d.Reason = ReasonDynamicPath
		case hasExtension(p, t.DynamicExtensions):
			d.Origin = OriginDynamic
			d.Reason = ReasonDynamicExtension
		}
	}

	if d.Origin == OriginDynamic {
		for i := range t.PathRewrites {
			rule := t.PathRewrites[i]
			if rewritten, ok := rule.Apply(p); ok {
				d.UpstreamPath = rewritten
				d.Rewrite = &rule
				break
			}
		}
	}

	return d
}

func hasExtension(p string, extensions []string) bool {
	ext := strings.ToLower(path.Ext(p))
	if ext == "" {
		return false
	}
	for _, candidate := range extensions {
		candidate = strings.ToLower(strings.TrimSpace(candidate))
		if candidate == "" {
			continue
		}
		if !strings.HasPrefix(candidate, ".") {
			candidate = "." + candidate
		}
		if ext == candidate {
			return true
		}
	}
	return false
}

// queryHasKey 逐段扫描查询串，不依赖整体解析成功，畸形查询串也能识别标记。
func queryHasKey(rawQuery, key string) bool {
	if rawQuery == "" {
		return false
	}
	for _, part := range strings.FieldsFunc(rawQuery, func(r rune) bool { return r == '&' || r == ';' }) {
		name := part
		if idx := strings.IndexByte(part, '='); idx >= 0 {
			name = part[:idx]
		}
		if unescaped, err := url.QueryUnescape(name); err == nil {
			name = unescaped
		}
		if name == key {
			return true
		}
	}
	return false
}
