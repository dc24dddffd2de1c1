package rewrite

import (
	"mime"
	"strings"
)

var rewritableTypes = map[string]struct{}{
	"text/html":                {},
	"application/xhtml+xml":    {},
	"application/json":         {},
	"text/css":                 {},
	"application/javascript":   {},
	"text/javascript":          {},
	"application/x-javascript": {},
	"application/ecmascript":   {},
	"text/ecmascript":          {},
}

// IsRewritable 判断 Content-Type 是否需要整体读入并做 host 替换（HTML/JSON/CSS/JS）。
func IsRewritable(contentType string) bool {
	mediaType := strings.TrimSpace(contentType)
	if mediaType == "" {
		return false
	}
	if parsed, _, err := mime.ParseMediaType(mediaType); err == nil {
		mediaType = parsed
	} else if idx := strings.IndexByte(mediaType, ';'); idx >= 0 {
		mediaType = strings.TrimSpace(mediaType[:idx])
	}
	mediaType = strings.ToLower(mediaType)

	if _, ok := rewritableTypes[mediaType]; ok {
		return true
	}
	return strings.HasSuffix(mediaType, "+json")
}
