package proxy

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/edge-router/internal/logging"
	"github.com/any-hub/edge-router/internal/rewrite"
	"github.com/any-hub/edge-router/internal/routing"
	"github.com/any-hub/edge-router/internal/server"
)

const (
	upstreamFailedBody = "upstream request failed"

	corsAllowMethods = "GET, POST, PUT, PATCH, DELETE, OPTIONS"
	corsAllowHeaders = "Content-Type, Authorization, Nonce, Cart-Token, X-WP-Nonce, X-Requested-With"
	corsMaxAge       = "86400"
)

// Options 汇总 Handler 依赖，全部在启动阶段构造一次。
type Options struct {
	Registry *server.OriginRegistry
	Tables   routing.Tables
	Policy   rewrite.CachePolicy
	// Scripts 为 nil 时脚本路径按普通请求处理。
	Scripts *ScriptProxy
	Logger  *logrus.Logger
	// MirrorHeader 接收动态源站请求中 Cookie 头的副本。
	MirrorHeader string
	// APIPrefixes 下的 OPTIONS 请求直接在边缘应答。
	APIPrefixes []string
}

// Handler 负责单个请求的完整流程：预检 → 脚本 → 旧链接重定向 → 分类 → 回源 → 改写响应。
// 除脚本缓存外不持有任何跨请求的可变状态。
type Handler struct {
	registry     *server.OriginRegistry
	tables       routing.Tables
	policy       rewrite.CachePolicy
	scripts      *ScriptProxy
	logger       *logrus.Logger
	mirrorHeader string
	apiPrefixes  []string
}

// NewHandler constructs the origin router.
func NewHandler(opts Options) (*Handler, error) {
	if opts.Registry == nil {
		return nil, errors.New("origin registry is required")
	}
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	return &Handler{
		registry:     opts.Registry,
		tables:       opts.Tables,
		policy:       opts.Policy,
		scripts:      opts.Scripts,
		logger:       opts.Logger,
		mirrorHeader: strings.TrimSpace(opts.MirrorHeader),
		apiPrefixes:  append([]string(nil), opts.APIPrefixes...),
	}, nil
}

// requestState 是单个请求在各阶段之间传递的数据，不会跨请求复用。
type requestState struct {
	started      time.Time
	requestID    string
	method       string
	clientPath   string
	rawQuery     string
	publicScheme string
	publicHost   string
	decision     routing.Decision
	route        *server.OriginRoute
	target       *url.URL
	hosts        rewrite.HostMap
}

// Handle 实现 server.ProxyHandler。
func (h *Handler) Handle(c fiber.Ctx) error {
	uri := c.Request().URI()
	state := &requestState{
		started:    time.Now(),
		requestID:  server.RequestID(c),
		method:     c.Method(),
		clientPath: string(uri.Path()),
		rawQuery:   string(uri.QueryString()),
	}
	state.publicScheme, state.publicHost = h.registry.PublicOrigin(c.Scheme(), c.Host())

	if state.method == fiber.MethodOptions && routing.HasAnyPrefix(state.clientPath, h.apiPrefixes) {
		return h.respondPreflight(c)
	}

	if h.scripts != nil && (state.method == fiber.MethodGet || state.method == fiber.MethodHead) {
		if script, ok := h.tables.MatchScript(state.clientPath); ok {
			return h.scripts.Serve(c, script)
		}
	}

	if target, ok := h.tables.MatchRedirect(state.clientPath); ok {
		return h.respondLegacyRedirect(c, state, target)
	}

	state.decision = routing.Classify(h.tables, routing.Request{
		Path:     state.clientPath,
		RawQuery: state.rawQuery,
		Method:   state.method,
	})
	route, ok := h.registry.Lookup(state.decision.Origin)
	if !ok {
		return fmt.Errorf("no route for origin %s", state.decision.Origin)
	}
	state.route = route
	state.target = buildUpstreamURL(route.BaseURL, state.decision.UpstreamPath, state.rawQuery)
	state.hosts = rewrite.NewHostMap(h.registry.UpstreamHosts(), state.publicScheme, state.publicHost)

	resp, err := h.forward(c, state)
	if err != nil {
		h.logResult(state, 0, "", err)
		c.Set(fiber.HeaderContentType, fiber.MIMETextPlainCharsetUTF8)
		return c.Status(fiber.StatusBadGateway).SendString(upstreamFailedBody)
	}

	switch {
	case isRedirect(resp):
		return h.respondRedirect(c, state, resp)
	case state.method != fiber.MethodHead && rewrite.IsRewritable(resp.Header.Get("Content-Type")):
		return h.respondRewritten(c, state, resp)
	default:
		return h.respondStream(c, state, resp)
	}
}

func (h *Handler) respondPreflight(c fiber.Ctx) error {
	if origin := c.Get(fiber.HeaderOrigin); origin != "" {
		c.Set(fiber.HeaderAccessControlAllowOrigin, origin)
	}
	c.Set(fiber.HeaderAccessControlAllowCredentials, "true")
	c.Set(fiber.HeaderAccessControlAllowMethods, corsAllowMethods)
	c.Set(fiber.HeaderAccessControlAllowHeaders, corsAllowHeaders)
	c.Set(fiber.HeaderAccessControlMaxAge, corsMaxAge)
	c.Set(fiber.HeaderVary, fiber.HeaderOrigin)
	applySecurityHeaders(c)
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *Handler) respondLegacyRedirect(c fiber.Ctx, state *requestState, target string) error {
	location := state.publicScheme + "://" + state.publicHost + target
	if state.rawQuery != "" {
		location += "?" + state.rawQuery
	}

	h.logger.WithFields(logrus.Fields{
		"action":     "legacy_redirect",
		"path":       state.clientPath,
		"target":     target,
		"request_id": state.requestID,
	}).Info("legacy_redirect")

	c.Set(fiber.HeaderLocation, location)
	applySecurityHeaders(c)
	return c.SendStatus(fiber.StatusMovedPermanently)
}

// forward 只发起一次上游请求，失败不重试。
func (h *Handler) forward(c fiber.Ctx, state *requestState) (*http.Response, error) {
	req, err := h.buildUpstreamRequest(c, state)
	if err != nil {
		return nil, err
	}
	return state.route.Client.Do(req)
}

func (h *Handler) buildUpstreamRequest(c fiber.Ctx, state *requestState) (*http.Request, error) {
	ctx := c.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	req, err := http.NewRequestWithContext(ctx, state.method, state.target.String(), bytesReader(c.Body()))
	if err != nil {
		return nil, err
	}

	server.CopyHeaders(req.Header, fiberHeadersAsHTTP(c))
	req.Header.Del("Accept-Encoding")
	req.Header.Del("Host")
	req.Host = state.target.Host
	req.Header.Set("X-Forwarded-Host", state.publicHost)
	req.Header.Set("X-Forwarded-Proto", state.publicScheme)
	if ip := c.IP(); ip != "" {
		if prior := req.Header.Get("X-Forwarded-For"); prior != "" {
			req.Header.Set("X-Forwarded-For", prior+", "+ip)
		} else {
			req.Header.Set("X-Forwarded-For", ip)
		}
	}

	if state.route.BypassSharedCache {
		if cookie := c.Get(fiber.HeaderCookie); cookie != "" && h.mirrorHeader != "" {
			req.Header.Set(h.mirrorHeader, cookie)
		}
		req.Header.Set("Cache-Control", "no-cache")
		req.Header.Set("Pragma", "no-cache")
	}

	if authHeader := buildCredentialHeader(state.route.Config.Username, state.route.Config.Password); authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}

	return req, nil
}

func (h *Handler) respondRedirect(c fiber.Ctx, state *requestState, resp *http.Response) error {
	defer resp.Body.Close()

	copyResponseHeaders(c, resp.Header, fiber.HeaderLocation, fiber.HeaderContentLength)
	c.Set(fiber.HeaderLocation, rewrite.RewriteLocation(resp.Header.Get("Location"), state.target, state.hosts, state.decision.Rewrite))
	h.applyCookies(c, state, resp.Header)
	applySecurityHeaders(c)
	c.Status(resp.StatusCode)

	if state.method == fiber.MethodHead {
		h.logResult(state, resp.StatusCode, "redirect", nil)
		return nil
	}
	_, err := io.Copy(c.Response().BodyWriter(), resp.Body)
	h.logResult(state, resp.StatusCode, "redirect", err)
	return nil
}

func (h *Handler) respondRewritten(c fiber.Ctx, state *requestState, resp *http.Response) error {
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		h.logResult(state, resp.StatusCode, "rewritten", err)
		c.Set(fiber.HeaderContentType, fiber.MIMETextPlainCharsetUTF8)
		return c.Status(fiber.StatusBadGateway).SendString(upstreamFailedBody)
	}

	body := rewrite.RewriteHostReferences(string(raw), state.hosts)
	if state.decision.Rewrite != nil {
		body = rewrite.RestoreClientPath(body, state.hosts, state.decision.UpstreamPath, state.clientPath)
	}

	copyResponseHeaders(c, resp.Header, fiber.HeaderContentLength)
	h.applyCookies(c, state, resp.Header)
	kind := h.applyCachePolicy(c, state)
	applySecurityHeaders(c)
	applyDiagnosticHeaders(c, state, kind)

	c.Status(resp.StatusCode)
	h.logResult(state, resp.StatusCode, "rewritten", nil)
	return c.SendString(body)
}

// respondStream 不读取正文，由 fasthttp 在写出后关闭上游 Body。
func (h *Handler) respondStream(c fiber.Ctx, state *requestState, resp *http.Response) error {
	copyResponseHeaders(c, resp.Header, fiber.HeaderContentLength)
	h.applyCookies(c, state, resp.Header)
	kind := h.applyCachePolicy(c, state)
	applySecurityHeaders(c)
	applyDiagnosticHeaders(c, state, kind)
	c.Status(resp.StatusCode)
	h.logResult(state, resp.StatusCode, "stream", nil)

	if state.method == fiber.MethodHead {
		resp.Body.Close()
		return nil
	}
	if resp.ContentLength >= 0 {
		return c.SendStream(resp.Body, int(resp.ContentLength))
	}
	return c.SendStream(resp.Body)
}

// applyCookies 逐条改写 Set-Cookie，多值必须通过 Values 读取。
func (h *Handler) applyCookies(c fiber.Ctx, state *requestState, headers http.Header) {
	for _, value := range headers.Values("Set-Cookie") {
		c.Response().Header.Add(fiber.HeaderSetCookie, rewrite.RewriteSetCookie(value, state.hosts))
	}
}

func (h *Handler) applyCachePolicy(c fiber.Ctx, state *requestState) rewrite.PolicyKind {
	kind := h.policy.Decide(state.decision, state.clientPath)
	if value, ok := h.policy.HeaderValue(kind); ok {
		c.Set(fiber.HeaderCacheControl, value)
	}
	return kind
}

func applySecurityHeaders(c fiber.Ctx) {
	for _, header := range rewrite.SecurityHeaders() {
		c.Set(header.Name, header.Value)
	}
}

func applyDiagnosticHeaders(c fiber.Ctx, state *requestState, kind rewrite.PolicyKind) {
	c.Set("X-Edge-Origin", state.decision.Origin.String())
	c.Set("X-Edge-Cache-Policy", string(kind))
}

func (h *Handler) logResult(state *requestState, status int, shape string, err error) {
	fields := logging.RequestFields(
		state.decision.Origin.String(),
		state.method,
		state.clientPath,
		state.decision.UpstreamPath,
		state.decision.BypassCache,
	)
	fields["action"] = "proxy"
	fields["reason"] = state.decision.Reason
	fields["upstream_status"] = status
	fields["elapsed_ms"] = time.Since(state.started).Milliseconds()
	if shape != "" {
		fields["shape"] = shape
	}
	if state.requestID != "" {
		fields["request_id"] = state.requestID
	}
	if err != nil {
		fields["error"] = err.Error()
		h.logger.WithFields(fields).Error("proxy_failed")
		return
	}
	h.logger.WithFields(fields).Info("proxy_complete")
}

func isRedirect(resp *http.Response) bool {
	return resp.StatusCode >= 300 && resp.StatusCode < 400 && resp.Header.Get("Location") != ""
}

func buildUpstreamURL(base *url.URL, upstreamPath, rawQuery string) *url.URL {
	target := *base
	target.User = nil
	target.Path = strings.TrimSuffix(base.Path, "/") + upstreamPath
	target.RawPath = ""
	target.RawQuery = rawQuery
	target.Fragment = ""
	return &target
}

func bytesReader(b []byte) io.Reader {
	if len(b) == 0 {
		return http.NoBody
	}
	return bytes.NewReader(b)
}

func fiberHeadersAsHTTP(c fiber.Ctx) http.Header {
	header := http.Header{}
	c.Request().Header.VisitAll(func(key, value []byte) {
		header.Add(string(key), string(value))
	})
	return header
}

// alwaysSkippedHeaders 由边缘自身生成，不从上游复制。
var alwaysSkippedHeaders = []string{fiber.HeaderSetCookie, fiber.HeaderXRequestID}

// copyResponseHeaders 按多值语义复制上游响应头，跳过逐跳头与 skip 中列出的头。
func copyResponseHeaders(c fiber.Ctx, headers http.Header, skip ...string) {
	for key, values := range headers {
		if server.IsHopByHopHeader(key) || containsFold(alwaysSkippedHeaders, key) || containsFold(skip, key) {
			continue
		}
		c.Response().Header.Del(key)
		for _, value := range values {
			c.Response().Header.Add(key, value)
		}
	}
}

func containsFold(list []string, value string) bool {
	for _, item := range list {
		if strings.EqualFold(item, value) {
			return true
		}
	}
	return false
}

func buildCredentialHeader(username, password string) string {
	if username == "" || password == "" {
		return ""
	}
	token := username + ":" + password
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(token))
}
