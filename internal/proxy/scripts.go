package proxy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/any-hub/edge-router/internal/cache"
	"github.com/any-hub/edge-router/internal/rewrite"
	"github.com/any-hub/edge-router/internal/routing"
	"github.com/any-hub/edge-router/internal/server"
)

const (
	scriptNamespace         = "scripts"
	defaultScriptWriteLimit = 10 * time.Second
	maxScriptBytes          = 8 << 20
)

var errScriptUpstreamStatus = errors.New("script upstream returned non-2xx status")

// ScriptProxy 在边缘缓存第三方脚本。缓存 key 为完整远端 URL（含请求查询串），
// 并发未命中通过 singleflight 合并为一次回源。
type ScriptProxy struct {
	client       *http.Client
	cache        cache.TTLWriter
	logger       *logrus.Logger
	group        singleflight.Group
	writeTimeout time.Duration
}

// NewScriptProxy 构造脚本代理；writer 未启用时每次都回源。
func NewScriptProxy(client *http.Client, writer cache.TTLWriter, logger *logrus.Logger) *ScriptProxy {
	if client == nil {
		client = http.DefaultClient
	}
	return &ScriptProxy{
		client:       client,
		cache:        writer,
		logger:       logger,
		writeTimeout: defaultScriptWriteLimit,
	}
}

type scriptPayload struct {
	body []byte
}

// Serve 处理一次脚本请求：新鲜缓存直接返回 HIT，否则回源并异步写缓存。
func (s *ScriptProxy) Serve(c fiber.Ctx, script routing.ScriptRoute) error {
	started := time.Now()
	remote := scriptRemoteURL(script.URL, string(c.Request().URI().QueryString()))
	locator := cache.Locator{Namespace: scriptNamespace, Key: remote}

	ctx := c.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	if body, ok := s.lookup(ctx, locator, script); ok {
		s.log(c, script, "hit", fiber.StatusOK, started, nil)
		return s.respond(c, script, body, "HIT")
	}

	value, err, _ := s.group.Do(remote, func() (interface{}, error) {
		payload, err := s.fetch(context.WithoutCancel(ctx), remote)
		if err != nil {
			return nil, err
		}
		s.storeAsync(locator, payload.body)
		return payload, nil
	})
	if err != nil {
		s.log(c, script, "miss", fiber.StatusBadGateway, started, err)
		c.Set(fiber.HeaderContentType, fiber.MIMETextPlainCharsetUTF8)
		return c.Status(fiber.StatusBadGateway).SendString(upstreamFailedBody)
	}

	payload := value.(*scriptPayload)
	s.log(c, script, "miss", fiber.StatusOK, started, nil)
	return s.respond(c, script, payload.body, "MISS")
}

func (s *ScriptProxy) lookup(ctx context.Context, locator cache.Locator, script routing.ScriptRoute) ([]byte, bool) {
	if !s.cache.Enabled() {
		return nil, false
	}
	result, err := s.cache.Get(ctx, locator)
	if err != nil {
		if !errors.Is(err, cache.ErrNotFound) {
			s.warn("script_cache_read_failed", locator, err)
		}
		return nil, false
	}
	defer result.Reader.Close()

	if !s.cache.Fresh(result.Entry, script.MaxAge) {
		return nil, false
	}
	body, err := io.ReadAll(result.Reader)
	if err != nil {
		s.warn("script_cache_read_failed", locator, err)
		return nil, false
	}
	return body, true
}

func (s *ScriptProxy) fetch(ctx context.Context, remote string) (*scriptPayload, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, remote, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: %d", errScriptUpstreamStatus, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxScriptBytes+1))
	if err != nil {
		return nil, err
	}
	if len(body) > maxScriptBytes {
		return nil, fmt.Errorf("script exceeds %d bytes", maxScriptBytes)
	}
	return &scriptPayload{body: body}, nil
}

// storeAsync 不阻塞响应；写入失败只记录日志。
func (s *ScriptProxy) storeAsync(locator cache.Locator, body []byte) {
	if !s.cache.Enabled() {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.writeTimeout)
		defer cancel()
		if _, err := s.cache.Put(ctx, locator, bytes.NewReader(body)); err != nil {
			s.warn("script_cache_write_failed", locator, err)
		}
	}()
}

func (s *ScriptProxy) respond(c fiber.Ctx, script routing.ScriptRoute, body []byte, cacheStatus string) error {
	contentType := script.ContentType
	if contentType == "" {
		contentType = routing.DefaultScriptContentType
	}
	c.Set(fiber.HeaderContentType, contentType)
	c.Set(fiber.HeaderCacheControl, rewrite.ScriptCacheControl(script.MaxAge))
	c.Set(fiber.HeaderAccessControlAllowOrigin, "*")
	c.Set("X-Edge-Cache", cacheStatus)
	applySecurityHeaders(c)
	c.Status(fiber.StatusOK)
	if c.Method() == fiber.MethodHead {
		return nil
	}
	return c.Send(body)
}

func (s *ScriptProxy) warn(code string, locator cache.Locator, err error) {
	if s.logger == nil {
		return
	}
	s.logger.WithError(err).WithFields(logrus.Fields{
		"action":    "script_proxy",
		"namespace": locator.Namespace,
	}).Warn(code)
}

func (s *ScriptProxy) log(c fiber.Ctx, script routing.ScriptRoute, cacheStatus string, status int, started time.Time, err error) {
	if s.logger == nil {
		return
	}
	fields := logrus.Fields{
		"action":          "script_proxy",
		"path":            script.Path,
		"cache":           cacheStatus,
		"upstream_status": status,
		"elapsed_ms":      time.Since(started).Milliseconds(),
	}
	if reqID := server.RequestID(c); reqID != "" {
		fields["request_id"] = reqID
	}
	if err != nil {
		fields["error"] = err.Error()
		s.logger.WithFields(fields).Error("script_proxy_failed")
		return
	}
	s.logger.WithFields(fields).Info("script_proxy")
}

// scriptRemoteURL 将请求查询串拼接到目录中的远端 URL。
func scriptRemoteURL(base, rawQuery string) string {
	if rawQuery == "" {
		return base
	}
	if strings.Contains(base, "?") {
		return base + "&" + rawQuery
	}
	return base + "?" + rawQuery
}
