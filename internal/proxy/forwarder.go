package proxy

import (
	"fmt"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/edge-router/internal/server"
)

// Forwarder 包裹路由 handler，把 handler 内的 panic 转换为 502，
// 保证单个请求的故障不会扩散，且响应正文不含内部细节。
type Forwarder struct {
	handler server.ProxyHandler
	logger  *logrus.Logger
}

// NewForwarder 创建 Forwarder，handler 不能为空。
func NewForwarder(handler server.ProxyHandler, logger *logrus.Logger) *Forwarder {
	return &Forwarder{
		handler: handler,
		logger:  logger,
	}
}

// Handle 实现 server.ProxyHandler。
func (f *Forwarder) Handle(c fiber.Ctx) (err error) {
	requestID := server.RequestID(c)
	if f.handler == nil {
		f.logRouterError(c, "router_handler_missing", nil, requestID)
		return f.respondBadGateway(c, requestID)
	}

	defer func() {
		if r := recover(); r != nil {
			f.logRouterError(c, "router_panic", fmt.Errorf("panic: %v", r), requestID)
			err = f.respondBadGateway(c, requestID)
		}
	}()
	return f.handler.Handle(c)
}

// respondBadGateway 丢弃 handler 已写入的部分响应，只保留请求 ID。
func (f *Forwarder) respondBadGateway(c fiber.Ctx, requestID string) error {
	c.Response().Reset()
	if requestID != "" {
		c.Set(fiber.HeaderXRequestID, requestID)
	}
	c.Set(fiber.HeaderContentType, fiber.MIMETextPlainCharsetUTF8)
	return c.Status(fiber.StatusBadGateway).SendString("bad gateway")
}

func (f *Forwarder) logRouterError(c fiber.Ctx, code string, err error, requestID string) {
	if f.logger == nil {
		return
	}
	fields := logrus.Fields{
		"action": "proxy",
		"error":  code,
		"method": c.Method(),
		"path":   string(c.Request().URI().Path()),
	}
	if requestID != "" {
		fields["request_id"] = requestID
	}
	if err != nil {
		f.logger.WithFields(fields).Error(err.Error())
		return
	}
	f.logger.WithFields(fields).Error("router handler unavailable")
}
