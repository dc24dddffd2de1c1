package proxy

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"
	"github.com/valyala/fasthttp"

	"github.com/any-hub/edge-router/internal/server"
)

const requestIDKey = "_edge_router_request_id"

func TestForwarderMissingHandler(t *testing.T) {
	app := fiber.New()
	defer app.Shutdown()

	ctx := app.AcquireCtx(new(fasthttp.RequestCtx))
	defer app.ReleaseCtx(ctx)
	ctx.Locals(requestIDKey, "missing-req")

	logger := logrus.New()
	logBuf := &bytes.Buffer{}
	logger.SetOutput(logBuf)

	forwarder := NewForwarder(nil, logger)

	if err := forwarder.Handle(ctx); err != nil {
		t.Fatalf("forwarder.Handle returned unexpected error: %v", err)
	}
	if status := ctx.Response().StatusCode(); status != fiber.StatusBadGateway {
		t.Fatalf("expected 502 for missing handler, got %d", status)
	}
	if !strings.Contains(logBuf.String(), "router_handler_missing") {
		t.Fatalf("expected log to mention router_handler_missing, got %s", logBuf.String())
	}
	if got := string(ctx.Response().Header.Peek("X-Request-ID")); got != "missing-req" {
		t.Fatalf("expected request id header missing-req, got %s", got)
	}
}

func TestForwarderHandlerPanic(t *testing.T) {
	app := fiber.New()
	defer app.Shutdown()
	ctx := app.AcquireCtx(new(fasthttp.RequestCtx))
	defer app.ReleaseCtx(ctx)
	ctx.Locals(requestIDKey, "panic-req")

	logger := logrus.New()
	logBuf := &bytes.Buffer{}
	logger.SetOutput(logBuf)

	forwarder := NewForwarder(server.ProxyHandlerFunc(func(c fiber.Ctx) error {
		c.Set("X-Edge-Origin", "dynamic")
		c.Set("Location", "https://wp-origin.internal/cart/")
		panic("boom at wp-origin.internal")
	}), logger)

	if err := forwarder.Handle(ctx); err != nil {
		t.Fatalf("forwarder.Handle returned unexpected error: %v", err)
	}
	if status := ctx.Response().StatusCode(); status != fiber.StatusBadGateway {
		t.Fatalf("expected 502 for handler panic, got %d", status)
	}
	if body := string(ctx.Response().Body()); strings.Contains(body, "wp-origin.internal") || strings.Contains(body, "boom") {
		t.Fatalf("panic details must not reach the client, got %s", body)
	}
	if got := string(ctx.Response().Header.Peek("Location")); got != "" {
		t.Fatalf("partial headers should be discarded, got Location=%s", got)
	}
	if !strings.Contains(logBuf.String(), "router_panic") {
		t.Fatalf("expected log to mention router_panic, got %s", logBuf.String())
	}
	if got := string(ctx.Response().Header.Peek("X-Request-ID")); got != "panic-req" {
		t.Fatalf("expected request id header panic-req, got %s", got)
	}
	if !strings.Contains(logBuf.String(), "panic-req") {
		t.Fatalf("expected log to include panic request id, got %s", logBuf.String())
	}
}

func TestForwarderPassesErrorsThrough(t *testing.T) {
	app := fiber.New()
	defer app.Shutdown()
	ctx := app.AcquireCtx(new(fasthttp.RequestCtx))
	defer app.ReleaseCtx(ctx)

	sentinel := errors.New("handled by fiber error handler")
	forwarder := NewForwarder(server.ProxyHandlerFunc(func(fiber.Ctx) error {
		return sentinel
	}), logrus.New())

	if err := forwarder.Handle(ctx); !errors.Is(err, sentinel) {
		t.Fatalf("expected handler error to propagate, got %v", err)
	}
}
