package server

import (
	"net/http"
	"testing"

	"github.com/any-hub/edge-router/internal/config"
	"github.com/any-hub/edge-router/internal/routing"
)

func testRegistryConfig() *config.Config {
	return &config.Config{
		Global: config.GlobalConfig{
			ListenPort: 8080,
		},
		Static:  config.OriginConfig{URL: "https://Static-Origin.example"},
		Dynamic: config.OriginConfig{URL: "https://wp-origin.example", ResolveOverride: "203.0.113.10:443"},
	}
}

func TestOriginRegistryLookup(t *testing.T) {
	registry, err := NewOriginRegistry(testRegistryConfig())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	static, ok := registry.Lookup(routing.OriginStatic)
	if !ok {
		t.Fatalf("expected static route")
	}
	if static.Host() != "static-origin.example" {
		t.Errorf("host should be normalized, got %s", static.Host())
	}
	if static.BypassSharedCache {
		t.Errorf("static origin should not bypass shared cache")
	}

	dynamic, ok := registry.Lookup(routing.OriginDynamic)
	if !ok {
		t.Fatalf("expected dynamic route")
	}
	if !dynamic.BypassSharedCache {
		t.Errorf("dynamic origin should bypass shared cache")
	}
	if dynamic.Client == nil || dynamic.Client.CheckRedirect == nil {
		t.Fatalf("dynamic client must not follow redirects")
	}
	if err := dynamic.Client.CheckRedirect(&http.Request{}, nil); err != http.ErrUseLastResponse {
		t.Fatalf("expected ErrUseLastResponse, got %v", err)
	}

	if got := len(registry.List()); got != 2 {
		t.Fatalf("expected 2 routes in list, got %d", got)
	}
	hosts := registry.UpstreamHosts()
	if len(hosts) != 2 || hosts[0] != "static-origin.example" || hosts[1] != "wp-origin.example" {
		t.Fatalf("unexpected upstream hosts %v", hosts)
	}
}

func TestOriginRegistryPublicOrigin(t *testing.T) {
	registry, err := NewOriginRegistry(testRegistryConfig())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	scheme, host := registry.PublicOrigin("http", "Shop.Example.:8443")
	if scheme != "http" || host != "shop.example:8443" {
		t.Fatalf("unexpected request-derived origin %s://%s", scheme, host)
	}

	cfg := testRegistryConfig()
	cfg.Global.PublicURL = "https://www.shop.example"
	registry, err = NewOriginRegistry(cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	scheme, host = registry.PublicOrigin("http", "10.0.0.5:8080")
	if scheme != "https" || host != "www.shop.example" {
		t.Fatalf("configured public url should win, got %s://%s", scheme, host)
	}
}

func TestOriginRegistryRejectsSharedHost(t *testing.T) {
	cfg := testRegistryConfig()
	cfg.Dynamic.URL = "https://static-origin.example"

	if _, err := NewOriginRegistry(cfg); err == nil {
		t.Fatalf("expected shared host error")
	}
}
