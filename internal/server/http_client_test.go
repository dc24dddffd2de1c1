package server

import (
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/any-hub/edge-router/internal/config"
)

func TestNewUpstreamClientUsesConfigTimeout(t *testing.T) {
	cfg := &config.Config{
		Global: config.GlobalConfig{
			UpstreamTimeout: config.Duration(45 * time.Second),
		},
	}

	client := NewUpstreamClient(cfg)
	if client.Timeout != 45*time.Second {
		t.Fatalf("expected timeout 45s, got %s", client.Timeout)
	}
	if client.CheckRedirect != nil {
		t.Fatalf("script client should follow redirects")
	}
}

func TestOriginClientDoesNotFollowRedirects(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/from" {
			http.Redirect(w, r, "/to", http.StatusFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	client := NewOriginClient(&config.Config{}, config.OriginConfig{URL: upstream.URL})
	resp, err := client.Get(upstream.URL + "/from")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusFound {
		t.Fatalf("expected 302 to be returned as-is, got %d", resp.StatusCode)
	}
	if resp.Header.Get("Location") != "/to" {
		t.Fatalf("unexpected location %q", resp.Header.Get("Location"))
	}
}

func TestOriginClientDialsResolveOverride(t *testing.T) {
	var gotHost string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHost = r.Host
		w.WriteHeader(http.StatusNoContent)
	}))
	defer upstream.Close()

	_, port, err := net.SplitHostPort(upstream.Listener.Addr().String())
	if err != nil {
		t.Fatalf("split addr: %v", err)
	}

	origin := config.OriginConfig{
		URL:             "http://wp-origin.invalid:" + port,
		ResolveOverride: upstream.Listener.Addr().String(),
	}
	client := NewOriginClient(&config.Config{}, origin)
	resp, err := client.Get(origin.URL + "/wp-json/")
	if err != nil {
		t.Fatalf("request through override failed: %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("unexpected status %d", resp.StatusCode)
	}
	if gotHost != "wp-origin.invalid:"+port {
		t.Fatalf("Host header should keep origin name, got %q", gotHost)
	}
}

func TestCopyHeadersSkipsHopByHop(t *testing.T) {
	src := http.Header{}
	src.Add("Connection", "keep-alive, X-Internal-Hop")
	src.Add("Keep-Alive", "timeout=5")
	src.Add("X-Internal-Hop", "secret")
	src.Add("X-Test-Header", "1")
	src.Add("x-test-header", "2")

	dst := http.Header{}
	CopyHeaders(dst, src)

	if _, exists := dst["Connection"]; exists {
		t.Fatalf("connection header should not be copied")
	}
	if _, exists := dst["Keep-Alive"]; exists {
		t.Fatalf("keep-alive header should not be copied")
	}
	if dst.Get("X-Internal-Hop") != "" {
		t.Fatalf("headers named in Connection should not be copied")
	}

	got := dst.Values("X-Test-Header")
	if len(got) != 2 {
		t.Fatalf("expected 2 values, got %v", got)
	}
}
