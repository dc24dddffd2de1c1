package rewrite

import (
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/any-hub/edge-router/internal/routing"
)

func mustURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

func TestRewriteLocation(t *testing.T) {
	m := testHostMap()
	target := mustURL(t, "https://internal.example/checkout/")

	cases := []struct {
		name     string
		location string
		want     string
	}{
		{"absolute upstream", "https://internal.example/foo?x=1&y=2", "https://shop.example/foo?x=1&y=2"},
		{"http upstream", "http://internal.example/my-account/", "https://shop.example/my-account/"},
		{"relative", "/cart/?added=1", "https://shop.example/cart/?added=1"},
		{"relative to target", "order-received/5", "https://shop.example/checkout/order-received/5"},
		{"static origin", "https://static-origin.example/collections/", "https://shop.example/collections/"},
		{"third party untouched", "https://www.paypal.com/checkoutnow?token=A%20B", "https://www.paypal.com/checkoutnow?token=A%20B"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, RewriteLocation(tc.location, target, m, nil))
		})
	}
}

func TestRewriteLocationMapsRewrittenPathBack(t *testing.T) {
	m := testHostMap()
	rule := &routing.PathRewrite{From: "/buy/", To: "/products/"}
	target := mustURL(t, "https://internal.example/products/custom-scarf")

	got := RewriteLocation("https://internal.example/products/custom-scarf/?variant=2", target, m, rule)
	assert.Equal(t, "https://shop.example/buy/custom-scarf/?variant=2", got)

	got = RewriteLocation("https://internal.example/cart/", target, m, rule)
	assert.Equal(t, "https://shop.example/cart/", got)
}

func TestRewriteSetCookie(t *testing.T) {
	m := testHostMap()

	cases := []struct {
		in   string
		want string
	}{
		{"a=1; Domain=internal.example", "a=1"},
		{"b=2; Path=/; domain=.internal.example; Secure; HttpOnly", "b=2; Path=/; Secure; HttpOnly"},
		{"wp_ref=https%3A%2F%2Finternal.example%2F; Path=/", "wp_ref=https%3A%2F%2Fshop.example%2F; Path=/"},
		{"plain=1; Path=/", "plain=1; Path=/"},
	}

	for _, tc := range cases {
		got := RewriteSetCookie(tc.in, m)
		assert.Equal(t, tc.want, got)
		assert.NotContains(t, strings.ToLower(got), "domain=")
		assert.NotContains(t, got, "internal.example")
	}
}
