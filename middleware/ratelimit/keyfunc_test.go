package ratelimit

import (
	"net/http/httptest"
	"testing"
)

func TestDefaultKeyFunc_PrefersConfiguredHeader(t *testing.T) {
	fn := DefaultKeyFunc("X-API-Key", true)

	r := httptest.NewRequest("GET", "http://example/", nil)
	r.Header.Set("X-API-Key", "key-123")
	r.Header.Set("X-Forwarded-For", "1.2.3.4")
	r.RemoteAddr = "10.0.0.1:1234"

	if got := fn(r); got != "key-123" {
		t.Fatalf("expected configured header to win, got %q", got)
	}
}

func TestDefaultKeyFunc_XForwardedForFirstIP(t *testing.T) {
	fn := DefaultKeyFunc("", true)

	r := httptest.NewRequest("GET", "http://example/", nil)
	r.Header.Set("X-Forwarded-For", " 1.2.3.4 , 5.6.7.8")
	r.RemoteAddr = "10.0.0.1:1234"

	if got := fn(r); got != "1.2.3.4" {
		t.Fatalf("expected first XFF entry, got %q", got)
	}
}

func TestDefaultKeyFunc_XRealIPFallback(t *testing.T) {
	fn := DefaultKeyFunc("", true)

	r := httptest.NewRequest("GET", "http://example/", nil)
	r.Header.Set("X-Real-IP", "9.9.9.9")
	r.RemoteAddr = "10.0.0.1:1234"

	if got := fn(r); got != "9.9.9.9" {
		t.Fatalf("expected X-Real-IP fallback, got %q", got)
	}
}

func TestDefaultKeyFunc_IgnoresProxyHeadersWhenUntrusted(t *testing.T) {
	fn := DefaultKeyFunc("", false)

	r := httptest.NewRequest("GET", "http://example/", nil)
	r.Header.Set("X-Forwarded-For", "1.2.3.4")
	r.Header.Set("X-Real-IP", "9.9.9.9")
	r.RemoteAddr = "10.0.0.1:1234"

	if got := fn(r); got != "10.0.0.1" {
		t.Fatalf("expected RemoteAddr when proxy headers are untrusted, got %q", got)
	}
}

func TestDefaultKeyFunc_RemoteAddrWithoutPort(t *testing.T) {
	fn := DefaultKeyFunc("", false)

	r := httptest.NewRequest("GET", "http://example/", nil)
	r.RemoteAddr = "10.0.0.1:1234"
	if got := fn(r); got != "10.0.0.1" {
		t.Fatalf("expected host part of RemoteAddr, got %q", got)
	}

	r.RemoteAddr = ""
	if got := fn(r); got != "unknown" {
		t.Fatalf("expected unknown for empty RemoteAddr, got %q", got)
	}
}
