package ratelimit

import "testing"

func TestEndpointKey_NormalizesIdentifiers(t *testing.T) {
	cases := []struct {
		method string
		path   string
		want   string
	}{
		{"GET", "/api/v1/memory/sessions/abc-123/context", "GET:/api/v1/memory/sessions/{id}"},
		{"DELETE", "/api/v1/memory/sessions/abc-123", "DELETE:/api/v1/memory/sessions/{id}"},
		{"GET", "/api/v1/users/u-42", "GET:/api/v1/users/{id}"},
		{"POST", "/api/v1/graph/query", "POST:/api/v1/graph/query"},
		{"GET", "/health", "GET:/health"},
	}

	for _, c := range cases {
		if got := endpointKey(c.method, c.path); got != c.want {
			t.Fatalf("endpointKey(%s, %s): expected %q, got %q", c.method, c.path, c.want, got)
		}
	}
}

func TestIsSensitive(t *testing.T) {
	patterns := defaultSensitivePatterns

	sensitive := []string{
		"/api/v1/memory/sessions/s1/context",
		"/api/v1/graph/query",
		"/auth/login",
		"/admin/users",
	}
	for _, p := range sensitive {
		if !isSensitive(p, patterns) {
			t.Fatalf("expected %q to be sensitive", p)
		}
	}

	plain := []string{"/health", "/api/v1/users/u1", "/metrics"}
	for _, p := range plain {
		if isSensitive(p, patterns) {
			t.Fatalf("expected %q not to be sensitive", p)
		}
	}
}
