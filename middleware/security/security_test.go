package security

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func newGuardedHandler(opts Options) (*Guard, http.Handler, *int) {
	g := New(opts)
	calls := 0
	h := g.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
	}))
	return g, h, &calls
}

func doRequest(h http.Handler, method, target, remoteAddr string, hdr map[string]string) *httptest.ResponseRecorder {
	r := httptest.NewRequest(method, target, nil)
	r.RemoteAddr = remoteAddr
	for k, v := range hdr {
		r.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func TestGuard_CleanRequestGetsSecurityHeaders(t *testing.T) {
	_, h, calls := newGuardedHandler(Options{Enabled: true})

	w := doRequest(h, "GET", "http://example/api/v1/users/u1", "10.0.0.1:1234", nil)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if *calls != 1 {
		t.Fatalf("expected next handler to run")
	}
	for _, header := range []string{
		"X-Content-Type-Options",
		"X-Frame-Options",
		"Content-Security-Policy",
		"Strict-Transport-Security",
		"X-Request-ID",
	} {
		if w.Header().Get(header) == "" {
			t.Fatalf("expected %s header to be set", header)
		}
	}
}

func TestGuard_ViolationBlocksThenDeniesFollowup(t *testing.T) {
	g, h, calls := newGuardedHandler(Options{Enabled: true})

	// SQL injection na query dispara a violação
	w := doRequest(h, "GET", "http://example/search?q=union+select+1", "10.0.0.9:1234", nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for injection attempt, got %d", w.Code)
	}
	if *calls != 0 {
		t.Fatalf("expected next handler not to run on violation")
	}

	// requests seguintes do mesmo IP caem na blocklist
	w = doRequest(h, "GET", "http://example/api/v1/users/u1", "10.0.0.9:1234", nil)
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for blocked ip, got %d", w.Code)
	}

	ips := g.BlockedIPs()
	if len(ips) != 1 || ips[0] != "10.0.0.9" {
		t.Fatalf("expected blocklist [10.0.0.9], got %v", ips)
	}
}

func TestGuard_UnblockIP(t *testing.T) {
	g, h, _ := newGuardedHandler(Options{Enabled: true})

	doRequest(h, "GET", "http://example/a?p=../../../etc/passwd", "10.0.0.9:1234", nil)
	if !g.UnblockIP("10.0.0.9") {
		t.Fatalf("expected UnblockIP to report the ip as blocked")
	}
	if g.UnblockIP("10.0.0.9") {
		t.Fatalf("expected second UnblockIP to return false")
	}

	w := doRequest(h, "GET", "http://example/api/v1/users/u1", "10.0.0.9:1234", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected unblocked ip to pass, got %d", w.Code)
	}
}

func TestGuard_LocalIPNeverBlocked(t *testing.T) {
	g, h, _ := newGuardedHandler(Options{Enabled: true})

	w := doRequest(h, "GET", "http://example/a?q=<script>alert(1)</script>", "127.0.0.1:1234", nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected violation to still be rejected, got %d", w.Code)
	}
	if len(g.BlockedIPs()) != 0 {
		t.Fatalf("expected local ip to stay off the blocklist, got %v", g.BlockedIPs())
	}

	w = doRequest(h, "GET", "http://example/api/v1/users/u1", "127.0.0.1:1234", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected local ip to keep access, got %d", w.Code)
	}
}

func TestGuard_ScannerUserAgent(t *testing.T) {
	_, h, _ := newGuardedHandler(Options{Enabled: true})

	w := doRequest(h, "GET", "http://example/api/v1/users/u1", "10.0.0.9:1234",
		map[string]string{"User-Agent": "sqlmap/1.7"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for scanner user-agent, got %d", w.Code)
	}
}

func TestGuard_TraceMethodRejected(t *testing.T) {
	_, h, _ := newGuardedHandler(Options{Enabled: true})

	w := doRequest(h, http.MethodTrace, "http://example/", "10.0.0.9:1234", nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for TRACE, got %d", w.Code)
	}
}

func TestGuard_RequestSizeLimit(t *testing.T) {
	_, h, _ := newGuardedHandler(Options{Enabled: true, MaxRequestSize: 100})

	r := httptest.NewRequest("POST", "http://example/api/v1/memory/sessions/s1/messages", nil)
	r.RemoteAddr = "10.0.0.9:1234"
	r.ContentLength = 200
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for oversized request, got %d", w.Code)
	}
}

func TestGuard_AuthorizationHeaderNotScanned(t *testing.T) {
	_, h, _ := newGuardedHandler(Options{Enabled: true})

	// tokens podem conter substrings que parecem ataque; o header de
	// credencial fica fora do scan
	w := doRequest(h, "GET", "http://example/api/v1/users/u1", "10.0.0.9:1234",
		map[string]string{"Authorization": "Bearer abc.union select.xyz"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected authorization header to be skipped, got %d", w.Code)
	}
}

func TestGuard_DisabledPassesEverything(t *testing.T) {
	_, h, calls := newGuardedHandler(Options{Enabled: false})

	w := doRequest(h, "GET", "http://example/a?q=union+select+1", "10.0.0.9:1234", nil)
	if w.Code != http.StatusOK || *calls != 1 {
		t.Fatalf("expected disabled guard to pass everything, got %d", w.Code)
	}
}

func TestGuard_TrustedProxyHeaderIdentifiesClient(t *testing.T) {
	g, h, _ := newGuardedHandler(Options{Enabled: true, TrustProxyHeaders: true})

	doRequest(h, "GET", "http://example/a?q=union+select+1", "10.0.0.1:1234",
		map[string]string{"X-Forwarded-For": "203.0.113.7"})

	ips := g.BlockedIPs()
	if len(ips) != 1 || ips[0] != "203.0.113.7" {
		t.Fatalf("expected forwarded client to be blocked, got %v", ips)
	}
}
