package security

import (
	"crypto/rand"
	"encoding/hex"
	"log"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"
)

// Padrões de ataque conhecidos, compilados uma vez.
// Cobrem SQL injection, XSS, path traversal e fetch de payload remoto.
var suspiciousPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(union\s+select|drop\s+table|insert\s+into)`),
	regexp.MustCompile(`(?i)<script[^>]*>`),
	regexp.MustCompile(`(?i)javascript:`),
	regexp.MustCompile(`(?i)on\w+\s*=`),
	regexp.MustCompile(`\.\./`),
	regexp.MustCompile(`(?i)\b(wget|curl|nc|netcat)\b\s`),
}

// User-Agents de scanners de vulnerabilidade.
var scannerAgents = []string{
	"sqlmap", "nikto", "nmap", "masscan", "zap",
	"burp", "w3af", "skipfish", "gobuster",
}

var localIPs = map[string]struct{}{
	"127.0.0.1": {},
	"::1":       {},
	"localhost": {},
}

type Options struct {
	Enabled bool
	// MaxRequestSize rejeita requests com Content-Length acima do teto.
	// 0 = sem teto.
	MaxRequestSize int64
	// TrustProxyHeaders habilita X-Forwarded-For / X-Real-IP para identificar
	// o cliente (só atrás de proxy confiável).
	TrustProxyHeaders bool
}

// Guard aplica as proteções de borda do gateway: scan de conteúdo
// suspeito, bloqueio de scanner, teto de tamanho, bloqueio de TRACE,
// headers de segurança na resposta e blocklist de IPs reincidentes.
type Guard struct {
	opts Options

	mu      sync.Mutex
	blocked map[string]struct{}
}

func New(opts Options) *Guard {
	return &Guard{
		opts:    opts,
		blocked: make(map[string]struct{}),
	}
}

// Middleware aplica as proteções e delega para next quando a request é limpa.
func (g *Guard) Middleware(next http.Handler) http.Handler {
	if !g.opts.Enabled {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := g.clientIP(r)

		if g.isBlocked(ip) {
			log.Printf("security: blocked ip attempt ip=%s path=%s", ip, r.URL.Path)
			http.Error(w, "Access denied", http.StatusForbidden)
			return
		}

		if reason := g.inspect(r); reason != "" {
			log.Printf("security: violation ip=%s path=%s reason=%s", ip, r.URL.Path, reason)
			g.block(ip)
			http.Error(w, "Request blocked by security policy", http.StatusBadRequest)
			return
		}

		g.addSecurityHeaders(w.Header())
		next.ServeHTTP(w, r)
	})
}

// inspect devolve o motivo da violação, ou "" para request limpa.
func (g *Guard) inspect(r *http.Request) string {
	if r.Method == http.MethodTrace {
		return "trace method"
	}

	if g.opts.MaxRequestSize > 0 && r.ContentLength > g.opts.MaxRequestSize {
		return "request too large"
	}

	ua := strings.ToLower(r.Header.Get("User-Agent"))
	for _, agent := range scannerAgents {
		if strings.Contains(ua, agent) {
			return "scanner user-agent"
		}
	}

	if reason := scan(r.URL.Path, "path"); reason != "" {
		return reason
	}
	if reason := scan(r.URL.RawQuery, "query"); reason != "" {
		return reason
	}
	// a query chega percent-encoded; o scan precisa ver o texto decodificado
	if decoded, err := url.QueryUnescape(r.URL.RawQuery); err == nil {
		if reason := scan(decoded, "query"); reason != "" {
			return reason
		}
	}
	for name, values := range r.Header {
		lower := strings.ToLower(name)
		if lower == "authorization" || lower == "cookie" {
			continue
		}
		for _, v := range values {
			if reason := scan(v, "header "+name); reason != "" {
				return reason
			}
		}
	}

	return ""
}

func scan(content, where string) string {
	for _, pattern := range suspiciousPatterns {
		if pattern.MatchString(content) {
			return "suspicious pattern in " + where
		}
	}
	return ""
}

func (g *Guard) addSecurityHeaders(h http.Header) {
	h.Set("X-Content-Type-Options", "nosniff")
	h.Set("X-Frame-Options", "DENY")
	h.Set("X-XSS-Protection", "1; mode=block")
	h.Set("Content-Security-Policy", "default-src 'self'; frame-ancestors 'none';")
	h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
	h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
	h.Set("Cache-Control", "no-store, no-cache, must-revalidate, private")

	if h.Get("X-Request-ID") == "" {
		h.Set("X-Request-ID", requestID())
	}
}

func requestID() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return ""
	}
	return hex.EncodeToString(b[:])
}

func (g *Guard) clientIP(r *http.Request) string {
	if g.opts.TrustProxyHeaders {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			if first := strings.TrimSpace(strings.Split(xff, ",")[0]); first != "" {
				return first
			}
		}
		if rip := strings.TrimSpace(r.Header.Get("X-Real-IP")); rip != "" {
			return rip
		}
	}

	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil && host != "" {
		return host
	}
	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}
	return "unknown"
}

func (g *Guard) isBlocked(ip string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.blocked[ip]
	return ok
}

// block adiciona o IP à blocklist. IPs locais nunca são bloqueados.
func (g *Guard) block(ip string) {
	if _, local := localIPs[ip]; local {
		return
	}

	g.mu.Lock()
	g.blocked[ip] = struct{}{}
	g.mu.Unlock()
	log.Printf("security: ip blocked ip=%s", ip)
}

// UnblockIP remove um IP da blocklist; retorna se ele estava bloqueado.
func (g *Guard) UnblockIP(ip string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.blocked[ip]; ok {
		delete(g.blocked, ip)
		return true
	}
	return false
}

// BlockedIPs lista os IPs atualmente bloqueados.
func (g *Guard) BlockedIPs() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]string, 0, len(g.blocked))
	for ip := range g.blocked {
		out = append(out, ip)
	}
	return out
}
