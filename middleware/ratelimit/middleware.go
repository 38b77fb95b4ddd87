package ratelimit

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"memoria-gateway/middleware/ratelimit/application"
	"memoria-gateway/middleware/ratelimit/domain"
)

// KeyFunc extrai a identidade de rede do cliente.
type KeyFunc func(r *http.Request) string

// SubjectFunc resolve o sujeito autenticado da request (ex: sub do JWT).
// ok=false quando a request é anônima ou o token não valida.
type SubjectFunc func(r *http.Request) (subject string, ok bool)

type Options struct {
	Limiter domain.SlidingLimiter
	Stats   domain.StatsStore

	// Enabled=false faz toda request passar sem tocar o backend.
	Enabled bool

	// Requests/Window são o limite base por endereço. O escopo user usa o
	// dobro (tráfego autenticado tem teto maior) e o escopo endpoint usa a
	// metade (operações sensíveis têm teto menor).
	Requests int
	Window   time.Duration

	BurstMultiplier float64

	KeyFn              KeyFunc
	KeyHeader          string
	TrustXForwardedFor bool

	SubjectFn SubjectFunc

	// HealthPrefixes pulam o rate limit incondicionalmente.
	HealthPrefixes []string
	// SensitivePatterns marcam as classes de endpoint que ganham a checagem
	// extra de escopo endpoint.
	SensitivePatterns []string
}

// rejectBody é o corpo JSON do 429.
type rejectBody struct {
	Error      string `json:"error"`
	Limit      int    `json:"limit"`
	Remaining  int    `json:"remaining"`
	ResetTime  int64  `json:"reset_time"`
	RetryAfter int    `json:"retry_after"`
}

// Middleware aplica as checagens ordenadas de rate limit:
//
//  1. ip: endereço do cliente, limite base
//  2. user: sujeito autenticado (quando resolvível), 2x o limite base
//  3. endpoint: ip + endpoint normalizado, metade do limite base, só para
//     classes sensíveis
//
// A primeira rejeição encerra a request com 429 carregando os metadados
// daquela decisão. Passando tudo, a resposta leva os headers de quota da
// PRIMEIRA checagem. Paths de health probe nunca são checados.
func Middleware(opts Options) func(next http.Handler) http.Handler {
	if opts.Requests <= 0 {
		opts.Requests = 1000
	}
	if opts.Window <= 0 {
		opts.Window = time.Hour
	}
	if opts.KeyFn == nil {
		opts.KeyFn = DefaultKeyFunc(opts.KeyHeader, opts.TrustXForwardedFor)
	}
	if len(opts.HealthPrefixes) == 0 {
		opts.HealthPrefixes = []string{"/health"}
	}
	if len(opts.SensitivePatterns) == 0 {
		opts.SensitivePatterns = defaultSensitivePatterns
	}

	svc := application.Service{
		Limiter:         opts.Limiter,
		Enabled:         opts.Enabled,
		BurstMultiplier: opts.BurstMultiplier,
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, prefix := range opts.HealthPrefixes {
				if strings.HasPrefix(r.URL.Path, prefix) {
					next.ServeHTTP(w, r)
					return
				}
			}

			checks := buildChecks(r, opts)

			var first domain.Decision
			for i, check := range checks {
				dec := svc.Decide(r.Context(), check)
				if i == 0 {
					first = dec
				}

				if opts.Stats != nil {
					if err := opts.Stats.Record(r.Context(), domain.StatsEvent{
						Key:     check.Key,
						Scope:   check.Scope,
						Allowed: dec.Allowed,
						Method:  r.Method,
						Path:    r.URL.Path,
						At:      time.Now(),
					}); err != nil {
						log.Printf("ratelimit: stats record failed scope=%s: %v", check.Scope, err)
					}
				}

				if !dec.Allowed {
					log.Printf("ratelimit: blocked scope=%s key=%s limit=%d path=%s",
						check.Scope, check.Key, check.Limit, r.URL.Path)
					writeReject(w, dec)
					return
				}
			}

			// Headers entram antes do dispatch porque o próximo handler é
			// quem escreve o status. Os valores vêm da decisão já tomada da
			// primeira checagem — sem re-checar (re-checar consumiria quota
			// duas vezes por request).
			setQuotaHeaders(w.Header(), first)

			next.ServeHTTP(w, r)
		})
	}
}

// buildChecks monta as checagens ordenadas desta request.
func buildChecks(r *http.Request, opts Options) []domain.Check {
	clientIP := opts.KeyFn(r)

	checks := []domain.Check{
		{Scope: "ip", Key: domain.Key(clientIP), Limit: opts.Requests, Window: opts.Window},
	}

	if opts.SubjectFn != nil {
		if subject, ok := opts.SubjectFn(r); ok {
			checks = append(checks, domain.Check{
				Scope:  "user",
				Key:    domain.Key(subject),
				Limit:  opts.Requests * 2,
				Window: opts.Window,
			})
		}
	}

	if isSensitive(r.URL.Path, opts.SensitivePatterns) {
		checks = append(checks, domain.Check{
			Scope:  "endpoint",
			Key:    domain.Key(clientIP + ":" + endpointKey(r.Method, r.URL.Path)),
			Limit:  opts.Requests / 2,
			Window: opts.Window,
		})
	}

	return checks
}

func setQuotaHeaders(h http.Header, dec domain.Decision) {
	h.Set("X-RateLimit-Limit", formatInt(dec.Limit))
	h.Set("X-RateLimit-Remaining", formatInt(dec.Remaining))
	h.Set("X-RateLimit-Reset", formatInt64(dec.ResetTime.Unix()))
}

func writeReject(w http.ResponseWriter, dec domain.Decision) {
	setQuotaHeaders(w.Header(), dec)
	w.Header().Set("Retry-After", formatInt(dec.RetryAfter))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)

	_ = json.NewEncoder(w).Encode(rejectBody{
		Error:      "Rate limit exceeded",
		Limit:      dec.Limit,
		Remaining:  dec.Remaining,
		ResetTime:  dec.ResetTime.Unix(),
		RetryAfter: dec.RetryAfter,
	})
}
