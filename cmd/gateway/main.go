package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"memoria-gateway/auth"
	"memoria-gateway/cache"
	"memoria-gateway/middleware/ratelimit"
	"memoria-gateway/middleware/ratelimit/domain"
	"memoria-gateway/middleware/ratelimit/infra"
	"memoria-gateway/middleware/security"

	"github.com/redis/go-redis/v9"
)

func main() {
	cfg, err := readConfig()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	target, err := url.Parse(cfg.upstreamURL)
	if err != nil {
		log.Fatalf("invalid UPSTREAM_URL: %v", err)
	}

	proxy := httputil.NewSingleHostReverseProxy(target)
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		log.Printf("proxy error: %v", err)
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Conexão compartilhada com o Redis: criada uma vez, reusada pelo cache,
	// pelo rate limit e pelas estatísticas durante toda a vida do processo.
	var rdb *redis.Client
	needsRedis := cfg.cacheEnabled || (cfg.rateEnabled && cfg.rateStrategy == "redis") || cfg.rateStatsEnabled
	if needsRedis {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.redisAddr,
			Password: cfg.redisPassword,
			DB:       cfg.redisDB,
		})
		defer func() { _ = rdb.Close() }()

		// Falha aqui é fatal: todo o resto do subsistema é fail-soft, mas
		// subir sem o backend configurado seria esconder erro de deploy.
		pingCtx, pingCancel := context.WithTimeout(ctx, 2*time.Second)
		_, err := rdb.Ping(pingCtx).Result()
		pingCancel()
		if err != nil {
			log.Fatalf("redis ping error: %v", err)
		}
	}

	store, err := cache.New(ctx, rdb,
		cache.WithEnabled(cfg.cacheEnabled),
		cache.WithNamespace(cfg.cacheNamespace),
		cache.WithBaseTTL(cfg.cacheTTL),
	)
	if err != nil {
		log.Fatalf("cache init error: %v", err)
	}

	var limiter domain.SlidingLimiter
	var whitelister whitelister
	switch cfg.rateStrategy {
	case "redis":
		sw := infra.NewSlidingWindow(rdb)
		limiter, whitelister = sw, sw
	case "local":
		tb := infra.NewStore(float64(cfg.rateRequests)/cfg.rateWindow.Seconds(), cfg.rateRequests)
		tb.StartJanitor(ctx)
		ll := infra.NewLocalLimiter(tb)
		limiter, whitelister = ll, ll
	default:
		log.Fatalf("invalid RATE_STRATEGY %q (use redis or local)", cfg.rateStrategy)
	}

	var statsStore domain.StatsStore
	if cfg.rateStatsEnabled {
		statsStore = infra.NewRedisStatsStore(
			rdb,
			infra.WithStatsPrefix(cfg.rateStatsPrefix),
			infra.WithStatsTTL(cfg.rateStatsTTL),
			infra.WithStatsBucket(cfg.rateStatsBucket),
			infra.WithStatsTrackKeys(cfg.rateStatsTrackKeys),
		)
	}

	var subjectFn ratelimit.SubjectFunc
	if cfg.apiSecretKey != "" {
		subjectFn = auth.SubjectResolver([]byte(cfg.apiSecretKey))
	}

	guard := security.New(security.Options{
		Enabled:           cfg.securityEnabled,
		MaxRequestSize:    cfg.maxRequestSize,
		TrustProxyHeaders: cfg.trustXFF,
	})

	h := http.Handler(proxy)
	h = cachingHandler(store, h)
	h = ratelimit.ConcurrencyMiddleware(ratelimit.ConcurrencyOptions{
		Max:            cfg.concurrencyMax,
		RejectStatus:   http.StatusServiceUnavailable,
		AcquireTimeout: cfg.concurrencyTimeout,
	})(h)
	h = ratelimit.Middleware(ratelimit.Options{
		Limiter:            limiter,
		Stats:              statsStore,
		Enabled:            cfg.rateEnabled,
		Requests:           cfg.rateRequests,
		Window:             cfg.rateWindow,
		BurstMultiplier:    cfg.rateBurstMultiplier,
		TrustXForwardedFor: cfg.trustXFF,
		SubjectFn:          subjectFn,
	})(h)
	h = guard.Middleware(h)

	mux := http.NewServeMux()
	mux.Handle("/gateway/", adminHandler(store, limiter, whitelister, guard, cfg))
	mux.Handle("/", h)

	srv := &http.Server{
		Addr:              cfg.listenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Printf("gateway listening on %s -> %s", cfg.listenAddr, target)
	log.Printf("rate: enabled=%v strategy=%s requests=%d window=%s burst=%.2f", cfg.rateEnabled, cfg.rateStrategy, cfg.rateRequests, cfg.rateWindow, cfg.rateBurstMultiplier)
	log.Printf("cache: enabled=%v namespace=%q ttl=%s", cfg.cacheEnabled, cfg.cacheNamespace, cfg.cacheTTL)
	log.Printf("security: enabled=%v maxRequestSize=%d", cfg.securityEnabled, cfg.maxRequestSize)

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("server error: %v", err)
	}
}

// whitelister é o que o endpoint administrativo precisa das duas estratégias.
type whitelister interface {
	AddToWhitelist(ctx context.Context, key domain.Key, ttl time.Duration) bool
}

// cachingHandler aplica cache-aside nas respostas GET da API proxiada:
// consulta o cache pela semântica da própria request (método+path+query),
// no miss deixa o proxy responder e guarda respostas 200.
func cachingHandler(store *cache.Store, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || !strings.HasPrefix(r.URL.Path, "/api/v1/") {
			next.ServeHTTP(w, r)
			return
		}

		key := store.Key(categoryFor(r.URL.Path), r.Method, r.URL.Path, r.URL.RawQuery)

		if val, ok := store.Get(r.Context(), key); ok {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("X-Cache", "HIT")
			_ = json.NewEncoder(w).Encode(val)
			return
		}

		rec := &captureWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		if rec.status == http.StatusOK && rec.body.Len() > 0 {
			store.Set(r.Context(), key, rec.body.String(), 0)
		}
	})
}

// categoryFor mapeia o path para a categoria de TTL do cache.
func categoryFor(path string) string {
	switch {
	case strings.Contains(path, "/users/"):
		return "user"
	case strings.Contains(path, "/sessions/"):
		return "session"
	case strings.HasPrefix(path, "/health"):
		return "health"
	default:
		return "memory"
	}
}

// captureWriter espelha a resposta para o cliente e guarda uma cópia do corpo.
type captureWriter struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (c *captureWriter) WriteHeader(status int) {
	c.status = status
	c.ResponseWriter.WriteHeader(status)
}

func (c *captureWriter) Write(p []byte) (int, error) {
	if c.status == http.StatusOK {
		c.body.Write(p)
	}
	return c.ResponseWriter.Write(p)
}

// adminHandler expõe operação do gateway: stats de cache e rate limit,
// whitelist e blocklist de segurança.
func adminHandler(store *cache.Store, limiter domain.SlidingLimiter, wl whitelister, guard *security.Guard, cfg config) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /gateway/cache/stats", func(w http.ResponseWriter, r *http.Request) {
		stats, err := store.Stats(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
		writeJSON(w, stats)
	})

	mux.HandleFunc("GET /gateway/ratelimit/stats", func(w http.ResponseWriter, r *http.Request) {
		key := r.URL.Query().Get("key")
		if key == "" {
			http.Error(w, "key query parameter is required", http.StatusBadRequest)
			return
		}

		sw, ok := limiter.(*infra.SlidingWindow)
		if !ok {
			http.Error(w, "stats unavailable for local strategy", http.StatusNotImplemented)
			return
		}

		stats, err := sw.GetStats(r.Context(), domain.Key(key), cfg.rateRequests, cfg.rateWindow)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
		writeJSON(w, stats)
	})

	mux.HandleFunc("POST /gateway/ratelimit/whitelist", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Key        string `json:"key"`
			TTLSeconds int    `json:"ttl_seconds"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Key == "" {
			http.Error(w, "body must be {\"key\": ..., \"ttl_seconds\": ...}", http.StatusBadRequest)
			return
		}

		ok := wl.AddToWhitelist(r.Context(), domain.Key(body.Key), time.Duration(body.TTLSeconds)*time.Second)
		writeJSON(w, map[string]bool{"added": ok})
	})

	mux.HandleFunc("GET /gateway/security/blocked", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string][]string{"blocked_ips": guard.BlockedIPs()})
	})

	mux.HandleFunc("POST /gateway/security/unblock", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			IP string `json:"ip"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.IP == "" {
			http.Error(w, "body must be {\"ip\": ...}", http.StatusBadRequest)
			return
		}
		writeJSON(w, map[string]bool{"unblocked": guard.UnblockIP(body.IP)})
	})

	return mux
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

type config struct {
	listenAddr  string
	upstreamURL string

	redisAddr     string
	redisPassword string
	redisDB       int

	cacheEnabled   bool
	cacheNamespace string
	cacheTTL       time.Duration

	rateEnabled         bool
	rateStrategy        string
	rateRequests        int
	rateWindow          time.Duration
	rateBurstMultiplier float64

	apiSecretKey string
	trustXFF     bool

	securityEnabled bool
	maxRequestSize  int64

	concurrencyMax     int
	concurrencyTimeout time.Duration

	rateStatsEnabled   bool
	rateStatsPrefix    string
	rateStatsTTL       time.Duration
	rateStatsBucket    string
	rateStatsTrackKeys bool
}

func readConfig() (config, error) {
	cfg := config{}
	cfg.listenAddr = getenvDefault("LISTEN_ADDR", ":8080")
	cfg.upstreamURL = os.Getenv("UPSTREAM_URL")

	cfg.redisAddr = getenvDefault("REDIS_ADDR", "localhost:6379")
	cfg.redisPassword = os.Getenv("REDIS_PASSWORD")
	cfg.redisDB = getenvIntDefault("REDIS_DB", 0)

	cfg.cacheEnabled = getenvBoolDefault("CACHE_ENABLED", true)
	cfg.cacheNamespace = getenvDefault("CACHE_NAMESPACE", "memoria")
	cfg.cacheTTL = getenvDurationDefault("CACHE_TTL", 5*time.Minute)

	cfg.rateEnabled = getenvBoolDefault("RATE_ENABLED", true)
	cfg.rateStrategy = getenvDefault("RATE_STRATEGY", "redis")
	cfg.rateRequests = getenvIntDefault("RATE_REQUESTS", 1000)
	cfg.rateWindow = getenvDurationDefault("RATE_WINDOW", 1*time.Hour)
	cfg.rateBurstMultiplier = getenvFloatDefault("RATE_BURST_MULTIPLIER", 1.5)

	cfg.apiSecretKey = os.Getenv("API_SECRET_KEY")
	cfg.trustXFF = getenvBoolDefault("TRUST_XFF", false)

	cfg.securityEnabled = getenvBoolDefault("SECURITY_ENABLED", true)
	cfg.maxRequestSize = int64(getenvIntDefault("MAX_REQUEST_SIZE", 10*1024*1024))

	cfg.concurrencyMax = getenvIntDefault("CONCURRENCY_MAX", 100)
	cfg.concurrencyTimeout = getenvDurationDefault("CONCURRENCY_TIMEOUT", 0)

	cfg.rateStatsEnabled = getenvBoolDefault("RATE_STATS_ENABLED", false)
	cfg.rateStatsPrefix = getenvDefault("RATE_STATS_PREFIX", "ratelimit:stats")
	cfg.rateStatsTTL = getenvDurationDefault("RATE_STATS_TTL", 24*time.Hour)
	cfg.rateStatsBucket = getenvDefault("RATE_STATS_BUCKET", "minute")
	cfg.rateStatsTrackKeys = getenvBoolDefault("RATE_STATS_TRACK_KEYS", false)

	if cfg.upstreamURL == "" {
		return config{}, errors.New("UPSTREAM_URL is required")
	}
	if cfg.rateRequests <= 0 {
		return config{}, errors.New("RATE_REQUESTS must be > 0")
	}
	if cfg.rateWindow <= 0 {
		return config{}, errors.New("RATE_WINDOW must be > 0")
	}
	if cfg.rateBurstMultiplier < 1.0 {
		return config{}, errors.New("RATE_BURST_MULTIPLIER must be >= 1.0")
	}
	if cfg.concurrencyMax < 0 {
		return config{}, errors.New("CONCURRENCY_MAX must be >= 0")
	}
	return cfg, nil
}

func getenvDefault(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getenvIntDefault(k string, def int) int {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

func getenvFloatDefault(k string, def float64) float64 {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func getenvBoolDefault(k string, def bool) bool {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getenvDurationDefault(k string, def time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	// aceita "300" (segundos) ou "5m"
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
