package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"memoria-gateway/middleware/ratelimit"
	"memoria-gateway/middleware/ratelimit/infra"
)

// Upstream de exemplo: finge ser a plataforma de memória para testar o
// gateway localmente. Também demonstra o middleware com a estratégia local
// (token bucket), sem precisar de Redis.
func main() {
	tb := infra.NewStore(5, 10)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	tb.StartJanitor(ctx)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]string{"status": "healthy"})
	})
	mux.HandleFunc("GET /api/v1/memory/sessions/{id}/context", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{
			"session_id": r.PathValue("id"),
			"context":    "previous conversation summary",
			"facts":      []string{"user prefers concise answers"},
		})
	})
	mux.HandleFunc("GET /api/v1/users/{id}", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{
			"user_id":    r.PathValue("id"),
			"created_at": time.Now().UTC().Format(time.RFC3339),
		})
	})

	h := http.Handler(mux)
	h = ratelimit.ConcurrencyMiddleware(ratelimit.ConcurrencyOptions{Max: 50})(h)
	h = ratelimit.Middleware(ratelimit.Options{
		Limiter:  infra.NewLocalLimiter(tb),
		Enabled:  true,
		Requests: 300,
		Window:   time.Minute,
	})(h)

	addr := ":8081"
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		addr = v
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Printf("example upstream listening on %s", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("server error: %v", err)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
