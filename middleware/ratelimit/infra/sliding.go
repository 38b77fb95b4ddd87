package infra

import (
	"context"
	"log"
	"strconv"
	"sync/atomic"
	"time"

	"memoria-gateway/middleware/ratelimit/domain"

	"github.com/redis/go-redis/v9"
)

// SlidingWindow implementa rate limit por janela deslizante sobre Redis.
//
// Cada identidade tem um sorted set de timestamps (score = epoch em segundos).
// A sequência prune -> count -> insert -> refresh roda como um único batch
// atômico (MULTI/EXEC), então dois chamadores concorrentes nunca observam a
// mesma contagem pré-incremento. É o único ponto do gateway que exige
// exclusão mútua, e ela vem do próprio Redis, sem lock de aplicação.
//
// Falha de backend é fail-open: a decisão volta permitida com Err preenchido.
// Disponibilidade ganha de quota estrita quando o Redis está degradado.
type SlidingWindow struct {
	rdb    *redis.Client
	prefix string

	// seq diferencia membros inseridos no mesmo instante, senão ZADD
	// colapsaria eventos concorrentes em um único membro e a contagem
	// perderia updates.
	seq atomic.Uint64
}

type SlidingOption func(*SlidingWindow)

func WithSlidingPrefix(prefix string) SlidingOption {
	return func(s *SlidingWindow) { s.prefix = prefix }
}

func NewSlidingWindow(rdb *redis.Client, opts ...SlidingOption) *SlidingWindow {
	s := &SlidingWindow{
		rdb:    rdb,
		prefix: "ratelimit",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ domain.SlidingLimiter = (*SlidingWindow)(nil)

func (s *SlidingWindow) windowKey(key domain.Key) string {
	return s.prefix + ":window:" + string(key)
}

func (s *SlidingWindow) whitelistKey() string {
	return s.prefix + ":whitelist"
}

// IsAllowed registra o evento atual e decide.
//
// A contagem considerada é a janela APÓS inserir o evento atual (ZCARD + 1):
// com limite efetivo N, a N-ésima chamada dentro da janela passa e a N+1
// é rejeitada.
func (s *SlidingWindow) IsAllowed(ctx context.Context, key domain.Key, limit int, window time.Duration, burstMultiplier float64) domain.Decision {
	now := time.Now()
	windowStart := now.Add(-window)
	windowKey := s.windowKey(key)

	member := strconv.FormatInt(now.UnixNano(), 10) + "-" + strconv.FormatUint(s.seq.Add(1), 10)

	var countCmd *redis.IntCmd
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRemRangeByScore(ctx, windowKey, "0", formatScore(windowStart))
		countCmd = pipe.ZCard(ctx, windowKey)
		pipe.ZAdd(ctx, windowKey, redis.Z{Score: epochSeconds(now), Member: member})
		pipe.Expire(ctx, windowKey, window)
		return nil
	})
	if err != nil {
		log.Printf("ratelimit: window check failed (fail-open) key=%s: %v", key, err)
		return domain.Decision{
			Allowed:   true,
			Limit:     limit,
			Remaining: limit,
			ResetTime: now.Add(window),
			Err:       err.Error(),
		}
	}

	count := int(countCmd.Val()) + 1
	effectiveLimit := int(float64(limit) * burstMultiplier)

	if count > effectiveLimit {
		log.Printf("ratelimit: exceeded key=%s count=%d limit=%d effective=%d window=%s",
			key, count, limit, effectiveLimit, window)
		return domain.Decision{
			Allowed:    false,
			Limit:      limit,
			Remaining:  0,
			ResetTime:  now.Add(window),
			RetryAfter: retryAfter(count, limit, window),
		}
	}

	remaining := limit - count
	if remaining < 0 {
		remaining = 0
	}
	return domain.Decision{
		Allowed:   true,
		Limit:     limit,
		Remaining: remaining,
		ResetTime: now.Add(window),
	}
}

// retryAfter escala a espera recomendada com a severidade do excesso.
func retryAfter(count, limit int, window time.Duration) int {
	winSecs := int(window.Seconds())
	excess := float64(count) / float64(limit)

	switch {
	case excess <= 1.2:
		return minInt(60, winSecs/4)
	case excess <= 2.0:
		return minInt(300, winSecs/2)
	default:
		return minInt(900, winSecs)
	}
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// IsWhitelisted consulta o set de identidades isentas. Erro de backend vale
// como "não isento": a checagem normal decide.
func (s *SlidingWindow) IsWhitelisted(ctx context.Context, key domain.Key) bool {
	ok, err := s.rdb.SIsMember(ctx, s.whitelistKey(), string(key)).Result()
	if err != nil {
		log.Printf("ratelimit: whitelist check failed key=%s: %v", key, err)
		return false
	}
	return ok
}

// AddToWhitelist isenta uma identidade de contagem. ttl <= 0 deixa o set sem
// expiração (isenção permanente).
func (s *SlidingWindow) AddToWhitelist(ctx context.Context, key domain.Key, ttl time.Duration) bool {
	if err := s.rdb.SAdd(ctx, s.whitelistKey(), string(key)).Err(); err != nil {
		log.Printf("ratelimit: whitelist add failed key=%s: %v", key, err)
		return false
	}
	if ttl > 0 {
		if err := s.rdb.Expire(ctx, s.whitelistKey(), ttl).Err(); err != nil {
			log.Printf("ratelimit: whitelist expire failed key=%s: %v", key, err)
		}
	}
	return true
}

// RecentEvent é um evento observado recentemente para uma identidade.
type RecentEvent struct {
	Timestamp float64 `json:"timestamp"`
	Ago       float64 `json:"time_ago"`
}

// KeyStats resume o estado de rate limit de uma identidade.
type KeyStats struct {
	Key           string        `json:"key"`
	CurrentCount  int64         `json:"current_count"`
	Limit         int           `json:"limit"`
	WindowSeconds int           `json:"window_seconds"`
	Whitelisted   bool          `json:"is_whitelisted"`
	Recent        []RecentEvent `json:"recent_requests"`
}

// GetStats lê a janela sem registrar evento (caminho read-mostly, fora do hot path).
func (s *SlidingWindow) GetStats(ctx context.Context, key domain.Key, limit int, window time.Duration) (KeyStats, error) {
	now := time.Now()
	windowKey := s.windowKey(key)

	count, err := s.rdb.ZCount(ctx, windowKey, formatScore(now.Add(-window)), formatScore(now)).Result()
	if err != nil {
		return KeyStats{}, err
	}

	members, err := s.rdb.ZRevRangeWithScores(ctx, windowKey, 0, 9).Result()
	if err != nil {
		return KeyStats{}, err
	}

	recent := make([]RecentEvent, 0, len(members))
	for _, m := range members {
		recent = append(recent, RecentEvent{
			Timestamp: m.Score,
			Ago:       epochSeconds(now) - m.Score,
		})
	}

	return KeyStats{
		Key:           string(key),
		CurrentCount:  count,
		Limit:         limit,
		WindowSeconds: int(window.Seconds()),
		Whitelisted:   s.IsWhitelisted(ctx, key),
		Recent:        recent,
	}, nil
}

func epochSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

func formatScore(t time.Time) string {
	return strconv.FormatFloat(epochSeconds(t), 'f', -1, 64)
}
