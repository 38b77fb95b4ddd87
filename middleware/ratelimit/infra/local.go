package infra

import (
	"context"
	"sync"
	"time"

	"memoria-gateway/middleware/ratelimit/domain"
)

// LocalLimiter adapta o Store (token bucket em memória) para o contrato
// SlidingLimiter, de modo que o middleware enxergue uma Decision completa
// independente da estratégia configurada.
//
// Token bucket não mantém a lista de eventos da janela, então Remaining é
// uma aproximação: limite cheio quando permitido, zero quando bloqueado.
type LocalLimiter struct {
	store *Store

	mu        sync.RWMutex
	whitelist map[domain.Key]time.Time
}

func NewLocalLimiter(store *Store) *LocalLimiter {
	return &LocalLimiter{
		store:     store,
		whitelist: make(map[domain.Key]time.Time),
	}
}

var _ domain.SlidingLimiter = (*LocalLimiter)(nil)

func (l *LocalLimiter) IsAllowed(_ context.Context, key domain.Key, limit int, window time.Duration, _ float64) domain.Decision {
	now := time.Now()

	if l.store.Get(key).Allow() {
		return domain.Decision{
			Allowed:   true,
			Limit:     limit,
			Remaining: limit,
			ResetTime: now.Add(window),
		}
	}

	return domain.Decision{
		Allowed:    false,
		Limit:      limit,
		Remaining:  0,
		ResetTime:  now.Add(window),
		RetryAfter: minInt(60, int(window.Seconds())/4),
	}
}

func (l *LocalLimiter) IsWhitelisted(_ context.Context, key domain.Key) bool {
	l.mu.RLock()
	until, ok := l.whitelist[key]
	l.mu.RUnlock()
	if !ok {
		return false
	}
	if until.IsZero() || time.Now().Before(until) {
		return true
	}

	l.mu.Lock()
	delete(l.whitelist, key)
	l.mu.Unlock()
	return false
}

// AddToWhitelist isenta uma identidade. ttl <= 0 = permanente.
func (l *LocalLimiter) AddToWhitelist(_ context.Context, key domain.Key, ttl time.Duration) bool {
	var until time.Time
	if ttl > 0 {
		until = time.Now().Add(ttl)
	}

	l.mu.Lock()
	l.whitelist[key] = until
	l.mu.Unlock()
	return true
}
