package application

import (
	"context"
	"time"

	"memoria-gateway/middleware/ratelimit/domain"
)

// DefaultBurstMultiplier tolera rajadas curtas acima do limite nominal.
const DefaultBurstMultiplier = 1.5

// Service concentra a regra de aplicação do rate limit.
//
// Ele não sabe nada sobre HTTP (headers/status), apenas retorna uma decisão
// para cada checagem ordenada que o middleware montar.
type Service struct {
	Limiter domain.SlidingLimiter
	// Enabled desligado faz toda checagem retornar permitido sem tocar o backend.
	Enabled         bool
	BurstMultiplier float64
}

// Decide avalia uma checagem.
//   - rate limit desabilitado (ou sem limiter): permitido, sem backend
//   - chave na whitelist: permitido, sem contar o evento
//   - caso contrário: janela deslizante decide (fail-open fica no limiter)
func (s Service) Decide(ctx context.Context, check domain.Check) domain.Decision {
	if !s.Enabled || s.Limiter == nil {
		return bypassDecision(check)
	}

	if s.Limiter.IsWhitelisted(ctx, check.Key) {
		return bypassDecision(check)
	}

	burst := s.BurstMultiplier
	if burst <= 0 {
		burst = DefaultBurstMultiplier
	}
	return s.Limiter.IsAllowed(ctx, check.Key, check.Limit, check.Window, burst)
}

func bypassDecision(check domain.Check) domain.Decision {
	return domain.Decision{
		Allowed:   true,
		Limit:     check.Limit,
		Remaining: check.Limit,
		ResetTime: time.Now().Add(check.Window),
	}
}
