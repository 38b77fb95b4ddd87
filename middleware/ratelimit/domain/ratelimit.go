package domain

// Camada de domínio do rate limit.
//
// Regras e contratos (interfaces/tipos) sem dependência de net/http e sem
// conhecer Redis ou qualquer outro backend.

import (
	"context"
	"time"
)

type Key string

// Decision é o único valor retornado por uma checagem de rate limit.
// Imutável após a construção.
//
// Err carrega o detalhe quando o backend falhou e a decisão degradou para
// "permitido" (fail-open). Não é um error Go porque, do ponto de vista do
// chamador, a checagem nunca falha.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	// ResetTime indica quando a janela atual zera (vira epoch nos headers).
	ResetTime time.Time
	// RetryAfter é a recomendação em segundos quando bloqueado. 0 = sem recomendação.
	RetryAfter int
	Err        string
}

// SlidingLimiter decide se uma ação identificada por key pode acontecer agora,
// contando eventos dentro de uma janela deslizante.
//
// Implementações devem ser fail-open: erro de backend vira decisão permitida
// com Err preenchido.
type SlidingLimiter interface {
	IsAllowed(ctx context.Context, key Key, limit int, window time.Duration, burstMultiplier float64) Decision
	IsWhitelisted(ctx context.Context, key Key) bool
}

// Check descreve uma checagem ordenada do middleware: escopo (ip, user,
// endpoint), identidade e os parâmetros de limite daquele escopo.
type Check struct {
	Scope  string
	Key    Key
	Limit  int
	Window time.Duration
}

// Limiter representa algo que pode decidir se uma ação é permitida agora.
//
// Observação: contrato mínimo usado pela estratégia local (token bucket).
// A janela deslizante em Redis usa SlidingLimiter, que carrega mais contexto.
type Limiter interface {
	Allow() bool
}

// LimiterStore obtém um limiter por chave (ex: IP, API key, usuário).
// A implementação pode manter cache, TTL, etc.
type LimiterStore interface {
	Get(Key) Limiter
}
