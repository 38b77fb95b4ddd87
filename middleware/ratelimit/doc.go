// Package ratelimit fornece adapters HTTP (net/http) para rate limit e limite de concorrência.
//
// Visão geral (camadas):
//
//   - domain: contratos e tipos do domínio (sem dependência de net/http)
//   - application: casos de uso (decisão allow/deny por checagem, acquire/timeout) sem net/http
//   - infra: implementações concretas (janela deslizante em Redis, token bucket, semáforo)
//   - ratelimit (este pacote): middleware HTTP + montagem das checagens ordenadas
//     (ip, user, endpoint) + tradução para status/headers
//
// Fluxo no gateway:
//
//  1. Path de health probe? passa direto
//  2. Monta as checagens ordenadas: ip (limite base), user (2x, se autenticado),
//     endpoint (metade, se classe sensível)
//  3. Primeira rejeição responde 429 com X-RateLimit-* + Retry-After + corpo JSON
//  4. Tudo permitido: headers de quota da primeira checagem e dispatch para o
//     próximo handler (ex: reverse proxy)
//
// Variáveis de ambiente do binário gateway (cmd/gateway) controlam o comportamento,
// como RATE_ENABLED, RATE_REQUESTS, RATE_WINDOW e RATE_STRATEGY.
package ratelimit
