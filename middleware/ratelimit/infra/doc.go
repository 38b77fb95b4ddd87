// Package infra contém implementações concretas (infraestrutura) para os contratos
// definidos no pacote domain.
//
// Exemplos:
//   - SlidingWindow: janela deslizante por chave sobre Redis (MULTI/EXEC)
//   - Store/LocalLimiter: token bucket em memória usando golang.org/x/time/rate
//   - ChanPool: semáforo simples para limite de concorrência
//   - MemoryStatsStore/RedisStatsStore: contadores allow/deny por escopo e rota
package infra
