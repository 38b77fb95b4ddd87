// Package cache implementa o cache compartilhado do gateway sobre Redis.
//
// Chaves são derivadas deterministicamente de (categoria, partes) com SHA-256,
// valores compostos viram JSON e o TTL segue uma política dinâmica por
// categoria e tamanho do payload. Contadores de hit/miss ficam no próprio
// Redis com horizonte de 24h.
//
// O padrão de uso é cache-aside: o chamador monta a chave a partir da sua
// própria semântica, consulta, computa no miss e grava o resultado. Não há
// decorator genérico de função — call sites explícitos são mais previsíveis.
package cache
