package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultBaseTTL é o TTL base quando a configuração não define outro.
const DefaultBaseTTL = 5 * time.Minute

// statsTTL é o horizonte rolante dos contadores hit/miss.
const statsTTL = 24 * time.Hour

// Multiplicadores de TTL por categoria: dados estáveis (user) vivem mais,
// dados voláteis (health, metrics) vivem bem menos.
var ttlMultipliers = map[string]float64{
	"memory":  1.5,
	"session": 2.0,
	"user":    3.0,
	"health":  0.1,
	"metrics": 0.5,
}

// Store é o cache compartilhado do gateway sobre Redis.
//
// Toda operação é fail-soft: erro de backend vira miss/no-op e é logado com o
// contexto da operação. O único erro que este pacote propaga é o de
// inicialização (PING na construção), que é fatal para o processo.
//
// Escritas concorrentes na mesma chave podem correr entre si; a última vence
// no Redis. Isso não corrompe nada porque entradas de cache são recomputações
// idempotentes, não estado autoritativo.
type Store struct {
	rdb *redis.Client
	cfg config
}

type config struct {
	namespace string
	baseTTL   time.Duration
	enabled   bool
}

type Option func(*config)

// WithNamespace define o prefixo de todas as chaves (padrão "memoria").
func WithNamespace(ns string) Option {
	return func(c *config) { c.namespace = strings.Trim(ns, ":") }
}

// WithBaseTTL define o TTL base da política dinâmica.
func WithBaseTTL(d time.Duration) Option {
	return func(c *config) { c.baseTTL = d }
}

// WithEnabled liga/desliga o cache. Desligado, toda operação é no-op sem
// nenhuma chamada ao backend.
func WithEnabled(enabled bool) Option {
	return func(c *config) { c.enabled = enabled }
}

// New constrói o Store e valida a conexão com PING.
// Falha de conexão é o único erro que o pacote retorna; com o cache
// desabilitado o backend nem é tocado.
func New(ctx context.Context, rdb *redis.Client, opts ...Option) (*Store, error) {
	cfg := config{
		namespace: "memoria",
		baseTTL:   DefaultBaseTTL,
		enabled:   true,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	s := &Store{rdb: rdb, cfg: cfg}
	if !cfg.enabled {
		return s, nil
	}

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("cache: redis ping: %w", err)
	}
	return s, nil
}

// Key identifica uma entrada: categoria (dirige a política de TTL) + chave
// Redis derivada. Derivação determinística: entradas iguais de (categoria,
// partes) produzem sempre a mesma chave, inclusive entre restarts.
type Key struct {
	category string
	redisKey string
}

func (k Key) String() string { return k.redisKey }

// Key deriva a chave de cache: namespace:categoria:sha256(partes)[:16].
// O hash mantém a chave curta e sem caracteres problemáticos; o prefixo
// legível preserva a capacidade de varrer por categoria.
func (s *Store) Key(category string, parts ...string) Key {
	sum := sha256.Sum256([]byte(strings.Join(parts, ":")))
	return Key{
		category: category,
		redisKey: s.cfg.namespace + ":" + category + ":" + hex.EncodeToString(sum[:])[:16],
	}
}

// Get busca e desserializa uma entrada. Retorna (valor, true) no hit.
// Erro de backend conta como miss e é logado; nunca propaga.
func (s *Store) Get(ctx context.Context, key Key) (any, bool) {
	if !s.cfg.enabled {
		return nil, false
	}

	raw, err := s.rdb.Get(ctx, key.redisKey).Result()
	if err == redis.Nil {
		s.recordStat(ctx, "misses")
		return nil, false
	}
	if err != nil {
		log.Printf("cache: get failed category=%s: %v", key.category, err)
		return nil, false
	}

	s.recordStat(ctx, "hits")
	return deserialize(raw), true
}

// Set serializa e grava com expiração. ttl <= 0 usa a política dinâmica.
// Retorna false em qualquer falha de backend ou serialização.
func (s *Store) Set(ctx context.Context, key Key, value any, ttl time.Duration) bool {
	if !s.cfg.enabled {
		return false
	}

	raw := serialize(value)
	if ttl <= 0 {
		ttl = dynamicTTL(s.cfg.baseTTL, key.category, len(raw))
	}

	if err := s.rdb.Set(ctx, key.redisKey, raw, ttl).Err(); err != nil {
		log.Printf("cache: set failed category=%s: %v", key.category, err)
		return false
	}
	return true
}

// Delete remove a entrada; retorna se algo foi removido.
func (s *Store) Delete(ctx context.Context, key Key) bool {
	if !s.cfg.enabled {
		return false
	}

	n, err := s.rdb.Del(ctx, key.redisKey).Result()
	if err != nil {
		log.Printf("cache: delete failed category=%s: %v", key.category, err)
		return false
	}
	return n > 0
}

// ClearPattern remove em lote todas as chaves que casam com o glob
// (ex: "memoria:session:*"). Retorna quantas foram removidas.
func (s *Store) ClearPattern(ctx context.Context, pattern string) int {
	if !s.cfg.enabled {
		return 0
	}

	var keys []string
	iter := s.rdb.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		log.Printf("cache: clear pattern scan failed pattern=%s: %v", pattern, err)
		return 0
	}
	if len(keys) == 0 {
		return 0
	}

	n, err := s.rdb.Del(ctx, keys...).Result()
	if err != nil {
		log.Printf("cache: clear pattern delete failed pattern=%s: %v", pattern, err)
		return 0
	}
	log.Printf("cache: pattern cleared pattern=%s deleted=%d", pattern, n)
	return int(n)
}

func (s *Store) statsKey() string { return s.cfg.namespace + ":stats:cache" }

// recordStat incrementa hit/miss e renova o horizonte de 24h.
// Best-effort: falha aqui não afeta a operação principal.
func (s *Store) recordStat(ctx context.Context, field string) {
	pipe := s.rdb.Pipeline()
	pipe.HIncrBy(ctx, s.statsKey(), field, 1)
	pipe.Expire(ctx, s.statsKey(), statsTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("cache: stats update failed field=%s: %v", field, err)
	}
}

// BackendInfo traz um resumo do servidor Redis.
type BackendInfo struct {
	Version          string `json:"version,omitempty"`
	ConnectedClients string `json:"connected_clients,omitempty"`
	UsedMemoryHuman  string `json:"used_memory_human,omitempty"`
	UptimeInSeconds  string `json:"uptime_in_seconds,omitempty"`
}

// Stats agrega os contadores de hit/miss do namespace.
type Stats struct {
	Hits       int64       `json:"hits"`
	Misses     int64       `json:"misses"`
	Total      int64       `json:"total_requests"`
	HitRatio   float64     `json:"hit_ratio"`
	ActiveKeys int         `json:"active_keys"`
	Backend    BackendInfo `json:"redis_info"`
}

// Stats lê contadores, conta chaves ativas do namespace e anexa info do backend.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	if !s.cfg.enabled {
		return Stats{}, nil
	}

	fields, err := s.rdb.HGetAll(ctx, s.statsKey()).Result()
	if err != nil {
		return Stats{}, err
	}

	var st Stats
	st.Hits = parseCounter(fields["hits"])
	st.Misses = parseCounter(fields["misses"])
	st.Total = st.Hits + st.Misses
	if st.Total > 0 {
		st.HitRatio = float64(st.Hits) / float64(st.Total)
	}

	iter := s.rdb.Scan(ctx, 0, s.cfg.namespace+":*", 100).Iterator()
	for iter.Next(ctx) {
		// o hash de contadores vive no mesmo namespace e não é entrada de cache
		if iter.Val() == s.statsKey() {
			continue
		}
		st.ActiveKeys++
	}
	if err := iter.Err(); err != nil {
		return Stats{}, err
	}

	st.Backend = s.backendInfo(ctx)
	return st, nil
}

func (s *Store) backendInfo(ctx context.Context) BackendInfo {
	raw, err := s.rdb.Info(ctx).Result()
	if err != nil {
		return BackendInfo{}
	}

	info := BackendInfo{}
	for _, line := range strings.Split(raw, "\n") {
		name, value, ok := strings.Cut(strings.TrimSpace(line), ":")
		if !ok {
			continue
		}
		switch name {
		case "redis_version":
			info.Version = value
		case "connected_clients":
			info.ConnectedClients = value
		case "used_memory_human":
			info.UsedMemoryHuman = value
		case "uptime_in_seconds":
			info.UptimeInSeconds = value
		}
	}
	return info
}

func parseCounter(v string) int64 {
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// dynamicTTL aplica o multiplicador da categoria e o desconto por tamanho:
// payloads grandes expiram mais cedo. Heurística, não invariante — o chamador
// pode sempre passar ttl explícito no Set.
func dynamicTTL(base time.Duration, category string, size int) time.Duration {
	multiplier, ok := ttlMultipliers[category]
	if !ok {
		multiplier = 1.0
	}

	switch {
	case size > 10_000:
		multiplier *= 0.7
	case size > 1_000:
		multiplier *= 0.9
	}

	// arredonda: truncar viraria 62.999...s quando multiplicadores como
	// 1.5*0.7 não têm representação exata em float
	return time.Duration(math.Round(float64(base) * multiplier))
}

// serialize guarda valores compostos como JSON e strings como texto puro.
func serialize(value any) string {
	if s, ok := value.(string); ok {
		return s
	}
	data, err := json.Marshal(value)
	if err != nil {
		log.Printf("cache: serialization fell back to Sprint: %v", err)
		return fmt.Sprint(value)
	}
	return string(data)
}

// deserialize tenta JSON primeiro; o que não for JSON volta como string crua.
func deserialize(raw string) any {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return raw
	}
	return v
}
