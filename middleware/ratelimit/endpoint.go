package ratelimit

import "strings"

// Classes de path que ganham a checagem extra (mais restrita) de endpoint.
var defaultSensitivePatterns = []string{
	"/api/v1/memory/",
	"/api/v1/graph/",
	"/auth/",
	"/admin/",
}

func isSensitive(path string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(path, p) {
			return true
		}
	}
	return false
}

// endpointKey normaliza o path trocando segmentos de identificador por
// placeholders, senão cada sessão/usuário viraria uma chave própria.
func endpointKey(method, path string) string {
	normalized := path
	if before, _, ok := strings.Cut(path, "/sessions/"); ok {
		normalized = before + "/sessions/{id}"
	}
	if before, _, ok := strings.Cut(normalized, "/users/"); ok {
		normalized = before + "/users/{id}"
	}
	return method + ":" + normalized
}
