package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Tokens de acesso HS256. Este pacote resolve só a fronteira que o gateway
// precisa: quem é o sujeito da request (para o rate limit por usuário) — a
// política de autorização em si fica no upstream.

var (
	ErrInvalidToken   = errors.New("auth: invalid token")
	ErrMissingSubject = errors.New("auth: token missing subject")
)

// CreateToken assina um token de acesso para subject com expiração ttl.
func CreateToken(secret []byte, subject string, ttl time.Duration) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": subject,
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
	})

	signed, err := token.SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, nil
}

// VerifyToken valida assinatura e expiração e retorna o subject.
func VerifyToken(secret []byte, tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("auth: unexpected signing method %q", t.Method.Alg())
		}
		return secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return "", ErrInvalidToken
	}

	subject, _ := claims["sub"].(string)
	if subject == "" {
		return "", ErrMissingSubject
	}
	return subject, nil
}

// SubjectResolver devolve a função que o middleware de rate limit usa para
// identificar o sujeito autenticado. Token ausente ou inválido = request
// anônima (ok=false), nunca erro: autenticar não é papel do rate limit.
func SubjectResolver(secret []byte) func(r *http.Request) (string, bool) {
	return func(r *http.Request) (string, bool) {
		header := r.Header.Get("Authorization")
		bearer, found := strings.CutPrefix(header, "Bearer ")
		if !found {
			return "", false
		}

		subject, err := VerifyToken(secret, strings.TrimSpace(bearer))
		if err != nil {
			return "", false
		}
		return subject, true
	}
}
