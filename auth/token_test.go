package auth

import (
	"errors"
	"net/http/httptest"
	"testing"
	"time"
)

var testSecret = []byte("test-secret-key")

func TestCreateAndVerifyToken(t *testing.T) {
	token, err := CreateToken(testSecret, "user-42", time.Minute)
	if err != nil {
		t.Fatalf("CreateToken: %v", err)
	}

	subject, err := VerifyToken(testSecret, token)
	if err != nil {
		t.Fatalf("VerifyToken: %v", err)
	}
	if subject != "user-42" {
		t.Fatalf("expected subject user-42, got %q", subject)
	}
}

func TestVerifyToken_WrongSecret(t *testing.T) {
	token, err := CreateToken(testSecret, "user-42", time.Minute)
	if err != nil {
		t.Fatalf("CreateToken: %v", err)
	}

	if _, err := VerifyToken([]byte("other-secret"), token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestVerifyToken_Expired(t *testing.T) {
	token, err := CreateToken(testSecret, "user-42", -time.Minute)
	if err != nil {
		t.Fatalf("CreateToken: %v", err)
	}

	if _, err := VerifyToken(testSecret, token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for expired token, got %v", err)
	}
}

func TestVerifyToken_Garbage(t *testing.T) {
	if _, err := VerifyToken(testSecret, "not-a-token"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestSubjectResolver(t *testing.T) {
	resolve := SubjectResolver(testSecret)

	// request anônima
	r := httptest.NewRequest("GET", "http://example/", nil)
	if _, ok := resolve(r); ok {
		t.Fatalf("expected anonymous request to resolve to ok=false")
	}

	// header fora do esquema Bearer
	r.Header.Set("Authorization", "Basic abc")
	if _, ok := resolve(r); ok {
		t.Fatalf("expected non-bearer header to resolve to ok=false")
	}

	// token inválido
	r.Header.Set("Authorization", "Bearer bogus")
	if _, ok := resolve(r); ok {
		t.Fatalf("expected invalid token to resolve to ok=false")
	}

	// token válido
	token, err := CreateToken(testSecret, "user-42", time.Minute)
	if err != nil {
		t.Fatalf("CreateToken: %v", err)
	}
	r.Header.Set("Authorization", "Bearer "+token)
	subject, ok := resolve(r)
	if !ok || subject != "user-42" {
		t.Fatalf("expected subject user-42, got %q (ok=%v)", subject, ok)
	}
}
