package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestGenerateAndValidate(t *testing.T) {
	m := NewJWTManager("secret", time.Hour)
	token, err := m.GenerateToken(42, "query")
	if err != nil {
		t.Fatal(err)
	}
	claims, err := m.ValidateToken(token)
	if err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
	if claims.Code != 42 || claims.Subject != "query" || claims.ID == "" {
		t.Fatalf("claims = %+v", claims)
	}
}

func TestValidateRejects(t *testing.T) {
	m := NewJWTManager("secret", time.Hour)
	other, _ := NewJWTManager("other", time.Hour).GenerateToken(42, "x")
	expired, _ := NewJWTManager("secret", -time.Minute).GenerateToken(42, "x")

	none := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{Code: 42})
	unsigned, _ := none.SignedString(jwt.UnsafeAllowNoneSignatureType)

	foreign := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{Issuer: "someone-else"},
		Code:             42,
	})
	foreignSigned, _ := foreign.SignedString([]byte("secret"))

	tests := map[string]string{
		"garbage":      "not.a.token",
		"wrong secret": other,
		"expired":      expired,
		"alg none":     unsigned,
		"issuer":       foreignSigned,
	}
	for name, token := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := m.ValidateToken(token); !errors.Is(err, ErrInvalidToken) {
				t.Fatalf("err = %v, want ErrInvalidToken", err)
			}
		})
	}
}
