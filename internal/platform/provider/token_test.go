package provider

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func mintHS256(t *testing.T, key []byte, claims *Claims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("signing token: %v", err)
	}
	return signed
}

func TestTokenVerifier_SharedSecret(t *testing.T) {
	key := []byte("dev-signing-secret")
	v := NewTokenVerifier("", key)

	in := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Email: "pat@example.com",
		AMR:   []AMREntry{{Method: "password", Timestamp: 100}},
	}

	claims, err := v.Verify(mintHS256(t, key, in))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if claims.Subject != "user-1" || claims.Email != "pat@example.com" {
		t.Errorf("claims round-trip lost fields: %+v", claims)
	}
}

func TestTokenVerifier_RejectsBadTokens(t *testing.T) {
	v := NewTokenVerifier("", []byte("dev-signing-secret"))

	expired := &Claims{RegisteredClaims: jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
	}}
	if _, err := v.Verify(mintHS256(t, []byte("dev-signing-secret"), expired)); err == nil {
		t.Error("expected expired token to fail")
	}

	wrongKey := &Claims{RegisteredClaims: jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}}
	if _, err := v.Verify(mintHS256(t, []byte("other-secret"), wrongKey)); err == nil {
		t.Error("expected wrong-key token to fail")
	}

	if _, err := v.Verify("not-a-jwt"); err == nil {
		t.Error("expected garbage to fail")
	}
}

func TestClaims_SessionMethod(t *testing.T) {
	tests := []struct {
		name   string
		claims Claims
		want   Method
	}{
		{"no amr", Claims{}, ""},
		{
			"password",
			Claims{AMR: []AMREntry{{Method: "password", Timestamp: 1}}},
			MethodPassword,
		},
		{
			"otp over phone",
			Claims{Phone: "+15551230000", AMR: []AMREntry{{Method: "otp", Timestamp: 1}}},
			MethodOTPPhone,
		},
		{
			"otp over email",
			Claims{Email: "pat@example.com", AMR: []AMREntry{{Method: "otp", Timestamp: 1}}},
			MethodOTPEmail,
		},
		{
			"oauth",
			Claims{AMR: []AMREntry{{Method: "oauth", Timestamp: 1}}},
			MethodOAuth,
		},
		{
			"latest entry wins",
			Claims{Phone: "+15551230000", AMR: []AMREntry{
				{Method: "password", Timestamp: 1},
				{Method: "otp", Timestamp: 2},
			}},
			MethodOTPPhone,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.claims.SessionMethod(); got != tt.want {
				t.Errorf("SessionMethod() = %q, want %q", got, tt.want)
			}
		})
	}
}
