package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	testSessionSigningSecret = "secret"
	testSessionCookieName    = "murmur_session"
	testSessionUserID        = "42"
	testSessionUsername      = "alice"
)

func newTestValidator(t *testing.T, clock func() time.Time) *SessionValidator {
	t.Helper()
	validator, err := NewSessionValidator(SessionValidatorConfig{
		SigningSecret: []byte(testSessionSigningSecret),
		CookieName:    testSessionCookieName,
		Clock:         clock,
	})
	if err != nil {
		t.Fatalf("failed to construct validator: %v", err)
	}
	return validator
}

func signTestToken(t *testing.T, claims SessionClaims, secret string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

func TestSessionValidatorValidateToken(t *testing.T) {
	clockNow := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	validator := newTestValidator(t, func() time.Time { return clockNow })

	signed := signTestToken(t, SessionClaims{
		Username: testSessionUsername,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    DefaultSessionIssuer,
			Subject:   testSessionUserID,
			IssuedAt:  jwt.NewNumericDate(clockNow.Add(-time.Minute)),
			NotBefore: jwt.NewNumericDate(clockNow.Add(-time.Minute)),
			ExpiresAt: jwt.NewNumericDate(clockNow.Add(time.Hour)),
		},
	}, testSessionSigningSecret)

	session, err := validator.ValidateToken(signed)
	if err != nil {
		t.Fatalf("unexpected validation failure: %v", err)
	}
	if session.UserID != 42 || session.Username != testSessionUsername {
		t.Fatalf("unexpected session: %+v", session)
	}
	if !session.ExpiresAt.Equal(clockNow.Add(time.Hour)) {
		t.Fatalf("unexpected expiry: %v", session.ExpiresAt)
	}
}

func TestSessionValidatorValidateTokenExpired(t *testing.T) {
	clockNow := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	validator := newTestValidator(t, func() time.Time { return clockNow })

	signed := signTestToken(t, SessionClaims{
		Username: testSessionUsername,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    DefaultSessionIssuer,
			Subject:   testSessionUserID,
			IssuedAt:  jwt.NewNumericDate(clockNow.Add(-2 * time.Hour)),
			ExpiresAt: jwt.NewNumericDate(clockNow.Add(-time.Hour)),
		},
	}, testSessionSigningSecret)

	if _, err := validator.ValidateToken(signed); !errors.Is(err, ErrExpiredSessionToken) {
		t.Fatalf("expected expired token error, got %v", err)
	}
}

func TestSessionValidatorRejectsForeignTokens(t *testing.T) {
	clockNow := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	validator := newTestValidator(t, func() time.Time { return clockNow })
	valid := jwt.RegisteredClaims{
		Issuer:    DefaultSessionIssuer,
		Subject:   testSessionUserID,
		ExpiresAt: jwt.NewNumericDate(clockNow.Add(time.Hour)),
	}

	wrongIssuer := valid
	wrongIssuer.Issuer = "someone-else"
	badSubject := valid
	badSubject.Subject = "not-a-number"
	zeroSubject := valid
	zeroSubject.Subject = "0"
	noExpiry := valid
	noExpiry.ExpiresAt = nil

	tests := []struct {
		name   string
		token  string
		target error
	}{
		{name: "empty", token: "  ", target: ErrMissingSessionToken},
		{name: "garbage", token: "abc.def.ghi", target: ErrInvalidSessionToken},
		{name: "wrong secret", token: signTestToken(t, SessionClaims{Username: testSessionUsername, RegisteredClaims: valid}, "other"), target: ErrInvalidSessionToken},
		{name: "wrong issuer", token: signTestToken(t, SessionClaims{Username: testSessionUsername, RegisteredClaims: wrongIssuer}, testSessionSigningSecret), target: ErrInvalidSessionToken},
		{name: "non numeric subject", token: signTestToken(t, SessionClaims{Username: testSessionUsername, RegisteredClaims: badSubject}, testSessionSigningSecret), target: ErrInvalidSessionUser},
		{name: "zero subject", token: signTestToken(t, SessionClaims{Username: testSessionUsername, RegisteredClaims: zeroSubject}, testSessionSigningSecret), target: ErrInvalidSessionUser},
		{name: "missing username", token: signTestToken(t, SessionClaims{RegisteredClaims: valid}, testSessionSigningSecret), target: ErrInvalidSessionUser},
		{name: "missing expiry", token: signTestToken(t, SessionClaims{Username: testSessionUsername, RegisteredClaims: noExpiry}, testSessionSigningSecret), target: ErrInvalidSessionToken},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := validator.ValidateToken(tc.token); !errors.Is(err, tc.target) {
				t.Fatalf("expected %v, got %v", tc.target, err)
			}
		})
	}
}

func TestSessionValidatorValidateRequestUsesCookie(t *testing.T) {
	validator := newTestValidator(t, nil)
	issuer, err := NewTokenIssuer(TokenIssuerConfig{SigningSecret: []byte(testSessionSigningSecret)})
	if err != nil {
		t.Fatalf("failed to construct issuer: %v", err)
	}
	signed, _, err := issuer.IssueSessionToken(42, testSessionUsername)
	if err != nil {
		t.Fatalf("failed to issue token: %v", err)
	}

	request := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	request.AddCookie(&http.Cookie{
		Name:  testSessionCookieName,
		Value: signed,
	})

	session, err := validator.ValidateRequest(request)
	if err != nil {
		t.Fatalf("validation failed: %v", err)
	}
	if session.UserID != 42 || session.Username != testSessionUsername {
		t.Fatalf("unexpected session: %+v", session)
	}

	bare := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	if _, err := validator.ValidateRequest(bare); !errors.Is(err, ErrMissingSessionToken) {
		t.Fatalf("expected missing token error, got %v", err)
	}
}

func TestNewSessionValidatorRequiresConfig(t *testing.T) {
	if _, err := NewSessionValidator(SessionValidatorConfig{CookieName: "c"}); !errors.Is(err, ErrMissingSessionSigningKey) {
		t.Fatalf("expected missing signing key error, got %v", err)
	}
	if _, err := NewSessionValidator(SessionValidatorConfig{SigningSecret: []byte("s")}); !errors.Is(err, ErrMissingSessionCookieName) {
		t.Fatalf("expected missing cookie name error, got %v", err)
	}
}
