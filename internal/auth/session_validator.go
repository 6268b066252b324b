package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMissingSessionSigningKey = errors.New("session validator: signing key required")
	ErrMissingSessionCookieName = errors.New("session validator: cookie name required")
	ErrMissingSessionToken      = errors.New("session validator: token required")
	ErrInvalidSessionToken      = errors.New("session validator: invalid token")
	ErrExpiredSessionToken      = errors.New("session validator: token expired")
	// ErrInvalidSessionUser means the token verified but does not name a usable account.
	ErrInvalidSessionUser = errors.New("session validator: token does not identify a user")
)

// SessionClaims is the signed payload: the subject carries the decimal user ID
// and the username rides along so requests need no lookup to greet the user.
type SessionClaims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// Session is the signed-in user a valid token identifies.
type Session struct {
	UserID    int64
	Username  string
	ExpiresAt time.Time
}

// SessionValidatorConfig describes how to validate session tokens.
type SessionValidatorConfig struct {
	SigningSecret []byte
	Issuer        string
	CookieName    string
	Clock         func() time.Time
}

// SessionValidator turns session cookies back into user identities.
type SessionValidator struct {
	signingSecret []byte
	parser        *jwt.Parser
	cookieName    string
}

// NewSessionValidator constructs a validator with the provided configuration.
func NewSessionValidator(cfg SessionValidatorConfig) (*SessionValidator, error) {
	if len(cfg.SigningSecret) == 0 {
		return nil, ErrMissingSessionSigningKey
	}
	cookieName := strings.TrimSpace(cfg.CookieName)
	if cookieName == "" {
		return nil, ErrMissingSessionCookieName
	}
	issuer := strings.TrimSpace(cfg.Issuer)
	if issuer == "" {
		issuer = DefaultSessionIssuer
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &SessionValidator{
		signingSecret: append([]byte(nil), cfg.SigningSecret...),
		parser: jwt.NewParser(
			jwt.WithTimeFunc(clock),
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithIssuer(issuer),
			jwt.WithExpirationRequired(),
		),
		cookieName: cookieName,
	}, nil
}

// CookieName returns the cookie name configured for session lookups.
func (v *SessionValidator) CookieName() string {
	return v.cookieName
}

// ValidateToken verifies tokenString and resolves the session it carries.
func (v *SessionValidator) ValidateToken(tokenString string) (Session, error) {
	token := strings.TrimSpace(tokenString)
	if token == "" {
		return Session{}, ErrMissingSessionToken
	}

	claims := &SessionClaims{}
	_, err := v.parser.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return v.signingSecret, nil
	})
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return Session{}, ErrExpiredSessionToken
	case err != nil:
		return Session{}, fmt.Errorf("%w: %v", ErrInvalidSessionToken, err)
	}

	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || userID <= 0 {
		return Session{}, fmt.Errorf("%w: subject %q", ErrInvalidSessionUser, claims.Subject)
	}
	username := strings.TrimSpace(claims.Username)
	if username == "" {
		return Session{}, fmt.Errorf("%w: user %d has no username claim", ErrInvalidSessionUser, userID)
	}

	session := Session{UserID: userID, Username: username}
	if claims.ExpiresAt != nil {
		session.ExpiresAt = claims.ExpiresAt.Time
	}
	return session, nil
}

// ValidateRequest reads the session cookie from r and validates it.
func (v *SessionValidator) ValidateRequest(r *http.Request) (Session, error) {
	if r == nil {
		return Session{}, ErrMissingSessionToken
	}
	cookie, err := r.Cookie(v.cookieName)
	if err != nil {
		return Session{}, ErrMissingSessionToken
	}
	return v.ValidateToken(cookie.Value)
}
