package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/murmur/internal/auth"
	"github.com/MarcoPoloResearchLab/murmur/internal/kvstore"
	"github.com/MarcoPoloResearchLab/murmur/internal/social"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const (
	testSigningSecret = "test-signing-secret"
	testCookieName    = "murmur_session"
)

type testHarness struct {
	handler    http.Handler
	service    *social.Service
	store      kvstore.Store
	issuer     *auth.TokenIssuer
	dispatcher *RealtimeDispatcher
}

func newTestHarness(t *testing.T, store kvstore.Store, logger *zap.Logger) *testHarness {
	t.Helper()
	gin.SetMode(gin.TestMode)
	if store == nil {
		store = kvstore.NewMemoryStore()
	}
	service, err := social.NewService(social.ServiceConfig{
		Store:  store,
		Hasher: social.NewBcryptHasher(bcrypt.MinCost),
		Logger: logger,
		Retry:  social.RetryPolicy{MaxAttempts: 2, InitialInterval: time.Millisecond},
	})
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}
	issuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(testSigningSecret),
		TokenTTL:      time.Hour,
	})
	if err != nil {
		t.Fatalf("failed to create token issuer: %v", err)
	}
	validator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(testSigningSecret),
		CookieName:    testCookieName,
	})
	if err != nil {
		t.Fatalf("failed to create session validator: %v", err)
	}
	dispatcher := NewRealtimeDispatcher()
	handler, err := NewHTTPHandler(Dependencies{
		Service:           service,
		TokenIssuer:       issuer,
		Sessions:          validator,
		Realtime:          dispatcher,
		Logger:            logger,
		HeartbeatInterval: 50 * time.Millisecond,
		RedeliveryDelay:   time.Millisecond,
	})
	if err != nil {
		t.Fatalf("failed to construct http handler: %v", err)
	}
	return &testHarness{
		handler:    handler,
		service:    service,
		store:      store,
		issuer:     issuer,
		dispatcher: dispatcher,
	}
}

func (h *testHarness) do(t *testing.T, method, path string, body any, cookie *http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}
	request := httptest.NewRequest(method, path, reader)
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	if cookie != nil {
		request.AddCookie(cookie)
	}
	recorder := httptest.NewRecorder()
	h.handler.ServeHTTP(recorder, request)
	return recorder
}

// login signs username up or in and returns the session cookie.
func (h *testHarness) login(t *testing.T, username, password string) *http.Cookie {
	t.Helper()
	recorder := h.do(t, http.MethodPost, "/session", map[string]string{"username": username, "password": password}, nil)
	if recorder.Code != http.StatusCreated && recorder.Code != http.StatusOK {
		t.Fatalf("login %s failed: %d %s", username, recorder.Code, recorder.Body.String())
	}
	for _, cookie := range recorder.Result().Cookies() {
		if cookie.Name == testCookieName {
			return cookie
		}
	}
	t.Fatalf("expected session cookie for %s", username)
	return nil
}

func decodeJSON(t *testing.T, recorder *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.Unmarshal(recorder.Body.Bytes(), target); err != nil {
		t.Fatalf("failed to decode response %q: %v", recorder.Body.String(), err)
	}
}

// flakyTimelineStore fails the next n pushes onto one key.
type flakyTimelineStore struct {
	kvstore.Store

	key       string
	mu        sync.Mutex
	remaining int
}

func (s *flakyTimelineStore) failNext(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.remaining = n
}

func (s *flakyTimelineStore) LPush(ctx context.Context, key string, values ...string) (int64, error) {
	s.mu.Lock()
	fail := key == s.key && s.remaining > 0
	if fail {
		s.remaining--
	}
	s.mu.Unlock()
	if fail {
		return 0, errors.New("injected push failure")
	}
	return s.Store.LPush(ctx, key, values...)
}

// flakyFollowersStore fails the next n follower-set reads of one key.
type flakyFollowersStore struct {
	kvstore.Store

	key       string
	mu        sync.Mutex
	remaining int
}

func (s *flakyFollowersStore) failNext(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.remaining = n
}

func (s *flakyFollowersStore) SMembers(ctx context.Context, key string) ([]string, error) {
	s.mu.Lock()
	fail := key == s.key && s.remaining > 0
	if fail {
		s.remaining--
	}
	s.mu.Unlock()
	if fail {
		return nil, errors.New("injected read failure")
	}
	return s.Store.SMembers(ctx, key)
}

type stubSessionValidator struct {
	session auth.Session
	err    error
}

func (s stubSessionValidator) ValidateRequest(*http.Request) (auth.Session, error) {
	return s.session, s.err
}

func (s stubSessionValidator) CookieName() string {
	return testCookieName
}
