package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/midlaj1055/live-chat/internal/identity"
	"github.com/midlaj1055/live-chat/internal/models"
)

func TestNormalizePath(t *testing.T) {
	cases := map[string]string{
		"/conversations/abc/messages":     "/conversations/:peer/messages",
		"/conversations/abc/messages/123": "/conversations/:peer/messages/:id",
		"/who/abc":                        "/who/:id",
		"/live-chat/index.html":           "/live-chat/*",
		"/live-chat/":                     "/live-chat/",
		"/directory":                      "/directory",
	}
	for in, want := range cases {
		assert.Equal(t, want, normalizePath(in), in)
	}
}

func TestSessionTokenSources(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/ws?token=query", nil)
	assert.Equal(t, "query", SessionToken(r))

	r.AddCookie(&http.Cookie{Name: SessionCookie, Value: "cookie"})
	assert.Equal(t, "cookie", SessionToken(r))

	r.Header.Set("Authorization", "Bearer header")
	assert.Equal(t, "header", SessionToken(r))

	bare := httptest.NewRequest(http.MethodGet, "/", nil)
	bare.Header.Set("Authorization", "Basic abc")
	assert.Empty(t, SessionToken(bare))
}

type fakeAuth struct {
	acct *models.Account
	err  error
}

func (f fakeAuth) Authenticate(ctx context.Context, token string) (*models.Account, *identity.Claims, error) {
	if f.err != nil {
		return nil, nil, f.err
	}
	return f.acct, &identity.Claims{}, nil
}

func TestRequireAuth(t *testing.T) {
	acct := &models.Account{ID: uuid.New()}
	var seen *models.Account
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = identity.AccountFrom(r.Context())
		assert.Equal(t, "good", identity.TokenFrom(r.Context()))
		w.WriteHeader(http.StatusNoContent)
	})

	cases := []struct {
		name   string
		auth   fakeAuth
		token  string
		status int
	}{
		{"missing", fakeAuth{acct: acct}, "", http.StatusUnauthorized},
		{"expired", fakeAuth{err: identity.ErrTokenExpired}, "good", http.StatusUnauthorized},
		{"invalid", fakeAuth{err: identity.ErrInvalidToken}, "good", http.StatusUnauthorized},
		{"store down", fakeAuth{err: errors.New("redis: connection refused")}, "good", http.StatusServiceUnavailable},
		{"ok", fakeAuth{acct: acct}, "good", http.StatusNoContent},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			seen = nil
			h := NewAuthMiddleware(tc.auth, zerolog.Nop()).RequireAuth(next)
			r := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tc.token != "" {
				r.Header.Set("Authorization", "Bearer "+tc.token)
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, r)
			assert.Equal(t, tc.status, w.Code)
			if tc.status == http.StatusNoContent {
				assert.Equal(t, acct, seen)
			} else {
				assert.Nil(t, seen)
				assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
			}
		})
	}
}

func TestValidateRequest(t *testing.T) {
	h := ValidateRequest(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	r := httptest.NewRequest(http.MethodGet, "/who/x?q=<script>", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	r = httptest.NewRequest(http.MethodPost, "/presence", strings.NewReader(`{"online":true}`))
	r.Header.Set("Content-Type", "text/plain")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, r)
	assert.Equal(t, http.StatusUnsupportedMediaType, w.Code)

	r = httptest.NewRequest(http.MethodPost, "/presence", strings.NewReader(`{"online":true}`))
	r.Header.Set("Content-Type", "application/json")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, r)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestSecurityHeaders(t *testing.T) {
	h := SecurityHeaders(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/directory", nil))
	assert.Equal(t, "default-src 'none'", w.Header().Get("Content-Security-Policy"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/live-chat/index.html", nil))
	assert.Contains(t, w.Header().Get("Content-Security-Policy"), "img-src 'self' data: https:")
}

func TestMetricsKeepsHijacker(t *testing.T) {
	var ok bool
	h := Metrics(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, ok = w.(http.Hijacker)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/ws", nil))
	assert.True(t, ok)
}
