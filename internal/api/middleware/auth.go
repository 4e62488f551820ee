package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/midlaj1055/live-chat/internal/identity"
	"github.com/midlaj1055/live-chat/internal/models"
)

// SessionCookie carries the session token for browser clients.
const SessionCookie = "live_chat_session"

// Authenticator resolves session tokens.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*models.Account, *identity.Claims, error)
}

// AuthMiddleware checks session tokens on authenticated endpoints.
type AuthMiddleware struct {
	auth   Authenticator
	logger zerolog.Logger
}

// NewAuthMiddleware creates a new auth middleware.
func NewAuthMiddleware(auth Authenticator, logger zerolog.Logger) *AuthMiddleware {
	return &AuthMiddleware{auth: auth, logger: logger}
}

// RequireAuth rejects requests without a valid session token and puts the
// account into the request context.
func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := SessionToken(r)
		if token == "" {
			jsonError(w, http.StatusUnauthorized, "missing session token")
			return
		}

		acct, _, err := m.auth.Authenticate(r.Context(), token)
		switch {
		case errors.Is(err, identity.ErrTokenExpired):
			jsonError(w, http.StatusUnauthorized, "session expired")
			return
		case errors.Is(err, identity.ErrInvalidToken):
			jsonError(w, http.StatusUnauthorized, "invalid session token")
			return
		case err != nil:
			m.logger.Error().Err(err).Msg("session lookup failed")
			jsonError(w, http.StatusServiceUnavailable, "session lookup failed")
			return
		}

		next.ServeHTTP(w, r.WithContext(identity.WithAccount(r.Context(), acct, token)))
	})
}

// SessionToken finds the token in the Authorization header, the session
// cookie, or a token query parameter (websocket handshakes cannot set
// headers from the browser).
func SessionToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	if c, err := r.Cookie(SessionCookie); err == nil && c.Value != "" {
		return c.Value
	}
	return r.URL.Query().Get("token")
}

func jsonError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
