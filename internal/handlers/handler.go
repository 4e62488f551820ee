package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/midlaj1055/live-chat/internal/identity"
	"github.com/midlaj1055/live-chat/internal/store"
)

// Options carries the presentation settings handlers share with the gateway.
type Options struct {
	Location         *time.Location
	DefaultAvatarURL string
	// SecureCookies marks session cookies Secure (production).
	SecureCookies bool
	// AppPath is where browsers land after a Google sign-in.
	AppPath string
	Now     func() time.Time
}

// Handler contains shared dependencies for all HTTP handlers.
type Handler struct {
	accounts store.DataStore
	live     store.LiveStore
	identity *identity.Service
	opts     Options
	logger   zerolog.Logger
}

// NewHandler creates a new Handler with the given stores.
func NewHandler(accounts store.DataStore, live store.LiveStore, ident *identity.Service, opts Options, logger zerolog.Logger) *Handler {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.AppPath == "" {
		opts.AppPath = "/live-chat/"
	}
	return &Handler{accounts: accounts, live: live, identity: ident, opts: opts, logger: logger}
}

// JSON sends a JSON response with the given status code.
func (h *Handler) JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Error sends a JSON error response with the given status code.
func (h *Handler) Error(w http.ResponseWriter, status int, message string) {
	h.JSON(w, status, map[string]string{"error": message})
}

// decode reads a JSON body into v, answering 400 itself on failure.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

