package handlers

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"net/http"
	"time"

	"github.com/midlaj1055/live-chat/internal/api/middleware"
	"github.com/midlaj1055/live-chat/internal/identity"
	"github.com/midlaj1055/live-chat/internal/models"
)

const oauthStateCookie = "live_chat_oauth_state"

// PhoneStartRequest asks for a one-time code.
type PhoneStartRequest struct {
	Phone string `json:"phone"`
}

// PhoneVerifyRequest redeems a one-time code.
type PhoneVerifyRequest struct {
	Phone string `json:"phone"`
	Code  string `json:"code"`
}

// StartPhoneSignIn sends a one-time code to the number in the body.
func (h *Handler) StartPhoneSignIn(w http.ResponseWriter, r *http.Request) {
	var req PhoneStartRequest
	if !h.decode(w, r, &req) {
		return
	}

	err := h.identity.StartPhoneSignIn(r.Context(), req.Phone)
	switch {
	case errors.Is(err, identity.ErrInvalidPhone):
		h.Error(w, http.StatusBadRequest, "phone must be in E.164 format, e.g. +15551234567")
		return
	case err != nil:
		h.logger.Error().Err(err).Msg("failed to send sign-in code")
		h.Error(w, http.StatusInternalServerError, "failed to send code")
		return
	}

	h.JSON(w, http.StatusAccepted, map[string]string{"status": "code_sent"})
}

// VerifyPhoneSignIn redeems a code, answers with the session and sets the
// session cookie for browsers.
func (h *Handler) VerifyPhoneSignIn(w http.ResponseWriter, r *http.Request) {
	var req PhoneVerifyRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Code == "" {
		h.Error(w, http.StatusBadRequest, "code is required")
		return
	}

	in, err := h.identity.VerifyPhoneCode(r.Context(), req.Phone, req.Code)
	switch {
	case errors.Is(err, identity.ErrInvalidPhone):
		h.Error(w, http.StatusBadRequest, "phone must be in E.164 format")
		return
	case errors.Is(err, identity.ErrInvalidCode), errors.Is(err, identity.ErrCodeExpired):
		h.Error(w, http.StatusUnauthorized, "invalid or expired code")
		return
	case errors.Is(err, identity.ErrTooManyAttempts):
		h.Error(w, http.StatusTooManyRequests, "too many attempts, request a new code")
		return
	case err != nil:
		h.logger.Error().Err(err).Msg("phone sign-in failed")
		h.Error(w, http.StatusInternalServerError, "sign-in failed")
		return
	}

	h.setSessionCookie(w, in.Token, in.ExpiresAt)
	h.JSON(w, http.StatusOK, in)
}

// GoogleLogin redirects to the Google consent page.
func (h *Handler) GoogleLogin(w http.ResponseWriter, r *http.Request) {
	state, err := randomState()
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to start sign-in")
		return
	}
	url, err := h.identity.GoogleAuthURL(state)
	if errors.Is(err, identity.ErrGoogleDisabled) {
		h.Error(w, http.StatusNotFound, "google sign-in is not configured")
		return
	}
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to start sign-in")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    state,
		Path:     "/auth/google",
		MaxAge:   600,
		HttpOnly: true,
		Secure:   h.opts.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, url, http.StatusTemporaryRedirect)
}

// GoogleCallback completes the Google sign-in and sends the browser to the app.
func (h *Handler) GoogleCallback(w http.ResponseWriter, r *http.Request) {
	c, err := r.Cookie(oauthStateCookie)
	state := r.URL.Query().Get("state")
	if err != nil || state == "" || subtle.ConstantTimeCompare([]byte(c.Value), []byte(state)) != 1 {
		h.Error(w, http.StatusBadRequest, "invalid oauth state")
		return
	}
	http.SetCookie(w, &http.Cookie{Name: oauthStateCookie, Path: "/auth/google", MaxAge: -1})

	code := r.URL.Query().Get("code")
	if code == "" {
		h.Error(w, http.StatusBadRequest, "missing authorization code")
		return
	}

	in, err := h.identity.CompleteGoogleSignIn(r.Context(), code)
	if errors.Is(err, identity.ErrGoogleDisabled) {
		h.Error(w, http.StatusNotFound, "google sign-in is not configured")
		return
	}
	if err != nil {
		h.logger.Warn().Err(err).Msg("google sign-in failed")
		h.Error(w, http.StatusUnauthorized, "google sign-in failed")
		return
	}

	h.setSessionCookie(w, in.Token, in.ExpiresAt)
	http.Redirect(w, r, h.opts.AppPath, http.StatusSeeOther)
}

// Logout revokes the caller's session. Open websocket sessions of the same
// token receive signed_out and close.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	token := identity.TokenFrom(r.Context())
	if err := h.identity.SignOut(r.Context(), token); err != nil {
		if errors.Is(err, identity.ErrInvalidToken) || errors.Is(err, identity.ErrTokenExpired) {
			h.Error(w, http.StatusUnauthorized, "invalid session token")
			return
		}
		h.logger.Error().Err(err).Msg("sign-out failed")
		h.Error(w, http.StatusInternalServerError, "sign-out failed")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookie,
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.opts.SecureCookies,
	})
	h.JSON(w, http.StatusOK, map[string]string{"status": identity.EventSignedOut})
}

// MeResponse is the caller's account and directory record.
type MeResponse struct {
	Account     *models.Account     `json:"account"`
	Participant *models.Participant `json:"participant,omitempty"`
}

// Me returns the signed-in account.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	acct := identity.AccountFrom(r.Context())
	if acct == nil {
		h.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}

	p, err := h.live.GetParticipant(r.Context(), acct.ID.String())
	if err != nil {
		h.logger.Warn().Err(err).Str("participant", acct.ID.String()).Msg("participant lookup failed")
	}
	h.JSON(w, http.StatusOK, MeResponse{Account: acct, Participant: p})
}

func (h *Handler) setSessionCookie(w http.ResponseWriter, token string, expires time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookie,
		Value:    token,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		Secure:   h.opts.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

func randomState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
