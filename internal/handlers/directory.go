package handlers

import (
	"net/http"

	"github.com/midlaj1055/live-chat/internal/chat"
	"github.com/midlaj1055/live-chat/internal/identity"
)

// DirectoryResponse lists every other participant.
type DirectoryResponse struct {
	Participants []chat.DirectoryEntry `json:"participants"`
}

// Directory returns the participant directory without the caller.
func (h *Handler) Directory(w http.ResponseWriter, r *http.Request) {
	acct := identity.AccountFrom(r.Context())
	if acct == nil {
		h.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}

	ps, err := h.live.ListParticipants(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("directory read failed")
		h.Error(w, http.StatusServiceUnavailable, "directory unavailable")
		return
	}

	h.JSON(w, http.StatusOK, DirectoryResponse{
		Participants: chat.ProjectDirectory(ps, acct.ID.String(), h.opts.Now(), h.opts.Location),
	})
}

// PresenceRequest sets the caller's presence.
type PresenceRequest struct {
	Online *bool `json:"online"`
}

// Presence writes the caller's online flag and last-seen time. The record is
// created from the account profile the first time.
func (h *Handler) Presence(w http.ResponseWriter, r *http.Request) {
	acct := identity.AccountFrom(r.Context())
	if acct == nil {
		h.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var req PresenceRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Online == nil {
		h.Error(w, http.StatusBadRequest, "online is required")
		return
	}

	profile := chat.WithProfileDefaults(acct.Profile(), h.opts.DefaultAvatarURL)
	if err := chat.WritePresence(r.Context(), h.live, profile, *req.Online); err != nil {
		h.logger.Warn().Err(err).Str("participant", profile.ID).Msg("presence write failed")
		h.Error(w, http.StatusServiceUnavailable, "presence write failed")
		return
	}

	p, err := h.live.GetParticipant(r.Context(), profile.ID)
	if err != nil || p == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	h.JSON(w, http.StatusOK, chat.EntryFor(*p, h.opts.Now(), h.opts.Location))
}
