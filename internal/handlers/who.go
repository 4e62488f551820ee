package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/midlaj1055/live-chat/internal/chat"
)

// Who handles participant lookup.
func (h *Handler) Who(w http.ResponseWriter, r *http.Request) {
	idStr := chi.URLParam(r, "id")

	// Participant ids are account UUIDs
	if _, err := uuid.Parse(idStr); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid participant ID format")
		return
	}

	p, err := h.live.GetParticipant(r.Context(), idStr)
	if err != nil {
		h.Error(w, http.StatusServiceUnavailable, "directory unavailable")
		return
	}
	if p == nil {
		h.Error(w, http.StatusNotFound, "participant not found")
		return
	}

	h.JSON(w, http.StatusOK, chat.EntryFor(*p, h.opts.Now(), h.opts.Location))
}
