package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/midlaj1055/live-chat/internal/chat"
	"github.com/midlaj1055/live-chat/internal/identity"
	"github.com/midlaj1055/live-chat/internal/models"
)

// SendMessageRequest represents the compose request body.
type SendMessageRequest struct {
	Text    string `json:"text"`
	ReplyTo string `json:"replyTo,omitempty"` // id of the message being replied to
}

// TimelineResponse is a conversation grouped under day dividers.
type TimelineResponse struct {
	Key   string              `json:"key"`
	Items []chat.TimelineItem `json:"items"`
}

// conversation resolves the caller and the conversation key with the peer
// in the URL. It answers the error itself and returns "" on failure.
func (h *Handler) conversation(w http.ResponseWriter, r *http.Request) (*models.Account, string) {
	acct := identity.AccountFrom(r.Context())
	if acct == nil {
		h.Error(w, http.StatusUnauthorized, "authentication required")
		return nil, ""
	}

	peer := chi.URLParam(r, "peer")
	if _, err := uuid.Parse(peer); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid peer ID format")
		return nil, ""
	}
	self := acct.ID.String()
	if peer == self {
		h.Error(w, http.StatusBadRequest, "cannot open a conversation with yourself")
		return nil, ""
	}
	return acct, chat.ConversationKey(self, peer)
}

// Timeline returns the conversation with the peer, grouped by day.
func (h *Handler) Timeline(w http.ResponseWriter, r *http.Request) {
	acct, key := h.conversation(w, r)
	if key == "" {
		return
	}

	msgs, err := h.live.ListMessages(r.Context(), key)
	if err != nil {
		h.logger.Error().Err(err).Str("key", key).Msg("timeline read failed")
		h.Error(w, http.StatusServiceUnavailable, "conversation unavailable")
		return
	}

	h.JSON(w, http.StatusOK, TimelineResponse{
		Key:   key,
		Items: chat.GroupTimeline(msgs, acct.ID.String(), h.opts.Now(), h.opts.Location),
	})
}

// SendMessage appends a message to the conversation with the peer. A reply
// carries a copy of the target as it is now.
func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	acct, key := h.conversation(w, r)
	if key == "" {
		return
	}

	var req SendMessageRequest
	if !h.decode(w, r, &req) {
		return
	}
	if chat.CleanText(req.Text) == "" {
		h.Error(w, http.StatusBadRequest, "text is required")
		return
	}

	in := models.NewMessage{Text: req.Text, SenderID: acct.ID.String()}
	if req.ReplyTo != "" {
		ref, err := h.replyRef(r, key, req.ReplyTo)
		if err != nil {
			if errors.Is(err, chat.ErrMessageNotFound) {
				h.Error(w, http.StatusNotFound, "reply target not found")
				return
			}
			h.Error(w, http.StatusServiceUnavailable, "conversation unavailable")
			return
		}
		in.ReplyTo = ref
	}

	msg, err := chat.SendMessage(r.Context(), h.live, key, in)
	if errors.Is(err, chat.ErrMessageTooLong) {
		h.Error(w, http.StatusUnprocessableEntity, "text too long (max 4096 bytes)")
		return
	}
	if err != nil {
		h.logger.Error().Err(err).Str("key", key).Msg("send failed")
		h.Error(w, http.StatusServiceUnavailable, "failed to send message")
		return
	}

	h.JSON(w, http.StatusCreated, msg)
}

func (h *Handler) replyRef(r *http.Request, key, id string) (*models.ReplyRef, error) {
	msgs, err := h.live.ListMessages(r.Context(), key)
	if err != nil {
		return nil, err
	}
	for _, m := range msgs {
		if m.ID == id {
			return &models.ReplyRef{MessageID: m.ID, Text: m.Text, SenderID: m.SenderID}, nil
		}
	}
	return nil, chat.ErrMessageNotFound
}

// DeleteMessage removes one of the caller's own messages.
func (h *Handler) DeleteMessage(w http.ResponseWriter, r *http.Request) {
	acct, key := h.conversation(w, r)
	if key == "" {
		return
	}
	id := chi.URLParam(r, "id")

	err := chat.DeleteOwnMessage(r.Context(), h.live, key, acct.ID.String(), id)
	switch {
	case errors.Is(err, chat.ErrMessageNotFound):
		h.Error(w, http.StatusNotFound, "message not found")
		return
	case errors.Is(err, chat.ErrNotAuthor):
		h.Error(w, http.StatusForbidden, "only the author can delete a message")
		return
	case err != nil:
		h.logger.Warn().Err(err).Str("key", key).Str("message_id", id).Msg("delete failed")
		h.Error(w, http.StatusServiceUnavailable, "failed to delete message")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
