package gateway

import (
	"github.com/midlaj1055/live-chat/internal/chat"
)

// Client frame types.
const (
	FrameVisibility  = "visibility"
	FrameSelect      = "select"
	FrameDraft       = "draft"
	FrameReply       = "reply"
	FrameCancelReply = "cancel_reply"
	FrameSend        = "send"
	FrameDelete      = "delete"
	FramePermission  = "permission"
	FrameUnload      = "unload"
)

// Server frame types.
const (
	FrameDirectory         = "directory"
	FramePeer              = "peer"
	FrameTimeline          = "timeline"
	FrameComposer          = "composer"
	FrameNotification      = "notification"
	FrameRequestPermission = "request_permission"
	FrameSignedOut         = "signed_out"
	FrameError             = "error"
)

// ClientFrame is a message from the browser.
type ClientFrame struct {
	Type       string          `json:"type"`
	Visible    *bool           `json:"visible,omitempty"`
	PeerID     string          `json:"peerId,omitempty"`
	Text       string          `json:"text,omitempty"`
	MessageID  string          `json:"messageId,omitempty"`
	Permission chat.Permission `json:"permission,omitempty"`
}

// ServerFrame is a message to the browser.
type ServerFrame struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// DirectoryPayload is the payload of a directory frame.
type DirectoryPayload struct {
	State   chat.LoadState        `json:"state"`
	Entries []chat.DirectoryEntry `json:"entries"`
}

// ErrorPayload is the payload of an error frame.
type ErrorPayload struct {
	For     string `json:"for,omitempty"`
	Message string `json:"message"`
}
