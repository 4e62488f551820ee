package models

import "time"

// Message is one entry of a conversation. CreatedAt is assigned by the store;
// a zero value means the server timestamp has not been observed yet.
type Message struct {
	ID        string    `json:"id"` // ULID
	Text      string    `json:"text"`
	SenderID  string    `json:"senderId"`
	CreatedAt time.Time `json:"createdAt"`
	ReplyTo   *ReplyRef `json:"replyTo,omitempty"`
}

// ReplyRef is a point-in-time copy of the message being replied to.
type ReplyRef struct {
	MessageID string `json:"messageId"`
	Text      string `json:"text"`
	SenderID  string `json:"senderId"`
}

// NewMessage is the payload handed to the store on creation.
type NewMessage struct {
	Text     string
	SenderID string
	ReplyTo  *ReplyRef
}
