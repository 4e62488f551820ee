package models

import "time"

// Participant is a user's record in the shared directory.
type Participant struct {
	ID          string     `json:"id"`
	DisplayName string     `json:"displayName"`
	PhotoURL    string     `json:"photoURL"`
	Online      bool       `json:"online"`
	LastSeen    *time.Time `json:"lastSeen,omitempty"` // nil = never recorded
}

// Profile is the identity of the local participant as supplied by the identity provider.
type Profile struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	PhotoURL    string `json:"photoURL"`
	Phone       string `json:"phone,omitempty"`
}
