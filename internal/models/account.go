package models

import (
	"time"

	"github.com/google/uuid"
)

// Sign-in providers.
const (
	ProviderGoogle = "google"
	ProviderPhone  = "phone"
)

// Account is a signed-up user as known to the identity provider.
type Account struct {
	ID          uuid.UUID `json:"id"`
	Provider    string    `json:"provider"`
	Subject     string    `json:"-"` // google user id or E.164 phone number
	DisplayName string    `json:"displayName,omitempty"`
	PhotoURL    string    `json:"photoURL,omitempty"`
	Email       string    `json:"email,omitempty"`
	Phone       string    `json:"phone,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Profile returns the participant profile for this account.
func (a *Account) Profile() Profile {
	return Profile{
		ID:          a.ID.String(),
		DisplayName: a.DisplayName,
		PhotoURL:    a.PhotoURL,
		Phone:       a.Phone,
	}
}
