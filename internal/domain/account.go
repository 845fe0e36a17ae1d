package domain

import (
	"time"

	"github.com/google/uuid"
)

// AccountID represents a unique account identifier
type AccountID struct {
	ID string `json:"id" bson:"id"`
}

// NewAccountID creates a new account ID
func NewAccountID() AccountID {
	return AccountID{ID: uuid.New().String()}
}

// AccountIDFromString creates an AccountID from a string
func AccountIDFromString(id string) AccountID {
	return AccountID{ID: id}
}

// String returns the string representation
func (a AccountID) String() string {
	return a.ID
}

// Account is a marketplace user record. Email is always stored normalized.
type Account struct {
	ID            AccountID `json:"id" bson:"_id"`
	Email         string    `json:"email" bson:"email"`
	DisplayName   string    `json:"display_name,omitempty" bson:"display_name,omitempty"`
	PasswordHash  string    `json:"-" bson:"password_hash"`
	EmailVerified bool      `json:"email_verified" bson:"email_verified"`

	CreatedAt time.Time `json:"created_at" bson:"created_at"`
	UpdatedAt time.Time `json:"updated_at" bson:"updated_at"`
}
