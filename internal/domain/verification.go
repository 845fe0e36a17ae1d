package domain

import (
	"time"

	"github.com/google/uuid"
)

// CodeLength is the number of decimal digits in a one-time code.
const CodeLength = 6

// Purpose scopes a challenge. Challenges of different purposes never interact.
type Purpose string

const (
	PurposeSignup          Purpose = "signup"
	PurposeCredentialReset Purpose = "credential_reset"
)

// ParsePurpose maps a request value onto the closed set of purposes.
func ParsePurpose(s string) (Purpose, bool) {
	switch Purpose(s) {
	case PurposeSignup, PurposeCredentialReset:
		return Purpose(s), true
	}
	return "", false
}

// ChallengeKey identifies at most one live challenge.
type ChallengeKey struct {
	Identity string
	Purpose  Purpose
}

// String returns the composite "identity|purpose" form.
func (k ChallengeKey) String() string {
	return k.Identity + "|" + string(k.Purpose)
}

// Challenge is an issued one-time code awaiting verification.
type Challenge struct {
	Identity  string    `json:"identity" bson:"identity"`
	Purpose   Purpose   `json:"purpose" bson:"purpose"`
	Code      string    `json:"code" bson:"code"`
	Attempts  int       `json:"attempts" bson:"attempts"`
	CreatedAt time.Time `json:"created_at" bson:"created_at"`
	ExpiresAt time.Time `json:"expires_at" bson:"expires_at"`
	// Version is bumped on every write; persistent stores use it for
	// optimistic concurrency.
	Version int64 `json:"version" bson:"version"`
}

// NewChallenge creates a challenge valid for ttl from now.
func NewChallenge(identity string, purpose Purpose, code string, now time.Time, ttl time.Duration) *Challenge {
	return &Challenge{
		Identity:  identity,
		Purpose:   purpose,
		Code:      code,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
}

// Key returns the challenge's store key.
func (c *Challenge) Key() ChallengeKey {
	return ChallengeKey{Identity: c.Identity, Purpose: c.Purpose}
}

// Expired reports whether the challenge is older than its validity window.
func (c *Challenge) Expired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}

// ResetAuthorization records that an identity proved control of its mailbox
// for a credential reset. It is consumed by exactly one reset.
type ResetAuthorization struct {
	Identity string `json:"identity" bson:"_id"`
	// ID distinguishes successive authorizations for the same identity.
	ID         string    `json:"id" bson:"auth_id"`
	VerifiedAt time.Time `json:"verified_at" bson:"verified_at"`
	ExpiresAt  time.Time `json:"expires_at" bson:"expires_at"`
}

// NewResetAuthorization creates an authorization valid for ttl from now.
func NewResetAuthorization(identity string, now time.Time, ttl time.Duration) *ResetAuthorization {
	return &ResetAuthorization{
		Identity:   identity,
		ID:         uuid.New().String(),
		VerifiedAt: now,
		ExpiresAt:  now.Add(ttl),
	}
}

// Expired reports whether the authorization is past its validity window.
func (a *ResetAuthorization) Expired(now time.Time) bool {
	return now.After(a.ExpiresAt)
}
