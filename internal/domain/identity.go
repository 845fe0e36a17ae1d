package domain

import (
	"errors"
	"net/mail"
	"strings"
)

// ErrInvalidIdentity is returned for identities that are not plain email addresses.
var ErrInvalidIdentity = errors.New("invalid email identity")

// NormalizeIdentity lower-cases and trims an email address and checks that it
// is a bare, well-formed address. The result is the canonical key used for
// challenges, authorizations and accounts.
func NormalizeIdentity(raw string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(raw))
	if email == "" {
		return "", ErrInvalidIdentity
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || addr.Name != "" {
		return "", ErrInvalidIdentity
	}
	return email, nil
}
