// Package notify delivers one-time codes by email. A Dispatcher runs
// deliveries in the background with retries on a primary Provider and a
// single final attempt on an optional fallback Provider.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrNotConfigured is returned by a provider whose transport settings are missing.
var ErrNotConfigured = errors.New("mail provider not configured")

// Delivery error codes.
const (
	CodeNotConfigured  = "not_configured"
	CodeInvalidMessage = "invalid_message"
	CodeAuthFailed     = "auth_failed"
	CodeTimeout        = "timeout"
	CodeTransport      = "transport"
	CodeRejected       = "rejected"
)

// Message is a rendered email.
type Message struct {
	To      string
	Subject string
	HTML    string
	Text    string
}

// Provider sends a rendered message through one transport.
type Provider interface {
	Name() string
	Send(ctx context.Context, msg *Message) error
}

// DeliveryError describes a failed send. StatusCode is the upstream reply
// code (SMTP or HTTP) when one was received.
type DeliveryError struct {
	Provider   string
	Code       string
	StatusCode int
	Err        error
}

func (e *DeliveryError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s delivery failed (%s", e.Provider, e.Code)
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, ", upstream %d", e.StatusCode)
	}
	b.WriteString(")")
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether retrying the same provider could succeed.
// Configuration and message errors are permanent.
func IsRetryable(err error) bool {
	var de *DeliveryError
	if errors.As(err, &de) {
		return de.Code != CodeNotConfigured && de.Code != CodeInvalidMessage
	}
	return !errors.Is(err, ErrNotConfigured)
}

// ErrorCode returns the delivery error code carried by err, if any.
func ErrorCode(err error) string {
	var de *DeliveryError
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}
