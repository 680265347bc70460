// internal/mailer/mailer.go
package mailer

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies a send failure for the retry policy.
type Kind string

const (
	Transient Kind = "transient" // network/timeout, eligible for retry
	Permanent Kind = "permanent" // rejected outright, never retried
	Throttled Kind = "throttled" // rate limited, retry with longer backoff
)

// SendError is a classified per-recipient send failure.
type SendError struct {
	Kind Kind
	Err  error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send failed (%s): %v", e.Kind, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

// KindOf extracts the classification from err. Errors that carry no explicit
// classification are treated as transient, so unknown failures stay eligible
// for retry.
func KindOf(err error) Kind {
	var se *SendError
	if errors.As(err, &se) {
		return se.Kind
	}
	return Transient
}

// AuthError means the mail endpoint rejected the credentials or could not be
// reached for verification; the campaign must not start.
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication failed: %v", e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// Message is one rendered, ready-to-send email.
type Message struct {
	To          string
	Subject     string
	Body        string
	Attachments []string
}

// Config holds transport settings for a mailer. The campaign engine carries
// it opaquely; only the adapter interprets it.
type Config struct {
	Host       string
	Port       int
	Username   string
	Password   string
	From       string
	SenderName string
	UseTLS     bool
}

// Mailer is the port the campaign engine sends through. Implementations must
// be safe for concurrent use by multiple workers.
type Mailer interface {
	Authenticate(ctx context.Context) error
	Send(ctx context.Context, msg Message) error
}
