// internal/errors/errors.go
package appErrors

import "fmt"

// ErrAlreadyRunning is a sentinel error returned by Start when the campaign
// is not idle.
type ErrAlreadyRunning struct {
	Phase string
}

func (e *ErrAlreadyRunning) Error() string {
	return fmt.Sprintf("campaign already running (phase %s)", e.Phase)
}

// Helper constructor
func NewAlreadyRunning(phase string) error {
	return &ErrAlreadyRunning{Phase: phase}
}

// ErrAlreadyMarked guards against double-processing: an outcome may be
// recorded at most once per recipient identity.
type ErrAlreadyMarked struct {
	Identity string
}

func (e *ErrAlreadyMarked) Error() string {
	return fmt.Sprintf("outcome already marked for %s", e.Identity)
}

func NewAlreadyMarked(identity string) error {
	return &ErrAlreadyMarked{Identity: identity}
}

// ErrInvalidField means the chosen email-field key is absent from the
// recipient schema.
type ErrInvalidField struct {
	Field string
}

func (e *ErrInvalidField) Error() string {
	return fmt.Sprintf("email field %q not present in recipient schema", e.Field)
}

func NewInvalidField(field string) error {
	return &ErrInvalidField{Field: field}
}

// ErrInvalidTransition means a lifecycle operation was requested from a phase
// that does not allow it.
type ErrInvalidTransition struct {
	Op   string
	From string
}

func (e *ErrInvalidTransition) Error() string {
	return fmt.Sprintf("cannot %s from phase %s", e.Op, e.From)
}

func NewInvalidTransition(op, from string) error {
	return &ErrInvalidTransition{Op: op, From: from}
}

// ErrNoRecipients means the campaign was started with an empty recipient list.
type ErrNoRecipients struct{}

func (e *ErrNoRecipients) Error() string {
	return "recipient list is empty"
}

func NewNoRecipients() error {
	return &ErrNoRecipients{}
}
