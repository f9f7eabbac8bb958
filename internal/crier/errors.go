package crier

import (
	"errors"
	"fmt"
)

var (
	// ErrAuthentication means the platform rejected the credentials. The
	// session is not retried until an operator restarts it.
	ErrAuthentication = errors.New("crier: authentication failed")

	// ErrConnection covers launch and transport failures. They are retried
	// with backoff.
	ErrConnection = errors.New("crier: connection failed")

	// ErrParticipantFetch means the member list of a chat could not be read.
	ErrParticipantFetch = errors.New("crier: participant fetch failed")

	// ErrSend means the platform did not acknowledge an outbound message.
	ErrSend = errors.New("crier: send failed")
)

// CommandFormatError is returned by a handler when the command text is
// well-formed enough to route but unusable. Usage is shown to the user.
type CommandFormatError struct {
	Kind   Kind
	Reason string
	Usage  string
}

func (e *CommandFormatError) Error() string {
	return fmt.Sprintf("crier: %s: %s", e.Kind, e.Reason)
}
