package actor

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrInvalidName is returned when an actor name contains characters
	// outside [a-zA-Z0-9_-] or is empty.
	ErrInvalidName = errors.New("invalid actor name")

	// ErrNameTaken is returned when a child with the same name already
	// exists (or has existed) under the same parent. Paths are never reused.
	ErrNameTaken = errors.New("actor name already taken")

	// ErrAskTimeout is returned by Ask when no reply arrived before the
	// deadline. The target actor is unaffected.
	ErrAskTimeout = errors.New("ask timed out")

	// ErrMailboxFull is returned by bounded mailboxes on overflow. The
	// message is handed to dead letters instead.
	ErrMailboxFull = errors.New("mailbox is full")

	// ErrMailboxClosed is returned when enqueueing to a closed mailbox.
	ErrMailboxClosed = errors.New("mailbox is closed")

	// ErrSystemStopping is returned when spawning while the system is
	// terminating.
	ErrSystemStopping = errors.New("actor system is terminating")

	// ErrNoSender is the panic value raised when a message is sent *to* the
	// no-sender reference. Using it *as* a sender is valid and means no
	// reply is expected.
	ErrNoSender = errors.New("cannot send to the no-sender reference")

	// ErrActorTerminated is returned by Ask against a reference that is
	// already known to be terminated.
	ErrActorTerminated = errors.New("actor is terminated")
)

// PanicError wraps a value recovered from a panicking message handler so it
// can travel through the supervision chain as a regular error.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("actor handler panicked: %v", e.Value)
}

// Recoverable marks handler panics as a restartable failure category for the
// default supervision decider.
func (e *PanicError) Recoverable() bool { return true }

func newPanicError(value any, stack []byte) *PanicError {
	if err, ok := value.(*PanicError); ok {
		return err
	}
	return &PanicError{Value: value, Stack: stack}
}
