package optimistic

import (
	"errors"
	"fmt"
)

// ErrInFlight means the same action is already being submitted.
// Apply swallows it; Begin returns it so callers driving the steps can tell.
var ErrInFlight = errors.New("mutation already in flight")

// MutationError wraps a failed server write. The speculative change has been
// rolled back by the time the caller sees it.
type MutationError struct {
	Kind          Kind
	ID            string
	CorrelationID string
	Err           error
}

func (e *MutationError) Error() string {
	return fmt.Sprintf("%s %s failed (correlation %s): %v", e.Kind, e.ID, e.CorrelationID, e.Err)
}

func (e *MutationError) Unwrap() error {
	return e.Err
}
