package lifecycle

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidTransition is returned when a trigger is not permitted from the current state
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrInvalidState is returned when a state is outside the lifecycle enum
	ErrInvalidState = errors.New("invalid state")

	// ErrInvalidTrigger is returned when a trigger name is not part of the transition table
	ErrInvalidTrigger = errors.New("invalid trigger")
)

// InvalidTransitionError carries the context of a blocked transition attempt.
// It wraps ErrInvalidTransition so callers can match with errors.Is.
type InvalidTransitionError struct {
	InvoiceID string
	Current   State
	Trigger   Trigger
	Permitted []Trigger
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("cannot fire trigger %q from state %q (invoice %s)", e.Trigger, e.Current, e.InvoiceID)
}

func (e *InvalidTransitionError) Unwrap() error {
	return ErrInvalidTransition
}
