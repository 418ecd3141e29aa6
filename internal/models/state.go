package models

import (
	"errors"
	"fmt"
)

// LiveState is the lifecycle position of a live resource.
type LiveState string

const (
	LiveStateIdle       LiveState = "idle"
	LiveStateStarting   LiveState = "starting"
	LiveStateRunning    LiveState = "running"
	LiveStateStopping   LiveState = "stopping"
	LiveStateStopped    LiveState = "stopped"
	LiveStateHarvesting LiveState = "harvesting"
	LiveStateHarvested  LiveState = "harvested"
	LiveStateEnded      LiveState = "ended"
	LiveStateDeleted    LiveState = "deleted"
)

// AllLiveStates lists every state in lifecycle order.
var AllLiveStates = []LiveState{
	LiveStateIdle,
	LiveStateStarting,
	LiveStateRunning,
	LiveStateStopping,
	LiveStateStopped,
	LiveStateHarvesting,
	LiveStateHarvested,
	LiveStateEnded,
	LiveStateDeleted,
}

// ErrInvalidTransition is wrapped by every rejected state change.
var ErrInvalidTransition = errors.New("invalid live state transition")

// Valid reports whether s is a known state.
func (s LiveState) Valid() bool {
	for _, known := range AllLiveStates {
		if s == known {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further lifecycle work happens in s.
func (s LiveState) IsTerminal() bool {
	return s == LiveStateEnded || s == LiveStateDeleted
}

// IsOnAir reports whether the encoder is expected to be up.
func (s LiveState) IsOnAir() bool {
	return s == LiveStateStarting || s == LiveStateRunning || s == LiveStateStopping
}

// CanTransition reports whether moving from one state to another is allowed.
func CanTransition(from, to LiveState) bool {
	if from == to {
		return false
	}
	if to == LiveStateDeleted {
		return from != LiveStateDeleted && from.Valid()
	}
	switch from {
	case LiveStateIdle:
		return to == LiveStateStarting || to == LiveStateRunning
	case LiveStateStarting:
		return to == LiveStateRunning || to == LiveStateStopped
	case LiveStateRunning:
		return to == LiveStateStopping || to == LiveStateStopped
	case LiveStateStopping:
		return to == LiveStateStopped
	case LiveStateStopped:
		return to == LiveStateStarting || to == LiveStateHarvesting
	case LiveStateHarvesting:
		return to == LiveStateHarvested || to == LiveStateStopped
	case LiveStateHarvested:
		return to == LiveStateEnded
	default:
		return false
	}
}

// PreconditionError is a user-facing rejection. No mutation happened.
type PreconditionError struct {
	Reason string
	Err    error
}

func (e *PreconditionError) Error() string { return e.Reason }

func (e *PreconditionError) Unwrap() error { return e.Err }

// NewPreconditionError returns a rejection carrying a user-visible reason.
func NewPreconditionError(reason string) *PreconditionError {
	return &PreconditionError{Reason: reason}
}

// IsPrecondition reports whether err is (or wraps) a PreconditionError.
func IsPrecondition(err error) bool {
	var pe *PreconditionError
	return errors.As(err, &pe)
}

// Transition moves the resource to the given state or returns a
// PreconditionError wrapping ErrInvalidTransition, leaving it untouched.
func (l *LiveResource) Transition(to LiveState) error {
	if !CanTransition(l.LiveState, to) {
		return &PreconditionError{
			Reason: fmt.Sprintf("Live cannot go from %s to %s.", l.LiveState, to),
			Err:    ErrInvalidTransition,
		}
	}
	l.LiveState = to
	return nil
}
