package pkg

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration is returned when a component is built with missing or invalid settings
	ErrConfiguration = errors.New("invalid configuration")

	// ErrCommunication is returned when a remote node could not be reached
	ErrCommunication = errors.New("communication failure")

	// ErrNotAcceptingEntries is returned while an endpoint only serves ring maintenance calls
	ErrNotAcceptingEntries = errors.New("node is not accepting entries yet")

	// ErrInvalidID is returned when an identifier cannot be parsed
	ErrInvalidID = errors.New("invalid identifier")
)

// CommunicationError describes a failed call to a remote node.
type CommunicationError struct {
	Op      string
	Address string
	Err     error
}

func (e *CommunicationError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Address, e.Err)
}

func (e *CommunicationError) Unwrap() error {
	return e.Err
}

// Is makes every CommunicationError match ErrCommunication.
func (e *CommunicationError) Is(target error) bool {
	return target == ErrCommunication
}
