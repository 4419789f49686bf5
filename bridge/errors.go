package bridge

import "fmt"

// ErrUnknownControl is returned for control messages whose type the bridge
// does not handle.
type ErrUnknownControl struct {
	Type string
}

func (e *ErrUnknownControl) Error() string {
	return fmt.Sprintf("bridge: unknown control message type %q", e.Type)
}

// ErrInvalidPush is returned when an inbound push payload is rejected.
type ErrInvalidPush struct {
	Reason string
	Err    error
}

func (e *ErrInvalidPush) Error() string {
	return fmt.Sprintf("bridge: invalid push payload: %s: %v", e.Reason, e.Err)
}

func (e *ErrInvalidPush) Unwrap() error { return e.Err }
