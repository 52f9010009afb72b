package link

import (
	"errors"
	"fmt"

	"github.com/skobkin/btrover/internal/domain"
	"github.com/skobkin/btrover/internal/transport"
)

var (
	ErrRadioUnavailable = errors.New("bluetooth radio is unavailable")
	ErrRadioDisabled    = errors.New("bluetooth radio is disabled")
	ErrInvalidState     = errors.New("operation is not valid in the current session state")
	ErrUnknownCommand   = errors.New("unknown movement command")

	// ErrFramingViolation and ErrMalformedPayload are re-exported so callers
	// can classify session errors without importing the lower layers.
	ErrFramingViolation = transport.ErrFramingViolation
	ErrMalformedPayload = domain.ErrMalformedPayload
)

// ConnectError reports a failed connection attempt.
type ConnectError struct {
	Device domain.DeviceRef
	Err    error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect to %s: %v", e.Device, e.Err)
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}

// IOError reports a read or write failure on an established link.
type IOError struct {
	Op  string
	Err error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

func invalidState(op string, state State) error {
	return fmt.Errorf("%w: %s while %s", ErrInvalidState, op, state)
}
