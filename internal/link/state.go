package link

import (
	"fmt"

	"github.com/skobkin/btrover/internal/domain"
)

// State is the lifecycle state of a Session.
type State int

const (
	StateUninitialized State = iota
	StateReady
	StateConnecting
	StateConnected
	StateClosing
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateReady:
		return "ready"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosing:
		return "closing"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// holdsChannel reports whether a channel is owned in this state.
func (s State) holdsChannel() bool {
	return s == StateConnecting || s == StateConnected || s == StateClosing
}

// Snapshot is a consistent view of the session.
type Snapshot struct {
	State     State
	Device    domain.DeviceRef
	Transport string
	Target    string
	// Reason is set while State is StateFailed.
	Reason error
}
