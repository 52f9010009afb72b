package control

import (
	"fmt"

	"github.com/skobkin/btrover/internal/domain"
)

// EventKind tags the variant carried by an Event.
type EventKind int

const (
	EventConnecting EventKind = iota + 1
	EventConnected
	EventCommandSent
	EventTelemetry
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventConnecting:
		return "connecting"
	case EventConnected:
		return "connected"
	case EventCommandSent:
		return "command_sent"
	case EventTelemetry:
		return "telemetry"
	case EventError:
		return "error"
	default:
		return fmt.Sprintf("event(%d)", int(k))
	}
}

// Op names the dispatcher operation an event belongs to.
type Op string

const (
	OpInit      Op = "init"
	OpConnect   Op = "connect"
	OpSend      Op = "send"
	OpRequest   Op = "request_telemetry"
	OpClose     Op = "close"
	OpReconnect Op = "reconnect"
)

// ConnectingMessage is shown while a connection attempt is in progress.
const ConnectingMessage = "Connect Bluetooth Device."

// Event is a session lifecycle or result notification. Only the fields
// relevant to Kind are set.
type Event struct {
	Kind    EventKind
	Op      Op
	Device  domain.DeviceRef
	Message string
	Command domain.Command
	Reading domain.TelemetryReading
	Err     error
}

// Observer receives events on the dispatcher worker goroutine, in the order
// operations complete. Implementations must not block for long.
type Observer interface {
	HandleEvent(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

func (f ObserverFunc) HandleEvent(ev Event) {
	f(ev)
}

// Observers fans one event out to several observers.
type Observers []Observer

func (o Observers) HandleEvent(ev Event) {
	for _, observer := range o {
		if observer != nil {
			observer.HandleEvent(ev)
		}
	}
}

func errorEvent(op Op, device domain.DeviceRef, err error) Event {
	return Event{
		Kind:    EventError,
		Op:      op,
		Device:  device,
		Message: err.Error(),
		Err:     err,
	}
}
