package control

import (
	"time"

	"github.com/skobkin/btrover/internal/bus"
	"github.com/skobkin/btrover/internal/connectors"
	"github.com/skobkin/btrover/internal/link"
)

// BusObserver republishes dispatcher events on the message bus.
type BusObserver struct {
	bus   bus.MessageBus
	state func() link.State
	now   func() time.Time
}

func NewBusObserver(b bus.MessageBus, state func() link.State) *BusObserver {
	return &BusObserver{bus: b, state: state, now: time.Now}
}

func (o *BusObserver) HandleEvent(ev Event) {
	ts := o.now()

	switch ev.Kind {
	case EventConnecting:
		o.publishStatus(connectors.SessionStateConnecting, ev, ts)
	case EventConnected:
		o.publishStatus(connectors.SessionStateConnected, ev, ts)
	case EventCommandSent:
		o.bus.Publish(connectors.TopicCommandSent, connectors.CommandEvent{
			Device:  ev.Device,
			Command: ev.Command,
			SentAt:  ts,
		})
	case EventTelemetry:
		o.bus.Publish(connectors.TopicTelemetry, connectors.TelemetryEvent{
			Device:     ev.Device,
			Reading:    ev.Reading,
			ReceivedAt: ts,
		})
	case EventError:
		o.bus.Publish(connectors.TopicSessionError, connectors.ErrorEvent{
			Op:        string(ev.Op),
			Device:    ev.Device,
			Err:       ev.Message,
			Timestamp: ts,
		})
		o.publishStatus(sessionStateOf(o.currentState()), ev, ts)
	}
}

func (o *BusObserver) publishStatus(state connectors.SessionState, ev Event, ts time.Time) {
	status := connectors.SessionStatus{
		State:     state,
		Device:    ev.Device,
		Message:   ev.Message,
		Timestamp: ts,
	}
	if ev.Err != nil {
		status.Err = ev.Err.Error()
	}
	o.bus.Publish(connectors.TopicSessionStatus, status)
}

func (o *BusObserver) currentState() link.State {
	if o.state == nil {
		return link.StateFailed
	}

	return o.state()
}

func sessionStateOf(state link.State) connectors.SessionState {
	switch state {
	case link.StateConnected:
		return connectors.SessionStateConnected
	case link.StateConnecting:
		return connectors.SessionStateConnecting
	case link.StateReady:
		return connectors.SessionStateReady
	default:
		return connectors.SessionStateFailed
	}
}
