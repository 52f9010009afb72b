package connectors

import (
	"time"

	"github.com/skobkin/btrover/internal/domain"
)

// SessionState describes the link lifecycle as shown to consumers.
type SessionState string

const (
	SessionStateReady      SessionState = "ready"
	SessionStateConnecting SessionState = "connecting"
	SessionStateConnected  SessionState = "connected"
	SessionStateFailed     SessionState = "failed"
)

// SessionStatus is a bus snapshot of the current link status.
type SessionStatus struct {
	State     SessionState
	Device    domain.DeviceRef
	Message   string
	Err       string
	Timestamp time.Time
}

// TelemetryEvent is a decoded telemetry reply.
type TelemetryEvent struct {
	Device     domain.DeviceRef
	Reading    domain.TelemetryReading
	ReceivedAt time.Time
}

// CommandEvent reports a movement command written to the link.
type CommandEvent struct {
	Device  domain.DeviceRef
	Command domain.Command
	SentAt  time.Time
}

// ErrorEvent reports a failed session operation.
type ErrorEvent struct {
	Op        string
	Device    domain.DeviceRef
	Err       string
	Timestamp time.Time
}
