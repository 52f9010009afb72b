package domain

import (
	"fmt"
	"strings"
	"time"
)

// DeviceRef identifies a remote endpoint the session can connect to.
// ID is interpreted by the active connector: a Bluetooth address for rfcomm and
// ble, a port name for serial and host:port for tcp.
type DeviceRef struct {
	ID   string
	Name string
}

func (d DeviceRef) DisplayName() string {
	if name := strings.TrimSpace(d.Name); name != "" {
		return name
	}

	return d.ID
}

func (d DeviceRef) String() string {
	name := strings.TrimSpace(d.Name)
	if name == "" || name == d.ID {
		return d.ID
	}

	return fmt.Sprintf("%s (%s)", name, d.ID)
}

// RadioStatus is the result of probing the local Bluetooth radio.
type RadioStatus int

const (
	RadioUsable RadioStatus = iota
	RadioMissing
	RadioDisabled
)

func (s RadioStatus) String() string {
	switch s {
	case RadioUsable:
		return "usable"
	case RadioMissing:
		return "missing"
	case RadioDisabled:
		return "disabled"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// Command is a single-byte movement command understood by the vehicle.
type Command byte

const (
	CommandForward  Command = 'f'
	CommandBackward Command = 'b'
	CommandLeft     Command = 'l'
	CommandRight    Command = 'r'
	CommandStop     Command = 's'

	// TelemetryQuery asks the vehicle for a telemetry frame.
	TelemetryQuery byte = 'g'
)

var movementCommands = []Command{CommandForward, CommandBackward, CommandLeft, CommandRight, CommandStop}

// MovementCommands returns all movement commands in a stable order.
func MovementCommands() []Command {
	return append([]Command(nil), movementCommands...)
}

func (c Command) Valid() bool {
	for _, known := range movementCommands {
		if c == known {
			return true
		}
	}

	return false
}

func (c Command) String() string {
	switch c {
	case CommandForward:
		return "forward"
	case CommandBackward:
		return "backward"
	case CommandLeft:
		return "left"
	case CommandRight:
		return "right"
	case CommandStop:
		return "stop"
	default:
		return fmt.Sprintf("unknown(%q)", byte(c))
	}
}

// ParseCommand accepts either the wire byte ("f") or the command name ("forward").
func ParseCommand(raw string) (Command, error) {
	value := strings.ToLower(strings.TrimSpace(raw))
	if len(value) == 1 {
		cmd := Command(value[0])
		if cmd.Valid() {
			return cmd, nil
		}
	}
	for _, cmd := range movementCommands {
		if cmd.String() == value {
			return cmd, nil
		}
	}

	return 0, fmt.Errorf("unknown movement command: %q", raw)
}

// TelemetryReading is one decoded telemetry reply.
type TelemetryReading struct {
	Temperature string
	Humidity    string
}

// TelemetryRecord is a stored reading.
type TelemetryRecord struct {
	ID         int64
	DeviceID   string
	Reading    TelemetryReading
	ReceivedAt time.Time
}
