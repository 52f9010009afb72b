package app

import (
	"strings"

	"github.com/skobkin/btrover/internal/config"
	"github.com/skobkin/btrover/internal/connectors"
	"github.com/skobkin/btrover/internal/domain"
)

func TransportNameFromConnector(connector config.ConnectorType) string {
	switch connector {
	case config.ConnectorRFCOMM:
		return "rfcomm"
	case config.ConnectorSerial:
		return "serial"
	case config.ConnectorTCP:
		return "tcp"
	case config.ConnectorBLE:
		return "ble"
	default:
		if value := strings.TrimSpace(string(connector)); value != "" {
			return value
		}
		return "unknown"
	}
}

// ConfiguredDevice is the device named in config, if any.
func ConfiguredDevice(cfg config.ConnectionConfig) (domain.DeviceRef, bool) {
	id := strings.TrimSpace(cfg.Device)
	if id == "" {
		return domain.DeviceRef{}, false
	}
	if cfg.Connector == config.ConnectorRFCOMM || cfg.Connector == config.ConnectorBLE {
		id = strings.ToUpper(id)
	}

	return domain.DeviceRef{ID: id}, true
}

// InitialSessionStatus is reported before the first dispatcher event arrives.
func InitialSessionStatus(cfg config.ConnectionConfig) connectors.SessionStatus {
	status := connectors.SessionStatus{State: connectors.SessionStateReady}
	if device, ok := ConfiguredDevice(cfg); ok {
		status.Device = device
	}

	return status
}
