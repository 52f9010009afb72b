package app

import (
	"errors"
	"fmt"
	"strings"

	"github.com/skobkin/btrover/internal/bluetoothutil"
	"github.com/skobkin/btrover/internal/config"
	"github.com/skobkin/btrover/internal/domain"
	"github.com/skobkin/btrover/internal/link"
	"github.com/skobkin/btrover/internal/transport"
)

var errNoDevice = errors.New("no device selected")

// NewChannelFactory returns the link channel factory for the configured connector.
// The device ID is interpreted per connector.
func NewChannelFactory(cfg config.ConnectionConfig) link.ChannelFactory {
	return func(device domain.DeviceRef) (transport.Channel, error) {
		return newChannelForDevice(cfg, device)
	}
}

func newChannelForDevice(cfg config.ConnectionConfig, device domain.DeviceRef) (transport.Channel, error) {
	id := strings.TrimSpace(device.ID)
	if id == "" {
		return nil, errNoDevice
	}

	switch cfg.Connector {
	case config.ConnectorRFCOMM:
		return transport.NewRFCOMMChannel(id, uint8(cfg.RFCOMMChannel)), nil // #nosec G115 -- validated to 1..30.
	case config.ConnectorSerial:
		return transport.NewSerialChannel(id, cfg.SerialBaud), nil
	case config.ConnectorTCP:
		return transport.NewTCPChannel(id), nil
	case config.ConnectorBLE:
		return transport.NewBLEChannel(id, cfg.BluetoothAdapter), nil
	default:
		return nil, fmt.Errorf("unknown connector: %q", cfg.Connector)
	}
}

// NewRadioProbe checks the host adapter for Bluetooth connectors. Serial and
// tcp links do not depend on a local radio.
func NewRadioProbe(cfg config.ConnectionConfig) link.RadioProbe {
	switch cfg.Connector {
	case config.ConnectorRFCOMM, config.ConnectorBLE:
		return bluetoothutil.NewRadioProbe(cfg.BluetoothAdapter)
	default:
		return link.RadioAlwaysUsable
	}
}

// NewDeviceRegistry picks where paired devices are listed from.
func NewDeviceRegistry(cfg config.ConnectionConfig) bluetoothutil.DeviceRegistry {
	switch cfg.Connector {
	case config.ConnectorRFCOMM, config.ConnectorBLE:
		return bluetoothutil.NewBlueZRegistry(cfg.BluetoothAdapter)
	case config.ConnectorSerial:
		return bluetoothutil.NewSerialPortRegistry()
	default:
		if device, ok := ConfiguredDevice(cfg); ok {
			return bluetoothutil.StaticRegistry{device}
		}

		return bluetoothutil.StaticRegistry(nil)
	}
}
