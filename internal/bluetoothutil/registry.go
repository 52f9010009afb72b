package bluetoothutil

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/skobkin/btrover/internal/domain"
	"go.bug.st/serial"
)

// DeviceRegistry supplies the devices a session may connect to.
type DeviceRegistry interface {
	PairedDevices(ctx context.Context) ([]domain.DeviceRef, error)
}

// StaticRegistry serves a fixed list, e.g. the configured default device.
type StaticRegistry []domain.DeviceRef

func (r StaticRegistry) PairedDevices(_ context.Context) ([]domain.DeviceRef, error) {
	return append([]domain.DeviceRef(nil), r...), nil
}

// SerialPortRegistry lists serial ports; on Windows and macOS paired SPP
// devices show up here as virtual COM ports.
type SerialPortRegistry struct {
	list func() ([]string, error)
}

func NewSerialPortRegistry() *SerialPortRegistry {
	return &SerialPortRegistry{list: serial.GetPortsList}
}

func (r *SerialPortRegistry) PairedDevices(ctx context.Context) ([]domain.DeviceRef, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ports, err := r.list()
	if err != nil {
		return nil, fmt.Errorf("list serial ports: %w", err)
	}
	sort.Strings(ports)

	devices := make([]domain.DeviceRef, 0, len(ports))
	seen := make(map[string]struct{}, len(ports))
	for _, port := range ports {
		port = strings.TrimSpace(port)
		if port == "" {
			continue
		}
		if _, ok := seen[port]; ok {
			continue
		}
		seen[port] = struct{}{}
		devices = append(devices, domain.DeviceRef{ID: port, Name: port})
	}

	return devices, nil
}
