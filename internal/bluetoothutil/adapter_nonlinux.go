//go:build !linux

package bluetoothutil

import (
	"log/slog"

	"tinygo.org/x/bluetooth"
)

// ResolveAdapter returns the only adapter the host BLE stack exposes.
func ResolveAdapter(adapterID string) *bluetooth.Adapter {
	if id := normalizeAdapterID(adapterID); id != "" && id != defaultAdapterName {
		slog.Default().With("component", "bluetooth").Debug("adapter selection is linux only, using default", "adapter", id)
	}

	return bluetooth.DefaultAdapter
}
