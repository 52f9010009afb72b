//go:build linux

package bluetoothutil

import "tinygo.org/x/bluetooth"

// ResolveAdapter maps a configured adapter to the BlueZ adapter object.
func ResolveAdapter(adapterID string) *bluetooth.Adapter {
	id := normalizeAdapterID(adapterID)
	if id == "" || id == defaultAdapterName {
		return bluetooth.DefaultAdapter
	}

	return bluetooth.NewAdapter(id)
}
