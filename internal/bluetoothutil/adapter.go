package bluetoothutil

import (
	"path"
	"runtime"
	"strings"

	"tinygo.org/x/bluetooth"
)

const defaultAdapterName = "hci0"

// normalizeAdapterID accepts "hci1", "HCI1" or a BlueZ object path such as
// "/org/bluez/hci1" and returns the bare adapter name. Empty means default.
func normalizeAdapterID(raw string) string {
	id := strings.ToLower(strings.TrimSpace(raw))
	if strings.Contains(id, "/") {
		id = path.Base(id)
	}
	if id == "." || id == "/" {
		return ""
	}

	return id
}

func adapterName(adapterID string) string {
	if id := normalizeAdapterID(adapterID); id != "" {
		return id
	}

	return defaultAdapterName
}

// EnableAdapter powers up the BLE stack for adapter. Repeated calls are harmless.
func EnableAdapter(adapter *bluetooth.Adapter) error {
	err := adapter.Enable()
	if err == nil || isBenignEnableAdapterError(err) {
		return nil
	}

	return err
}

// On Windows the BLE stack reports an already initialized COM apartment
// (RoInitialize returning S_FALSE) as "Incorrect function.".
func isBenignEnableAdapterError(err error) bool {
	if err == nil || runtime.GOOS != "windows" {
		return false
	}
	msg := strings.TrimSuffix(strings.ToLower(strings.TrimSpace(err.Error())), ".")

	return msg == "incorrect function"
}
