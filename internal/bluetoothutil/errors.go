package bluetoothutil

import (
	"errors"
	"slices"
	"strings"

	"github.com/godbus/dbus/v5"
)

// D-Bus and BlueZ error names the link code reacts to.
const (
	DBusErrUnknownObject  = "org.freedesktop.DBus.Error.UnknownObject"
	DBusErrServiceUnknown = "org.freedesktop.DBus.Error.ServiceUnknown"
	DBusErrInvalidArgs    = "org.freedesktop.DBus.Error.InvalidArgs"
	DBusErrUnknownMethod  = "org.freedesktop.DBus.Error.UnknownMethod"

	bluezErrNotReady   = "org.bluez.Error.NotReady"
	bluezErrInProgress = "org.bluez.Error.InProgress"
)

// Replies to StopDiscovery that only mean no scan was running.
var idleScanReplies = []string{"cancel", "stopped", "not scanning", "no scan in progress", "no discovery started"}

// DBusErrorName returns the D-Bus error name carried anywhere in err's chain.
func DBusErrorName(err error) (string, bool) {
	var ptr *dbus.Error
	if errors.As(err, &ptr) && ptr != nil {
		return ptr.Name, true
	}
	var val dbus.Error
	if errors.As(err, &val) {
		return val.Name, true
	}

	return "", false
}

// IsDBusErrorName reports whether err carries one of names.
func IsDBusErrorName(err error, names ...string) bool {
	name, ok := DBusErrorName(err)

	return ok && slices.Contains(names, name)
}

// isAdapterMissingError matches the replies BlueZ gives when the adapter
// object or the daemon itself does not exist.
func isAdapterMissingError(err error) bool {
	return IsDBusErrorName(err, DBusErrUnknownObject, DBusErrServiceUnknown, DBusErrInvalidArgs)
}

func IsBenignStopScanError(err error) bool {
	if err == nil || IsDBusErrorName(err, bluezErrNotReady) {
		return true
	}

	return errorMentions(err, idleScanReplies...)
}

func IsScanAlreadyInProgressError(err error) bool {
	if err == nil {
		return false
	}

	return IsDBusErrorName(err, bluezErrInProgress) || errorMentions(err, "already in progress")
}

func errorMentions(err error, fragments ...string) bool {
	msg := strings.ToLower(err.Error())
	for _, fragment := range fragments {
		if strings.Contains(msg, fragment) {
			return true
		}
	}

	return false
}
