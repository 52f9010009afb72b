//go:build linux

package bluetoothutil

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/godbus/dbus/v5"
	"github.com/skobkin/btrover/internal/domain"
)

const (
	bluezService    = "org.bluez"
	adapterIface    = "org.bluez.Adapter1"
	deviceIface     = "org.bluez.Device1"
	objManagerIface = "org.freedesktop.DBus.ObjectManager"
	propsIface      = "org.freedesktop.DBus.Properties"
)

type managedObjects map[dbus.ObjectPath]map[string]map[string]dbus.Variant

func adapterPath(adapterID string) dbus.ObjectPath {
	return dbus.ObjectPath("/org/bluez/" + adapterName(adapterID))
}

func adapterPowered(ctx context.Context, adapterID string) (bool, error) {
	conn, err := dbus.ConnectSystemBus(dbus.WithContext(ctx))
	if err != nil {
		return false, fmt.Errorf("connect system bus: %w", err)
	}
	defer func() { _ = conn.Close() }()

	var powered dbus.Variant
	obj := conn.Object(bluezService, adapterPath(adapterID))
	if err := obj.CallWithContext(ctx, propsIface+".Get", 0, adapterIface, "Powered").Store(&powered); err != nil {
		return false, err
	}
	value, ok := powered.Value().(bool)
	if !ok {
		return false, fmt.Errorf("unexpected Powered property type %T", powered.Value())
	}

	return value, nil
}

// BlueZRegistry lists devices paired with a BlueZ adapter.
type BlueZRegistry struct {
	adapterID string
}

func NewBlueZRegistry(adapterID string) *BlueZRegistry {
	return &BlueZRegistry{adapterID: strings.TrimSpace(adapterID)}
}

func (r *BlueZRegistry) PairedDevices(ctx context.Context) ([]domain.DeviceRef, error) {
	conn, err := dbus.ConnectSystemBus(dbus.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("connect system bus: %w", err)
	}
	defer func() { _ = conn.Close() }()

	var objects managedObjects
	obj := conn.Object(bluezService, dbus.ObjectPath("/"))
	if err := obj.CallWithContext(ctx, objManagerIface+".GetManagedObjects", 0).Store(&objects); err != nil {
		return nil, fmt.Errorf("list bluez objects: %w", err)
	}

	return pairedDevicesFromObjects(objects, adapterPath(r.adapterID)), nil
}

func pairedDevicesFromObjects(objects managedObjects, adapter dbus.ObjectPath) []domain.DeviceRef {
	devices := make([]domain.DeviceRef, 0, len(objects))
	for _, ifaces := range objects {
		props, ok := ifaces[deviceIface]
		if !ok {
			continue
		}
		if owner, _ := props["Adapter"].Value().(dbus.ObjectPath); owner != adapter {
			continue
		}
		if paired, _ := props["Paired"].Value().(bool); !paired {
			continue
		}
		address, _ := props["Address"].Value().(string)
		if address == "" {
			continue
		}
		name, _ := props["Alias"].Value().(string)
		if strings.TrimSpace(name) == "" {
			name, _ = props["Name"].Value().(string)
		}
		devices = append(devices, domain.DeviceRef{
			ID:   strings.ToUpper(address),
			Name: strings.TrimSpace(name),
		})
	}
	sortDevices(devices)

	return devices
}

func sortDevices(devices []domain.DeviceRef) {
	sort.Slice(devices, func(i, j int) bool {
		left := strings.ToLower(devices[i].DisplayName())
		right := strings.ToLower(devices[j].DisplayName())
		if left != right {
			return left < right
		}

		return devices[i].ID < devices[j].ID
	})
}
