package bluetoothutil

import (
	"context"
	"errors"
	"testing"

	"github.com/skobkin/btrover/internal/domain"
)

func TestStaticRegistryReturnsCopy(t *testing.T) {
	registry := StaticRegistry{{ID: "AA:BB:CC:DD:EE:FF", Name: "Rover"}}

	devices, err := registry.PairedDevices(context.Background())
	if err != nil {
		t.Fatalf("paired devices: %v", err)
	}
	devices[0].Name = "changed"
	if registry[0].Name != "Rover" {
		t.Fatalf("expected registry to be unaffected by caller mutation")
	}
}

func TestSerialPortRegistry(t *testing.T) {
	registry := &SerialPortRegistry{list: func() ([]string, error) {
		return []string{"COM4", " ", "COM3", "COM4"}, nil
	}}

	devices, err := registry.PairedDevices(context.Background())
	if err != nil {
		t.Fatalf("paired devices: %v", err)
	}
	want := []domain.DeviceRef{{ID: "COM3", Name: "COM3"}, {ID: "COM4", Name: "COM4"}}
	if len(devices) != len(want) {
		t.Fatalf("expected %d devices, got %+v", len(want), devices)
	}
	for i := range want {
		if devices[i] != want[i] {
			t.Fatalf("device %d: expected %+v, got %+v", i, want[i], devices[i])
		}
	}
}

func TestSerialPortRegistryWrapsListError(t *testing.T) {
	listErr := errors.New("permission denied")
	registry := &SerialPortRegistry{list: func() ([]string, error) {
		return nil, listErr
	}}

	if _, err := registry.PairedDevices(context.Background()); !errors.Is(err, listErr) {
		t.Fatalf("expected wrapped list error, got %v", err)
	}
}
