//go:build !linux

package bluetoothutil

import (
	"context"
	"errors"
	"strings"

	"github.com/skobkin/btrover/internal/domain"
)

var ErrBlueZUnsupported = errors.New("bluez is only available on linux")

// On other platforms a successful adapter enable is taken as powered.
func adapterPowered(_ context.Context, _ string) (bool, error) {
	return true, nil
}

type BlueZRegistry struct {
	adapterID string
}

func NewBlueZRegistry(adapterID string) *BlueZRegistry {
	return &BlueZRegistry{adapterID: strings.TrimSpace(adapterID)}
}

func (r *BlueZRegistry) PairedDevices(_ context.Context) ([]domain.DeviceRef, error) {
	return nil, ErrBlueZUnsupported
}
