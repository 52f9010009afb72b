package transport

import (
	"fmt"
	"net"
	"strings"
)

// DefaultRFCOMMChannel is the channel SPP modules such as HC-05/HC-06 listen on.
const DefaultRFCOMMChannel uint8 = 1

func parseBluetoothAddress(raw string) ([6]byte, error) {
	var addr [6]byte

	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return addr, fmt.Errorf("bluetooth address is empty")
	}
	mac, err := net.ParseMAC(trimmed)
	if err != nil {
		return addr, fmt.Errorf("invalid bluetooth address %q: %w", trimmed, err)
	}
	if len(mac) != len(addr) {
		return addr, fmt.Errorf("invalid bluetooth address %q: expected 6 bytes, got %d", trimmed, len(mac))
	}
	copy(addr[:], mac)

	return addr, nil
}

func validRFCOMMChannel(ch uint8) bool {
	return ch >= 1 && ch <= 30
}
