//go:build !linux

package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ErrRFCOMMUnsupported is returned on platforms without RFCOMM sockets.
// Use the serial connector with the SPP virtual COM port instead.
var ErrRFCOMMUnsupported = errors.New("rfcomm sockets are only supported on linux; use the serial connector")

type RFCOMMChannel struct {
	address string
	channel uint8
}

func NewRFCOMMChannel(address string, channel uint8) *RFCOMMChannel {
	if channel == 0 {
		channel = DefaultRFCOMMChannel
	}

	return &RFCOMMChannel{address: strings.ToUpper(strings.TrimSpace(address)), channel: channel}
}

func (c *RFCOMMChannel) Name() string {
	return "rfcomm"
}

func (c *RFCOMMChannel) Target() string {
	return fmt.Sprintf("%s#%d", c.address, c.channel)
}

func (c *RFCOMMChannel) Connect(_ context.Context) error {
	return ErrRFCOMMUnsupported
}

func (c *RFCOMMChannel) Input() (io.ReadCloser, error) {
	return nil, errNotConnected
}

func (c *RFCOMMChannel) Output() (Output, error) {
	return nil, errNotConnected
}

func (c *RFCOMMChannel) Close() error {
	return nil
}
