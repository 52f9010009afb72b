//go:build linux

package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// RFCOMMChannel opens an RFCOMM stream socket to a paired SPP device.
//
// The RFCOMM channel number is taken from configuration and is not looked up
// through the device's SDP record. HC-05/HC-06 style modules serve SPP on
// channel 1; other devices need connection.rfcomm_channel set to the channel
// `sdptool browse <address>` reports, or the serial connector on a bound
// /dev/rfcommN.
type RFCOMMChannel struct {
	address string
	channel uint8

	mu   sync.Mutex
	file *os.File
}

func NewRFCOMMChannel(address string, channel uint8) *RFCOMMChannel {
	if channel == 0 {
		channel = DefaultRFCOMMChannel
	}

	return &RFCOMMChannel{
		address: strings.ToUpper(strings.TrimSpace(address)),
		channel: channel,
	}
}

func (c *RFCOMMChannel) Name() string {
	return "rfcomm"
}

func (c *RFCOMMChannel) Target() string {
	return fmt.Sprintf("%s#%d", c.address, c.channel)
}

func (c *RFCOMMChannel) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	logger := transportLogger("rfcomm", "address", c.address, "channel", c.channel)
	if c.file != nil {
		logger.Debug("connect skipped: already connected")
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if !validRFCOMMChannel(c.channel) {
		return fmt.Errorf("invalid rfcomm channel: %d", c.channel)
	}
	mac, err := parseBluetoothAddress(c.address)
	if err != nil {
		logger.Warn("connect failed: invalid address", "error", err)
		return err
	}

	fd, err := unix.Socket(unix.AF_BLUETOOTH, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.BTPROTO_RFCOMM)
	if err != nil {
		logger.Warn("create socket failed", "error", err)
		return fmt.Errorf("create rfcomm socket: %w", err)
	}

	// bdaddr_t is little-endian.
	sa := &unix.SockaddrRFCOMM{Channel: c.channel}
	for i := range mac {
		sa.Addr[i] = mac[len(mac)-1-i]
	}

	logger.Info("connecting")
	connectErr := unix.Connect(fd, sa)
	file := os.NewFile(uintptr(fd), "rfcomm:"+c.address)
	switch {
	case connectErr == nil:
	case errors.Is(connectErr, unix.EINPROGRESS), errors.Is(connectErr, unix.EAGAIN), errors.Is(connectErr, unix.EINTR):
		if err := waitRFCOMMConnect(ctx, file); err != nil {
			_ = file.Close()
			logger.Warn("connect failed", "error", err)
			return fmt.Errorf("connect rfcomm %s: %w", c.address, err)
		}
	default:
		_ = file.Close()
		logger.Warn("connect failed", "error", connectErr)
		return fmt.Errorf("connect rfcomm %s: %w", c.address, connectErr)
	}

	c.file = file
	logger.Info("connected")

	return nil
}

// waitRFCOMMConnect waits for a non-blocking connect to finish, honoring ctx.
func waitRFCOMMConnect(ctx context.Context, file *os.File) error {
	rc, err := file.SyscallConn()
	if err != nil {
		return err
	}
	if deadline, ok := ctx.Deadline(); ok {
		if err := file.SetWriteDeadline(deadline); err != nil {
			return err
		}
	}
	stop := context.AfterFunc(ctx, func() {
		_ = file.SetWriteDeadline(time.Unix(1, 0))
	})
	defer stop()

	var soErr error
	polled := false
	waitErr := rc.Write(func(fd uintptr) bool {
		// The first call happens before the poller has reported writability.
		if !polled {
			polled = true
			return false
		}
		v, err := unix.GetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_ERROR)
		if err != nil {
			soErr = err
			return true
		}
		switch errno := syscall.Errno(v); errno {
		case 0:
			return true
		case unix.EINPROGRESS, unix.EALREADY, unix.EINTR:
			return false
		default:
			soErr = errno
			return true
		}
	})
	if waitErr != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return waitErr
	}
	_ = file.SetWriteDeadline(time.Time{})

	return soErr
}

func (c *RFCOMMChannel) Input() (io.ReadCloser, error) {
	file, err := c.currentFile()
	if err != nil {
		return nil, err
	}

	return &rfcommInput{file: file}, nil
}

func (c *RFCOMMChannel) Output() (Output, error) {
	file, err := c.currentFile()
	if err != nil {
		return nil, err
	}

	return &rfcommOutput{file: file}, nil
}

func (c *RFCOMMChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	logger := transportLogger("rfcomm", "address", c.address)
	if c.file == nil {
		logger.Debug("close skipped: not connected")
		return nil
	}
	err := c.file.Close()
	c.file = nil
	if err != nil && !errors.Is(err, os.ErrClosed) {
		logger.Warn("close failed", "error", err)
		return err
	}
	logger.Info("closed")

	return nil
}

func (c *RFCOMMChannel) currentFile() (*os.File, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.file == nil {
		return nil, errNotConnected
	}

	return c.file, nil
}

func shutdownSocket(file *os.File, how int) error {
	rc, err := file.SyscallConn()
	if err != nil {
		return err
	}
	var shutdownErr error
	if err := rc.Control(func(fd uintptr) {
		shutdownErr = unix.Shutdown(int(fd), how)
	}); err != nil {
		return err
	}
	if errors.Is(shutdownErr, unix.ENOTCONN) {
		return nil
	}

	return shutdownErr
}

type rfcommInput struct {
	file *os.File
}

func (in *rfcommInput) Read(p []byte) (int, error) {
	return in.file.Read(p)
}

func (in *rfcommInput) SetReadDeadline(t time.Time) error {
	return in.file.SetReadDeadline(t)
}

func (in *rfcommInput) Close() error {
	return shutdownSocket(in.file, unix.SHUT_RD)
}

type rfcommOutput struct {
	file *os.File
}

func (out *rfcommOutput) Write(p []byte) (int, error) {
	return out.file.Write(p)
}

func (out *rfcommOutput) SetWriteDeadline(t time.Time) error {
	return out.file.SetWriteDeadline(t)
}

// Flush is a no-op: RFCOMM socket writes are not buffered in user space.
func (out *rfcommOutput) Flush() error {
	return nil
}

func (out *rfcommOutput) Close() error {
	return shutdownSocket(out.file, unix.SHUT_WR)
}
