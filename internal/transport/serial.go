package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.bug.st/serial"
)

const (
	DefaultSerialBaud        = 9600
	defaultSerialReadTimeout = 300 * time.Millisecond
)

// SerialChannel talks to the vehicle through a serial device: an SPP virtual
// COM port on Windows/macOS or a bound /dev/rfcommN on Linux.
type SerialChannel struct {
	portName string
	baudRate int

	mu   sync.Mutex
	port serial.Port
}

func NewSerialChannel(portName string, baudRate int) *SerialChannel {
	if baudRate <= 0 {
		baudRate = DefaultSerialBaud
	}

	return &SerialChannel{
		portName: strings.TrimSpace(portName),
		baudRate: baudRate,
	}
}

func (c *SerialChannel) Name() string {
	return "serial"
}

func (c *SerialChannel) Target() string {
	return fmt.Sprintf("%s@%d", c.portName, c.baudRate)
}

func (c *SerialChannel) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	logger := transportLogger("serial", "port", c.portName, "baud", c.baudRate)
	if c.port != nil {
		logger.Debug("connect skipped: already connected")
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.portName == "" {
		logger.Warn("connect failed: port is empty")
		return errors.New("serial port is empty")
	}

	logger.Info("opening port")
	port, err := serial.Open(c.portName, &serial.Mode{BaudRate: c.baudRate})
	if err != nil {
		logger.Warn("open port failed", "error", err)
		return fmt.Errorf("open serial port %q: %w", c.portName, err)
	}
	if err := port.SetReadTimeout(defaultSerialReadTimeout); err != nil {
		_ = port.Close()
		logger.Warn("set read timeout failed", "error", err)
		return fmt.Errorf("set serial read timeout: %w", err)
	}
	if err := ctx.Err(); err != nil {
		_ = port.Close()
		return err
	}
	c.port = port
	logger.Info("connected")

	return nil
}

func (c *SerialChannel) Input() (io.ReadCloser, error) {
	port, err := c.currentPort()
	if err != nil {
		return nil, err
	}

	return &serialInput{port: port}, nil
}

func (c *SerialChannel) Output() (Output, error) {
	port, err := c.currentPort()
	if err != nil {
		return nil, err
	}

	return &serialOutput{port: port}, nil
}

func (c *SerialChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	logger := transportLogger("serial", "port", c.portName)
	if c.port == nil {
		logger.Debug("close skipped: not connected")
		return nil
	}
	err := c.port.Close()
	c.port = nil
	if err != nil {
		logger.Warn("close failed", "error", err)
		return err
	}
	logger.Info("closed")

	return nil
}

func (c *SerialChannel) currentPort() (serial.Port, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.port == nil {
		return nil, errNotConnected
	}

	return c.port, nil
}

// serialInput turns the port's polling reads into blocking reads with an
// optional deadline. The port itself returns (0, nil) whenever its read
// timeout elapses.
type serialInput struct {
	port     serial.Port
	closed   atomic.Bool
	deadline atomic.Int64
}

func (in *serialInput) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	for {
		if in.closed.Load() {
			return 0, io.EOF
		}
		n, err := in.port.Read(p)
		if err != nil {
			return n, err
		}
		if n > 0 {
			return n, nil
		}
		if dl := in.deadline.Load(); dl != 0 && time.Now().UnixNano() >= dl {
			return 0, os.ErrDeadlineExceeded
		}
	}
}

func (in *serialInput) SetReadDeadline(t time.Time) error {
	if t.IsZero() {
		in.deadline.Store(0)
		return nil
	}
	in.deadline.Store(t.UnixNano())

	return nil
}

// Close stops reads on this half; the port stays open until the channel closes.
func (in *serialInput) Close() error {
	in.closed.Store(true)
	return nil
}

type serialOutput struct {
	port   serial.Port
	closed atomic.Bool
}

func (out *serialOutput) Write(p []byte) (int, error) {
	if out.closed.Load() {
		return 0, os.ErrClosed
	}

	written := 0
	for written < len(p) {
		n, err := out.port.Write(p[written:])
		if err != nil {
			return written, err
		}
		if n == 0 {
			return written, io.ErrShortWrite
		}
		written += n
	}

	return written, nil
}

func (out *serialOutput) Flush() error {
	if out.closed.Load() {
		return os.ErrClosed
	}

	return out.port.Drain()
}

func (out *serialOutput) Close() error {
	out.closed.Store(true)
	return nil
}
