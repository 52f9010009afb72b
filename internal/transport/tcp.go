package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"
)

const defaultTCPDialTimeout = 6 * time.Second

var errNotConnected = errors.New("transport is not connected")

// TCPChannel carries the serial byte stream over a TCP socket, e.g. a
// ser2net bridge or a vehicle simulator.
type TCPChannel struct {
	address string

	mu   sync.Mutex
	conn net.Conn
}

func NewTCPChannel(address string) *TCPChannel {
	return &TCPChannel{address: strings.TrimSpace(address)}
}

func (c *TCPChannel) Name() string {
	return "tcp"
}

func (c *TCPChannel) Target() string {
	return c.address
}

func (c *TCPChannel) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	logger := transportLogger("tcp", "target", c.address)
	if c.conn != nil {
		logger.Debug("connect skipped: already connected")

		return nil
	}
	if c.address == "" {
		logger.Warn("connect failed: address is empty")

		return errors.New("tcp address is empty")
	}

	dialer := net.Dialer{Timeout: defaultTCPDialTimeout}
	logger.Info("connecting")
	conn, err := dialer.DialContext(ctx, "tcp", c.address)
	if err != nil {
		logger.Warn("connect failed", "error", err)

		return fmt.Errorf("dial tcp: %w", err)
	}
	c.conn = conn
	logger.Info("connected", "remote", conn.RemoteAddr().String())

	return nil
}

func (c *TCPChannel) Input() (io.ReadCloser, error) {
	conn, err := c.currentConn()
	if err != nil {
		return nil, err
	}

	return &tcpInput{conn: conn}, nil
}

func (c *TCPChannel) Output() (Output, error) {
	conn, err := c.currentConn()
	if err != nil {
		return nil, err
	}

	return &tcpOutput{conn: conn}, nil
}

func (c *TCPChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	logger := transportLogger("tcp", "target", c.address)
	if c.conn == nil {
		logger.Debug("close skipped: not connected")

		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	if err != nil && !errors.Is(err, net.ErrClosed) {
		logger.Warn("close failed", "error", err)

		return err
	}
	logger.Info("closed")

	return nil
}

func (c *TCPChannel) currentConn() (net.Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil, errNotConnected
	}

	return c.conn, nil
}

type tcpInput struct {
	conn net.Conn
}

func (in *tcpInput) Read(p []byte) (int, error) {
	return in.conn.Read(p)
}

func (in *tcpInput) SetReadDeadline(t time.Time) error {
	return in.conn.SetReadDeadline(t)
}

func (in *tcpInput) Close() error {
	if tcp, ok := in.conn.(*net.TCPConn); ok {
		return tcp.CloseRead()
	}

	return nil
}

type tcpOutput struct {
	conn net.Conn
}

func (out *tcpOutput) Write(p []byte) (int, error) {
	return out.conn.Write(p)
}

func (out *tcpOutput) SetWriteDeadline(t time.Time) error {
	return out.conn.SetWriteDeadline(t)
}

// Flush is a no-op: TCP writes are handed to the kernel immediately.
func (out *tcpOutput) Flush() error {
	return nil
}

func (out *tcpOutput) Close() error {
	if tcp, ok := out.conn.(*net.TCPConn); ok {
		return tcp.CloseWrite()
	}

	return nil
}
