package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/skobkin/btrover/internal/bluetoothutil"
	"tinygo.org/x/bluetooth"
)

const (
	defaultBLEMaxBuffered   = 64 * 1024
	defaultBLEWriteChunk    = 20
	defaultBLEDiscoverWait  = 12 * time.Second
	defaultBLESubscribeWait = 8 * time.Second
	bleAbortWait            = 2 * time.Second
)

var errBLEBufferOverflow = errors.New("ble receive buffer overflow")

// BLEChannel exposes a BLE UART bridge (HM-10 style) as a byte stream.
type BLEChannel struct {
	address   string
	adapterID string

	mu     sync.Mutex
	device bluetooth.Device
	data   bluetooth.DeviceCharacteristic
	stream *bleStream
}

func NewBLEChannel(address, adapterID string) *BLEChannel {
	return &BLEChannel{
		address:   strings.ToUpper(strings.TrimSpace(address)),
		adapterID: strings.TrimSpace(adapterID),
	}
}

func (c *BLEChannel) Name() string {
	return "ble"
}

func (c *BLEChannel) Target() string {
	return c.address
}

func (c *BLEChannel) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	logger := transportLogger("ble", "address", c.address, "adapter", c.adapterID)
	if c.stream != nil {
		logger.Debug("connect skipped: already connected")
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	addr, err := parseBLEAddress(c.address)
	if err != nil {
		logger.Warn("connect failed: invalid address", "error", err)
		return err
	}

	adapter := bluetoothutil.ResolveAdapter(c.adapterID)
	logger.Info("connecting")
	if err := bluetoothutil.EnableAdapter(adapter); err != nil {
		logger.Warn("enable adapter failed", "error", err)
		return fmt.Errorf("enable bluetooth adapter: %w", err)
	}

	device, err := adapter.Connect(addr, bluetooth.ConnectionParams{})
	if err != nil && shouldRetryBLEConnectWithDiscovery(err) {
		logger.Info("direct connect failed, trying discovery fallback", "error", err)
		if discoverErr := discoverBLEDevice(ctx, adapter, addr); discoverErr != nil {
			logger.Warn("discovery fallback failed", "error", discoverErr)
			return fmt.Errorf("connect ble device %q: %w", c.address, errors.Join(err, fmt.Errorf("discovery failed: %w", discoverErr)))
		}
		device, err = adapter.Connect(addr, bluetooth.ConnectionParams{})
	}
	if err != nil {
		logger.Warn("connect device failed", "error", err)
		return fmt.Errorf("connect ble device %q: %w", c.address, err)
	}

	services, err := device.DiscoverServices([]bluetooth.UUID{bluetoothutil.UARTServiceUUID()})
	if err != nil || len(services) == 0 {
		_ = device.Disconnect()
		logger.Warn("uart service is not available", "error", err)
		return fmt.Errorf("discover uart service: %w", errors.Join(err, errors.New("uart service is not available")))
	}
	chars, err := services[0].DiscoverCharacteristics([]bluetooth.UUID{bluetoothutil.UARTDataUUID()})
	if err != nil || len(chars) == 0 {
		_ = device.Disconnect()
		logger.Warn("uart characteristic is not available", "error", err)
		return fmt.Errorf("discover uart characteristic: %w", errors.Join(err, errors.New("uart characteristic is not available")))
	}

	stream := newBLEStream(defaultBLEMaxBuffered)
	if err := enableBLENotificationsWithTimeout(ctx, device, chars[0], stream.push, defaultBLESubscribeWait); err != nil {
		_ = device.Disconnect()
		logger.Warn("subscribe to notifications failed", "error", err)
		return fmt.Errorf("subscribe to uart notifications: %w", err)
	}
	if err := ctx.Err(); err != nil {
		_ = chars[0].EnableNotifications(nil)
		_ = device.Disconnect()
		return err
	}

	c.device = device
	c.data = chars[0]
	c.stream = stream
	logger.Info("connected")

	return nil
}

func (c *BLEChannel) Input() (io.ReadCloser, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stream == nil {
		return nil, errNotConnected
	}

	return &bleInput{stream: c.stream}, nil
}

func (c *BLEChannel) Output() (Output, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stream == nil {
		return nil, errNotConnected
	}

	return &bleOutput{data: c.data, stream: c.stream}, nil
}

func (c *BLEChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	logger := transportLogger("ble", "address", c.address)
	if c.stream == nil {
		logger.Debug("close skipped: not connected")
		return nil
	}
	c.stream.markClosed()
	c.stream = nil

	var closeErr error
	if err := c.data.EnableNotifications(nil); err != nil {
		closeErr = errors.Join(closeErr, fmt.Errorf("disable uart notifications: %w", err))
		logger.Warn("disable notifications failed", "error", err)
	}
	if err := c.device.Disconnect(); err != nil {
		closeErr = errors.Join(closeErr, fmt.Errorf("disconnect ble device: %w", err))
		logger.Warn("disconnect failed", "error", err)
	}
	if closeErr != nil {
		return closeErr
	}
	logger.Info("closed")

	return nil
}

// bleStream buffers notification payloads until the session reads them.
type bleStream struct {
	maxBuffered int

	mu     sync.Mutex
	buf    bytes.Buffer
	notify chan struct{}

	closed    chan struct{}
	closeOnce sync.Once
	errMu     sync.RWMutex
	asyncErr  error

	deadline atomic.Int64
}

func newBLEStream(maxBuffered int) *bleStream {
	return &bleStream{
		maxBuffered: maxBuffered,
		notify:      make(chan struct{}, 1),
		closed:      make(chan struct{}),
	}
}

func (s *bleStream) push(p []byte) {
	if len(p) == 0 {
		return
	}
	select {
	case <-s.closed:
		return
	default:
	}

	s.mu.Lock()
	overflow := s.buf.Len()+len(p) > s.maxBuffered
	if !overflow {
		s.buf.Write(p)
	}
	s.mu.Unlock()

	if overflow {
		s.setAsyncError(errBLEBufferOverflow)
		s.markClosed()
		return
	}
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *bleStream) read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	for {
		s.mu.Lock()
		if s.buf.Len() > 0 {
			n, _ := s.buf.Read(p)
			s.mu.Unlock()
			return n, nil
		}
		s.mu.Unlock()

		var (
			timer   *time.Timer
			timeout <-chan time.Time
		)
		if dl := s.deadline.Load(); dl != 0 {
			wait := time.Until(time.Unix(0, dl))
			if wait <= 0 {
				return 0, os.ErrDeadlineExceeded
			}
			timer = time.NewTimer(wait)
			timeout = timer.C
		}

		err := s.wait(timeout)
		if timer != nil {
			timer.Stop()
		}
		if err != nil {
			return 0, err
		}
	}
}

func (s *bleStream) wait(timeout <-chan time.Time) error {
	select {
	case <-s.notify:
		return nil
	case <-s.closed:
		if err := s.closeErr(); err != nil {
			return err
		}
		return io.EOF
	case <-timeout:
		return os.ErrDeadlineExceeded
	}
}

func (s *bleStream) markClosed() {
	s.closeOnce.Do(func() {
		close(s.closed)
	})
}

func (s *bleStream) setAsyncError(err error) {
	if err == nil {
		return
	}
	s.errMu.Lock()
	if s.asyncErr == nil {
		s.asyncErr = err
	}
	s.errMu.Unlock()
}

func (s *bleStream) closeErr() error {
	s.errMu.RLock()
	defer s.errMu.RUnlock()
	return s.asyncErr
}

func (s *bleStream) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

type bleInput struct {
	stream *bleStream
	closed atomic.Bool
}

func (in *bleInput) Read(p []byte) (int, error) {
	if in.closed.Load() {
		return 0, io.EOF
	}

	return in.stream.read(p)
}

func (in *bleInput) SetReadDeadline(t time.Time) error {
	if t.IsZero() {
		in.stream.deadline.Store(0)
		return nil
	}
	in.stream.deadline.Store(t.UnixNano())

	return nil
}

func (in *bleInput) Close() error {
	in.closed.Store(true)
	return nil
}

type bleOutput struct {
	data   bluetooth.DeviceCharacteristic
	stream *bleStream
	closed atomic.Bool
}

// Write splits p into ATT-sized writes.
func (out *bleOutput) Write(p []byte) (int, error) {
	if out.closed.Load() || out.stream.isClosed() {
		if err := out.stream.closeErr(); err != nil {
			return 0, err
		}
		return 0, os.ErrClosed
	}

	written := 0
	for written < len(p) {
		end := written + defaultBLEWriteChunk
		if end > len(p) {
			end = len(p)
		}
		n, err := out.data.WriteWithoutResponse(p[written:end])
		if err != nil {
			return written, fmt.Errorf("write uart characteristic: %w", err)
		}
		if n != end-written {
			return written + n, fmt.Errorf("short write to uart characteristic: wrote %d of %d", n, end-written)
		}
		written = end
	}

	return written, nil
}

func (out *bleOutput) Flush() error {
	return nil
}

func (out *bleOutput) Close() error {
	out.closed.Store(true)
	return nil
}

func parseBLEAddress(raw string) (bluetooth.Address, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return bluetooth.Address{}, errors.New("bluetooth address is empty")
	}

	mac, err := bluetooth.ParseMAC(strings.ToUpper(trimmed))
	if err != nil {
		return bluetooth.Address{}, fmt.Errorf("invalid bluetooth address %q: %w", trimmed, err)
	}

	return bluetooth.Address{MACAddress: bluetooth.MACAddress{MAC: mac}}, nil
}

func shouldRetryBLEConnectWithDiscovery(err error) bool {
	if err == nil || runtime.GOOS != "linux" {
		return false
	}
	msg := strings.ToLower(err.Error())
	if bluetoothutil.IsDBusErrorName(err, bluetoothutil.DBusErrUnknownMethod) {
		return strings.Contains(msg, "org.freedesktop.dbus.properties") &&
			strings.Contains(msg, "method \"get\"")
	}

	return strings.Contains(msg, "org.freedesktop.dbus.properties") &&
		strings.Contains(msg, "method \"get\"") &&
		strings.Contains(msg, "doesn't exist")
}

func discoverBLEDevice(ctx context.Context, adapter *bluetooth.Adapter, target bluetooth.Address) error {
	logger := transportLogger("ble", "target", target.String())
	logger.Info("starting device discovery fallback")
	if err := bluetoothutil.StopScan(adapter); err != nil {
		return fmt.Errorf("reset bluetooth scan state: %w", err)
	}

	scanCtx := ctx
	if _, hasDeadline := scanCtx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		scanCtx, cancel = context.WithTimeout(scanCtx, defaultBLEDiscoverWait)
		defer cancel()
	}

	foundCh := make(chan struct{}, 1)
	scanErrCh := make(chan error, 1)
	go func() {
		scanErrCh <- adapter.Scan(func(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
			if result.Address.MAC != target.MAC {
				return
			}
			select {
			case foundCh <- struct{}{}:
			default:
			}
			_ = adapter.StopScan()
		})
	}()

	found := false
	select {
	case <-foundCh:
		found = true
	case <-scanCtx.Done():
		logger.Warn("device discovery timed out or canceled", "error", scanCtx.Err())
		_ = bluetoothutil.StopScan(adapter)
	}

	scanErr := <-scanErrCh
	if scanErr = bluetoothutil.NormalizeScanError(scanErr); scanErr != nil {
		return fmt.Errorf("scan bluetooth devices: %w", scanErr)
	}
	if !found {
		return fmt.Errorf("device %q was not discovered; keep it powered and nearby", target.String())
	}
	logger.Info("device discovery completed")

	return nil
}

func enableBLENotificationsWithTimeout(
	ctx context.Context,
	device bluetooth.Device,
	char bluetooth.DeviceCharacteristic,
	callback func([]byte),
	wait time.Duration,
) error {
	if wait <= 0 {
		wait = defaultBLESubscribeWait
	}

	done := make(chan error, 1)
	go func() {
		done <- char.EnableNotifications(callback)
	}()

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		_ = device.Disconnect()
		select {
		case <-done:
		case <-time.After(bleAbortWait):
		}
		return ctx.Err()
	case <-timer.C:
		_ = device.Disconnect()
		select {
		case <-done:
		case <-time.After(bleAbortWait):
		}
		return fmt.Errorf("timed out after %s", wait)
	}
}
