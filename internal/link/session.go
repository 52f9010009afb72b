package link

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/skobkin/btrover/internal/domain"
	"github.com/skobkin/btrover/internal/transport"
)

// RadioProbe checks the local radio before the session becomes usable.
type RadioProbe interface {
	Probe(ctx context.Context) (domain.RadioStatus, error)
}

// RadioProbeFunc adapts a function to RadioProbe.
type RadioProbeFunc func(ctx context.Context) (domain.RadioStatus, error)

func (f RadioProbeFunc) Probe(ctx context.Context) (domain.RadioStatus, error) {
	return f(ctx)
}

// RadioAlwaysUsable is used by connectors that do not depend on a local radio.
var RadioAlwaysUsable = RadioProbeFunc(func(context.Context) (domain.RadioStatus, error) {
	return domain.RadioUsable, nil
})

// ChannelFactory builds an unconnected channel for the device.
type ChannelFactory func(device domain.DeviceRef) (transport.Channel, error)

type Options struct {
	// ConnectTimeout bounds Connect; zero leaves it to the caller's context.
	ConnectTimeout time.Duration
	// ReadTimeout bounds one telemetry reply; zero disables it.
	ReadTimeout   time.Duration
	MaxFrameBytes int
	Logger        *slog.Logger
}

// Session owns the single link to the vehicle. Its operations block on I/O
// and must not be called concurrently; the dispatcher serializes them.
type Session struct {
	probe   RadioProbe
	factory ChannelFactory
	opts    Options
	logger  *slog.Logger

	mu     sync.Mutex
	state  State
	reason error
	// radioOK is set by the last successful probe; Connect probes again until it is.
	radioOK bool
	device  domain.DeviceRef
	channel transport.Channel
	input   io.ReadCloser
	output  transport.Output
}

func NewSession(probe RadioProbe, factory ChannelFactory, opts Options) *Session {
	if probe == nil {
		probe = RadioAlwaysUsable
	}
	if opts.MaxFrameBytes <= 0 {
		opts.MaxFrameBytes = transport.DefaultMaxFrameSize
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default().With("component", "link.session")
	}

	return &Session{
		probe:   probe,
		factory: factory,
		opts:    opts,
		logger:  logger,
		state:   StateUninitialized,
	}
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.state
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{State: s.state, Device: s.device}
	if s.channel != nil {
		snap.Transport = s.channel.Name()
		snap.Target = s.channel.Target()
	}
	if s.state == StateFailed {
		snap.Reason = s.reason
	}

	return snap
}

// Init probes the radio and moves the session out of StateUninitialized.
func (s *Session) Init(ctx context.Context) error {
	if state := s.State(); state != StateUninitialized {
		return invalidState("init", state)
	}

	if err := s.probeRadio(ctx); err != nil {
		s.setState(StateFailed, err)
		return err
	}
	s.setState(StateReady, nil)

	return nil
}

// probeRadio classifies the probe result into the radio error kinds and
// remembers whether the radio can carry a link.
func (s *Session) probeRadio(ctx context.Context) error {
	status, err := s.probe.Probe(ctx)
	switch {
	case err == nil && status == domain.RadioUsable:
		err = nil
	case status == domain.RadioDisabled:
		err = joinCause(ErrRadioDisabled, err)
	default:
		err = joinCause(ErrRadioUnavailable, err)
	}

	s.mu.Lock()
	s.radioOK = err == nil
	s.mu.Unlock()

	return err
}

// Connect opens a channel to device. Any failure leaves the session Failed
// with no channel held. After a radio failure the radio is probed again first.
func (s *Session) Connect(ctx context.Context, device domain.DeviceRef) error {
	s.mu.Lock()
	if s.state != StateReady && s.state != StateFailed {
		state := s.state
		s.mu.Unlock()
		return invalidState("connect", state)
	}
	radioOK := s.radioOK
	s.mu.Unlock()

	if !radioOK {
		if err := s.probeRadio(ctx); err != nil {
			s.setState(StateFailed, err)
			return err
		}
		s.logger.Info("bluetooth radio usable again")
	}

	if s.factory == nil {
		return s.failConnect(device, errors.New("no channel factory configured"))
	}
	channel, err := s.factory(device)
	if err != nil {
		return s.failConnect(device, err)
	}

	s.mu.Lock()
	s.device = device
	s.channel = channel
	prev := s.swapStateLocked(StateConnecting, nil)
	s.mu.Unlock()
	s.logTransition(prev, StateConnecting, device, nil)

	if s.opts.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.ConnectTimeout)
		defer cancel()
	}

	if err := channel.Connect(ctx); err != nil {
		return s.failConnect(device, err)
	}
	output, err := channel.Output()
	if err != nil {
		return s.failConnect(device, fmt.Errorf("open output stream: %w", err))
	}
	s.mu.Lock()
	s.output = output
	s.mu.Unlock()

	input, err := channel.Input()
	if err != nil {
		return s.failConnect(device, fmt.Errorf("open input stream: %w", err))
	}
	s.mu.Lock()
	s.input = input
	s.mu.Unlock()

	s.setState(StateConnected, nil)

	return nil
}

// Send writes a single movement command.
func (s *Session) Send(ctx context.Context, cmd domain.Command) error {
	if !cmd.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownCommand, byte(cmd))
	}
	output, _, err := s.connectedStreams("send")
	if err != nil {
		return err
	}
	if err := s.write(ctx, output, byte(cmd)); err != nil {
		return s.fail(&IOError{Op: "send " + cmd.String(), Err: err})
	}
	s.logger.Debug("command sent", "command", cmd.String())

	return nil
}

// RequestTelemetry sends the telemetry query and reads one reply frame.
// A malformed payload is reported without closing the link.
func (s *Session) RequestTelemetry(ctx context.Context) (domain.TelemetryReading, error) {
	output, input, err := s.connectedStreams("request telemetry")
	if err != nil {
		return domain.TelemetryReading{}, err
	}
	if err := s.write(ctx, output, domain.TelemetryQuery); err != nil {
		return domain.TelemetryReading{}, s.fail(&IOError{Op: "send telemetry query", Err: err})
	}

	frame, err := s.readFrame(ctx, input)
	if err != nil {
		return domain.TelemetryReading{}, s.fail(err)
	}
	s.logger.Debug("telemetry frame received", "bytes", len(frame))

	reading, err := domain.ParseTelemetry(frame)
	if err != nil {
		s.logger.Warn("telemetry payload rejected", "error", err)
		return domain.TelemetryReading{}, err
	}

	return reading, nil
}

// Close tears the link down. Closing a Ready session is a no-op.
func (s *Session) Close() error {
	s.mu.Lock()
	state := s.state
	switch state {
	case StateUninitialized:
		s.mu.Unlock()
		return invalidState("close", state)
	case StateReady:
		s.mu.Unlock()
		return nil
	case StateFailed:
		s.mu.Unlock()
		s.setState(StateReady, nil)
		return nil
	}
	s.mu.Unlock()

	s.setState(StateClosing, nil)
	if err := s.release(); err != nil {
		err = fmt.Errorf("close link: %w", err)
		s.setState(StateFailed, err)
		return err
	}
	s.setState(StateReady, nil)

	return nil
}

func (s *Session) connectedStreams(op string) (transport.Output, io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateConnected {
		return nil, nil, invalidState(op, s.state)
	}

	return s.output, s.input, nil
}

func (s *Session) write(ctx context.Context, output transport.Output, b byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if deadline, ok := ctx.Deadline(); ok {
		if wd, ok := output.(transport.WriteDeadliner); ok {
			if err := wd.SetWriteDeadline(deadline); err != nil {
				return fmt.Errorf("set write deadline: %w", err)
			}
			defer func() { _ = wd.SetWriteDeadline(time.Time{}) }()
		}
	}

	n, err := output.Write([]byte{b})
	if err != nil {
		return err
	}
	if n != 1 {
		return io.ErrShortWrite
	}

	return output.Flush()
}

// readFrame reads one reply, aborting the read when ctx or the read timeout
// expires. Inputs with deadlines get one set in the past; others are
// unblocked by closing the channel.
func (s *Session) readFrame(ctx context.Context, input io.ReadCloser) ([]byte, error) {
	readCtx := ctx
	if s.opts.ReadTimeout > 0 {
		var cancel context.CancelFunc
		readCtx, cancel = context.WithTimeout(ctx, s.opts.ReadTimeout)
		defer cancel()
	}

	rd, hasDeadline := input.(transport.ReadDeadliner)
	if hasDeadline {
		if err := rd.SetReadDeadline(time.Time{}); err != nil {
			return nil, &IOError{Op: "reset read deadline", Err: err}
		}
	}
	stop := context.AfterFunc(readCtx, func() {
		if hasDeadline {
			_ = rd.SetReadDeadline(time.Unix(1, 0))
			return
		}
		s.mu.Lock()
		channel := s.channel
		s.mu.Unlock()
		if channel != nil {
			_ = channel.Close()
		}
	})
	defer stop()

	frame, err := transport.NewFrameReader(input, s.opts.MaxFrameBytes).ReadFrame()
	if err == nil {
		return frame, nil
	}
	if ctxErr := readCtx.Err(); ctxErr != nil {
		return nil, &IOError{Op: "read telemetry", Err: fmt.Errorf("%w: %w", ctxErr, err)}
	}
	if errors.Is(err, transport.ErrFramingViolation) {
		return nil, fmt.Errorf("read telemetry: %w", err)
	}

	return nil, &IOError{Op: "read telemetry", Err: err}
}

func (s *Session) failConnect(device domain.DeviceRef, err error) error {
	return s.fail(&ConnectError{Device: device, Err: err})
}

// fail releases whatever the session holds and records cause.
func (s *Session) fail(cause error) error {
	s.logger.Warn("link failed, tearing down", "error", cause)
	if s.State().holdsChannel() {
		s.setState(StateClosing, nil)
	}
	if err := s.release(); err != nil {
		s.logger.Debug("release after failure reported errors", "error", err)
	}
	s.setState(StateFailed, cause)

	return cause
}

// release closes output, input and channel in that order. Every step runs
// even when an earlier one fails.
func (s *Session) release() error {
	s.mu.Lock()
	output, input, channel := s.output, s.input, s.channel
	s.output, s.input, s.channel = nil, nil, nil
	s.mu.Unlock()

	var errs []error
	if output != nil {
		if err := output.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close output: %w", err))
		}
	}
	if input != nil {
		if err := input.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close input: %w", err))
		}
	}
	if channel != nil {
		if err := channel.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close channel: %w", err))
		}
	}

	return errors.Join(errs...)
}

func (s *Session) setState(next State, reason error) {
	s.mu.Lock()
	prev := s.swapStateLocked(next, reason)
	device := s.device
	s.mu.Unlock()

	s.logTransition(prev, next, device, reason)
}

func (s *Session) swapStateLocked(next State, reason error) State {
	prev := s.state
	s.state = next
	s.reason = reason

	return prev
}

func (s *Session) logTransition(prev, next State, device domain.DeviceRef, reason error) {
	if prev == next {
		return
	}
	attrs := []any{"from", prev.String(), "to", next.String()}
	if device.ID != "" {
		attrs = append(attrs, "device", device.ID)
	}
	if reason != nil {
		attrs = append(attrs, "reason", reason)
	}
	s.logger.Info("session state changed", attrs...)
}

func joinCause(kind, cause error) error {
	if cause == nil {
		return kind
	}

	return fmt.Errorf("%w: %w", kind, cause)
}
