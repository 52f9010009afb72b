package control

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/skobkin/btrover/internal/domain"
	"github.com/skobkin/btrover/internal/link"
)

var rover = domain.DeviceRef{ID: "AA:BB:CC:DD:EE:FF", Name: "Rover"}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// stubSession records calls and can hold connect, send, request or close
// until the matching gate is closed.
type stubSession struct {
	mu    sync.Mutex
	state link.State
	calls []string

	connectGate  chan struct{}
	sendGate     chan struct{}
	requestGate  chan struct{}
	closeGate    chan struct{}
	connectErr   error
	sendErr      error
	reading      domain.TelemetryReading
	requestErr   error
	closeErr     error
	inFlight     atomic.Int32
	maxInFlight  atomic.Int32
	connectCalls atomic.Int32
}

func newStubSession() *stubSession {
	return &stubSession{state: link.StateReady}
}

func (s *stubSession) enter(call string) func() {
	n := s.inFlight.Add(1)
	for {
		peak := s.maxInFlight.Load()
		if n <= peak || s.maxInFlight.CompareAndSwap(peak, n) {
			break
		}
	}
	s.mu.Lock()
	s.calls = append(s.calls, call)
	s.mu.Unlock()

	return func() { s.inFlight.Add(-1) }
}

func waitGate(ctx context.Context, gate chan struct{}) error {
	if gate == nil {
		return nil
	}
	select {
	case <-gate:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *stubSession) setState(state link.State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

func (s *stubSession) Init(context.Context) error {
	defer s.enter("init")()
	return nil
}

func (s *stubSession) Connect(ctx context.Context, _ domain.DeviceRef) error {
	defer s.enter("connect")()
	s.connectCalls.Add(1)
	if err := waitGate(ctx, s.connectGate); err != nil {
		return err
	}
	if s.connectErr != nil {
		s.setState(link.StateFailed)
		return s.connectErr
	}
	s.setState(link.StateConnected)

	return nil
}

func (s *stubSession) Send(ctx context.Context, _ domain.Command) error {
	defer s.enter("send")()
	if err := waitGate(ctx, s.sendGate); err != nil {
		return err
	}

	return s.sendErr
}

func (s *stubSession) RequestTelemetry(ctx context.Context) (domain.TelemetryReading, error) {
	defer s.enter("request")()
	if err := waitGate(ctx, s.requestGate); err != nil {
		return domain.TelemetryReading{}, err
	}

	return s.reading, s.requestErr
}

func (s *stubSession) Close() error {
	defer s.enter("close")()
	if s.closeGate != nil {
		<-s.closeGate
	}
	if s.closeErr != nil {
		s.setState(link.StateFailed)
		return s.closeErr
	}
	s.setState(link.StateReady)

	return nil
}

func (s *stubSession) Snapshot() link.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	return link.Snapshot{State: s.state, Device: rover}
}

func (s *stubSession) callLog() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]string(nil), s.calls...)
}

type eventRecorder struct {
	events chan Event
}

func newEventRecorder() *eventRecorder {
	return &eventRecorder{events: make(chan Event, 32)}
}

func (r *eventRecorder) HandleEvent(ev Event) {
	r.events <- ev
}

func (r *eventRecorder) next(t *testing.T) Event {
	t.Helper()
	select {
	case ev := <-r.events:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for event")
		return Event{}
	}
}

func (r *eventRecorder) expectNone(t *testing.T) {
	t.Helper()
	select {
	case ev := <-r.events:
		t.Fatalf("unexpected event: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func startDispatcher(t *testing.T, session Session, observer Observer) *Dispatcher {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	d := NewDispatcher(session, observer, quietLogger())
	if err := d.Start(ctx); err != nil {
		t.Fatalf("start dispatcher: %v", err)
	}
	t.Cleanup(func() {
		cancel()
		<-d.Done()
	})

	return d
}

func waitIdle(t *testing.T, d *Dispatcher) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for d.busy.Load() || d.closeQueued.Load() || d.closing.Load() || len(d.queue) > 0 {
		if time.Now().After(deadline) {
			t.Fatalf("dispatcher did not become idle")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestDispatcherConnectEmitsConnectingThenConnected(t *testing.T) {
	session := newStubSession()
	rec := newEventRecorder()
	d := startDispatcher(t, session, rec)

	if err := d.Connect(rover); err != nil {
		t.Fatalf("connect: %v", err)
	}

	ev := rec.next(t)
	if ev.Kind != EventConnecting || ev.Message != ConnectingMessage || ev.Device != rover {
		t.Fatalf("unexpected first event: %+v", ev)
	}
	if ev = rec.next(t); ev.Kind != EventConnected {
		t.Fatalf("expected connected event, got %+v", ev)
	}
}

func TestDispatcherRejectsSecondConnectWhileBusy(t *testing.T) {
	session := newStubSession()
	session.connectGate = make(chan struct{})
	rec := newEventRecorder()
	d := startDispatcher(t, session, rec)

	if err := d.Connect(rover); err != nil {
		t.Fatalf("first connect: %v", err)
	}
	if err := d.Connect(rover); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy for overlapping connect, got %v", err)
	}
	if err := d.SendCommand(domain.CommandForward); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy for send during connect, got %v", err)
	}
	if err := d.RequestTelemetry(); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy for request during connect, got %v", err)
	}

	close(session.connectGate)
	rec.next(t)
	rec.next(t)
	waitIdle(t, d)

	if got := session.connectCalls.Load(); got != 1 {
		t.Fatalf("expected a single channel connect, got %d", got)
	}
	if got := session.maxInFlight.Load(); got != 1 {
		t.Fatalf("expected at most one operation in flight, got %d", got)
	}
	if err := d.SendCommand(domain.CommandForward); err != nil {
		t.Fatalf("expected send to be accepted once idle: %v", err)
	}
}

func TestDispatcherCloseRunsAfterInFlightOperation(t *testing.T) {
	session := newStubSession()
	session.connectGate = make(chan struct{})
	rec := newEventRecorder()
	d := startDispatcher(t, session, rec)

	if err := d.Connect(rover); err != nil {
		t.Fatalf("connect: %v", err)
	}
	rec.next(t)

	for i := 0; i < 3; i++ {
		if err := d.Close(); err != nil {
			t.Fatalf("close %d: %v", i, err)
		}
	}
	close(session.connectGate)
	if ev := rec.next(t); ev.Kind != EventConnected {
		t.Fatalf("expected connected before close, got %+v", ev)
	}
	waitIdle(t, d)

	want := []string{"connect", "close"}
	got := session.callLog()
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("expected calls %v, got %v", want, got)
	}
	if got := session.maxInFlight.Load(); got != 1 {
		t.Fatalf("close overlapped the in-flight connect")
	}
	rec.expectNone(t)
}

func TestDispatcherRejectsOperationsBehindQueuedClose(t *testing.T) {
	session := newStubSession()
	session.connectGate = make(chan struct{})
	session.closeGate = make(chan struct{})
	rec := newEventRecorder()
	d := startDispatcher(t, session, rec)

	if err := d.Connect(rover); err != nil {
		t.Fatalf("connect: %v", err)
	}
	rec.next(t)
	if err := d.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := d.SendCommand(domain.CommandForward); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy for send with a close queued, got %v", err)
	}

	close(session.connectGate)
	if ev := rec.next(t); ev.Kind != EventConnected {
		t.Fatalf("expected connected, got %+v", ev)
	}

	for name, submit := range map[string]func() error{
		"connect": func() error { return d.Connect(rover) },
		"send":    func() error { return d.SendCommand(domain.CommandForward) },
		"request": d.RequestTelemetry,
		"init":    d.Init,
	} {
		if err := submit(); !errors.Is(err, ErrBusy) {
			t.Fatalf("%s: expected ErrBusy behind the pending close, got %v", name, err)
		}
	}

	close(session.closeGate)
	waitIdle(t, d)
	rec.expectNone(t)

	want := []string{"connect", "close"}
	if got := session.callLog(); len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("expected calls %v, got %v", want, got)
	}
	if session.Snapshot().State != link.StateReady {
		t.Fatalf("expected session closed, got %s", session.Snapshot().State)
	}
}

func TestDispatcherRejectsOperationsWhileCloseRuns(t *testing.T) {
	session := newStubSession()
	session.setState(link.StateConnected)
	session.closeGate = make(chan struct{})
	rec := newEventRecorder()
	d := startDispatcher(t, session, rec)

	if err := d.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for !d.closing.Load() {
		if time.Now().After(deadline) {
			t.Fatalf("close never started")
		}
		time.Sleep(time.Millisecond)
	}

	if err := d.SendCommand(domain.CommandForward); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy for send during close, got %v", err)
	}
	if err := d.RequestTelemetry(); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy for request during close, got %v", err)
	}
	if err := d.Connect(rover); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy for connect during close, got %v", err)
	}

	close(session.closeGate)
	waitIdle(t, d)
	rec.expectNone(t)

	if got := session.callLog(); len(got) != 1 || got[0] != "close" {
		t.Fatalf("expected only the close to reach the session, got %v", got)
	}
	if err := d.Connect(rover); err != nil {
		t.Fatalf("expected connect to be accepted after close: %v", err)
	}
}

func TestDispatcherRejectsWhileRequestOrSendInFlight(t *testing.T) {
	tests := []struct {
		name   string
		gate   func(*stubSession) chan struct{}
		submit func(*Dispatcher) error
		done   EventKind
	}{
		{
			name:   "request",
			gate:   func(s *stubSession) chan struct{} { s.requestGate = make(chan struct{}); return s.requestGate },
			submit: (*Dispatcher).RequestTelemetry,
			done:   EventTelemetry,
		},
		{
			name:   "send",
			gate:   func(s *stubSession) chan struct{} { s.sendGate = make(chan struct{}); return s.sendGate },
			submit: func(d *Dispatcher) error { return d.SendCommand(domain.CommandBackward) },
			done:   EventCommandSent,
		},
	}

	for _, tc := range tests {
		session := newStubSession()
		session.setState(link.StateConnected)
		gate := tc.gate(session)
		rec := newEventRecorder()
		d := startDispatcher(t, session, rec)

		if err := tc.submit(d); err != nil {
			t.Fatalf("%s: first submit: %v", tc.name, err)
		}
		if err := d.SendCommand(domain.CommandForward); !errors.Is(err, ErrBusy) {
			t.Fatalf("%s: expected ErrBusy for send, got %v", tc.name, err)
		}
		if err := d.RequestTelemetry(); !errors.Is(err, ErrBusy) {
			t.Fatalf("%s: expected ErrBusy for request, got %v", tc.name, err)
		}

		close(gate)
		if ev := rec.next(t); ev.Kind != tc.done {
			t.Fatalf("%s: expected %s event, got %+v", tc.name, tc.done, ev)
		}
		waitIdle(t, d)
		if got := session.callLog(); len(got) != 1 {
			t.Fatalf("%s: expected a single session call, got %v", tc.name, got)
		}
		if got := session.maxInFlight.Load(); got != 1 {
			t.Fatalf("%s: expected at most one operation in flight, got %d", tc.name, got)
		}
	}
}

func TestDispatcherCloseReportsOnlyErrors(t *testing.T) {
	session := newStubSession()
	rec := newEventRecorder()
	d := startDispatcher(t, session, rec)

	if err := d.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	waitIdle(t, d)
	rec.expectNone(t)

	session.setState(link.StateConnected)
	session.closeErr = errors.New("socket stuck")
	if err := d.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	ev := rec.next(t)
	if ev.Kind != EventError || ev.Op != OpClose || !errors.Is(ev.Err, session.closeErr) {
		t.Fatalf("unexpected close event: %+v", ev)
	}
}

func TestDispatcherSendAndRequestEvents(t *testing.T) {
	session := newStubSession()
	session.setState(link.StateConnected)
	session.reading = domain.TelemetryReading{Temperature: "25", Humidity: "60"}
	rec := newEventRecorder()
	d := startDispatcher(t, session, rec)

	if err := d.SendCommand(domain.CommandLeft); err != nil {
		t.Fatalf("send: %v", err)
	}
	ev := rec.next(t)
	if ev.Kind != EventCommandSent || ev.Command != domain.CommandLeft {
		t.Fatalf("unexpected send event: %+v", ev)
	}

	if err := d.RequestTelemetry(); err != nil {
		t.Fatalf("request: %v", err)
	}
	ev = rec.next(t)
	if ev.Kind != EventTelemetry || ev.Reading != session.reading {
		t.Fatalf("unexpected telemetry event: %+v", ev)
	}
}

func TestDispatcherReportsOperationErrors(t *testing.T) {
	session := newStubSession()
	session.setState(link.StateConnected)
	session.sendErr = &link.IOError{Op: "send forward", Err: errors.New("broken pipe")}
	session.requestErr = link.ErrMalformedPayload
	rec := newEventRecorder()
	d := startDispatcher(t, session, rec)

	if err := d.SendCommand(domain.CommandForward); err != nil {
		t.Fatalf("send: %v", err)
	}
	ev := rec.next(t)
	if ev.Kind != EventError || ev.Op != OpSend || ev.Message == "" {
		t.Fatalf("unexpected send error event: %+v", ev)
	}
	waitIdle(t, d)

	if err := d.RequestTelemetry(); err != nil {
		t.Fatalf("request: %v", err)
	}
	ev = rec.next(t)
	if ev.Kind != EventError || !errors.Is(ev.Err, link.ErrMalformedPayload) {
		t.Fatalf("unexpected request error event: %+v", ev)
	}
}

func TestDispatcherRejectsUnknownCommand(t *testing.T) {
	d := startDispatcher(t, newStubSession(), nil)
	if err := d.SendCommand(domain.Command('z')); !errors.Is(err, link.ErrUnknownCommand) {
		t.Fatalf("expected unknown command, got %v", err)
	}
	if d.busy.Load() {
		t.Fatalf("rejected command must not mark dispatcher busy")
	}
}

func TestDispatcherConnectWhileConnectedSkipsConnectingNotice(t *testing.T) {
	session := newStubSession()
	session.setState(link.StateConnected)
	session.connectErr = errors.New("invalid state")
	rec := newEventRecorder()
	d := startDispatcher(t, session, rec)

	if err := d.Connect(rover); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if ev := rec.next(t); ev.Kind != EventError || ev.Op != OpConnect {
		t.Fatalf("expected error event, got %+v", ev)
	}
}

func TestDispatcherReconnect(t *testing.T) {
	session := newStubSession()
	rec := newEventRecorder()
	d := startDispatcher(t, session, rec)

	if err := d.Reconnect(); !errors.Is(err, ErrNoLastDevice) {
		t.Fatalf("expected no last device, got %v", err)
	}
	if err := d.Connect(rover); err != nil {
		t.Fatalf("connect: %v", err)
	}
	rec.next(t)
	rec.next(t)
	waitIdle(t, d)

	if err := d.Reconnect(); err != nil {
		t.Fatalf("reconnect: %v", err)
	}
	if ev := rec.next(t); ev.Kind != EventConnecting || ev.Op != OpReconnect {
		t.Fatalf("unexpected reconnect event: %+v", ev)
	}
	if ev := rec.next(t); ev.Kind != EventConnected {
		t.Fatalf("expected connected after reconnect, got %+v", ev)
	}

	want := []string{"connect", "close", "connect"}
	got := session.callLog()
	if len(got) != len(want) {
		t.Fatalf("expected calls %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected calls %v, got %v", want, got)
		}
	}
}

func TestDispatcherStopClosesSession(t *testing.T) {
	session := newStubSession()
	session.setState(link.StateConnected)
	ctx, cancel := context.WithCancel(context.Background())
	d := NewDispatcher(session, nil, quietLogger())
	if err := d.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := d.Start(ctx); err == nil {
		t.Fatalf("expected second start to fail")
	}

	cancel()
	select {
	case <-d.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("dispatcher did not stop")
	}

	if session.Snapshot().State != link.StateReady {
		t.Fatalf("expected session closed on shutdown")
	}
	if err := d.Connect(rover); !errors.Is(err, ErrStopped) {
		t.Fatalf("expected ErrStopped, got %v", err)
	}
	if err := d.Close(); !errors.Is(err, ErrStopped) {
		t.Fatalf("expected ErrStopped for close, got %v", err)
	}
}

func TestDispatcherNotStarted(t *testing.T) {
	d := NewDispatcher(newStubSession(), nil, quietLogger())
	if err := d.Init(); !errors.Is(err, ErrStopped) {
		t.Fatalf("expected ErrStopped, got %v", err)
	}
}
