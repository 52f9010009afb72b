package control

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/skobkin/btrover/internal/domain"
	"github.com/skobkin/btrover/internal/link"
)

var (
	// ErrBusy rejects an operation while another one is queued or running.
	ErrBusy = errors.New("another link operation is in flight")
	// ErrStopped is returned once the dispatcher worker has exited.
	ErrStopped        = errors.New("dispatcher is not running")
	ErrNoLastDevice   = errors.New("no device to reconnect to")
	errAlreadyRunning = errors.New("dispatcher is already running")
)

// Session is the link state machine the dispatcher drives.
type Session interface {
	Init(ctx context.Context) error
	Connect(ctx context.Context, device domain.DeviceRef) error
	Send(ctx context.Context, cmd domain.Command) error
	RequestTelemetry(ctx context.Context) (domain.TelemetryReading, error)
	Close() error
	Snapshot() link.Snapshot
}

type operation struct {
	op     Op
	device domain.DeviceRef
	cmd    domain.Command
}

// Dispatcher serializes caller intents onto the session through a single
// worker goroutine. Init, connect, send, request and reconnect are rejected
// with ErrBusy while any operation, close included, is queued or running.
// Close is never rejected: it runs after whatever is in flight, and repeated
// close requests made before it runs collapse into one.
type Dispatcher struct {
	session  Session
	observer Observer
	logger   *slog.Logger

	queue       chan operation
	busy        atomic.Bool
	closeQueued atomic.Bool
	closing     atomic.Bool

	mu      sync.Mutex
	running bool
	done    chan struct{}
	last    domain.DeviceRef
}

func NewDispatcher(session Session, observer Observer, logger *slog.Logger) *Dispatcher {
	if observer == nil {
		observer = Observers(nil)
	}
	if logger == nil {
		logger = slog.Default().With("component", "control.dispatcher")
	}

	return &Dispatcher{
		session:  session,
		observer: observer,
		logger:   logger,
		// one exclusive operation plus one pending close
		queue: make(chan operation, 2),
	}
}

// Start launches the worker. It stops when ctx is canceled, closing the
// session on the way out.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return errAlreadyRunning
	}
	d.running = true
	d.done = make(chan struct{})
	go d.run(ctx, d.done)

	return nil
}

// Done is closed when the worker has exited.
func (d *Dispatcher) Done() <-chan struct{} {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.done
}

func (d *Dispatcher) Snapshot() link.Snapshot {
	return d.session.Snapshot()
}

func (d *Dispatcher) Init() error {
	return d.submit(operation{op: OpInit})
}

func (d *Dispatcher) Connect(device domain.DeviceRef) error {
	return d.submit(operation{op: OpConnect, device: device})
}

// Reconnect closes the current link and connects to the last device again.
func (d *Dispatcher) Reconnect() error {
	d.mu.Lock()
	device := d.last
	d.mu.Unlock()
	if device.ID == "" {
		return ErrNoLastDevice
	}

	return d.submit(operation{op: OpReconnect, device: device})
}

func (d *Dispatcher) SendCommand(cmd domain.Command) error {
	if !cmd.Valid() {
		return link.ErrUnknownCommand
	}

	return d.submit(operation{op: OpSend, cmd: cmd})
}

func (d *Dispatcher) RequestTelemetry() error {
	return d.submit(operation{op: OpRequest})
}

func (d *Dispatcher) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running {
		return ErrStopped
	}
	if d.closeQueued.Load() {
		d.logger.Debug("close already queued")
		return nil
	}
	d.closeQueued.Store(true)
	if !d.enqueueLocked(operation{op: OpClose}) {
		d.closeQueued.Store(false)
		return ErrStopped
	}

	return nil
}

func (d *Dispatcher) submit(op operation) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running {
		return ErrStopped
	}
	if d.busy.Load() || d.closeQueued.Load() || d.closing.Load() {
		d.logger.Debug("operation rejected", "op", op.op)
		return ErrBusy
	}
	d.busy.Store(true)
	if !d.enqueueLocked(op) {
		d.busy.Store(false)
		return ErrStopped
	}

	return nil
}

// enqueueLocked must be called with d.mu held and the matching flag already
// raised, since the worker may pick the operation up before this returns.
func (d *Dispatcher) enqueueLocked(op operation) bool {
	select {
	case d.queue <- op:
		return true
	default:
		return false
	}
}

func (d *Dispatcher) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer d.shutdown()

	for {
		select {
		case <-ctx.Done():
			return
		case op := <-d.queue:
			if op.op == OpClose {
				// closing is raised before closeQueued drops so admission never sees a gap.
				d.closing.Store(true)
				d.closeQueued.Store(false)
				d.execute(ctx, op)
				d.closing.Store(false)
				continue
			}
			d.execute(ctx, op)
			d.busy.Store(false)
		}
	}
}

func (d *Dispatcher) execute(ctx context.Context, op operation) {
	d.logger.Debug("operation started", "op", op.op)

	switch op.op {
	case OpInit:
		if err := d.session.Init(ctx); err != nil {
			d.emit(errorEvent(OpInit, domain.DeviceRef{}, err))
		}
	case OpConnect:
		d.connect(ctx, OpConnect, op.device)
	case OpReconnect:
		if err := d.session.Close(); err != nil {
			d.logger.Warn("close before reconnect failed", "error", err)
		}
		d.connect(ctx, OpReconnect, op.device)
	case OpSend:
		if err := d.session.Send(ctx, op.cmd); err != nil {
			d.emit(errorEvent(OpSend, d.session.Snapshot().Device, err))
			return
		}
		d.emit(Event{Kind: EventCommandSent, Op: OpSend, Command: op.cmd, Device: d.session.Snapshot().Device})
	case OpRequest:
		reading, err := d.session.RequestTelemetry(ctx)
		if err != nil {
			d.emit(errorEvent(OpRequest, d.session.Snapshot().Device, err))
			return
		}
		d.emit(Event{Kind: EventTelemetry, Op: OpRequest, Reading: reading, Device: d.session.Snapshot().Device})
	case OpClose:
		device := d.session.Snapshot().Device
		if err := d.session.Close(); err != nil {
			d.emit(errorEvent(OpClose, device, err))
		}
	}
}

func (d *Dispatcher) connect(ctx context.Context, op Op, device domain.DeviceRef) {
	d.mu.Lock()
	d.last = device
	d.mu.Unlock()

	if state := d.session.Snapshot().State; state != link.StateReady && state != link.StateFailed {
		// The session rejects this; no connecting notice.
		d.emit(errorEvent(op, device, d.session.Connect(ctx, device)))
		return
	}
	d.emit(Event{Kind: EventConnecting, Op: op, Device: device, Message: ConnectingMessage})
	if err := d.session.Connect(ctx, device); err != nil {
		d.emit(errorEvent(op, device, err))
		return
	}
	d.emit(Event{Kind: EventConnected, Op: op, Device: device})
}

func (d *Dispatcher) shutdown() {
	d.mu.Lock()
	d.running = false
	for len(d.queue) > 0 {
		op := <-d.queue
		d.logger.Debug("operation dropped on shutdown", "op", op.op)
	}
	d.busy.Store(false)
	d.closeQueued.Store(false)
	d.closing.Store(false)
	d.mu.Unlock()

	state := d.session.Snapshot().State
	if state == link.StateUninitialized || state == link.StateReady {
		return
	}
	if err := d.session.Close(); err != nil {
		d.logger.Warn("close on shutdown failed", "error", err)
	}
}

func (d *Dispatcher) emit(ev Event) {
	if ev.Kind == EventError {
		d.logger.Warn("operation failed", "op", ev.Op, "error", ev.Err)
	} else {
		d.logger.Debug("event", "kind", ev.Kind.String(), "op", ev.Op)
	}
	d.observer.HandleEvent(ev)
}
