package link

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/skobkin/btrover/internal/domain"
	"github.com/skobkin/btrover/internal/transport"
)

// readStep is one scripted Read result.
type readStep struct {
	data string
	err  error
}

// fakeChannel is a scripted transport.Channel. Reads replay steps; once
// the script runs out, Read blocks until the channel is closed or the
// read deadline passes when deadlines are enabled.
type fakeChannel struct {
	mu sync.Mutex

	connectErr     error
	outputErr      error
	inputErr       error
	writeErr       error
	flushErr       error
	outputCloseErr error
	inputCloseErr  error
	closeErr       error
	deadlines      bool
	blockWhenEmpty bool

	steps   []readStep
	written bytes.Buffer
	flushes int
	log     []string

	connectCalls atomic.Int32
	closed       chan struct{}
	closeOnce    sync.Once
}

func newFakeChannel(steps ...readStep) *fakeChannel {
	return &fakeChannel{steps: steps, closed: make(chan struct{})}
}

func (c *fakeChannel) Name() string   { return "fake" }
func (c *fakeChannel) Target() string { return "fake-target" }

func (c *fakeChannel) Connect(ctx context.Context) error {
	c.connectCalls.Add(1)
	c.record("connect")
	if err := ctx.Err(); err != nil {
		return err
	}

	return c.connectErr
}

func (c *fakeChannel) Input() (io.ReadCloser, error) {
	if c.inputErr != nil {
		return nil, c.inputErr
	}
	in := &fakeInput{ch: c}
	if c.deadlines {
		return &fakeDeadlineInput{fakeInput: in}, nil
	}

	return in, nil
}

func (c *fakeChannel) Output() (transport.Output, error) {
	if c.outputErr != nil {
		return nil, c.outputErr
	}

	return &fakeOutput{ch: c}, nil
}

func (c *fakeChannel) Close() error {
	c.record("close channel")
	c.closeOnce.Do(func() { close(c.closed) })

	return c.closeErr
}

func (c *fakeChannel) record(event string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.log = append(c.log, event)
}

func (c *fakeChannel) events() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return append([]string(nil), c.log...)
}

func (c *fakeChannel) writtenBytes() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.written.String()
}

func (c *fakeChannel) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *fakeChannel) nextStep() (readStep, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.steps) == 0 {
		return readStep{}, false
	}
	step := c.steps[0]
	c.steps = c.steps[1:]

	return step, true
}

type fakeInput struct {
	ch       *fakeChannel
	deadline atomic.Int64
}

func (in *fakeInput) Read(p []byte) (int, error) {
	if step, ok := in.ch.nextStep(); ok {
		if step.err != nil {
			return 0, step.err
		}
		return copy(p, step.data), nil
	}
	if !in.ch.blockWhenEmpty && !in.ch.deadlines {
		return 0, io.EOF
	}

	for {
		if in.ch.isClosed() {
			return 0, os.ErrClosed
		}
		if dl := in.deadline.Load(); dl != 0 && time.Now().UnixNano() >= dl {
			return 0, os.ErrDeadlineExceeded
		}
		time.Sleep(time.Millisecond)
	}
}

func (in *fakeInput) Close() error {
	in.ch.record("close input")
	return in.ch.inputCloseErr
}

type fakeDeadlineInput struct {
	*fakeInput
}

func (in *fakeDeadlineInput) SetReadDeadline(t time.Time) error {
	if t.IsZero() {
		in.deadline.Store(0)
		return nil
	}
	in.deadline.Store(t.UnixNano())

	return nil
}

type fakeOutput struct {
	ch *fakeChannel
}

func (out *fakeOutput) Write(p []byte) (int, error) {
	if out.ch.writeErr != nil {
		return 0, out.ch.writeErr
	}
	out.ch.mu.Lock()
	defer out.ch.mu.Unlock()

	return out.ch.written.Write(p)
}

func (out *fakeOutput) Flush() error {
	out.ch.mu.Lock()
	out.ch.flushes++
	out.ch.mu.Unlock()

	return out.ch.flushErr
}

func (out *fakeOutput) Close() error {
	out.ch.record("close output")
	return out.ch.outputCloseErr
}

func factoryFor(channels ...*fakeChannel) ChannelFactory {
	var (
		mu   sync.Mutex
		next int
	)

	return func(domain.DeviceRef) (transport.Channel, error) {
		mu.Lock()
		defer mu.Unlock()
		if next >= len(channels) {
			return nil, errors.New("no more fake channels")
		}
		ch := channels[next]
		next++

		return ch, nil
	}
}
