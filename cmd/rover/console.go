package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/skobkin/btrover/internal/control"
	"github.com/skobkin/btrover/internal/domain"
)

const busyRetryInterval = 20 * time.Millisecond

// consolePrinter renders dispatcher events as terminal lines.
type consolePrinter struct {
	mu  sync.Mutex
	out io.Writer
}

func newConsolePrinter(out io.Writer) *consolePrinter {
	return &consolePrinter{out: out}
}

func (p *consolePrinter) HandleEvent(ev control.Event) {
	line := formatEvent(ev)
	if line == "" {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	_, _ = fmt.Fprintln(p.out, line)
}

func (p *consolePrinter) Println(line string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, _ = fmt.Fprintln(p.out, line)
}

func formatEvent(ev control.Event) string {
	switch ev.Kind {
	case control.EventConnecting:
		return cyan(ev.Message) + " " + ev.Device.String()
	case control.EventConnected:
		return green("connected") + " " + ev.Device.String()
	case control.EventCommandSent:
		return fmt.Sprintf("sent %c (%s)", byte(ev.Command), ev.Command)
	case control.EventTelemetry:
		return formatReading(ev.Reading)
	case control.EventError:
		return red(string(ev.Op)+" failed: ") + ev.Message
	default:
		return ""
	}
}

func formatReading(r domain.TelemetryReading) string {
	return fmt.Sprintf("temperature %s  humidity %s", green(r.Temperature), green(r.Humidity))
}

// eventStream lets one-shot commands wait for dispatcher outcomes.
type eventStream struct {
	ch chan control.Event
}

func newEventStream() *eventStream {
	return &eventStream{ch: make(chan control.Event, 16)}
}

func (s *eventStream) HandleEvent(ev control.Event) {
	select {
	case s.ch <- ev:
	default:
	}
}

// await returns the next event of one of kinds. An error event ends the wait
// with its error. timeout of zero waits for ctx only.
func (s *eventStream) await(ctx context.Context, timeout time.Duration, kinds ...control.EventKind) (control.Event, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	for {
		select {
		case <-ctx.Done():
			return control.Event{}, ctx.Err()
		case ev := <-s.ch:
			if ev.Kind == control.EventError {
				if ev.Err != nil {
					return ev, ev.Err
				}

				return ev, errors.New(ev.Message)
			}
			for _, kind := range kinds {
				if ev.Kind == kind {
					return ev, nil
				}
			}
		}
	}
}

// submitWhenIdle retries fn while the dispatcher reports ErrBusy.
func submitWhenIdle(ctx context.Context, fn func() error) error {
	for {
		err := fn()
		if !errors.Is(err, control.ErrBusy) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(busyRetryInterval):
		}
	}
}
