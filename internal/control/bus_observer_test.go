package control

import (
	"errors"
	"testing"
	"time"

	"github.com/skobkin/btrover/internal/bus"
	"github.com/skobkin/btrover/internal/connectors"
	"github.com/skobkin/btrover/internal/domain"
	"github.com/skobkin/btrover/internal/link"
)

type published struct {
	topic string
	msg   any
}

type recordingBus struct {
	msgs []published
}

func (b *recordingBus) Publish(topic string, msg any) {
	b.msgs = append(b.msgs, published{topic: topic, msg: msg})
}

func (b *recordingBus) Subscribe(...string) bus.Subscription    { return make(bus.Subscription) }
func (b *recordingBus) Unsubscribe(bus.Subscription, ...string) {}
func (b *recordingBus) Close()                                  {}

func TestBusObserverPublishesEvents(t *testing.T) {
	b := &recordingBus{}
	state := link.StateConnected
	obs := NewBusObserver(b, func() link.State { return state })
	ts := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	obs.now = func() time.Time { return ts }

	reading := domain.TelemetryReading{Temperature: "25", Humidity: "60"}
	obs.HandleEvent(Event{Kind: EventConnecting, Device: rover, Message: ConnectingMessage})
	obs.HandleEvent(Event{Kind: EventConnected, Device: rover})
	obs.HandleEvent(Event{Kind: EventCommandSent, Device: rover, Command: domain.CommandStop})
	obs.HandleEvent(Event{Kind: EventTelemetry, Device: rover, Reading: reading})
	state = link.StateFailed
	obs.HandleEvent(errorEvent(OpRequest, rover, errors.New("read telemetry: EOF")))

	wantTopics := []string{
		connectors.TopicSessionStatus,
		connectors.TopicSessionStatus,
		connectors.TopicCommandSent,
		connectors.TopicTelemetry,
		connectors.TopicSessionError,
		connectors.TopicSessionStatus,
	}
	if len(b.msgs) != len(wantTopics) {
		t.Fatalf("expected %d messages, got %d: %+v", len(wantTopics), len(b.msgs), b.msgs)
	}
	for i, topic := range wantTopics {
		if b.msgs[i].topic != topic {
			t.Fatalf("message %d: expected topic %q, got %q", i, topic, b.msgs[i].topic)
		}
	}

	if status := b.msgs[0].msg.(connectors.SessionStatus); status.State != connectors.SessionStateConnecting || status.Message != ConnectingMessage {
		t.Fatalf("unexpected connecting status: %+v", status)
	}
	if tel := b.msgs[3].msg.(connectors.TelemetryEvent); tel.Reading != reading || !tel.ReceivedAt.Equal(ts) {
		t.Fatalf("unexpected telemetry payload: %+v", tel)
	}
	if errEv := b.msgs[4].msg.(connectors.ErrorEvent); errEv.Op != string(OpRequest) || errEv.Err != "read telemetry: EOF" {
		t.Fatalf("unexpected error payload: %+v", errEv)
	}
	if status := b.msgs[5].msg.(connectors.SessionStatus); status.State != connectors.SessionStateFailed || status.Err == "" {
		t.Fatalf("unexpected failure status: %+v", status)
	}
}

func TestSessionStateOf(t *testing.T) {
	tests := map[link.State]connectors.SessionState{
		link.StateReady:         connectors.SessionStateReady,
		link.StateConnecting:    connectors.SessionStateConnecting,
		link.StateConnected:     connectors.SessionStateConnected,
		link.StateFailed:        connectors.SessionStateFailed,
		link.StateUninitialized: connectors.SessionStateFailed,
	}
	for in, want := range tests {
		if got := sessionStateOf(in); got != want {
			t.Fatalf("%s: expected %q, got %q", in, want, got)
		}
	}
}
