package transport

import (
	"context"
	"io"
	"log/slog"
	"time"
)

// Channel is a duplex byte stream to one remote endpoint.
//
// Connect blocks until the link is established or ctx is done. Input and Output
// open the inbound and outbound halves of a connected channel. Closing a half
// releases only that half; Close releases the channel itself and must be safe
// to call after the halves were closed.
type Channel interface {
	Name() string
	Target() string
	Connect(ctx context.Context) error
	Input() (io.ReadCloser, error)
	Output() (Output, error)
	Close() error
}

// Output is the outbound half of a channel.
type Output interface {
	io.WriteCloser
	Flush() error
}

// ReadDeadliner is implemented by inputs that support read deadlines.
type ReadDeadliner interface {
	SetReadDeadline(t time.Time) error
}

// WriteDeadliner is implemented by outputs that support write deadlines.
type WriteDeadliner interface {
	SetWriteDeadline(t time.Time) error
}

// transportLogger tags records with the connector so link logs can be
// filtered per channel kind.
func transportLogger(connector string, attrs ...any) *slog.Logger {
	return slog.Default().With(append([]any{"component", "transport", "connector", connector}, attrs...)...)
}
