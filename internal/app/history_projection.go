package app

import (
	"context"
	"log/slog"

	"github.com/skobkin/btrover/internal/bus"
	"github.com/skobkin/btrover/internal/connectors"
	"github.com/skobkin/btrover/internal/domain"
)

// WriteQueue serializes persistence writes from async bus events.
type WriteQueue interface {
	Enqueue(name string, fn func(context.Context) error)
}

// StartHistoryProjection stores every telemetry event and trims the table to
// keep rows. Writes happen on queue. The returned channel closes when the
// projection stops, either on ctx or when the bus closes the subscription.
func StartHistoryProjection(
	ctx context.Context,
	b bus.MessageBus,
	queue WriteQueue,
	repo domain.TelemetryRepository,
	keep int,
	logger *slog.Logger,
) <-chan struct{} {
	if logger == nil {
		logger = slog.Default().With("component", "app.history")
	}
	sub := b.Subscribe(connectors.TopicTelemetry)
	done := make(chan struct{})

	go func() {
		defer close(done)
		defer b.Unsubscribe(sub, connectors.TopicTelemetry)
		for {
			select {
			case <-ctx.Done():
				return
			case raw, ok := <-sub:
				if !ok {
					return
				}
				event, ok := raw.(connectors.TelemetryEvent)
				if !ok {
					continue
				}
				rec := domain.TelemetryRecord{
					DeviceID:   event.Device.ID,
					Reading:    event.Reading,
					ReceivedAt: event.ReceivedAt,
				}
				queue.Enqueue("insert_telemetry", func(writeCtx context.Context) error {
					if _, err := repo.Insert(writeCtx, rec); err != nil {
						return err
					}
					if keep <= 0 {
						return nil
					}
					pruned, err := repo.Prune(writeCtx, keep)
					if err != nil {
						return err
					}
					if pruned > 0 {
						logger.Debug("pruned telemetry history", "rows", pruned)
					}

					return nil
				})
			}
		}
	}()

	return done
}
