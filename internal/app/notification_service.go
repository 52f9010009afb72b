package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/skobkin/btrover/internal/bus"
	"github.com/skobkin/btrover/internal/config"
	"github.com/skobkin/btrover/internal/connectors"
	"github.com/skobkin/btrover/internal/notifications"
)

const (
	notificationTitleConnected = "Rover connected"
	notificationTitleError     = "Rover error"
)

// NotificationService turns session bus events into desktop notifications.
type NotificationService struct {
	bus           bus.MessageBus
	currentConfig func() config.AppConfig
	sender        notifications.Sender
	logger        *slog.Logger

	stateMu      sync.Mutex
	lastState    connectors.SessionState
	lastStateSet bool
}

func NewNotificationService(
	messageBus bus.MessageBus,
	currentConfig func() config.AppConfig,
	sender notifications.Sender,
	logger *slog.Logger,
) *NotificationService {
	if logger == nil {
		logger = slog.Default().With("component", "app.notifications")
	}

	return &NotificationService{
		bus:           messageBus,
		currentConfig: currentConfig,
		sender:        sender,
		logger:        logger,
	}
}

func (s *NotificationService) Start(ctx context.Context) {
	if s == nil || s.bus == nil || s.sender == nil {
		return
	}

	statusSub := s.bus.Subscribe(connectors.TopicSessionStatus)
	errorSub := s.bus.Subscribe(connectors.TopicSessionError)

	go func() {
		defer s.bus.Unsubscribe(statusSub, connectors.TopicSessionStatus)
		defer s.bus.Unsubscribe(errorSub, connectors.TopicSessionError)

		for {
			select {
			case <-ctx.Done():
				return
			case raw, ok := <-statusSub:
				if !ok {
					return
				}
				status, ok := raw.(connectors.SessionStatus)
				if !ok {
					continue
				}
				s.handleSessionStatus(status)
			case raw, ok := <-errorSub:
				if !ok {
					return
				}
				event, ok := raw.(connectors.ErrorEvent)
				if !ok {
					continue
				}
				s.handleSessionError(event)
			}
		}
	}()
}

// handleSessionStatus notifies when the link comes up. Failures are covered
// by the error topic.
func (s *NotificationService) handleSessionStatus(status connectors.SessionStatus) {
	if status.State == "" {
		return
	}

	s.stateMu.Lock()
	if s.lastStateSet && s.lastState == status.State {
		s.stateMu.Unlock()

		return
	}
	s.lastState = status.State
	s.lastStateSet = true
	s.stateMu.Unlock()

	if status.State != connectors.SessionStateConnected || !s.enabled() {
		return
	}
	s.send(notifications.Payload{Title: notificationTitleConnected, Content: status.Device.DisplayName()})
}

func (s *NotificationService) handleSessionError(event connectors.ErrorEvent) {
	if !s.enabled() {
		return
	}

	title := notificationTitleError
	if event.Device.ID != "" {
		title = fmt.Sprintf("%s - %s", notificationTitleError, event.Device.DisplayName())
	}
	s.send(notifications.Payload{
		Title:   title,
		Content: fmt.Sprintf("%s: %s", event.Op, strings.TrimSpace(event.Err)),
	})
}

func (s *NotificationService) enabled() bool {
	cfg := config.Default()
	if s.currentConfig != nil {
		cfg = s.currentConfig()
	}

	return cfg.Notifications.OnError
}

func (s *NotificationService) send(notification notifications.Payload) {
	title := strings.TrimSpace(notification.Title)
	content := strings.TrimSpace(notification.Content)
	if title == "" && content == "" {
		return
	}
	s.logger.Debug("sending notification", "title", title)
	s.sender.Send(notifications.Payload{
		Title:   title,
		Content: content,
	})
}
