package notifications

import (
	"log/slog"
	"strings"

	"github.com/gen2brain/beeep"
)

// DesktopSender delivers notifications through the host desktop notification daemon.
type DesktopSender struct {
	notify func(title, message string, icon any) error
	logger *slog.Logger
}

// NewDesktopSender returns a sender that tags notifications with appName.
func NewDesktopSender(appName string, logger *slog.Logger) *DesktopSender {
	if logger == nil {
		logger = slog.Default().With("component", "notifications")
	}
	if name := strings.TrimSpace(appName); name != "" {
		beeep.AppName = name
	}

	return &DesktopSender{notify: beeep.Notify, logger: logger}
}

func (s *DesktopSender) Send(payload Payload) {
	if s == nil || s.notify == nil {
		return
	}

	payload, ok := payload.Normalize()
	if !ok {
		return
	}

	if err := s.notify(payload.Title, payload.Content, ""); err != nil {
		// Headless hosts have no notification daemon.
		s.logger.Debug("desktop notification failed", "title", payload.Title, "error", err)
	}
}
