package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/gen2brain/beeep"
)

// Sender delivers a user-facing notification. Implementations must be
// safe for concurrent use.
type Sender interface {
	Notify(ctx context.Context, title, body string) error
}

// DesktopSender raises desktop notifications through the OS
// notification service.
type DesktopSender struct {
	appName string
}

func NewDesktopSender(appName string) *DesktopSender {
	return &DesktopSender{appName: appName}
}

func (s *DesktopSender) Notify(_ context.Context, title, body string) error {
	if err := beeep.Notify(s.appName+": "+title, body, ""); err != nil {
		return fmt.Errorf("desktop notification: %w", err)
	}

	return nil
}

// LogSender writes notifications to the log. Used on headless hosts
// where no notification service exists.
type LogSender struct {
	logger *slog.Logger
}

func NewLogSender(logger *slog.Logger) *LogSender {
	if logger == nil {
		logger = slog.Default()
	}

	return &LogSender{logger: logger.With("component", "notify")}
}

func (s *LogSender) Notify(_ context.Context, title, body string) error {
	s.logger.Info("notification", "title", title, "body", body)

	return nil
}
