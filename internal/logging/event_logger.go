package logging

import (
	"log/slog"

	"fabingest/internal/services"
)

// EventLogger adapts a slog logger to the message-level services.Logger
// contract handed to plugins.
type EventLogger struct {
	logger *slog.Logger
}

var _ services.Logger = (*EventLogger)(nil)

// NewEventLogger wraps logger. A nil logger discards output.
func NewEventLogger(logger *slog.Logger) *EventLogger {
	if logger == nil {
		logger = NewNop()
	}
	return &EventLogger{logger: logger}
}

func (l *EventLogger) LogEvent(message string) {
	l.logger.Info(message, String(FieldEventType, "plugin_event"))
}

func (l *EventLogger) LogError(message string) {
	l.logger.Error(message,
		String(FieldEventType, "plugin_error"),
		String(FieldErrorHint, "inspect the plugin log for the failing file"),
	)
}

func (l *EventLogger) LogDebug(message string) {
	l.logger.Debug(message)
}

// Slog exposes the underlying structured logger.
func (l *EventLogger) Slog() *slog.Logger {
	return l.logger
}
