package logging

import (
	"context"
	"log/slog"
	"time"

	"beacon/internal/blink"
	"beacon/internal/ewelink"
)

// DispatcherLogger wraps a device command dispatcher and logs every call
type DispatcherLogger struct {
	dispatcher blink.Dispatcher
	logger     *slog.Logger
}

// NewDispatcherLogger creates a new logging decorator for a dispatcher
func NewDispatcherLogger(dispatcher blink.Dispatcher, logger *slog.Logger) blink.Dispatcher {
	return &DispatcherLogger{
		dispatcher: dispatcher,
		logger:     logger.With("interface", "Dispatcher"),
	}
}

func (l *DispatcherLogger) SetState(ctx context.Context, deviceID string, state ewelink.SwitchState) error {
	start := time.Now()
	l.logger.Info("SetState called",
		"device_id", deviceID,
		"state", state)

	err := l.dispatcher.SetState(ctx, deviceID, state)
	duration := time.Since(start)

	if err != nil {
		l.logger.Error("SetState failed",
			"device_id", deviceID,
			"state", state,
			"duration", duration,
			"error", err)
		return err
	}

	l.logger.Info("SetState completed",
		"device_id", deviceID,
		"state", state,
		"duration", duration)

	return nil
}
