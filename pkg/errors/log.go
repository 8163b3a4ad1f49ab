package errors

import (
	"github.com/sirupsen/logrus"
)

// LogHandler is an ErrorHandler that writes reports through logrus.
type LogHandler struct {
	// Logger receives the reports. Nil means logrus.StandardLogger().
	Logger logrus.FieldLogger
	// Verbose adds stack traces to the logged fields.
	Verbose bool
}

func (h *LogHandler) logger() logrus.FieldLogger {
	if h.Logger == nil {
		return logrus.StandardLogger()
	}
	return h.Logger
}

// HandleError logs a PlayerError at error level.
func (h *LogHandler) HandleError(err *PlayerError) {
	if err == nil {
		return
	}
	fields := logrus.Fields{
		"op":   err.Op,
		"kind": err.Kind.String(),
	}
	if err.Channel != "" {
		fields["channel"] = err.Channel
	}
	if err.PlayerID != 0 {
		fields["player"] = err.PlayerID
	}
	if h.Verbose && err.StackTrace != "" {
		fields["stack"] = err.StackTrace
	}
	h.logger().WithFields(fields).WithError(err.Err).Error("player error")
}

// HandlePanic logs a PanicError at error level.
func (h *LogHandler) HandlePanic(err *PanicError) {
	if err == nil {
		return
	}
	entry := h.logger().WithField("panic", err.Value)
	if err.Op != "" {
		entry = entry.WithField("op", err.Op)
	}
	if h.Verbose && err.StackTrace != "" {
		entry = entry.WithField("stack", err.StackTrace)
	}
	entry.Error("recovered panic")
}
