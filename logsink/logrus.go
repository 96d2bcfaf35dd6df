// Package logsink adapts a logrus logger into an audit sink so engine
// events land in the host's structured log stream.
package logsink

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/mlenahan/authcore"
)

// LogrusSink writes audit events as structured log entries. Failed
// operations log at warn level, everything else at info.
type LogrusSink struct {
	logger *logrus.Logger
}

// NewLogrusSink wraps the logger. A nil logger falls back to the logrus
// standard logger.
func NewLogrusSink(logger *logrus.Logger) *LogrusSink {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &LogrusSink{logger: logger}
}

func (s *LogrusSink) Emit(_ context.Context, event authcore.AuditEvent) {
	fields := logrus.Fields{
		"event_type": event.EventType,
		"success":    event.Success,
	}
	if event.Identifier != "" {
		fields["identifier"] = event.Identifier
	}
	if event.UserID != 0 {
		fields["user_id"] = event.UserID
	}
	if event.KeyID != 0 {
		fields["key_id"] = event.KeyID
	}
	if event.IP != "" {
		fields["ip"] = event.IP
	}
	if event.Error != "" {
		fields["error"] = event.Error
	}
	for k, v := range event.Metadata {
		fields["meta_"+k] = v
	}

	entry := s.logger.WithTime(event.Timestamp).WithFields(fields)
	if event.Success {
		entry.Info("audit event")
		return
	}
	entry.Warn("audit event")
}
