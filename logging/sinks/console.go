package sinks

import (
	"context"

	"github.com/sirupsen/logrus"

	"crateclash/logging"
)

// Console renders events through a logrus logger so structured events and
// process logs share one formatter.
type Console struct {
	logger logrus.FieldLogger
}

func NewConsole(logger logrus.FieldLogger) *Console {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Console{logger: logger}
}

func (s *Console) Write(event logging.Event) error {
	fields := logrus.Fields{
		"frame":    event.Frame,
		"category": event.Category,
	}
	if event.Subject.ID != "" || event.Subject.Kind != "" {
		fields["subject"] = formatSubject(event.Subject)
	}
	if event.Payload != nil {
		fields["payload"] = event.Payload
	}
	for k, v := range event.Extra {
		if _, taken := fields[k]; !taken {
			fields[k] = v
		}
	}
	entry := s.logger.WithFields(fields)
	msg := string(event.Type)
	switch event.Severity {
	case logging.SeverityDebug:
		entry.Debug(msg)
	case logging.SeverityWarn:
		entry.Warn(msg)
	case logging.SeverityError:
		entry.Error(msg)
	default:
		entry.Info(msg)
	}
	return nil
}

func (s *Console) Close(context.Context) error {
	return nil
}

func formatSubject(ref logging.Subject) string {
	if ref.ID == "" {
		return string(ref.Kind)
	}
	if ref.Kind == "" {
		return ref.ID
	}
	return string(ref.Kind) + ":" + ref.ID
}
