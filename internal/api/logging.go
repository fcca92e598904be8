package api

import (
	"github.com/sirupsen/logrus"
)

// logEvent writes one structured line per business event.
func (s *Server) logEvent(event string, fields map[string]any) {
	entry := s.logger.WithField("event", event)
	if len(fields) > 0 {
		entry = entry.WithFields(logrus.Fields(fields))
	}
	if _, failed := fields["error"]; failed {
		entry.Warn(event)
		return
	}
	entry.Info(event)
}
