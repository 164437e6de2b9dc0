package events

import (
	"context"

	log "github.com/sirupsen/logrus"
)

// LoggingHandler logs every event it observes, grounded on the teacher's
// internal/events/handlers.go LoggingHandler (its structure kept verbatim;
// the payload switch narrowed to ContextUpdateData and
// CapabilityAnnounceData, every other event logged at debug level).
type LoggingHandler struct{}

func NewLoggingHandler() *LoggingHandler { return &LoggingHandler{} }

func (h *LoggingHandler) Handle(ctx context.Context, event *Event) error {
	entry := log.WithFields(log.Fields{"event_id": event.ID, "event_type": event.Type})
	switch data := event.Data.(type) {
	case *ContextUpdateData:
		entry.WithField("task_id", data.TaskID).Info("context update published")
	case *CapabilityAnnounceData:
		entry.WithField("instance_id", data.InstanceID).Info("capability announced")
	default:
		entry.Debug("event processed")
	}
	return nil
}

func (h *LoggingHandler) CanHandle(eventType EventType) bool { return true }
func (h *LoggingHandler) Priority() int                      { return 0 }
func (h *LoggingHandler) Name() string                       { return "logging_handler" }
