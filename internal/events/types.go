// Package events provides the internal pub-sub fan-out used by the
// Orchestrator to notify interested components of
// context updates and capability announcements (spec §10 Supplemented
// Features), trimmed from the teacher's open-ended agency event catalogue
// (internal/events/types.go originally also carried agent/pool lifecycle
// events for a local agent runtime this core does not have).
package events

import (
	"context"
	"time"

	"github.com/codevaldcortex/orchestrator/internal/communication"
)

// EventType defines the type of event being processed
type EventType string

const (
	// EventTypeContextUpdate fires when a task completes and the
	// Orchestrator publishes a context update (spec §4.1 report_completion).
	EventTypeContextUpdate EventType = "context_update"

	// EventTypeCapabilityAnnounce fires when a worker instance registers
	// (spec §4.1 register_worker).
	EventTypeCapabilityAnnounce EventType = "capability_announce"

	// System events
	EventTypeSystemStartup  EventType = "system_startup"
	EventTypeSystemShutdown EventType = "system_shutdown"
)

// EventPriority defines the priority level for event processing
type EventPriority int

const (
	PriorityLow EventPriority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

// Event represents a system event that can be processed by handlers
type Event struct {
	ID       string
	Type     EventType
	Priority EventPriority

	// Data contains event-specific payload (ContextUpdateData,
	// CapabilityAnnounceData, or SystemEventData).
	Data interface{}

	Metadata  map[string]interface{}
	Timestamp time.Time
	Context   context.Context
}

// EventHandler defines the interface for processing events
type EventHandler interface {
	Handle(ctx context.Context, event *Event) error
	CanHandle(eventType EventType) bool
	Priority() int
	Name() string
}

// HandlerRegistration contains information about a registered handler
type HandlerRegistration struct {
	Handler   EventHandler
	EventType EventType
	Priority  int
}

// EventResult represents the result of event processing
type EventResult struct {
	EventID      string
	Processed    bool
	Error        error
	Duration     time.Duration
	HandlerCount int
}

// ContextUpdateData carries the task/output context an Orchestrator
// publishes on completion.
type ContextUpdateData struct {
	TaskID        string
	TenantID      string
	CorrelationID string
	Output        map[string]interface{}
}

// CapabilityAnnounceData carries a newly registered worker instance's
// declared capabilities.
type CapabilityAnnounceData struct {
	InstanceID   string
	TenantID     string
	WorkerKinds  []string
}

// MessageEventData carries a Communication Hub message for handlers that
// observe the message bus (e.g. audit logging).
type MessageEventData struct {
	Message *communication.Message
	Error   error
}

// SystemEventData contains data for system-level events
type SystemEventData struct {
	Component string
	Action    string
	Error     error
}
