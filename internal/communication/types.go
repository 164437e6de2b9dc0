// Package communication implements the Communication Hub: the Message
// Router (C7), Delivery Service (C8), and Coordination Service (C9).
package communication

import (
	"time"
)

// MessageType is the closed enumeration of message kinds (spec §3).
type MessageType string

const (
	MessageTaskRequest        MessageType = "TaskRequest"
	MessageTaskResponse       MessageType = "TaskResponse"
	MessageStatusUpdate       MessageType = "StatusUpdate"
	MessageDataShare          MessageType = "DataShare"
	MessageCoordinationRequest MessageType = "CoordinationRequest"
	MessageAlert              MessageType = "Alert"
	MessageHealthCheck        MessageType = "HealthCheck"
	MessageWorkflowSignal     MessageType = "WorkflowSignal"
	MessageContextUpdate      MessageType = "ContextUpdate"
	MessageCapabilityAnnounce MessageType = "CapabilityAnnounce"
)

// Priority is the message-level priority enum, distinct from task Priority
// (spec §3: "priority (Critical, High, Normal, Low)").
type Priority string

const (
	PriorityCritical Priority = "Critical"
	PriorityHigh     Priority = "High"
	PriorityNormal   Priority = "Normal"
	PriorityLow      Priority = "Low"
)

// RecipientKind tags the duck-typed recipient union (spec's REDESIGN FLAGS:
// "Model as a tagged variant with explicit constructors").
type RecipientKind string

const (
	RecipientWorkerKind RecipientKind = "worker_kind"
	RecipientInstance   RecipientKind = "instance"
	RecipientBroadcast  RecipientKind = "broadcast"
	RecipientChannel    RecipientKind = "channel"
)

// Recipient is the tagged variant for message addressing.
type Recipient struct {
	Kind  RecipientKind `json:"kind"`
	Value string        `json:"value,omitempty"` // worker-kind string, instance id, or channel name; empty for broadcast
}

func ToWorkerKind(kind string) Recipient { return Recipient{Kind: RecipientWorkerKind, Value: kind} }
func ToInstance(id string) Recipient     { return Recipient{Kind: RecipientInstance, Value: id} }
func ToBroadcast() Recipient             { return Recipient{Kind: RecipientBroadcast} }
func ToChannel(name string) Recipient    { return Recipient{Kind: RecipientChannel, Value: name} }

// String renders the recipient in the wire form the spec describes
// (`broadcast`, `channel:<name>`, a bare worker-kind or instance id).
func (r Recipient) String() string {
	switch r.Kind {
	case RecipientBroadcast:
		return "broadcast"
	case RecipientChannel:
		return "channel:" + r.Value
	default:
		return r.Value
	}
}

// ParseRecipient inverts Recipient.String, defaulting ambiguous bare
// strings to RecipientWorkerKind. A bare instance id therefore parses as a
// worker kind; the Router routes it through the worker-kind table and does
// not fall back to an instance-id match.
func ParseRecipient(s string) Recipient {
	if s == "broadcast" {
		return ToBroadcast()
	}
	if len(s) > 8 && s[:8] == "channel:" {
		return ToChannel(s[8:])
	}
	return Recipient{Kind: RecipientWorkerKind, Value: s}
}

// Message is the envelope exchanged over the hub (spec §3, §6 "Message
// envelope").
type Message struct {
	ID        string    `json:"id"`
	Sender    string    `json:"sender"` // worker-kind string
	Recipient Recipient `json:"recipient"`
	Type      MessageType `json:"type"`
	Priority  Priority    `json:"priority"`

	Payload map[string]interface{} `json:"payload,omitempty"`
	Context map[string]interface{} `json:"context,omitempty"`

	RequiresResponse bool           `json:"requires_response"`
	ResponseTimeout  *time.Duration `json:"response_timeout,omitempty"`
	CorrelationID    string         `json:"correlation_id,omitempty"`

	Timestamp  time.Time      `json:"timestamp"`
	TTLSeconds *int           `json:"ttl_seconds,omitempty"`

	RetryCount int `json:"retry_count"`
	MaxRetries int `json:"max_retries"`

	// Optional envelope flags, populated by the Delivery Service per the
	// protocol matrix before transport.
	Encrypted  bool   `json:"encrypted,omitempty"`
	Compressed bool   `json:"compressed,omitempty"`
	Checksum   string `json:"checksum,omitempty"`

	// Status tracks the message's own lifecycle (spec §3 Lifecycles:
	// "Messages live until acknowledged, timed out, or TTL-expired").
	Acked     bool       `json:"acked"`
	DeliveredAt *time.Time `json:"delivered_at,omitempty"`
	AckedAt     *time.Time `json:"acked_at,omitempty"`
}

// Expired reports whether the message's TTL has elapsed as of now.
func (m *Message) Expired(now time.Time) bool {
	if m.TTLSeconds == nil {
		return false
	}
	return now.After(m.Timestamp.Add(time.Duration(*m.TTLSeconds) * time.Second))
}

// Deadline returns the response deadline for a requires-response message,
// or the zero time if none applies.
func (m *Message) Deadline() time.Time {
	if !m.RequiresResponse || m.ResponseTimeout == nil {
		return time.Time{}
	}
	return m.Timestamp.Add(*m.ResponseTimeout)
}
