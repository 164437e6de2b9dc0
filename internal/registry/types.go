// Package registry implements the Capability Registry (C6): the catalogue
// of worker instances, their declared capabilities, current load, and
// health, that the Dispatcher consults to select a candidate worker for a
// task.
package registry

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/codevaldcortex/orchestrator/internal/task"
)

var (
	ErrInstanceNotFound = errors.New("worker instance not found")
	ErrAlreadyRegistered = errors.New("worker instance already registered")
	ErrInvalidCapabilitySchema = errors.New("invalid capability schema")
)

// HealthState is a worker instance's liveness classification, degraded
// purely from heartbeat recency (spec §4.5).
type HealthState string

const (
	HealthHealthy   HealthState = "healthy"
	HealthDegraded  HealthState = "degraded"
	HealthUnhealthy HealthState = "unhealthy"
)

// WorkerCapability declares one task kind a worker instance can execute,
// with an optional JSON Schema constraining the task config it accepts and
// a specialization score used by the Dispatcher's scoring formula.
type WorkerCapability struct {
	Kind           task.Kind       `json:"kind"`
	Specialization float64         `json:"specialization"`
	ConfigSchema   json.RawMessage `json:"config_schema,omitempty"`
}

// WorkerInstance is a registered worker agent's live record (spec §3).
type WorkerInstance struct {
	ID           string             `json:"id"`
	TenantID     string             `json:"tenant_id"`
	Capabilities []WorkerCapability `json:"capabilities"`

	MaxCapacity  int `json:"max_capacity"`
	UsedCapacity int `json:"used_capacity"`

	SuccessRate float64 `json:"success_rate"`

	Health        HealthState `json:"health"`
	Deactivated   bool        `json:"deactivated"`
	LastHeartbeat time.Time   `json:"last_heartbeat"`
	RegisteredAt  time.Time   `json:"registered_at"`

	Metadata map[string]string `json:"metadata,omitempty"`
}

func (w *WorkerInstance) supports(kind task.Kind) (WorkerCapability, bool) {
	for _, c := range w.Capabilities {
		if c.Kind == kind {
			return c, true
		}
	}
	return WorkerCapability{}, false
}

// Snapshot returns a shallow copy safe for readers outside the Registry's
// owner, mirroring internal/task.Task.Snapshot's ownership discipline.
func (w *WorkerInstance) Snapshot() *WorkerInstance {
	cp := *w
	cp.Capabilities = append([]WorkerCapability(nil), w.Capabilities...)
	return &cp
}
