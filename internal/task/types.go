package task

import (
	"time"
)

// Kind is a closed enumeration of task kinds the core understands for
// routing and capability matching. Worker-side execution semantics for
// each kind are external.
type Kind string

const (
	KindEvidenceCollection  Kind = "evidence-collection"
	KindSecurityScan        Kind = "security-scan"
	KindRiskAssessment      Kind = "risk-assessment"
	KindPolicyAnalysis      Kind = "policy-analysis"
	KindComplianceCheck     Kind = "compliance-check"
	KindReportGeneration    Kind = "report-generation"
	KindDataValidation      Kind = "data-validation"
	KindPredictiveAnalysis  Kind = "predictive-analysis"
	KindWorkflowOrchestration Kind = "workflow-orchestration"
	KindCryptoVerification  Kind = "crypto-verification"
)

// ValidKinds lists every kind the Orchestrator accepts at submission.
var ValidKinds = map[Kind]bool{
	KindEvidenceCollection:    true,
	KindSecurityScan:          true,
	KindRiskAssessment:        true,
	KindPolicyAnalysis:        true,
	KindComplianceCheck:       true,
	KindReportGeneration:      true,
	KindDataValidation:        true,
	KindPredictiveAnalysis:    true,
	KindWorkflowOrchestration: true,
	KindCryptoVerification:    true,
}

// Priority orders tasks; lower value is higher priority.
type Priority int

const (
	PriorityCritical   Priority = 1
	PriorityHigh       Priority = 2
	PriorityMedium     Priority = 3
	PriorityLow        Priority = 4
	PriorityBackground Priority = 5
)

// Status is a task's position in the state machine (spec §4.1).
type Status string

const (
	StatusPending     Status = "pending"
	StatusQueued      Status = "queued"
	StatusAssigned    Status = "assigned"
	StatusWaitingDeps Status = "waiting_deps"
	StatusRunning     Status = "running"
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"
	StatusRetrying    Status = "retrying"
	StatusCancelled   Status = "cancelled"
	StatusTimeout     Status = "timeout"
)

// Terminal reports whether status admits no further transitions.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// transitions enumerates the state machine edges from spec §4.1. Timeout is
// listed as a source because it is a transient terminal that routes into
// retry handling exactly like Running->Retrying/Failed.
var transitions = map[Status]map[Status]bool{
	StatusPending:     {StatusQueued: true, StatusWaitingDeps: true, StatusCancelled: true},
	StatusQueued:      {StatusAssigned: true, StatusCancelled: true},
	StatusAssigned:    {StatusRunning: true, StatusCancelled: true},
	StatusRunning:     {StatusCompleted: true, StatusRetrying: true, StatusFailed: true, StatusTimeout: true, StatusCancelled: true},
	StatusRetrying:    {StatusQueued: true, StatusCancelled: true},
	StatusWaitingDeps: {StatusPending: true, StatusCancelled: true},
	StatusTimeout:     {StatusRetrying: true, StatusFailed: true, StatusCancelled: true},
}

// CanTransition reports whether from->to is a legal edge in the task state
// machine (invariant I1).
func CanTransition(from, to Status) bool {
	if from == to {
		return false
	}
	edges, ok := transitions[from]
	if !ok {
		return false
	}
	return edges[to]
}

// RetryStrategy selects the delay formula used by the Retry Policy Engine.
type RetryStrategy string

const (
	RetryImmediate  RetryStrategy = "immediate"
	RetryLinear     RetryStrategy = "linear_backoff"
	RetryExponential RetryStrategy = "exp_backoff"
	RetryFibonacci  RetryStrategy = "fibonacci_backoff"
	RetryAdaptive   RetryStrategy = "adaptive"
)

// RetryConfig governs retry eligibility and delay computation (spec §4.3).
type RetryConfig struct {
	Strategy        RetryStrategy `json:"strategy"`
	MaxAttempts     int           `json:"max_attempts"`
	InitialDelay    time.Duration `json:"initial_delay"`
	MaxDelay        time.Duration `json:"max_delay"`
	BackoffFactor   float64       `json:"backoff_factor"`
	Jitter          bool          `json:"jitter"`
	RetryOnTags     []string      `json:"retry_on_tags,omitempty"`
	SkipOnTags      []string      `json:"skip_on_tags,omitempty"`
}

// DefaultRetryConfig mirrors the Python original's default (erip-platform
// smart_scheduler.py RetryConfig): exponential backoff, 5 attempts.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		Strategy:      RetryExponential,
		MaxAttempts:   5,
		InitialDelay:  60 * time.Second,
		MaxDelay:      3600 * time.Second,
		BackoffFactor: 2.0,
		Jitter:        true,
	}
}

// ScheduleKind selects how a recurring task's next run is computed.
type ScheduleKind string

const (
	ScheduleContinuous ScheduleKind = "continuous"
	ScheduleInterval   ScheduleKind = "interval"
	ScheduleDaily      ScheduleKind = "daily"
	ScheduleWeekly     ScheduleKind = "weekly"
	ScheduleMonthly    ScheduleKind = "monthly"
	ScheduleCustom     ScheduleKind = "custom"
	ScheduleAdaptive   ScheduleKind = "adaptive"
)

// TimeOfDay is a local wall-clock time used for daily/weekly schedules and
// blackout window boundaries.
type TimeOfDay struct {
	Hour   int
	Minute int
}

func (t TimeOfDay) minutes() int { return t.Hour*60 + t.Minute }

// BlackoutWindow is a local time-of-day range during which dispatch is
// suppressed. It may cross midnight (Start > End).
type BlackoutWindow struct {
	Start TimeOfDay
	End   TimeOfDay
}

// Contains reports whether clock (as minutes-since-midnight) falls inside
// the window, honoring the midnight-crossing case from spec §4.2.
func (w BlackoutWindow) Contains(clockMinutes int) bool {
	start, end := w.Start.minutes(), w.End.minutes()
	if start <= end {
		return clockMinutes >= start && clockMinutes <= end
	}
	return clockMinutes >= start || clockMinutes <= end
}

// ScheduleConfig describes how a recurring task's next run is planned
// (spec §3, §4.2 Schedule Planner).
type ScheduleConfig struct {
	Kind             ScheduleKind      `json:"kind"`
	IntervalMinutes  int               `json:"interval_minutes,omitempty"`
	SpecificTimes    []TimeOfDay       `json:"specific_times,omitempty"`
	DaysOfWeek       []time.Weekday    `json:"days_of_week,omitempty"`
	Timezone         string            `json:"timezone"`
	BlackoutWindows  []BlackoutWindow  `json:"blackout_windows,omitempty"`
	MinCPUAvailable  float64           `json:"min_cpu_available,omitempty"`
	MinMemAvailable  float64           `json:"min_mem_available,omitempty"`
	Priority         Priority          `json:"priority"`
	MaxConcurrent    int               `json:"max_concurrent"`
}

// ExecutionRecord is one historical run outcome (spec §3: "ring of the most
// recent 100"). PlanNextRun takes a caller-supplied slice of these; no
// component in this repository records or trims them.
type ExecutionRecord struct {
	TaskID       string                 `json:"task_id"`
	StartedAt    time.Time              `json:"started_at"`
	Duration     time.Duration          `json:"duration"`
	Success      bool                   `json:"success"`
	ErrorTag     string                 `json:"error_tag,omitempty"`
	ItemsCollected int                  `json:"items_collected,omitempty"`
	ResourceUsage  map[string]float64   `json:"resource_usage,omitempty"`
}

// MaxExecutionHistory is the per-task execution history size (100); nothing
// in this repository enforces it.
const MaxExecutionHistory = 100

// Task is the durable unit of work (spec §3).
type Task struct {
	ID       string `json:"id"`
	Kind     Kind   `json:"kind"`
	Priority Priority `json:"priority"`

	// TargetWorkerKind is an optional preference restricting candidates.
	TargetWorkerKind string `json:"target_worker_kind,omitempty"`

	TenantID    string `json:"tenant_id"`
	SubmitterID string `json:"submitter_id,omitempty"`

	Payload map[string]interface{} `json:"payload,omitempty"`
	Config  map[string]interface{} `json:"config,omitempty"`

	// Dependencies are task IDs that must complete before this one is
	// eligible (invariant I4).
	Dependencies []string `json:"dependencies,omitempty"`

	Status             Status  `json:"status"`
	AssignedInstanceID string  `json:"assigned_instance_id,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	ScheduledAt *time.Time `json:"scheduled_at,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	Output       map[string]interface{} `json:"output,omitempty"`
	ErrorTag     string                  `json:"error_tag,omitempty"`
	ErrorMessage string                  `json:"error_message,omitempty"`

	RetryCount  int `json:"retry_count"`
	MaxRetries  int `json:"max_retries"`
	RetryConfig RetryConfig `json:"retry_config"`

	EstimatedDuration time.Duration  `json:"estimated_duration,omitempty"`
	ActualDuration    *time.Duration `json:"actual_duration,omitempty"`

	CorrelationID string `json:"correlation_id,omitempty"`

	// ReadyAt is when the task becomes eligible for dispatch; used as the
	// Store's ordering key alongside Priority.
	ReadyAt time.Time `json:"ready_at"`

	Schedule *ScheduleConfig `json:"schedule,omitempty"`

	// seq breaks ties for submission order within a priority/ready-at tier.
	seq int64
}

// Snapshot returns a shallow copy safe to hand to readers outside the Store
// owner (spec §3 Ownership: "shared reads are via immutable snapshots").
func (t *Task) Snapshot() *Task {
	cp := *t
	return &cp
}

// IsTerminal reports whether the task has reached a terminal status.
func (t *Task) IsTerminal() bool {
	return t.Status.Terminal()
}

// Filters restricts Store.List queries.
type Filters struct {
	TenantID    string
	Status      []Status
	Kind        Kind
	MinPriority Priority
	CreatedAfter  *time.Time
	CreatedBefore *time.Time
	Limit  int
	Offset int
}
