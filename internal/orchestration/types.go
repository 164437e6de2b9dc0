package orchestration

import (
	"errors"
	"time"

	"github.com/codevaldcortex/orchestrator/internal/task"
)

var (
	ErrUnknownTemplateDependency = errors.New("workflow references an unknown task template id")
	ErrWorkflowCyclicDependency  = errors.New("workflow dependency map contains a cycle")
	ErrTaskNotAssigned           = errors.New("task has no assigned worker instance")
)

// TaskTemplate is one task blueprint inside a Workflow Definition (spec §3).
// Dependencies reference other templates by TemplateID, not by the
// concrete task ids that submit_workflow will mint.
type TaskTemplate struct {
	TemplateID       string
	Kind             task.Kind
	Priority         task.Priority
	TargetWorkerKind string
	Payload          map[string]interface{}
	Config           map[string]interface{}
	RetryConfig      *task.RetryConfig
	EstimatedDuration time.Duration
}

// Workflow is the Workflow Definition (spec §3): an ordered set of task
// templates, their dependency map, optional independent parallel groups,
// and workflow-level policy.
type Workflow struct {
	ID            string
	Name          string
	TenantID      string
	Tasks         []TaskTemplate
	Dependencies  map[string][]string // template id -> template ids it depends on
	ParallelGroups [][]string         // groups of template ids declared independent
	Timeout       time.Duration
	RetryPolicy   *task.RetryConfig
	SuccessCriteria string
}

// SubmitWorkflowResult is submit_workflow's return value (spec §6).
type SubmitWorkflowResult struct {
	WorkflowID string
	TaskIDs    []string
}
