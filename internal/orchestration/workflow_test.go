package orchestration

import (
	"context"
	"testing"

	"github.com/codevaldcortex/orchestrator/internal/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrchestrator_SubmitWorkflowExpandsAndLinksDependencies(t *testing.T) {
	ctx := context.Background()
	o, _ := newTestOrchestrator()

	wf := &Workflow{
		Name:     "evidence-pipeline",
		TenantID: "t1",
		Tasks: []TaskTemplate{
			{TemplateID: "collect", Kind: task.KindEvidenceCollection},
			{TemplateID: "verify", Kind: task.KindCryptoVerification},
		},
		Dependencies: map[string][]string{
			"verify": {"collect"},
		},
	}

	result, err := o.SubmitWorkflow(ctx, wf)
	require.NoError(t, err)
	require.Len(t, result.TaskIDs, 2)

	collectTask, err := o.store.Get(ctx, result.TaskIDs[0])
	require.NoError(t, err)
	assert.Equal(t, task.StatusQueued, collectTask.Status)
	assert.Equal(t, result.WorkflowID, collectTask.CorrelationID)

	verifyTask, err := o.store.Get(ctx, result.TaskIDs[1])
	require.NoError(t, err)
	assert.Equal(t, task.StatusWaitingDeps, verifyTask.Status)
	assert.Equal(t, []string{result.TaskIDs[0]}, verifyTask.Dependencies)
}

func TestOrchestrator_SubmitWorkflowRejectsCycle(t *testing.T) {
	ctx := context.Background()
	o, _ := newTestOrchestrator()

	wf := &Workflow{
		Tasks: []TaskTemplate{
			{TemplateID: "a", Kind: task.KindSecurityScan},
			{TemplateID: "b", Kind: task.KindRiskAssessment},
		},
		Dependencies: map[string][]string{
			"a": {"b"},
			"b": {"a"},
		},
	}

	_, err := o.SubmitWorkflow(ctx, wf)
	assert.Error(t, err)
}

func TestOrchestrator_SubmitWorkflowRejectsUnknownTemplate(t *testing.T) {
	ctx := context.Background()
	o, _ := newTestOrchestrator()

	wf := &Workflow{
		Tasks: []TaskTemplate{
			{TemplateID: "a", Kind: task.KindSecurityScan},
		},
		Dependencies: map[string][]string{
			"a": {"missing"},
		},
	}

	_, err := o.SubmitWorkflow(ctx, wf)
	assert.Error(t, err)
}
