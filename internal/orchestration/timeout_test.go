package orchestration

import (
	"context"
	"testing"
	"time"

	"github.com/codevaldcortex/orchestrator/internal/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrchestrator_AckTaskStartTransitionsAssignedToRunning(t *testing.T) {
	ctx := context.Background()
	o, _ := newTestOrchestrator()

	id, err := o.Submit(ctx, &task.Task{Kind: task.KindSecurityScan})
	require.NoError(t, err)
	require.NoError(t, o.store.UpdateStatus(ctx, id, task.StatusAssigned, nil))

	require.NoError(t, o.AckTaskStart(ctx, id))

	got, err := o.store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, task.StatusRunning, got.Status)
	require.NotNil(t, got.StartedAt)
}

func TestOrchestrator_AckTaskStartOnNonAssignedIsNoop(t *testing.T) {
	ctx := context.Background()
	o, _ := newTestOrchestrator()

	id, err := o.Submit(ctx, &task.Task{Kind: task.KindSecurityScan})
	require.NoError(t, err)

	require.NoError(t, o.AckTaskStart(ctx, id))

	got, err := o.store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, task.StatusQueued, got.Status)
}

func TestOrchestrator_AckTaskStartUnknownIDIsNoop(t *testing.T) {
	ctx := context.Background()
	o, _ := newTestOrchestrator()
	assert.NoError(t, o.AckTaskStart(ctx, "does-not-exist"))
}

func TestOrchestrator_ReportTimeoutRoutesThroughRetryPipeline(t *testing.T) {
	ctx := context.Background()
	o, _ := newTestOrchestrator()

	cfg := task.RetryConfig{Strategy: task.RetryImmediate, MaxAttempts: 5}
	id, err := o.Submit(ctx, &task.Task{Kind: task.KindSecurityScan, RetryConfig: cfg, MaxRetries: 1})
	require.NoError(t, err)
	require.NoError(t, o.store.UpdateStatus(ctx, id, task.StatusAssigned, nil))
	require.NoError(t, o.AckTaskStart(ctx, id))

	require.NoError(t, o.ReportTimeout(ctx, id))

	got, err := o.store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, task.StatusQueued, got.Status)
	assert.Equal(t, 1, got.RetryCount)
	assert.Equal(t, "timeout", got.ErrorTag)
}

func TestOrchestrator_ReportTimeoutGoesTerminalOnceRetriesExhausted(t *testing.T) {
	ctx := context.Background()
	o, _ := newTestOrchestrator()

	// Submit replaces a zero MaxRetries with RetryConfig.MaxAttempts, so a
	// zero-retry task needs an explicit config with MaxAttempts 0.
	noRetry := task.RetryConfig{Strategy: task.RetryImmediate, MaxAttempts: 0}
	id, err := o.Submit(ctx, &task.Task{Kind: task.KindSecurityScan, RetryConfig: noRetry, MaxRetries: 0})
	require.NoError(t, err)
	require.NoError(t, o.store.UpdateStatus(ctx, id, task.StatusAssigned, nil))
	require.NoError(t, o.AckTaskStart(ctx, id))

	require.NoError(t, o.ReportTimeout(ctx, id))

	got, err := o.store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, task.StatusFailed, got.Status)
}

func TestOrchestrator_ReportTimeoutOnNonRunningIsNoop(t *testing.T) {
	ctx := context.Background()
	o, _ := newTestOrchestrator()

	id, err := o.Submit(ctx, &task.Task{Kind: task.KindSecurityScan})
	require.NoError(t, err)

	require.NoError(t, o.ReportTimeout(ctx, id))

	got, err := o.store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, task.StatusQueued, got.Status)
}

func TestTimeoutSweeper_TimesOutStaleRunningTasks(t *testing.T) {
	ctx := context.Background()
	o, _ := newTestOrchestrator()

	noRetry := task.RetryConfig{Strategy: task.RetryImmediate, MaxAttempts: 0}
	id, err := o.Submit(ctx, &task.Task{Kind: task.KindSecurityScan, RetryConfig: noRetry, MaxRetries: 0})
	require.NoError(t, err)
	require.NoError(t, o.store.UpdateStatus(ctx, id, task.StatusAssigned, nil))
	require.NoError(t, o.AckTaskStart(ctx, id))

	sweeper := NewTimeoutSweeper(o.store, o, 10*time.Millisecond, time.Second)
	sweeper.sweep(ctx, time.Now().Add(time.Hour))

	got, err := o.store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, task.StatusFailed, got.Status)
}

func TestTimeoutSweeper_IgnoresTasksNotYetDue(t *testing.T) {
	ctx := context.Background()
	o, _ := newTestOrchestrator()

	id, err := o.Submit(ctx, &task.Task{Kind: task.KindSecurityScan})
	require.NoError(t, err)
	require.NoError(t, o.store.UpdateStatus(ctx, id, task.StatusAssigned, nil))
	require.NoError(t, o.AckTaskStart(ctx, id))

	sweeper := NewTimeoutSweeper(o.store, o, time.Hour, time.Second)
	sweeper.sweep(ctx, time.Now())

	got, err := o.store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, task.StatusRunning, got.Status)
}
