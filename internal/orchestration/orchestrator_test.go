package orchestration

import (
	"context"
	"sync"
	"testing"

	"github.com/codevaldcortex/orchestrator/internal/communication"
	"github.com/codevaldcortex/orchestrator/internal/events"
	"github.com/codevaldcortex/orchestrator/internal/registry"
	"github.com/codevaldcortex/orchestrator/internal/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingEventPublisher struct {
	mu   sync.Mutex
	seen []*events.Event
}

func (r *recordingEventPublisher) PublishEvent(event *events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, event)
	return nil
}

func (r *recordingEventPublisher) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.seen)
}

type recordingTransport struct {
	mu   sync.Mutex
	sent []*communication.Message
}

func (r *recordingTransport) Send(ctx context.Context, instanceID string, msg *communication.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, msg)
	return nil
}

func (r *recordingTransport) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sent)
}

func newTestOrchestrator() (*Orchestrator, *recordingTransport) {
	store := task.NewMemory()
	reg := registry.NewService(registry.DefaultHealthConfig(), nil)
	router := communication.NewRouter(nil, 0)
	transport := &recordingTransport{}
	delivery := communication.NewDeliveryService(router, communication.NewProtocolMatrix(), transport, communication.DefaultDeliveryConfig())
	return NewOrchestrator(store, reg, router, delivery), transport
}

func TestOrchestrator_SubmitWithNoDepsQueuesImmediately(t *testing.T) {
	ctx := context.Background()
	o, _ := newTestOrchestrator()

	id, err := o.Submit(ctx, &task.Task{Kind: task.KindSecurityScan, TenantID: "t1"})
	require.NoError(t, err)

	got, err := o.store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, task.StatusQueued, got.Status)
}

func TestOrchestrator_SubmitRejectsUnknownKind(t *testing.T) {
	ctx := context.Background()
	o, _ := newTestOrchestrator()
	_, err := o.Submit(ctx, &task.Task{Kind: "bogus"})
	assert.Error(t, err)
}

func TestOrchestrator_SubmitWithUnresolvedDepWaits(t *testing.T) {
	ctx := context.Background()
	o, _ := newTestOrchestrator()

	depID, err := o.Submit(ctx, &task.Task{Kind: task.KindSecurityScan})
	require.NoError(t, err)

	id, err := o.Submit(ctx, &task.Task{Kind: task.KindRiskAssessment, Dependencies: []string{depID}})
	require.NoError(t, err)

	got, err := o.store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, task.StatusWaitingDeps, got.Status)
}

func TestOrchestrator_SubmitUnknownDependencyErrors(t *testing.T) {
	ctx := context.Background()
	o, _ := newTestOrchestrator()
	_, err := o.Submit(ctx, &task.Task{Kind: task.KindSecurityScan, Dependencies: []string{"nope"}})
	assert.Error(t, err)
}

func TestOrchestrator_ReportCompletionReschedulesDependent(t *testing.T) {
	ctx := context.Background()
	o, _ := newTestOrchestrator()

	depID, err := o.Submit(ctx, &task.Task{Kind: task.KindSecurityScan})
	require.NoError(t, err)

	id, err := o.Submit(ctx, &task.Task{Kind: task.KindRiskAssessment, Dependencies: []string{depID}})
	require.NoError(t, err)

	require.NoError(t, o.store.UpdateStatus(ctx, depID, task.StatusAssigned, nil))
	require.NoError(t, o.store.UpdateStatus(ctx, depID, task.StatusRunning, nil))
	require.NoError(t, o.ReportCompletion(ctx, depID, map[string]interface{}{"ok": true}))

	got, err := o.store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, task.StatusQueued, got.Status)
}

func TestOrchestrator_ReportCompletionIdempotent(t *testing.T) {
	ctx := context.Background()
	o, _ := newTestOrchestrator()

	id, err := o.Submit(ctx, &task.Task{Kind: task.KindSecurityScan})
	require.NoError(t, err)
	require.NoError(t, o.store.UpdateStatus(ctx, id, task.StatusAssigned, nil))
	require.NoError(t, o.store.UpdateStatus(ctx, id, task.StatusRunning, nil))
	require.NoError(t, o.ReportCompletion(ctx, id, nil))
	require.NoError(t, o.ReportCompletion(ctx, id, nil))

	got, err := o.store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, task.StatusCompleted, got.Status)
}

func TestOrchestrator_ReportFailureRetriesThenFails(t *testing.T) {
	ctx := context.Background()
	o, _ := newTestOrchestrator()

	cfg := task.RetryConfig{Strategy: task.RetryImmediate, MaxAttempts: 1}
	id, err := o.Submit(ctx, &task.Task{Kind: task.KindSecurityScan, RetryConfig: cfg, MaxRetries: 1})
	require.NoError(t, err)
	require.NoError(t, o.store.UpdateStatus(ctx, id, task.StatusAssigned, nil))
	require.NoError(t, o.store.UpdateStatus(ctx, id, task.StatusRunning, nil))

	require.NoError(t, o.ReportFailure(ctx, id, "transient", "boom"))
	got, err := o.store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, task.StatusQueued, got.Status)
	assert.Equal(t, 1, got.RetryCount)

	require.NoError(t, o.store.UpdateStatus(ctx, id, task.StatusAssigned, nil))
	require.NoError(t, o.store.UpdateStatus(ctx, id, task.StatusRunning, nil))
	require.NoError(t, o.ReportFailure(ctx, id, "transient", "boom again"))
	got, err = o.store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, task.StatusFailed, got.Status)
}

func TestOrchestrator_CancelRevokesQueuedTask(t *testing.T) {
	ctx := context.Background()
	o, _ := newTestOrchestrator()

	id, err := o.Submit(ctx, &task.Task{Kind: task.KindSecurityScan})
	require.NoError(t, err)
	require.NoError(t, o.Cancel(ctx, id))

	got, err := o.store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, task.StatusCancelled, got.Status)
}

func TestOrchestrator_CancelOnTerminalIsNoop(t *testing.T) {
	ctx := context.Background()
	o, _ := newTestOrchestrator()

	id, err := o.Submit(ctx, &task.Task{Kind: task.KindSecurityScan})
	require.NoError(t, err)
	require.NoError(t, o.Cancel(ctx, id))
	require.NoError(t, o.Cancel(ctx, id))
}

func TestOrchestrator_RegisterWorkerSubscribesAndAnnounces(t *testing.T) {
	ctx := context.Background()
	o, transport := newTestOrchestrator()

	inst := &registry.WorkerInstance{
		ID:       "w1",
		TenantID: "t1",
		Capabilities: []registry.WorkerCapability{{Kind: task.KindSecurityScan}},
	}
	require.NoError(t, o.RegisterWorker(ctx, inst))

	assert.Equal(t, []string{"w1"}, o.router.Route(&communication.Message{Recipient: communication.ToWorkerKind("security-scan")}))
	assert.Equal(t, 1, transport.count())
}

func TestOrchestrator_PublishesCapabilityAndContextUpdateEvents(t *testing.T) {
	ctx := context.Background()
	o, _ := newTestOrchestrator()
	pub := &recordingEventPublisher{}
	o.SetEventPublisher(pub)

	inst := &registry.WorkerInstance{
		ID:           "w1",
		TenantID:     "t1",
		Capabilities: []registry.WorkerCapability{{Kind: task.KindSecurityScan}},
	}
	require.NoError(t, o.RegisterWorker(ctx, inst))
	assert.Equal(t, 1, pub.count())

	id, err := o.Submit(ctx, &task.Task{Kind: task.KindSecurityScan, TenantID: "t1"})
	require.NoError(t, err)
	require.NoError(t, o.store.UpdateStatus(ctx, id, task.StatusAssigned, nil))
	require.NoError(t, o.store.UpdateStatus(ctx, id, task.StatusRunning, nil))
	require.NoError(t, o.ReportCompletion(ctx, id, nil))

	assert.Equal(t, 2, pub.count())
}

func TestOrchestrator_DependencyFailureCascadesToCancelled(t *testing.T) {
	ctx := context.Background()
	o, _ := newTestOrchestrator()

	depID, err := o.Submit(ctx, &task.Task{Kind: task.KindSecurityScan, RetryConfig: task.RetryConfig{Strategy: task.RetryImmediate, MaxAttempts: 0}})
	require.NoError(t, err)
	id, err := o.Submit(ctx, &task.Task{Kind: task.KindRiskAssessment, Dependencies: []string{depID}})
	require.NoError(t, err)

	require.NoError(t, o.store.UpdateStatus(ctx, depID, task.StatusAssigned, nil))
	require.NoError(t, o.store.UpdateStatus(ctx, depID, task.StatusRunning, nil))
	require.NoError(t, o.ReportFailure(ctx, depID, "invalid_input", "bad input"))

	got, err := o.store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, task.StatusCancelled, got.Status)
}
