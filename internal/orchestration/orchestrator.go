// Package orchestration implements the Orchestrator (C10): the public
// surface for submitting tasks and workflows, registering workers, and
// receiving completion/failure signals. It owns dependency resolution and
// workflow task expansion, composing the Task Store, Capability Registry,
// and Communication Hub without any of them depending back on it.
package orchestration

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/codevaldcortex/orchestrator/internal/communication"
	"github.com/codevaldcortex/orchestrator/internal/errs"
	"github.com/codevaldcortex/orchestrator/internal/events"
	"github.com/codevaldcortex/orchestrator/internal/registry"
	"github.com/codevaldcortex/orchestrator/internal/task"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// EventPublisher publishes internal fan-out events, owned by
// internal/events.Processor in the wired application. Kept as a narrow
// local interface so a nil publisher (e.g. in tests) is a valid no-op.
type EventPublisher interface {
	PublishEvent(event *events.Event) error
}

// deliveryNotifier adapts internal/communication.DeliveryService to
// internal/task.Notifier, translating a dispatch decision into a TaskRequest
// message addressed to the chosen instance.
type deliveryNotifier struct {
	delivery *communication.DeliveryService
}

func (n *deliveryNotifier) DeliverTaskRequest(ctx context.Context, t *task.Task, instanceID string) error {
	payload := map[string]interface{}{
		"task_id": t.ID,
		"kind":    string(t.Kind),
		"payload": t.Payload,
		"config":  t.Config,
	}
	// ID is the task's own id, not a generated one: the worker's
	// ack(message_id) on this TaskRequest is how Assigned -> Running is
	// detected (spec §4.1), so the ack handler needs the message id to
	// double as the task id.
	return n.delivery.Send(ctx, &communication.Message{
		ID:               t.ID,
		Sender:           "orchestrator",
		Recipient:        communication.ToInstance(instanceID),
		Type:             communication.MessageTaskRequest,
		Priority:         messagePriorityOf(t.Priority),
		Payload:          payload,
		CorrelationID:    t.CorrelationID,
		RequiresResponse: true,
		Timestamp:        time.Now().UTC(),
	})
}

func messagePriorityOf(p task.Priority) communication.Priority {
	switch p {
	case task.PriorityCritical:
		return communication.PriorityCritical
	case task.PriorityHigh:
		return communication.PriorityHigh
	case task.PriorityLow, task.PriorityBackground:
		return communication.PriorityLow
	default:
		return communication.PriorityNormal
	}
}

var _ task.Notifier = (*deliveryNotifier)(nil)

// Orchestrator is the root component (C10). It does not itself dispatch
// tasks (that is internal/task.Dispatcher's job); it owns submission,
// cancellation, worker registration, and the completion/failure feedback
// loop, including dependency-driven rescheduling of WaitingDeps tasks.
type Orchestrator struct {
	store    task.Store
	registry registry.Registry
	router   *communication.Router
	delivery *communication.DeliveryService
	events   EventPublisher

	mu        sync.Mutex
	waitingOn map[string]map[string]bool // dependency task id -> dependent task ids still pending on it
}

func NewOrchestrator(store task.Store, reg registry.Registry, router *communication.Router, delivery *communication.DeliveryService) *Orchestrator {
	return &Orchestrator{
		store:     store,
		registry:  reg,
		router:    router,
		delivery:  delivery,
		waitingOn: make(map[string]map[string]bool),
	}
}

// SetEventPublisher wires an optional internal/events.Processor fan-out.
// Orchestrator works with a nil publisher (the default); tests and callers
// that don't need the fan-out can leave it unset.
func (o *Orchestrator) SetEventPublisher(p EventPublisher) {
	o.events = p
}

func (o *Orchestrator) publish(event *events.Event) {
	if o.events == nil {
		return
	}
	if err := o.events.PublishEvent(event); err != nil {
		logrus.WithError(err).WithField("event_type", event.Type).Debug("event publish failed")
	}
}

// Notifier returns the task.Notifier the Dispatcher should be wired with.
func (o *Orchestrator) Notifier() task.Notifier {
	return &deliveryNotifier{delivery: o.delivery}
}

// Submit admits a task (spec §4.1 submit). Tasks with unresolved
// dependencies are inserted as WaitingDeps instead of being enqueued.
func (o *Orchestrator) Submit(ctx context.Context, t *task.Task) (string, error) {
	if !task.ValidKinds[t.Kind] {
		return "", errs.Wrapf(errs.InvalidInput, "unknown task kind %q", t.Kind)
	}
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	if t.Priority == 0 {
		t.Priority = task.PriorityMedium
	}
	if t.RetryConfig.Strategy == "" {
		t.RetryConfig = task.DefaultRetryConfig()
	}
	if t.MaxRetries == 0 {
		t.MaxRetries = t.RetryConfig.MaxAttempts
	}
	t.Status = task.StatusPending
	t.CreatedAt = time.Now().UTC()

	unresolved, err := o.unresolvedDependencies(ctx, t.Dependencies)
	if err != nil {
		return "", err
	}

	if err := o.store.Put(ctx, t); err != nil {
		return "", err
	}

	if len(unresolved) > 0 {
		if err := o.store.UpdateStatus(ctx, t.ID, task.StatusWaitingDeps, nil); err != nil {
			return "", err
		}
		o.mu.Lock()
		for _, dep := range unresolved {
			if o.waitingOn[dep] == nil {
				o.waitingOn[dep] = make(map[string]bool)
			}
			o.waitingOn[dep][t.ID] = true
		}
		o.mu.Unlock()
		return t.ID, nil
	}

	return t.ID, o.enqueue(ctx, t.ID, t.Priority)
}

// unresolvedDependencies returns the subset of depIDs that have not yet
// reached Completed. An error is returned if any dependency is unknown.
func (o *Orchestrator) unresolvedDependencies(ctx context.Context, depIDs []string) ([]string, error) {
	var unresolved []string
	for _, id := range depIDs {
		dep, err := o.store.Get(ctx, id)
		if err != nil {
			return nil, errs.Wrapf(errs.InvalidInput, "unknown dependency id %q", id)
		}
		if dep.Status != task.StatusCompleted {
			unresolved = append(unresolved, id)
		}
	}
	return unresolved, nil
}

func (o *Orchestrator) enqueue(ctx context.Context, id string, _ task.Priority) error {
	if err := o.store.UpdateStatus(ctx, id, task.StatusQueued, nil); err != nil {
		return err
	}
	return o.store.Enqueue(ctx, id, time.Now().UTC())
}

// SubmitWorkflow expands a Workflow Definition into concrete tasks sharing
// a workflow-id correlation tag, links dependencies by translating template
// ids into the minted task ids, then submits each (spec §4.1
// submit_workflow).
func (o *Orchestrator) SubmitWorkflow(ctx context.Context, wf *Workflow) (*SubmitWorkflowResult, error) {
	if wf.ID == "" {
		wf.ID = uuid.New().String()
	}

	graph := NewDependencyGraph()
	for _, tmpl := range wf.Tasks {
		graph.AddNode(tmpl.TemplateID)
	}
	for depID, deps := range wf.Dependencies {
		if _, ok := graph.nodes[depID]; !ok {
			return nil, errs.Wrap(errs.InvalidInput, ErrUnknownTemplateDependency)
		}
		for _, d := range deps {
			if _, ok := graph.nodes[d]; !ok {
				return nil, errs.Wrap(errs.InvalidInput, ErrUnknownTemplateDependency)
			}
			if err := graph.AddEdge(d, depID); err != nil {
				return nil, errs.Wrap(errs.Internal, err)
			}
		}
	}
	if err := graph.ValidateAcyclic(); err != nil {
		return nil, errs.Wrap(errs.InvalidInput, ErrWorkflowCyclicDependency)
	}

	templateToTaskID := make(map[string]string, len(wf.Tasks))
	for _, tmpl := range wf.Tasks {
		templateToTaskID[tmpl.TemplateID] = uuid.New().String()
	}

	taskIDs := make([]string, 0, len(wf.Tasks))
	for _, tmpl := range wf.Tasks {
		deps := wf.Dependencies[tmpl.TemplateID]
		depIDs := make([]string, 0, len(deps))
		for _, d := range deps {
			depIDs = append(depIDs, templateToTaskID[d])
		}

		rc := tmpl.RetryConfig
		if rc == nil {
			rc = wf.RetryPolicy
		}

		t := &task.Task{
			ID:               templateToTaskID[tmpl.TemplateID],
			Kind:             tmpl.Kind,
			Priority:         tmpl.Priority,
			TargetWorkerKind: tmpl.TargetWorkerKind,
			TenantID:         wf.TenantID,
			Payload:          tmpl.Payload,
			Config:           tmpl.Config,
			Dependencies:     depIDs,
			CorrelationID:    wf.ID,
			EstimatedDuration: tmpl.EstimatedDuration,
		}
		if rc != nil {
			t.RetryConfig = *rc
		}

		id, err := o.Submit(ctx, t)
		if err != nil {
			return nil, fmt.Errorf("submit template %s: %w", tmpl.TemplateID, err)
		}
		taskIDs = append(taskIDs, id)
	}

	return &SubmitWorkflowResult{WorkflowID: wf.ID, TaskIDs: taskIDs}, nil
}

// Cancel marks a non-terminal task Cancelled, revokes it from the queue,
// signals its assigned worker best-effort, and releases capacity (spec
// §4.1 cancel).
func (o *Orchestrator) Cancel(ctx context.Context, taskID string) error {
	t, err := o.store.Get(ctx, taskID)
	if err != nil {
		return err
	}
	if t.IsTerminal() {
		return nil
	}

	_ = o.store.RemoveFromQueue(ctx, taskID)

	if err := o.store.UpdateStatus(ctx, taskID, task.StatusCancelled, nil); err != nil {
		return err
	}

	if t.AssignedInstanceID != "" {
		o.signalWorkerBestEffort(ctx, t)
		o.decrementCapacity(ctx, t.AssignedInstanceID)
	}
	o.rescheduleDependents(ctx, taskID)
	return nil
}

func (o *Orchestrator) signalWorkerBestEffort(ctx context.Context, t *task.Task) {
	msg := &communication.Message{
		ID:            uuid.New().String(),
		Sender:        "orchestrator",
		Recipient:     communication.ToInstance(t.AssignedInstanceID),
		Type:          communication.MessageWorkflowSignal,
		Priority:      communication.PriorityHigh,
		Payload:       map[string]interface{}{"task_id": t.ID, "signal": "cancel"},
		CorrelationID: t.CorrelationID,
		Timestamp:     time.Now().UTC(),
	}
	if err := o.delivery.Send(ctx, msg); err != nil {
		logrus.WithError(err).WithField("task_id", t.ID).Warn("best-effort cancel signal failed")
	}
}

// RegisterWorker adds instance to the Capability Registry, subscribes its
// channel in the Communication Hub, and broadcasts a CapabilityAnnounce
// (spec §4.1 register_worker).
func (o *Orchestrator) RegisterWorker(ctx context.Context, instance *registry.WorkerInstance) error {
	if err := o.registry.Register(ctx, instance); err != nil {
		return err
	}
	for _, cap := range instance.Capabilities {
		o.router.Subscribe(string(cap.Kind), instance.ID)
	}
	o.router.SubscribeChannel("tenant:"+instance.TenantID, instance.ID)

	msg := &communication.Message{
		ID:        uuid.New().String(),
		Sender:    instance.ID,
		Recipient: communication.ToBroadcast(),
		Type:      communication.MessageCapabilityAnnounce,
		Priority:  communication.PriorityNormal,
		Payload:   map[string]interface{}{"instance_id": instance.ID, "capabilities": instance.Capabilities},
		Timestamp: time.Now().UTC(),
	}
	if err := o.delivery.Send(ctx, msg); err != nil {
		logrus.WithError(err).WithField("instance_id", instance.ID).Warn("capability announce failed")
	}

	kinds := make([]string, 0, len(instance.Capabilities))
	for _, cap := range instance.Capabilities {
		kinds = append(kinds, string(cap.Kind))
	}
	o.publish(&events.Event{
		ID:        uuid.New().String(),
		Type:      events.EventTypeCapabilityAnnounce,
		Priority:  events.PriorityNormal,
		Data: &events.CapabilityAnnounceData{
			InstanceID:  instance.ID,
			TenantID:    instance.TenantID,
			WorkerKinds: kinds,
		},
		Timestamp: time.Now().UTC(),
		Context:   ctx,
	})
	return nil
}

// ReportCompletion transitions Running -> Completed, records actual
// duration, updates the worker's success rate, frees capacity, publishes a
// context update, and reschedules dependents (spec §4.1
// report_completion). A second call on an already-Completed task is a
// no-op (idempotency, spec §8).
func (o *Orchestrator) ReportCompletion(ctx context.Context, taskID string, output map[string]interface{}) error {
	t, err := o.store.Get(ctx, taskID)
	if err != nil {
		return err
	}
	if t.Status == task.StatusCompleted {
		return nil
	}

	now := time.Now().UTC()
	err = o.store.UpdateStatus(ctx, taskID, task.StatusCompleted, func(live *task.Task) {
		live.Output = output
		if live.StartedAt != nil {
			d := now.Sub(*live.StartedAt)
			live.ActualDuration = &d
		}
	})
	if err != nil {
		return err
	}

	if t.AssignedInstanceID != "" {
		o.updateWorkerOutcome(ctx, t.AssignedInstanceID, true)
	}

	o.publishContextUpdate(ctx, t, "completed")
	o.rescheduleDependents(ctx, taskID)
	return nil
}

// ReportFailure applies a retriable or terminal failure outcome (spec §4.1
// report_failure).
func (o *Orchestrator) ReportFailure(ctx context.Context, taskID string, errorTag, errorMessage string) error {
	t, err := o.store.Get(ctx, taskID)
	if err != nil {
		return err
	}
	if t.IsTerminal() {
		return nil
	}

	if t.AssignedInstanceID != "" {
		o.updateWorkerOutcome(ctx, t.AssignedInstanceID, false)
	}

	return o.resolveFailureOutcome(ctx, taskID, t, errorTag, errorMessage)
}

// AckTaskStart transitions Assigned -> Running and stamps StartedAt, in
// response to the worker acknowledging the TaskRequest message the
// Dispatcher delivered on assignment (spec §4.1: "Assigned -> Running (on
// worker ack)"). Acking a task that isn't currently Assigned (including
// double-acks) is a no-op.
func (o *Orchestrator) AckTaskStart(ctx context.Context, taskID string) error {
	t, err := o.store.Get(ctx, taskID)
	if err != nil {
		return nil
	}
	if t.Status != task.StatusAssigned {
		return nil
	}
	now := time.Now().UTC()
	return o.store.UpdateStatus(ctx, taskID, task.StatusRunning, func(live *task.Task) {
		live.StartedAt = &now
	})
}

// ReportTimeout transitions a stale Running task to Timeout and routes it
// through the same retry-or-fail pipeline as any other retriable failure
// (spec §4.1: "Running -> Timeout (no heartbeat > 10 min)"; "Timeout is a
// transient terminal that routes to retry handling as a retriable
// failure"). Called by the execution-timeout sweeper; a no-op if the task
// has since left Running.
func (o *Orchestrator) ReportTimeout(ctx context.Context, taskID string) error {
	t, err := o.store.Get(ctx, taskID)
	if err != nil {
		return err
	}
	if t.Status != task.StatusRunning {
		return nil
	}

	if t.AssignedInstanceID != "" {
		o.updateWorkerOutcome(ctx, t.AssignedInstanceID, false)
	}

	errorTag := string(errs.Timeout)
	errorMessage := "execution timeout exceeded"
	if err := o.store.UpdateStatus(ctx, taskID, task.StatusTimeout, func(live *task.Task) {
		live.ErrorTag = errorTag
		live.ErrorMessage = errorMessage
	}); err != nil {
		return err
	}

	return o.resolveFailureOutcome(ctx, taskID, t, errorTag, errorMessage)
}

// resolveFailureOutcome decides retry vs terminal Failed for a task whose
// current store status is Running or Timeout (both transition to
// Retrying/Failed per the state machine) and carries it out (spec §4.1
// report_failure, §4.3 retry eligibility).
func (o *Orchestrator) resolveFailureOutcome(ctx context.Context, taskID string, t *task.Task, errorTag, errorMessage string) error {
	// ShouldRetry is given the retries already made, so a task is eligible
	// while RetryCount < MaxAttempts.
	retriable := t.RetryCount < t.MaxRetries && task.ShouldRetry(t.RetryConfig, t.RetryCount, errorTag)
	if retriable {
		delay := task.NextRetryDelay(t.RetryConfig, t.RetryCount+1, time.Now().UTC())
		if err := o.store.UpdateStatus(ctx, taskID, task.StatusRetrying, func(live *task.Task) {
			live.RetryCount++
			live.ErrorTag = errorTag
			live.ErrorMessage = errorMessage
		}); err != nil {
			return err
		}
		if err := o.store.UpdateStatus(ctx, taskID, task.StatusQueued, nil); err != nil {
			return err
		}
		return o.store.Enqueue(ctx, taskID, time.Now().UTC().Add(delay))
	}

	if err := o.store.UpdateStatus(ctx, taskID, task.StatusFailed, func(live *task.Task) {
		live.ErrorTag = errorTag
		live.ErrorMessage = errorMessage
	}); err != nil {
		return err
	}
	if err := o.store.MoveToDeadLetter(ctx, taskID); err != nil {
		return err
	}
	o.rescheduleDependents(ctx, taskID)
	return nil
}

func (o *Orchestrator) updateWorkerOutcome(ctx context.Context, instanceID string, success bool) {
	inst, err := o.registry.Get(ctx, instanceID)
	if err != nil {
		return
	}
	// simple exponential moving average, weighting the latest outcome at
	// 20% per the teacher's success-rate smoothing convention.
	outcome := 0.0
	if success {
		outcome = 1.0
	}
	newRate := inst.SuccessRate*0.8 + outcome*0.2
	usedCapacity := inst.UsedCapacity
	if usedCapacity > 0 {
		usedCapacity--
	}
	if err := o.registry.Heartbeat(ctx, instanceID, usedCapacity, newRate); err != nil {
		logrus.WithError(err).WithField("instance_id", instanceID).Warn("failed to update worker outcome")
	}
}

// decrementCapacity frees one unit of a worker's used capacity without
// disturbing its success rate, used by Cancel where the task's outcome is
// neither a success nor a counted failure.
func (o *Orchestrator) decrementCapacity(ctx context.Context, instanceID string) {
	inst, err := o.registry.Get(ctx, instanceID)
	if err != nil {
		return
	}
	used := inst.UsedCapacity
	if used > 0 {
		used--
	}
	if err := o.registry.Heartbeat(ctx, instanceID, used, inst.SuccessRate); err != nil {
		logrus.WithError(err).WithField("instance_id", instanceID).Warn("failed to release capacity")
	}
}

func (o *Orchestrator) publishContextUpdate(ctx context.Context, t *task.Task, event string) {
	msg := &communication.Message{
		ID:            uuid.New().String(),
		Sender:        "orchestrator",
		Recipient:     communication.ToChannel("tenant:" + t.TenantID),
		Type:          communication.MessageContextUpdate,
		Priority:      communication.PriorityNormal,
		Payload:       map[string]interface{}{"task_id": t.ID, "event": event, "output": t.Output},
		CorrelationID: t.CorrelationID,
		Timestamp:     time.Now().UTC(),
	}
	if err := o.delivery.Send(ctx, msg); err != nil {
		logrus.WithError(err).WithField("task_id", t.ID).Debug("context update publish failed")
	}

	o.publish(&events.Event{
		ID:       uuid.New().String(),
		Type:     events.EventTypeContextUpdate,
		Priority: events.PriorityNormal,
		Data: &events.ContextUpdateData{
			TaskID:        t.ID,
			TenantID:      t.TenantID,
			CorrelationID: t.CorrelationID,
			Output:        t.Output,
		},
		Timestamp: time.Now().UTC(),
		Context:   ctx,
	})
}

// rescheduleDependents re-evaluates every task waiting on taskID: a
// dependent becomes Pending (and then Queued) only once every one of its
// dependencies has resolved to Completed; if a dependency ends in
// Failed/Cancelled, the dependent is Cancelled with a dependency-failed
// error instead (spec §4.1 Dependency resolution).
func (o *Orchestrator) rescheduleDependents(ctx context.Context, completedID string) {
	o.mu.Lock()
	dependents := o.waitingOn[completedID]
	delete(o.waitingOn, completedID)
	o.mu.Unlock()

	for depTaskID := range dependents {
		o.evaluateDependent(ctx, depTaskID)
	}
}

func (o *Orchestrator) evaluateDependent(ctx context.Context, depTaskID string) {
	t, err := o.store.Get(ctx, depTaskID)
	if err != nil || t.Status != task.StatusWaitingDeps {
		return
	}

	allCompleted := true
	for _, depID := range t.Dependencies {
		dep, err := o.store.Get(ctx, depID)
		if err != nil {
			continue
		}
		switch dep.Status {
		case task.StatusFailed, task.StatusCancelled:
			_ = o.store.UpdateStatus(ctx, depTaskID, task.StatusCancelled, func(live *task.Task) {
				live.ErrorTag = string(errs.DependencyFailed)
				live.ErrorMessage = fmt.Sprintf("dependency %s did not complete", depID)
			})
			return
		case task.StatusCompleted:
			// resolved
		default:
			allCompleted = false
		}
	}
	if !allCompleted {
		return
	}

	if err := o.store.UpdateStatus(ctx, depTaskID, task.StatusPending, nil); err != nil {
		return
	}
	_ = o.enqueue(ctx, depTaskID, t.Priority)
}
