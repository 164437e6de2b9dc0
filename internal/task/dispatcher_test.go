package task

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSelectWorker_HighestScoreWins(t *testing.T) {
	candidates := []WorkerCandidate{
		{InstanceID: "low", Specialization: 0.2, UsedCapacity: 0, MaxCapacity: 10, SuccessRate: 0.5},
		{InstanceID: "high", Specialization: 0.9, UsedCapacity: 2, MaxCapacity: 10, SuccessRate: 0.9},
	}
	assert.Equal(t, "high", SelectWorker(candidates))
}

func TestSelectWorker_TieBreaksByUsedCapacityThenID(t *testing.T) {
	candidates := []WorkerCandidate{
		{InstanceID: "b", Specialization: 0.5, UsedCapacity: 3, MaxCapacity: 10, SuccessRate: 0.5},
		{InstanceID: "a", Specialization: 0.5, UsedCapacity: 1, MaxCapacity: 10, SuccessRate: 0.5},
		{InstanceID: "c", Specialization: 0.5, UsedCapacity: 1, MaxCapacity: 10, SuccessRate: 0.5},
	}
	assert.Equal(t, "a", SelectWorker(candidates))
}

func TestSelectWorker_EmptyCandidates(t *testing.T) {
	assert.Equal(t, "", SelectWorker(nil))
}

type stubCapabilities struct {
	candidates []WorkerCandidate
}

func (s *stubCapabilities) Candidates(ctx context.Context, kind Kind, tenantID string) ([]WorkerCandidate, error) {
	return s.candidates, nil
}

type stubResources struct{ headroom bool }

func (s *stubResources) HasHeadroom(minCPU, minMem float64) bool { return s.headroom }

type stubNotifier struct {
	delivered []string
}

func (s *stubNotifier) DeliverTaskRequest(ctx context.Context, t *Task, instanceID string) error {
	s.delivered = append(s.delivered, t.ID+"->"+instanceID)
	return nil
}

func TestDispatcher_DispatchOneAssignsAndNotifies(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()
	tk := newTestTask("t1", PriorityHigh)
	tk.Status = StatusQueued
	_ = store.Put(ctx, tk)
	_ = store.Enqueue(ctx, "t1", time.Now().Add(-time.Minute))

	caps := &stubCapabilities{candidates: []WorkerCandidate{
		{InstanceID: "worker-1", Specialization: 1.0, MaxCapacity: 5, SuccessRate: 1.0},
	}}
	res := &stubResources{headroom: true}
	notif := &stubNotifier{}

	d := NewDispatcher(store, caps, res, notif, DefaultDispatcherConfig())
	got, due, err := store.PeekDue(ctx, PriorityHigh, time.Now())
	if err != nil || !due {
		t.Fatalf("expected task due, due=%v err=%v", due, err)
	}
	d.dispatchOne(ctx, got)

	assert.Len(t, notif.delivered, 1)
	final, _ := store.Get(ctx, "t1")
	assert.Equal(t, StatusAssigned, final.Status)
	assert.Equal(t, "worker-1", final.AssignedInstanceID)
}

func TestDispatcher_DefersWhenNoCandidates(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()
	tk := newTestTask("t2", PriorityHigh)
	_ = store.Put(ctx, tk)
	_ = store.Enqueue(ctx, "t2", time.Now().Add(-time.Minute))

	caps := &stubCapabilities{candidates: nil}
	res := &stubResources{headroom: true}
	notif := &stubNotifier{}

	d := NewDispatcher(store, caps, res, notif, DefaultDispatcherConfig())
	got, _, _ := store.PeekDue(ctx, PriorityHigh, time.Now())
	d.dispatchOne(ctx, got)

	assert.Empty(t, notif.delivered)
	final, _ := store.Get(ctx, "t2")
	assert.Equal(t, StatusQueued, final.Status)
}

func TestDispatcher_DefersFiveMinutesOnResourceSaturation(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()
	tk := newTestTask("t3", PriorityHigh)
	_ = store.Put(ctx, tk)
	_ = store.Enqueue(ctx, "t3", time.Now().Add(-time.Minute))

	caps := &stubCapabilities{candidates: []WorkerCandidate{
		{InstanceID: "worker-1", Specialization: 1.0, MaxCapacity: 5, SuccessRate: 1.0},
	}}
	res := &stubResources{headroom: false}
	notif := &stubNotifier{}

	d := NewDispatcher(store, caps, res, notif, DefaultDispatcherConfig())
	before := time.Now()
	got, _, _ := store.PeekDue(ctx, PriorityHigh, time.Now())
	d.dispatchOne(ctx, got)

	assert.Empty(t, notif.delivered)
	final, _ := store.Get(ctx, "t3")
	assert.Equal(t, StatusQueued, final.Status)
	assert.WithinDuration(t, before.Add(5*time.Minute), final.ReadyAt, 10*time.Second)
}

func TestDispatcher_BlackoutDefersToWindowExitNotFlatMinute(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()
	tk := newTestTask("t4", PriorityHigh)
	// Covers all but the last minute of the UTC day (the 23:58 end minute
	// is inside the window), so "now" almost always falls inside it without
	// pinning the test to a fixed clock; the exit is 23:59.
	tk.Schedule = &ScheduleConfig{
		BlackoutWindows: []BlackoutWindow{{Start: TimeOfDay{Hour: 0, Minute: 0}, End: TimeOfDay{Hour: 23, Minute: 58}}},
	}
	_ = store.Put(ctx, tk)
	_ = store.Enqueue(ctx, "t4", time.Now().Add(-time.Minute))

	caps := &stubCapabilities{candidates: []WorkerCandidate{
		{InstanceID: "worker-1", Specialization: 1.0, MaxCapacity: 5, SuccessRate: 1.0},
	}}
	res := &stubResources{headroom: true}
	notif := &stubNotifier{}

	d := NewDispatcher(store, caps, res, notif, DefaultDispatcherConfig())
	got, _, _ := store.PeekDue(ctx, PriorityHigh, time.Now())
	d.dispatchOne(ctx, got)

	assert.Empty(t, notif.delivered)
	final, _ := store.Get(ctx, "t4")
	assert.Equal(t, StatusQueued, final.Status)

	now := time.Now().UTC()
	wantExit := time.Date(now.Year(), now.Month(), now.Day(), 23, 59, 0, 0, time.UTC)
	if !wantExit.After(now) {
		wantExit = wantExit.AddDate(0, 0, 1)
	}
	assert.WithinDuration(t, wantExit, final.ReadyAt, 10*time.Second)
	// the old behavior deferred by a flat minute regardless of the window;
	// the fixed behavior must land far later than that.
	assert.True(t, final.ReadyAt.Sub(now) > 2*time.Minute)
}
