package task

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTask(id string, p Priority) *Task {
	return &Task{
		ID:       id,
		Kind:     KindEvidenceCollection,
		Priority: p,
		TenantID: "tenant-a",
		Status:   StatusQueued,
		CreatedAt: time.Now().UTC(),
	}
}

func TestMemoryStore_EnqueueOrdersByReadyAtThenSubmission(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	base := time.Now().UTC()

	require.NoError(t, s.Put(ctx, newTestTask("a", PriorityHigh)))
	require.NoError(t, s.Put(ctx, newTestTask("b", PriorityHigh)))
	require.NoError(t, s.Put(ctx, newTestTask("c", PriorityHigh)))

	require.NoError(t, s.Enqueue(ctx, "a", base.Add(time.Second)))
	require.NoError(t, s.Enqueue(ctx, "b", base)) // earlier ready-at, submitted second
	require.NoError(t, s.Enqueue(ctx, "c", base)) // same ready-at as b, submitted third

	first, err := s.Dequeue(ctx, PriorityHigh)
	require.NoError(t, err)
	assert.Equal(t, "b", first.ID)

	second, err := s.Dequeue(ctx, PriorityHigh)
	require.NoError(t, err)
	assert.Equal(t, "c", second.ID)

	third, err := s.Dequeue(ctx, PriorityHigh)
	require.NoError(t, err)
	assert.Equal(t, "a", third.ID)
}

func TestMemoryStore_PeekDueRespectsReadyAt(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	now := time.Now().UTC()

	require.NoError(t, s.Put(ctx, newTestTask("future", PriorityMedium)))
	require.NoError(t, s.Enqueue(ctx, "future", now.Add(time.Hour)))

	_, due, err := s.PeekDue(ctx, PriorityMedium, now)
	require.NoError(t, err)
	assert.False(t, due)

	_, due, err = s.PeekDue(ctx, PriorityMedium, now.Add(2*time.Hour))
	require.NoError(t, err)
	assert.True(t, due)
}

func TestMemoryStore_UpdateStatusEnforcesStateMachine(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	tk := newTestTask("x", PriorityLow)
	tk.Status = StatusPending
	require.NoError(t, s.Put(ctx, tk))

	require.NoError(t, s.UpdateStatus(ctx, "x", StatusQueued, nil))
	err := s.UpdateStatus(ctx, "x", StatusCompleted, nil)
	assert.Error(t, err)

	require.NoError(t, s.UpdateStatus(ctx, "x", StatusAssigned, nil))
	require.NoError(t, s.UpdateStatus(ctx, "x", StatusRunning, nil))
	require.NoError(t, s.UpdateStatus(ctx, "x", StatusCompleted, nil))

	got, err := s.Get(ctx, "x")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.NotNil(t, got.CompletedAt)
}

func TestMemoryStore_DeadLetterRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	tk := newTestTask("dlq1", PriorityLow)
	require.NoError(t, s.Put(ctx, tk))
	require.NoError(t, s.MoveToDeadLetter(ctx, "dlq1"))

	requeued, err := s.RequeueFromDeadLetter(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Contains(t, requeued, "dlq1")

	got, err := s.Get(ctx, "dlq1")
	require.NoError(t, err)
	assert.Equal(t, StatusQueued, got.Status)
	assert.Equal(t, 0, got.RetryCount)
}

func TestMemoryStore_UpcomingTasksWithinHorizon(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	now := time.Now().UTC()

	require.NoError(t, s.Put(ctx, newTestTask("soon", PriorityMedium)))
	require.NoError(t, s.Put(ctx, newTestTask("later", PriorityMedium)))
	require.NoError(t, s.Enqueue(ctx, "soon", now.Add(time.Minute)))
	require.NoError(t, s.Enqueue(ctx, "later", now.Add(5*time.Hour)))

	upcoming, err := s.UpcomingTasks(ctx, time.Hour)
	require.NoError(t, err)
	require.Len(t, upcoming, 1)
	assert.Equal(t, "soon", upcoming[0].ID)
}

func TestMemoryStore_DuplicatePutRejected(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	tk := newTestTask("dup", PriorityMedium)
	require.NoError(t, s.Put(ctx, tk))
	err := s.Put(ctx, tk)
	assert.ErrorIs(t, err, ErrDuplicateTask)
}
