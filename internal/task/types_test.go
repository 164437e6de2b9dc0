package task

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition_LegalEdges(t *testing.T) {
	cases := []struct {
		from, to Status
		want     bool
	}{
		{StatusPending, StatusQueued, true},
		{StatusPending, StatusWaitingDeps, true},
		{StatusQueued, StatusAssigned, true},
		{StatusAssigned, StatusRunning, true},
		{StatusRunning, StatusCompleted, true},
		{StatusRunning, StatusRetrying, true},
		{StatusRunning, StatusTimeout, true},
		{StatusRetrying, StatusQueued, true},
		{StatusWaitingDeps, StatusPending, true},
		{StatusTimeout, StatusRetrying, true},
		{StatusTimeout, StatusFailed, true},
		// illegal: skipping states
		{StatusPending, StatusRunning, false},
		{StatusQueued, StatusCompleted, false},
		// illegal: terminal states have no outgoing edges
		{StatusCompleted, StatusQueued, false},
		{StatusFailed, StatusRetrying, false},
		{StatusCancelled, StatusQueued, false},
		// illegal: self-transition
		{StatusRunning, StatusRunning, false},
	}
	for _, c := range cases {
		got := CanTransition(c.from, c.to)
		assert.Equalf(t, c.want, got, "%s -> %s", c.from, c.to)
	}
}

func TestStatus_Terminal(t *testing.T) {
	assert.True(t, StatusCompleted.Terminal())
	assert.True(t, StatusFailed.Terminal())
	assert.True(t, StatusCancelled.Terminal())
	assert.False(t, StatusRunning.Terminal())
	assert.False(t, StatusRetrying.Terminal())
	assert.False(t, StatusTimeout.Terminal())
}

func TestBlackoutWindow_Contains(t *testing.T) {
	// ordinary window: 22:00-23:30 same day
	w := BlackoutWindow{Start: TimeOfDay{Hour: 22}, End: TimeOfDay{Hour: 23, Minute: 30}}
	assert.True(t, w.Contains(22*60+30))
	assert.False(t, w.Contains(21*60+59))
	assert.False(t, w.Contains(23*60+31))

	// midnight-crossing window: 23:00-02:00
	mw := BlackoutWindow{Start: TimeOfDay{Hour: 23}, End: TimeOfDay{Hour: 2}}
	assert.True(t, mw.Contains(23*60+30))
	assert.True(t, mw.Contains(1*60+30))
	assert.False(t, mw.Contains(12*60))
}

func TestTask_Snapshot_IsIndependentCopy(t *testing.T) {
	orig := &Task{ID: "t1", Status: StatusPending, Payload: map[string]interface{}{"a": 1}}
	snap := orig.Snapshot()
	snap.Status = StatusQueued
	assert.Equal(t, StatusPending, orig.Status)
	assert.Equal(t, StatusQueued, snap.Status)
}
