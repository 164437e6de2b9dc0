package pool

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMonitor_MarkTaskStartedFinished(t *testing.T) {
	m := NewMonitor(512, time.Hour)
	m.MarkTaskStarted()
	m.MarkTaskStarted()
	m.MarkTaskFinished()
	snap := m.Latest()
	assert.Equal(t, 1, snap.ActiveTasks)
}

func TestMonitor_MarkTaskFinishedNeverGoesNegative(t *testing.T) {
	m := NewMonitor(512, time.Hour)
	m.MarkTaskFinished()
	m.MarkTaskFinished()
	snap := m.Latest()
	assert.Equal(t, 0, snap.ActiveTasks)
}

func TestMonitor_HistoryBounded(t *testing.T) {
	m := NewMonitor(512, time.Hour)
	for i := 0; i < MaxHistory+10; i++ {
		m.sample()
	}
	assert.Len(t, m.History(), MaxHistory)
}

func TestMonitor_HasHeadroomZeroThresholdAlwaysPasses(t *testing.T) {
	m := NewMonitor(1, time.Hour) // tiny ceiling forces high mem percent
	m.sample()
	assert.True(t, m.HasHeadroom(0, 0))
}

func TestMonitor_HasHeadroomRejectsWhenInsufficient(t *testing.T) {
	m := NewMonitor(1, time.Hour)
	m.sample()
	assert.False(t, m.HasHeadroom(0, 99.9))
}
