// Package pool implements the Resource Monitor (C2): local CPU/memory
// headroom tracking and per-task execution markers that gate the
// Dispatcher's admission decisions.
package pool

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Snapshot is one point-in-time resource reading, kept in a bounded ring
// (spec §10 Supplemented Features: "resource_history" from the Python
// original's ResourceMonitor).
type Snapshot struct {
	Timestamp   time.Time
	CPUPercent  float64 // 0-100, process CPU estimate
	MemPercent  float64 // 0-100, heap usage against configured ceiling
	ActiveTasks int
}

// MaxHistory bounds the resource snapshot ring, matching the Python
// original's deque(maxlen=1000).
const MaxHistory = 1000

// Monitor tracks local resource headroom and active-task counts, feeding
// the Dispatcher's gating decision (spec §4.2 "min_cpu_available" /
// "min_mem_available"). The Adaptive schedule and retry calculations do
// not read it.
// Grounded in the teacher's internal/pool/resource_manager.go
// ResourceMonitor (allocations map, mutex, ticker-driven collection loop),
// generalized from per-agent allocation bookkeeping to a single local
// resource envelope, and in smart_scheduler.py's ResourceMonitor class.
type Monitor struct {
	mu sync.RWMutex

	memCeilingBytes uint64
	cpuCeiling      int // logical CPUs counted as 100% each

	activeTasks int
	history     []Snapshot

	updateInterval time.Duration
	stopCh         chan struct{}
	wg             sync.WaitGroup
}

// NewMonitor creates a Monitor. memCeilingMB bounds the heap-usage
// percentage calculation; if zero, a 512MB ceiling is assumed.
func NewMonitor(memCeilingMB int, updateInterval time.Duration) *Monitor {
	if memCeilingMB <= 0 {
		memCeilingMB = 512
	}
	if updateInterval <= 0 {
		updateInterval = 30 * time.Second
	}
	return &Monitor{
		memCeilingBytes: uint64(memCeilingMB) * 1024 * 1024,
		cpuCeiling:      runtime.NumCPU(),
		updateInterval:  updateInterval,
		stopCh:          make(chan struct{}),
	}
}

// Start runs the background sampling loop until ctx is cancelled,
// following the same goroutine+channel shutdown idiom used throughout this
// repo's background loops.
func (m *Monitor) Start(ctx context.Context) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.updateInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-m.stopCh:
				return
			case <-ticker.C:
				m.sample()
			}
		}
	}()
}

func (m *Monitor) Stop() {
	close(m.stopCh)
	m.wg.Wait()
}

func (m *Monitor) sample() {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	memPercent := 100 * float64(ms.HeapAlloc) / float64(m.memCeilingBytes)
	if memPercent > 100 {
		memPercent = 100
	}
	cpuPercent := 100 * float64(runtime.NumGoroutine()) / float64(m.cpuCeiling*50)
	if cpuPercent > 100 {
		cpuPercent = 100
	}

	m.mu.Lock()
	snap := Snapshot{
		Timestamp:   time.Now().UTC(),
		CPUPercent:  cpuPercent,
		MemPercent:  memPercent,
		ActiveTasks: m.activeTasks,
	}
	m.history = append(m.history, snap)
	if len(m.history) > MaxHistory {
		m.history = m.history[len(m.history)-MaxHistory:]
	}
	m.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"cpu_percent":  cpuPercent,
		"mem_percent":  memPercent,
		"active_tasks": snap.ActiveTasks,
	}).Debug("sampled resource headroom")
}

// MarkTaskStarted / MarkTaskFinished maintain the active-task count used in
// snapshots and as a coarse concurrency gate.
func (m *Monitor) MarkTaskStarted() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.activeTasks++
}

func (m *Monitor) MarkTaskFinished() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.activeTasks > 0 {
		m.activeTasks--
	}
}

// Latest returns the most recent snapshot, sampling on demand if the
// background loop hasn't produced one yet.
func (m *Monitor) Latest() Snapshot {
	m.mu.RLock()
	if len(m.history) > 0 {
		latest := m.history[len(m.history)-1]
		m.mu.RUnlock()
		return latest
	}
	m.mu.RUnlock()
	m.sample()
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.history[len(m.history)-1]
}

// History returns a copy of the retained snapshot ring, oldest first.
func (m *Monitor) History() []Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Snapshot, len(m.history))
	copy(out, m.history)
	return out
}

// HasHeadroom reports whether current CPU/memory usage leaves room for a
// task requiring at least minCPU/minMem percent available, satisfying
// internal/task.ResourceGate. A zero threshold always passes.
func (m *Monitor) HasHeadroom(minCPU, minMem float64) bool {
	latest := m.Latest()
	if minCPU > 0 && (100-latest.CPUPercent) < minCPU {
		return false
	}
	if minMem > 0 && (100-latest.MemPercent) < minMem {
		return false
	}
	return true
}
