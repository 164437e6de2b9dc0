package task

import (
	"container/heap"
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/codevaldcortex/orchestrator/internal/errs"
	"github.com/google/uuid"
)

var (
	ErrTaskNotFound = errors.New("task not found")
	ErrDuplicateTask = errors.New("task already exists")
	ErrIllegalTransition = errors.New("illegal status transition")
)

// Store is the Task Store contract (C1): a persistent typed queue with a
// per-priority FIFO, a status index, and a dead-letter queue (spec §4.4).
// A distributed deployment backs this with any ordered durable store that
// supports atomic list/peek operations; this package ships an in-memory
// implementation (Memory) and an ArangoDB-backed one (ArangoStore).
type Store interface {
	// Put persists a brand-new task record. A task whose id already
	// exists is rejected with ErrDuplicateTask.
	Put(ctx context.Context, t *Task) error

	// Get returns the latest snapshot of a task.
	Get(ctx context.Context, id string) (*Task, error)

	// List returns tasks matching filters, newest first.
	List(ctx context.Context, f Filters) ([]*Task, error)

	// Enqueue admits a task into its priority queue ordered by
	// (ready-at asc, submission order asc), per spec §4.4.
	Enqueue(ctx context.Context, id string, readyAt time.Time) error

	// PeekDue returns, without removing, the head of the given priority's
	// queue if it is ready to run (ready-at <= now).
	PeekDue(ctx context.Context, p Priority, now time.Time) (*Task, bool, error)

	// Dequeue removes and returns the head of a priority's queue
	// unconditionally, whether or not it is due.
	Dequeue(ctx context.Context, p Priority) (*Task, error)

	// RemoveFromQueue removes a specific task from whichever priority
	// queue holds it (used by cancel, and by the Dispatcher once it has
	// matched a worker or defers a task).
	RemoveFromQueue(ctx context.Context, id string) error

	// QueueDepth reports how many tasks are queued at a priority level,
	// used by the anti-starvation rule.
	QueueDepth(ctx context.Context, p Priority) (int, error)

	// UpdateStatus applies a single-writer mutation enforcing the state
	// machine (invariant I1); mutate may adjust additional fields within
	// the same critical section.
	UpdateStatus(ctx context.Context, id string, newStatus Status, mutate func(*Task)) error

	// MoveToDeadLetter appends the task's current record to the DLQ.
	MoveToDeadLetter(ctx context.Context, id string) error

	// RequeueFromDeadLetter re-admits DLQ tasks created within maxAge,
	// resetting retry-count to 0, and returns their IDs.
	RequeueFromDeadLetter(ctx context.Context, maxAge time.Duration) ([]string, error)

	// UpcomingTasks returns queued/waiting tasks whose ready-at falls
	// within the horizon, ordered by ready-at.
	UpcomingTasks(ctx context.Context, horizon time.Duration) ([]*Task, error)

	// PruneTerminal deletes terminal tasks older than retention and
	// returns the count removed.
	PruneTerminal(ctx context.Context, retention time.Duration) (int, error)
}

// pqueue is a min-heap ordered by (ReadyAt asc, seq asc) implementing
// heap.Interface, the same idiom the teacher uses for its single priority
// queue (internal/task/scheduler.go), generalized here to one heap per
// priority level instead of one heap mixing all priorities by Priority
// field comparison.
type pqueue []*Task

func (q pqueue) Len() int { return len(q) }
func (q pqueue) Less(i, j int) bool {
	if !q[i].ReadyAt.Equal(q[j].ReadyAt) {
		return q[i].ReadyAt.Before(q[j].ReadyAt)
	}
	return q[i].seq < q[j].seq
}
func (q pqueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }
func (q *pqueue) Push(x interface{}) {
	*q = append(*q, x.(*Task))
}
func (q *pqueue) Pop() interface{} {
	old := *q
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return t
}

// Memory is the in-memory Store implementation.
type Memory struct {
	mu       sync.Mutex
	queues   map[Priority]*pqueue
	byID     map[string]*Task
	deadLetter []*Task
	seq      int64
}

var _ Store = (*Memory)(nil)

func NewMemory() *Memory {
	m := &Memory{
		queues: make(map[Priority]*pqueue),
		byID:   make(map[string]*Task),
	}
	for _, p := range []Priority{PriorityCritical, PriorityHigh, PriorityMedium, PriorityLow, PriorityBackground} {
		q := &pqueue{}
		heap.Init(q)
		m.queues[p] = q
	}
	return m
}

func (m *Memory) Put(ctx context.Context, t *Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.byID[t.ID]; exists {
		return ErrDuplicateTask
	}
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	cp := *t
	m.byID[cp.ID] = &cp
	return nil
}

func (m *Memory) Get(ctx context.Context, id string) (*Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.byID[id]
	if !ok {
		return nil, ErrTaskNotFound
	}
	return t.Snapshot(), nil
}

func (m *Memory) List(ctx context.Context, f Filters) ([]*Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*Task, 0)
	for _, t := range m.byID {
		if f.TenantID != "" && t.TenantID != f.TenantID {
			continue
		}
		if f.Kind != "" && t.Kind != f.Kind {
			continue
		}
		if f.MinPriority != 0 && t.Priority > f.MinPriority {
			continue
		}
		if f.CreatedAfter != nil && t.CreatedAt.Before(*f.CreatedAfter) {
			continue
		}
		if f.CreatedBefore != nil && t.CreatedAt.After(*f.CreatedBefore) {
			continue
		}
		if len(f.Status) > 0 {
			match := false
			for _, s := range f.Status {
				if t.Status == s {
					match = true
					break
				}
			}
			if !match {
				continue
			}
		}
		out = append(out, t.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if f.Offset > 0 && f.Offset < len(out) {
		out = out[f.Offset:]
	}
	if f.Limit > 0 && f.Limit < len(out) {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *Memory) Enqueue(ctx context.Context, id string, readyAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.byID[id]
	if !ok {
		return ErrTaskNotFound
	}
	t.ReadyAt = readyAt
	m.seq++
	t.seq = m.seq
	q := m.queues[t.Priority]
	heap.Push(q, t)
	return nil
}

func (m *Memory) PeekDue(ctx context.Context, p Priority, now time.Time) (*Task, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	q := m.queues[p]
	if q.Len() == 0 {
		return nil, false, nil
	}
	head := (*q)[0]
	if head.ReadyAt.After(now) {
		return nil, false, nil
	}
	return head.Snapshot(), true, nil
}

func (m *Memory) Dequeue(ctx context.Context, p Priority) (*Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	q := m.queues[p]
	if q.Len() == 0 {
		return nil, ErrTaskNotFound
	}
	t := heap.Pop(q).(*Task)
	return t, nil
}

func (m *Memory) RemoveFromQueue(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.byID[id]
	if !ok {
		return ErrTaskNotFound
	}
	q := m.queues[t.Priority]
	for i, qt := range *q {
		if qt.ID == id {
			heap.Remove(q, i)
			return nil
		}
	}
	return nil
}

func (m *Memory) QueueDepth(ctx context.Context, p Priority) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.queues[p].Len(), nil
}

func (m *Memory) UpdateStatus(ctx context.Context, id string, newStatus Status, mutate func(*Task)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.byID[id]
	if !ok {
		return ErrTaskNotFound
	}
	if !CanTransition(t.Status, newStatus) {
		return errs.Wrapf(errs.InvalidInput, "%w: %s -> %s", ErrIllegalTransition, t.Status, newStatus)
	}
	t.Status = newStatus
	if newStatus.Terminal() {
		now := time.Now().UTC()
		t.CompletedAt = &now
	}
	if mutate != nil {
		mutate(t)
	}
	return nil
}

func (m *Memory) MoveToDeadLetter(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.byID[id]
	if !ok {
		return ErrTaskNotFound
	}
	m.deadLetter = append(m.deadLetter, t.Snapshot())
	return nil
}

// RequeueFromDeadLetter is an administrative recovery action, not a normal
// state-machine edge (dead-lettered tasks are always terminal), so it sets
// status directly rather than going through UpdateStatus/CanTransition.
func (m *Memory) RequeueFromDeadLetter(ctx context.Context, maxAge time.Duration) ([]string, error) {
	m.mu.Lock()
	cutoff := time.Now().UTC().Add(-maxAge)
	var keep []*Task
	var requeued []string
	for _, t := range m.deadLetter {
		if t.CreatedAt.Before(cutoff) {
			keep = append(keep, t)
			continue
		}
		if live, ok := m.byID[t.ID]; ok {
			live.RetryCount = 0
			live.Status = StatusQueued
			live.CompletedAt = nil
			requeued = append(requeued, live.ID)
		}
	}
	m.deadLetter = keep
	m.mu.Unlock()

	for _, id := range requeued {
		_ = m.Enqueue(ctx, id, time.Now().UTC())
	}
	return requeued, nil
}

func (m *Memory) UpcomingTasks(ctx context.Context, horizon time.Duration) ([]*Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := time.Now().UTC().Add(horizon)
	out := make([]*Task, 0)
	for _, q := range m.queues {
		for _, t := range *q {
			if !t.ReadyAt.After(cutoff) {
				out = append(out, t.Snapshot())
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReadyAt.Before(out[j].ReadyAt) })
	return out, nil
}

func (m *Memory) PruneTerminal(ctx context.Context, retention time.Duration) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := time.Now().UTC().Add(-retention)
	count := 0
	for id, t := range m.byID {
		if t.IsTerminal() && t.CompletedAt != nil && t.CompletedAt.Before(cutoff) {
			delete(m.byID, id)
			count++
		}
	}
	return count, nil
}
