package task

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// WorkerCandidate is the minimal view of a worker instance the Dispatcher
// needs to score and select, decoupled from internal/registry's concrete
// type to avoid a dependency cycle (internal/registry depends on
// internal/task for Kind, not the reverse).
type WorkerCandidate struct {
	InstanceID      string
	Specialization  float64 // 0..1, how well this instance fits the task kind
	UsedCapacity    int
	MaxCapacity     int
	SuccessRate     float64 // 0..1, rolling success rate
}

// CapabilityProvider resolves worker candidates for a task kind, owned by
// internal/registry's Registry in the wired application.
type CapabilityProvider interface {
	Candidates(ctx context.Context, kind Kind, tenantID string) ([]WorkerCandidate, error)
}

// ResourceGate reports whether the local resource envelope has headroom for
// a task's minimum CPU/memory requirements, owned by internal/pool's
// Monitor.
type ResourceGate interface {
	HasHeadroom(minCPU, minMem float64) bool
}

// Notifier delivers a task-request message to a selected worker instance,
// satisfied in the wired application by internal/orchestration's
// deliveryNotifier, which sends through internal/communication's
// DeliveryService.
type Notifier interface {
	DeliverTaskRequest(ctx context.Context, t *Task, instanceID string) error
}

// DispatcherConfig holds the tunables named in spec §6's configuration
// option table that govern dispatch cadence and anti-starvation.
type DispatcherConfig struct {
	TickInterval              time.Duration
	AntiStarvationEveryNTicks int
	AntiStarvationWindow      time.Duration
	BlackoutTimezone          string
}

func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		TickInterval:              100 * time.Millisecond,
		AntiStarvationEveryNTicks: 10,
		AntiStarvationWindow:      60 * time.Second,
	}
}

var priorityOrder = []Priority{PriorityCritical, PriorityHigh, PriorityMedium, PriorityLow, PriorityBackground}

// Dispatcher is the dispatch loop (C5): on each tick it visits the priority
// queues from highest to lowest (lowest first on an anti-starvation tick)
// and, for each queue whose head is due, checks blackout windows and
// resource gating, scores candidate workers, and hands the task to the
// Notifier. Grounded in the teacher's scheduler.go ticker/priorityQueue
// loop (internal/task/scheduler.go), generalized to the spec's anti-
// starvation and worker-scoring rules.
type Dispatcher struct {
	store        Store
	capabilities CapabilityProvider
	resources    ResourceGate
	notifier     Notifier
	cfg          DispatcherConfig

	mu                     sync.Mutex
	tick                   int64
	highestNonEmptySince   time.Time
	highestWasEverEmpty    bool

	stopCh chan struct{}
	wg     sync.WaitGroup
}

func NewDispatcher(store Store, capabilities CapabilityProvider, resources ResourceGate, notifier Notifier, cfg DispatcherConfig) *Dispatcher {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 100 * time.Millisecond
	}
	if cfg.AntiStarvationEveryNTicks <= 0 {
		cfg.AntiStarvationEveryNTicks = 10
	}
	if cfg.AntiStarvationWindow <= 0 {
		cfg.AntiStarvationWindow = 60 * time.Second
	}
	return &Dispatcher{
		store:        store,
		capabilities: capabilities,
		resources:    resources,
		notifier:     notifier,
		cfg:          cfg,
		stopCh:       make(chan struct{}),
	}
}

// Start runs the tick loop until ctx is cancelled, following the same
// goroutine + WaitGroup shutdown idiom as the teacher's poller.Start/Stop.
func (d *Dispatcher) Start(ctx context.Context) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ticker := time.NewTicker(d.cfg.TickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-d.stopCh:
				return
			case now := <-ticker.C:
				d.runTick(ctx, now)
			}
		}
	}()
}

func (d *Dispatcher) Stop() {
	close(d.stopCh)
	d.wg.Wait()
}

func (d *Dispatcher) order() []Priority {
	d.mu.Lock()
	d.tick++
	tick := d.tick
	d.mu.Unlock()

	order := priorityOrder
	if tick%int64(d.cfg.AntiStarvationEveryNTicks) == 0 && d.highestQueueStarving() {
		reversed := make([]Priority, len(order))
		for i, p := range order {
			reversed[len(order)-1-i] = p
		}
		return reversed
	}
	return order
}

// highestQueueStarving reports whether the highest-priority queue has been
// continuously non-empty for longer than the anti-starvation window,
// implying lower priorities may be starved of dispatch slots.
func (d *Dispatcher) highestQueueStarving() bool {
	ctx := context.Background()
	depth, err := d.store.QueueDepth(ctx, priorityOrder[0])
	if err != nil {
		return false
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if depth == 0 {
		d.highestNonEmptySince = time.Time{}
		return false
	}
	if d.highestNonEmptySince.IsZero() {
		d.highestNonEmptySince = time.Now()
		return false
	}
	return time.Since(d.highestNonEmptySince) > d.cfg.AntiStarvationWindow
}

func (d *Dispatcher) runTick(ctx context.Context, now time.Time) {
	for _, p := range d.order() {
		t, due, err := d.store.PeekDue(ctx, p, now)
		if err != nil || !due {
			continue
		}
		d.dispatchOne(ctx, t)
	}
}

func (d *Dispatcher) dispatchOne(ctx context.Context, t *Task) {
	log := logrus.WithFields(logrus.Fields{"task_id": t.ID, "kind": t.Kind, "priority": t.Priority})

	if t.Schedule != nil && inBlackout(t.Schedule.BlackoutWindows, time.Now(), t.Schedule.Timezone) {
		loc := loadLocation(t.Schedule.Timezone)
		exit := skipBlackout(time.Now(), t.Schedule.BlackoutWindows, loc)
		log.WithField("ready_at", exit).Debug("deferring dispatch: blackout window active")
		d.deferUntil(ctx, t, exit)
		return
	}

	minCPU, minMem := 0.0, 0.0
	if t.Schedule != nil {
		minCPU, minMem = t.Schedule.MinCPUAvailable, t.Schedule.MinMemAvailable
	}
	if d.resources != nil && !d.resources.HasHeadroom(minCPU, minMem) {
		log.Debug("deferring dispatch: insufficient resource headroom")
		d.defer_(ctx, t, 5*time.Minute)
		return
	}

	candidates, err := d.capabilities.Candidates(ctx, t.Kind, t.TenantID)
	if err != nil || len(candidates) == 0 {
		log.Debug("no eligible worker candidates")
		d.defer_(ctx, t, 10*time.Second)
		return
	}

	winner := SelectWorker(candidates)
	if winner == "" {
		d.defer_(ctx, t, 10*time.Second)
		return
	}

	// Remove by id rather than Dequeue(priority): a concurrent Enqueue
	// with an earlier ready-at between PeekDue and here would make an
	// unconditional priority-head Dequeue pop a different task than the
	// one just matched.
	if err := d.store.RemoveFromQueue(ctx, t.ID); err != nil {
		return
	}
	if err := d.store.UpdateStatus(ctx, t.ID, StatusAssigned, func(task *Task) {
		task.AssignedInstanceID = winner
	}); err != nil {
		log.WithError(err).Warn("failed to mark task assigned")
		return
	}

	if err := d.notifier.DeliverTaskRequest(ctx, t, winner); err != nil {
		log.WithError(err).Warn("failed to deliver task request")
	}
}

func (d *Dispatcher) defer_(ctx context.Context, t *Task, by time.Duration) {
	d.deferUntil(ctx, t, time.Now().Add(by))
}

// deferUntil re-enqueues t with an absolute ready-at, used for blackout
// deferral where the next eligible time is the window's exit rather than a
// fixed offset from now.
func (d *Dispatcher) deferUntil(ctx context.Context, t *Task, readyAt time.Time) {
	if err := d.store.RemoveFromQueue(ctx, t.ID); err != nil {
		return
	}
	_ = d.store.Enqueue(ctx, t.ID, readyAt)
}

// SelectWorker applies the scoring formula
// score = 0.5*specialization + 0.3*(1-used/max) + 0.2*success_rate,
// breaking ties by lowest used capacity then lowest instance id.
func SelectWorker(candidates []WorkerCandidate) string {
	if len(candidates) == 0 {
		return ""
	}
	scored := make([]WorkerCandidate, len(candidates))
	copy(scored, candidates)

	score := func(c WorkerCandidate) float64 {
		headroom := 1.0
		if c.MaxCapacity > 0 {
			headroom = 1.0 - float64(c.UsedCapacity)/float64(c.MaxCapacity)
		}
		return 0.5*c.Specialization + 0.3*headroom + 0.2*c.SuccessRate
	}

	sort.SliceStable(scored, func(i, j int) bool {
		si, sj := score(scored[i]), score(scored[j])
		if si != sj {
			return si > sj
		}
		if scored[i].UsedCapacity != scored[j].UsedCapacity {
			return scored[i].UsedCapacity < scored[j].UsedCapacity
		}
		return scored[i].InstanceID < scored[j].InstanceID
	})

	return scored[0].InstanceID
}

// inBlackout evaluates the configured windows against the current local
// clock in the given timezone.
func inBlackout(windows []BlackoutWindow, now time.Time, tz string) bool {
	if len(windows) == 0 {
		return false
	}
	local := now.In(loadLocation(tz))
	clock := local.Hour()*60 + local.Minute()
	for _, w := range windows {
		if w.Contains(clock) {
			return true
		}
	}
	return false
}
