package orchestration

import (
	"context"
	"sync"
	"time"

	"github.com/codevaldcortex/orchestrator/internal/task"
	"github.com/sirupsen/logrus"
)

// TimeoutSweeper is the separate timeout-sweeper thread of control spec §5
// calls for: it periodically scans Running tasks and reports any that have
// exceeded their execution timeout to the Orchestrator as a timeout, which
// routes them through the retry pipeline (spec §4.1: "Running -> Timeout
// (no heartbeat > 10 min)"). Grounded on the same ticker + WaitGroup
// goroutine idiom as internal/task.Dispatcher's tick loop.
type TimeoutSweeper struct {
	store   task.Store
	orch    *Orchestrator
	timeout time.Duration
	tick    time.Duration

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewTimeoutSweeper builds a sweeper that scans every tick and times out
// any Running task whose StartedAt is older than timeout. A task with no
// StartedAt yet (not started because the worker hasn't acked) is not
// eligible for timeout.
func NewTimeoutSweeper(store task.Store, orch *Orchestrator, timeout, tick time.Duration) *TimeoutSweeper {
	if tick <= 0 {
		tick = 10 * time.Second
	}
	return &TimeoutSweeper{
		store:   store,
		orch:    orch,
		timeout: timeout,
		tick:    tick,
		stopCh:  make(chan struct{}),
	}
}

func (s *TimeoutSweeper) Start(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.tick)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopCh:
				return
			case now := <-ticker.C:
				s.sweep(ctx, now)
			}
		}
	}()
}

func (s *TimeoutSweeper) Stop() {
	close(s.stopCh)
	s.wg.Wait()
}

func (s *TimeoutSweeper) sweep(ctx context.Context, now time.Time) {
	running, err := s.store.List(ctx, task.Filters{Status: []task.Status{task.StatusRunning}})
	if err != nil {
		logrus.WithError(err).Warn("timeout sweep: failed to list running tasks")
		return
	}
	for _, t := range running {
		if t.StartedAt == nil {
			continue
		}
		if now.Sub(*t.StartedAt) < s.timeout {
			continue
		}
		if err := s.orch.ReportTimeout(ctx, t.ID); err != nil {
			logrus.WithError(err).WithField("task_id", t.ID).Warn("timeout sweep: failed to report timeout")
		}
	}
}
