package communication

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// CoordinationStatus is the outcome of a coordination round (spec §4.6:
// "declares coordinated iff every participant replied with status=ready
// within 60s of dispatch").
type CoordinationStatus string

const (
	CoordinationPending    CoordinationStatus = "pending"
	CoordinationCoordinated CoordinationStatus = "coordinated"
	CoordinationFailed     CoordinationStatus = "failed"
	CoordinationTimeout    CoordinationStatus = "timeout"
)

const (
	coordinationResponseTimeout = 30 * time.Second
	coordinationWindow          = 60 * time.Second
)

// participantResponse is what a participant replies with to a
// CoordinationRequest.
type participantResponse struct {
	WorkerKind string
	Status     string // "ready" or anything else counts as a refusal
}

type coordinationRound struct {
	workflowID string
	dispatched time.Time
	want       map[string]bool // participant worker-kind -> awaiting
	responses  map[string]string
	status     CoordinationStatus
	done       chan struct{}
}

// CoordinationService is the Coordination Service (C9): two-phase
// agreement across a workflow's participant worker kinds, grounded on the
// Python original's two-phase-commit-style coordinator in
// agent_communication.py and the teacher's context-propagation shape in
// internal/orchestration/coordinator.go (dispatch-then-collect loop).
type CoordinationService struct {
	delivery *DeliveryService

	mu     sync.Mutex
	rounds map[string]*coordinationRound // workflow id -> round
}

func NewCoordinationService(delivery *DeliveryService) *CoordinationService {
	return &CoordinationService{
		delivery: delivery,
		rounds:   make(map[string]*coordinationRound),
	}
}

// RequestCoordination sends a CoordinationRequest to each participant
// (requires-response, 30s per-message timeout) and blocks until every
// participant has replied status=ready, the 60s overall window elapses, or
// ctx is cancelled.
func (c *CoordinationService) RequestCoordination(ctx context.Context, workflowID string, participants []string) (CoordinationStatus, error) {
	round := &coordinationRound{
		workflowID: workflowID,
		dispatched: time.Now().UTC(),
		want:       make(map[string]bool, len(participants)),
		responses:  make(map[string]string, len(participants)),
		status:     CoordinationPending,
		done:       make(chan struct{}),
	}
	for _, p := range participants {
		round.want[p] = true
	}

	c.mu.Lock()
	c.rounds[workflowID] = round
	c.mu.Unlock()

	timeout := coordinationResponseTimeout
	for _, p := range participants {
		msg := &Message{
			ID:               uuid.New().String(),
			Sender:           "orchestrator",
			Recipient:        ToWorkerKind(p),
			Type:             MessageCoordinationRequest,
			Priority:         PriorityHigh,
			RequiresResponse: true,
			ResponseTimeout:  &timeout,
			CorrelationID:    workflowID,
			Timestamp:        round.dispatched,
			MaxRetries:       0,
		}
		if err := c.delivery.Send(ctx, msg); err != nil {
			logrus.WithError(err).WithField("workflow_id", workflowID).Warn("coordination request send failed")
		}
	}

	select {
	case <-round.done:
		return c.outcome(workflowID), nil
	case <-time.After(coordinationWindow):
		return c.finalize(workflowID, CoordinationTimeout), nil
	case <-ctx.Done():
		return c.finalize(workflowID, CoordinationTimeout), ctx.Err()
	}
}

// HandleResponse records a participant's reply. Declares the round
// coordinated once every participant has replied ready within the 60s
// window from dispatch, or failed as soon as one participant replies with
// a non-ready status.
func (c *CoordinationService) HandleResponse(workflowID, workerKind, status string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	round, ok := c.rounds[workflowID]
	if !ok || round.status != CoordinationPending {
		return
	}
	if !round.want[workerKind] {
		return
	}

	if time.Now().UTC().After(round.dispatched.Add(coordinationWindow)) {
		round.status = CoordinationTimeout
		close(round.done)
		return
	}

	round.responses[workerKind] = status
	if status != "ready" {
		round.status = CoordinationFailed
		close(round.done)
		return
	}

	if len(round.responses) == len(round.want) {
		round.status = CoordinationCoordinated
		close(round.done)
	}
}

func (c *CoordinationService) outcome(workflowID string) CoordinationStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	if round, ok := c.rounds[workflowID]; ok {
		return round.status
	}
	return CoordinationFailed
}

func (c *CoordinationService) finalize(workflowID string, fallback CoordinationStatus) CoordinationStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	round, ok := c.rounds[workflowID]
	if !ok {
		return fallback
	}
	if round.status == CoordinationPending {
		round.status = fallback
	}
	return round.status
}
