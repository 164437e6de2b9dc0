package registry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/codevaldcortex/orchestrator/internal/task"
	"github.com/sirupsen/logrus"
	"github.com/xeipuuv/gojsonschema"
)

// Announcer is an optional hook Service.Register calls on registration
// (spec §4.1 register_worker, §10 Supplemented Features). internal/app
// passes nil, since Orchestrator.RegisterWorker already broadcasts the
// announcement, and internal/events has no implementation of it. Kept as
// a narrow local interface so internal/registry doesn't import
// internal/events.
type Announcer interface {
	AnnounceCapability(ctx context.Context, instance *WorkerInstance)
}

// HealthConfig governs the degradation timers (spec §4.5: 5 min Degraded,
// 10 min Unhealthy+deactivated).
type HealthConfig struct {
	DegradeAfter   time.Duration
	UnhealthyAfter time.Duration
	ScanInterval   time.Duration
}

func DefaultHealthConfig() HealthConfig {
	return HealthConfig{
		DegradeAfter:   5 * time.Minute,
		UnhealthyAfter: 10 * time.Minute,
		ScanInterval:   30 * time.Second,
	}
}

// Registry is the Capability Registry contract (C6).
type Registry interface {
	Register(ctx context.Context, instance *WorkerInstance) error
	Unregister(ctx context.Context, id string) error
	Heartbeat(ctx context.Context, id string, usedCapacity int, successRate float64) error
	Get(ctx context.Context, id string) (*WorkerInstance, error)
	List(ctx context.Context) ([]*WorkerInstance, error)

	// Candidates satisfies internal/task.CapabilityProvider.
	Candidates(ctx context.Context, kind task.Kind, tenantID string) ([]task.WorkerCandidate, error)
}

var _ Registry = (*Service)(nil)
var _ task.CapabilityProvider = (*Service)(nil)

// Service is the in-memory Registry implementation, grounded on the
// teacher's InMemoryAgentTypeRepository map+mutex CRUD idiom
// (internal/registry/agent_type_repository.go, now adapted from agent
// *types* to live worker *instances*).
type Service struct {
	mu        sync.RWMutex
	instances map[string]*WorkerInstance

	health   HealthConfig
	announce Announcer

	stopCh chan struct{}
	wg     sync.WaitGroup
}

func NewService(health HealthConfig, announce Announcer) *Service {
	if health.ScanInterval <= 0 {
		health = DefaultHealthConfig()
	}
	return &Service{
		instances: make(map[string]*WorkerInstance),
		health:    health,
		announce:  announce,
		stopCh:    make(chan struct{}),
	}
}

// Register validates each declared capability's config schema (if present)
// and admits the instance, then fires a capability-announce broadcast, per
// the teacher's agent_type_service.go schema-validation pattern.
func (s *Service) Register(ctx context.Context, instance *WorkerInstance) error {
	for _, cap := range instance.Capabilities {
		if len(cap.ConfigSchema) == 0 {
			continue
		}
		if _, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(cap.ConfigSchema)); err != nil {
			return fmt.Errorf("%w: kind %s: %v", ErrInvalidCapabilitySchema, cap.Kind, err)
		}
	}

	s.mu.Lock()
	if _, exists := s.instances[instance.ID]; exists {
		s.mu.Unlock()
		return ErrAlreadyRegistered
	}
	now := time.Now().UTC()
	instance.RegisteredAt = now
	instance.LastHeartbeat = now
	instance.Health = HealthHealthy
	instance.Deactivated = false
	cp := *instance
	s.instances[cp.ID] = &cp
	s.mu.Unlock()

	logrus.WithFields(logrus.Fields{"instance_id": instance.ID, "tenant_id": instance.TenantID}).Info("worker instance registered")
	if s.announce != nil {
		s.announce.AnnounceCapability(ctx, instance.Snapshot())
	}
	return nil
}

func (s *Service) Unregister(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.instances[id]; !ok {
		return ErrInstanceNotFound
	}
	delete(s.instances, id)
	return nil
}

func (s *Service) Heartbeat(ctx context.Context, id string, usedCapacity int, successRate float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	inst, ok := s.instances[id]
	if !ok {
		return ErrInstanceNotFound
	}
	inst.LastHeartbeat = time.Now().UTC()
	inst.UsedCapacity = usedCapacity
	inst.SuccessRate = successRate
	inst.Health = HealthHealthy
	inst.Deactivated = false
	return nil
}

func (s *Service) Get(ctx context.Context, id string) (*WorkerInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inst, ok := s.instances[id]
	if !ok {
		return nil, ErrInstanceNotFound
	}
	return inst.Snapshot(), nil
}

func (s *Service) List(ctx context.Context) ([]*WorkerInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*WorkerInstance, 0, len(s.instances))
	for _, inst := range s.instances {
		out = append(out, inst.Snapshot())
	}
	return out, nil
}

// Candidates returns every non-deactivated instance declaring the kind,
// scoped to the tenant, as internal/task.WorkerCandidate values ready for
// the Dispatcher's scoring formula.
func (s *Service) Candidates(ctx context.Context, kind task.Kind, tenantID string) ([]task.WorkerCandidate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []task.WorkerCandidate
	for _, inst := range s.instances {
		if inst.Deactivated || inst.Health == HealthUnhealthy {
			continue
		}
		if tenantID != "" && inst.TenantID != tenantID {
			continue
		}
		cap, ok := inst.supports(kind)
		if !ok {
			continue
		}
		if inst.MaxCapacity > 0 && inst.UsedCapacity >= inst.MaxCapacity {
			continue
		}
		out = append(out, task.WorkerCandidate{
			InstanceID:     inst.ID,
			Specialization: cap.Specialization,
			UsedCapacity:   inst.UsedCapacity,
			MaxCapacity:    inst.MaxCapacity,
			SuccessRate:    inst.SuccessRate,
		})
	}
	return out, nil
}

// Start runs the health degradation scan loop (spec §4.5) until ctx is
// cancelled.
func (s *Service) Start(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.health.ScanInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopCh:
				return
			case <-ticker.C:
				s.scanHealth()
			}
		}
	}()
}

func (s *Service) Stop() {
	close(s.stopCh)
	s.wg.Wait()
}

func (s *Service) scanHealth() {
	now := time.Now().UTC()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, inst := range s.instances {
		since := now.Sub(inst.LastHeartbeat)
		switch {
		case since >= s.health.UnhealthyAfter:
			if inst.Health != HealthUnhealthy {
				logrus.WithField("instance_id", inst.ID).Warn("worker instance unhealthy, deactivating")
			}
			inst.Health = HealthUnhealthy
			inst.Deactivated = true
		case since >= s.health.DegradeAfter:
			if inst.Health == HealthHealthy {
				logrus.WithField("instance_id", inst.ID).Warn("worker instance degraded")
			}
			inst.Health = HealthDegraded
		}
	}
}
