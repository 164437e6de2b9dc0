package registry

import (
	"context"
	"fmt"
	"time"

	"github.com/codevaldcortex/orchestrator/internal/database"
	"github.com/codevaldcortex/orchestrator/internal/task"
	driver "github.com/arangodb/go-driver"
	log "github.com/sirupsen/logrus"
)

// CollectionWorkerInstances names the ArangoDB collection backing the
// durable Registry, mirroring the teacher's CollectionAgents convention
// (internal/registry/repository.go, now rewritten for worker instances
// instead of agents).
const CollectionWorkerInstances = "worker_instances"

// ArangoRegistry persists worker instances in ArangoDB, following the
// teacher's ensure-collection/ensure-index/AQL-query CRUD conventions.
// Health-degradation scanning still happens in-process (ArangoRegistry
// does not run its own scan loop); callers compose it the same way they
// would the in-memory Service.
type ArangoRegistry struct {
	db         *database.ArangoClient
	collection driver.Collection
}

var _ Registry = (*ArangoRegistry)(nil)
var _ task.CapabilityProvider = (*ArangoRegistry)(nil)

func NewArangoRegistry(dbClient *database.ArangoClient) (*ArangoRegistry, error) {
	ctx := dbClient.Context()
	db := dbClient.Database()

	col, err := ensureWorkerCollection(ctx, db)
	if err != nil {
		return nil, fmt.Errorf("failed to ensure worker_instances collection: %w", err)
	}

	log.WithField("collection", CollectionWorkerInstances).Info("registry repository initialized")
	return &ArangoRegistry{db: dbClient, collection: col}, nil
}

func ensureWorkerCollection(ctx context.Context, db driver.Database) (driver.Collection, error) {
	exists, err := db.CollectionExists(ctx, CollectionWorkerInstances)
	if err != nil {
		return nil, err
	}
	var col driver.Collection
	if exists {
		col, err = db.Collection(ctx, CollectionWorkerInstances)
	} else {
		col, err = db.CreateCollection(ctx, CollectionWorkerInstances, nil)
	}
	if err != nil {
		return nil, err
	}

	if _, _, err := col.EnsurePersistentIndex(ctx, []string{"tenant_id"}, &driver.EnsurePersistentIndexOptions{Name: "idx_tenant"}); err != nil {
		return nil, fmt.Errorf("failed to ensure tenant index: %w", err)
	}
	if _, _, err := col.EnsurePersistentIndex(ctx, []string{"health"}, &driver.EnsurePersistentIndexOptions{Name: "idx_health"}); err != nil {
		return nil, fmt.Errorf("failed to ensure health index: %w", err)
	}
	return col, nil
}

type workerDocument struct {
	Key string `json:"_key,omitempty"`
	WorkerInstance
}

func (r *ArangoRegistry) Register(ctx context.Context, instance *WorkerInstance) error {
	exists, err := r.collection.DocumentExists(ctx, instance.ID)
	if err != nil {
		return fmt.Errorf("failed to check existence: %w", err)
	}
	if exists {
		return ErrAlreadyRegistered
	}
	now := time.Now().UTC()
	instance.RegisteredAt = now
	instance.LastHeartbeat = now
	instance.Health = HealthHealthy

	doc := workerDocument{Key: instance.ID, WorkerInstance: *instance}
	if _, err := r.collection.CreateDocument(ctx, doc); err != nil {
		return fmt.Errorf("failed to create worker_instances document: %w", err)
	}
	return nil
}

func (r *ArangoRegistry) Unregister(ctx context.Context, id string) error {
	if _, err := r.collection.RemoveDocument(ctx, id); err != nil {
		if driver.IsNotFound(err) {
			return ErrInstanceNotFound
		}
		return fmt.Errorf("failed to remove document: %w", err)
	}
	return nil
}

func (r *ArangoRegistry) Heartbeat(ctx context.Context, id string, usedCapacity int, successRate float64) error {
	patch := map[string]interface{}{
		"used_capacity":  usedCapacity,
		"success_rate":   successRate,
		"last_heartbeat": time.Now().UTC(),
		"health":         HealthHealthy,
		"deactivated":    false,
	}
	if _, err := r.collection.UpdateDocument(ctx, id, patch); err != nil {
		if driver.IsNotFound(err) {
			return ErrInstanceNotFound
		}
		return fmt.Errorf("failed to update document: %w", err)
	}
	return nil
}

func (r *ArangoRegistry) Get(ctx context.Context, id string) (*WorkerInstance, error) {
	var doc workerDocument
	if _, err := r.collection.ReadDocument(ctx, id, &doc); err != nil {
		if driver.IsNotFound(err) {
			return nil, ErrInstanceNotFound
		}
		return nil, fmt.Errorf("failed to read document: %w", err)
	}
	return &doc.WorkerInstance, nil
}

func (r *ArangoRegistry) List(ctx context.Context) ([]*WorkerInstance, error) {
	query := fmt.Sprintf("FOR w IN %s RETURN w", CollectionWorkerInstances)
	cursor, err := r.db.Database().Query(ctx, query, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to query worker_instances: %w", err)
	}
	defer cursor.Close()

	var out []*WorkerInstance
	for {
		var doc workerDocument
		if _, err := cursor.ReadDocument(ctx, &doc); driver.IsNoMoreDocuments(err) {
			break
		} else if err != nil {
			return nil, fmt.Errorf("failed to read cursor document: %w", err)
		}
		inst := doc.WorkerInstance
		out = append(out, &inst)
	}
	return out, nil
}

func (r *ArangoRegistry) Candidates(ctx context.Context, kind task.Kind, tenantID string) ([]task.WorkerCandidate, error) {
	query := fmt.Sprintf(`
		FOR w IN %s
		FILTER w.deactivated != true AND w.health != @unhealthy
		FILTER @tenantID == "" OR w.tenant_id == @tenantID
		FOR c IN w.capabilities
			FILTER c.kind == @kind
			RETURN { instance_id: w.id, specialization: c.specialization, used_capacity: w.used_capacity, max_capacity: w.max_capacity, success_rate: w.success_rate }
	`, CollectionWorkerInstances)

	bindVars := map[string]interface{}{
		"kind":      string(kind),
		"tenantID":  tenantID,
		"unhealthy": string(HealthUnhealthy),
	}
	cursor, err := r.db.Database().Query(ctx, query, bindVars)
	if err != nil {
		return nil, fmt.Errorf("failed to query candidates: %w", err)
	}
	defer cursor.Close()

	var out []task.WorkerCandidate
	for {
		var row struct {
			InstanceID     string  `json:"instance_id"`
			Specialization float64 `json:"specialization"`
			UsedCapacity   int     `json:"used_capacity"`
			MaxCapacity    int     `json:"max_capacity"`
			SuccessRate    float64 `json:"success_rate"`
		}
		if _, err := cursor.ReadDocument(ctx, &row); driver.IsNoMoreDocuments(err) {
			break
		} else if err != nil {
			return nil, fmt.Errorf("failed to read candidate row: %w", err)
		}
		out = append(out, task.WorkerCandidate{
			InstanceID:     row.InstanceID,
			Specialization: row.Specialization,
			UsedCapacity:   row.UsedCapacity,
			MaxCapacity:    row.MaxCapacity,
			SuccessRate:    row.SuccessRate,
		})
	}
	return out, nil
}
