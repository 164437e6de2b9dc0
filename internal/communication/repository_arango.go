package communication

import (
	"context"
	"fmt"

	"github.com/codevaldcortex/orchestrator/internal/database"
	driver "github.com/arangodb/go-driver"
	log "github.com/sirupsen/logrus"
)

// CollectionMessages names the ArangoDB collection backing durable message
// storage, following the same ensure-collection/ensure-index convention as
// internal/registry/repository_arango.go.
const CollectionMessages = "messages"

// MessageRepository persists Message envelopes for audit/replay, distinct
// from the in-memory Router/DeliveryService which own live routing and ack
// state.
type MessageRepository struct {
	db         *database.ArangoClient
	collection driver.Collection
}

func NewMessageRepository(dbClient *database.ArangoClient) (*MessageRepository, error) {
	ctx := dbClient.Context()
	db := dbClient.Database()

	col, err := ensureMessageCollection(ctx, db)
	if err != nil {
		return nil, fmt.Errorf("failed to ensure messages collection: %w", err)
	}

	log.WithField("collection", CollectionMessages).Info("message repository initialized")
	return &MessageRepository{db: dbClient, collection: col}, nil
}

func ensureMessageCollection(ctx context.Context, db driver.Database) (driver.Collection, error) {
	exists, err := db.CollectionExists(ctx, CollectionMessages)
	if err != nil {
		return nil, err
	}
	var col driver.Collection
	if exists {
		col, err = db.Collection(ctx, CollectionMessages)
	} else {
		col, err = db.CreateCollection(ctx, CollectionMessages, nil)
	}
	if err != nil {
		return nil, err
	}

	if _, _, err := col.EnsurePersistentIndex(ctx, []string{"correlation_id"}, &driver.EnsurePersistentIndexOptions{Name: "idx_correlation"}); err != nil {
		return nil, fmt.Errorf("failed to ensure correlation index: %w", err)
	}
	if _, _, err := col.EnsurePersistentIndex(ctx, []string{"acked"}, &driver.EnsurePersistentIndexOptions{Name: "idx_acked"}); err != nil {
		return nil, fmt.Errorf("failed to ensure acked index: %w", err)
	}
	return col, nil
}

type messageDocument struct {
	Key string `json:"_key,omitempty"`
	Message
}

func (r *MessageRepository) Save(ctx context.Context, msg *Message) error {
	doc := messageDocument{Key: msg.ID, Message: *msg}
	exists, err := r.collection.DocumentExists(ctx, msg.ID)
	if err != nil {
		return fmt.Errorf("failed to check message existence: %w", err)
	}
	if exists {
		if _, err := r.collection.UpdateDocument(ctx, msg.ID, doc); err != nil {
			return fmt.Errorf("failed to update message document: %w", err)
		}
		return nil
	}
	if _, err := r.collection.CreateDocument(ctx, doc); err != nil {
		return fmt.Errorf("failed to create message document: %w", err)
	}
	return nil
}

func (r *MessageRepository) Get(ctx context.Context, id string) (*Message, error) {
	var doc messageDocument
	if _, err := r.collection.ReadDocument(ctx, id, &doc); err != nil {
		if driver.IsNotFound(err) {
			return nil, fmt.Errorf("message %s: %w", id, errMessageNotFound)
		}
		return nil, fmt.Errorf("failed to read message document: %w", err)
	}
	return &doc.Message, nil
}

func (r *MessageRepository) ByCorrelation(ctx context.Context, correlationID string) ([]*Message, error) {
	query := fmt.Sprintf("FOR m IN %s FILTER m.correlation_id == @id SORT m.timestamp RETURN m", CollectionMessages)
	cursor, err := r.db.Database().Query(ctx, query, map[string]interface{}{"id": correlationID})
	if err != nil {
		return nil, fmt.Errorf("failed to query messages by correlation: %w", err)
	}
	defer cursor.Close()

	var out []*Message
	for {
		var doc messageDocument
		if _, err := cursor.ReadDocument(ctx, &doc); driver.IsNoMoreDocuments(err) {
			break
		} else if err != nil {
			return nil, fmt.Errorf("failed to read cursor document: %w", err)
		}
		msg := doc.Message
		out = append(out, &msg)
	}
	return out, nil
}

var errMessageNotFound = fmt.Errorf("message not found")
