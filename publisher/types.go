package publisher

import (
	"context"

	"github.com/mashable/elasticsearch-river-mongodb/document"
	"github.com/mashable/elasticsearch-river-mongodb/oplog"
	"github.com/mashable/elasticsearch-river-mongodb/river"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// Message is a single record handed to a sink
type Message struct {
	Topic      string          // Kafka topic, NATS subject or Elasticsearch index
	Key        string          // Document identifier, empty for collection-level operations
	Value      []byte          // Transformed payload, nil for tombstones
	Tombstone  bool            // Compaction marker following a delete
	Operation  oplog.Operation // Operation of the originating event
	Collection string
	Position   oplog.Position
}

// Sink represents a destination for change events (Elasticsearch, Kafka, NATS)
type Sink interface {
	// Publish delivers messages in order. An error means none or only some
	// were delivered and the whole batch will be retried.
	Publish(ctx context.Context, msgs []Message) error
	// Close releases any resources held by the sink
	Close() error
}

// Transformer converts change events to sink-specific payloads
type Transformer interface {
	// Transform converts an event to bytes for publishing
	Transform(event river.ChangeEvent) ([]byte, error)
	// Tombstone creates a tombstone/delete marker for the given key, nil
	// when the format has none
	Tombstone(key string) []byte
}

// Filter determines whether events of a collection are published
type Filter interface {
	Match(collection string) bool
}

// Committer records the position up to which events were delivered
type Committer interface {
	CommitPosition(ctx context.Context, pos oplog.Position) error
}

// KeyOf returns the message key of an event: the hex ObjectID or string
// form of the document _id, empty when the payload has none.
func KeyOf(event river.ChangeEvent) string {
	id, ok := event.Document().ID()
	if !ok {
		return ""
	}
	return keyString(id)
}

func keyString(id document.Value) string {
	if oid, ok := id.Scalar().(bson.ObjectID); ok {
		return oid.Hex()
	}
	return id.String()
}
