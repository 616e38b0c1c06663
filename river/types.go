package river

import (
	"context"

	"github.com/mashable/elasticsearch-river-mongodb/document"
	"github.com/mashable/elasticsearch-river-mongodb/oplog"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// AllCollections as a ChangeEvent collection means the event applies to
// every collection of the watched database.
const AllCollections = ""

// ChangeEvent is the unit handed to the EventSink
type ChangeEvent struct {
	Position   oplog.Position
	Operation  oplog.Operation
	Payload    document.Payload
	Collection string
}

// Document returns the payload document, nil when there is no payload
func (e ChangeEvent) Document() *document.Document {
	if e.Payload == nil {
		return nil
	}
	return e.Payload.Document()
}

// ChangeLog is the tailable change-log store
type ChangeLog interface {
	// Tail returns the position of the newest record, zero when the log is empty
	Tail(ctx context.Context) (oplog.Position, error)
	// Open opens a tailing cursor over records at or after from. A zero
	// position opens the cursor over the whole log.
	Open(ctx context.Context, from oplog.Position) (Cursor, error)
}

// Cursor iterates a tailing change-log cursor
type Cursor interface {
	// Next returns the next record, io.EOF when the cursor is caught up
	Next(ctx context.Context) (*oplog.Entry, error)
	Close(ctx context.Context) error
}

// OverflowStore resolves overflow-chain fragments
type OverflowStore interface {
	// NextFragment returns the fragment of ref with the smallest sequence
	// greater than after, or nil when none exists. Fragments take the
	// position of the record that referenced them.
	NextFragment(ctx context.Context, ref bson.ObjectID, after int64, parent oplog.Position) (*oplog.Fragment, error)
}

// SourceStore reads the watched database
type SourceStore interface {
	// FindOne returns the first document of collection matching selector, nil when none
	FindOne(ctx context.Context, collection string, selector *document.Document) (*document.Document, error)
	// CollectionNames lists the collections of the watched database
	CollectionNames(ctx context.Context) ([]string, error)
	// Indexes lists index metadata of a namespace
	Indexes(ctx context.Context, namespace string) ([]IndexSpec, error)
}

// IndexSpec is the index metadata used to derive key schemas
type IndexSpec struct {
	Name string
	Keys []string // Field names in declared order
}

// AttachmentStore looks up attachment-store objects
type AttachmentStore interface {
	// Find returns the attachment stored under id in bucket, nil when none
	Find(ctx context.Context, bucket string, id document.Value) (*document.Attachment, error)
}

// StatusStore persists the river status
type StatusStore interface {
	SetStatus(ctx context.Context, status Status) error
	Status(ctx context.Context) (Status, error)
}

// Importer re-imports a whole collection into the event stream
type Importer interface {
	Import(ctx context.Context, collection string, at oplog.Position) error
}

// EventSink receives change events, blocking when full
type EventSink interface {
	Put(ctx context.Context, event ChangeEvent) error
}
