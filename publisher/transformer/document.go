package transformer

import (
	"encoding/json"
	"fmt"

	"github.com/mashable/elasticsearch-river-mongodb/document"
	"github.com/mashable/elasticsearch-river-mongodb/oplog"
	"github.com/mashable/elasticsearch-river-mongodb/publisher"
	"github.com/mashable/elasticsearch-river-mongodb/river"
)

func init() {
	publisher.RegisterTransformer("document", func(config publisher.TransformerConfig) publisher.Transformer {
		return NewDocumentTransformer(config.CollectionField)
	})
}

var idProjection = document.Projection{Exclude: []string{document.IDField}}

// DocumentTransformer renders the event payload as the indexable source
// document. The _id travels as the message key and is left out of the body;
// attachments render their metadata with base64 content.
type DocumentTransformer struct {
	collectionField string
}

// NewDocumentTransformer creates a document transformer. A non-empty
// collectionField receives the collection name in every document.
func NewDocumentTransformer(collectionField string) *DocumentTransformer {
	return &DocumentTransformer{collectionField: collectionField}
}

type collectionEvent struct {
	Op         string `json:"op"`
	Collection string `json:"collection"`
}

// Transform converts an event to its JSON document
func (t *DocumentTransformer) Transform(event river.ChangeEvent) ([]byte, error) {
	switch event.Operation {
	case oplog.OpDropCollection, oplog.OpDropDatabase:
		return json.Marshal(collectionEvent{Op: event.Operation.String(), Collection: event.Collection})
	}

	doc := event.Document()
	if doc == nil {
		return nil, fmt.Errorf("%s event on %s has no payload", event.Operation, event.Collection)
	}

	doc = idProjection.Apply(doc)
	if t.collectionField != "" {
		doc = doc.With(t.collectionField, document.Scalar(event.Collection))
	}
	return doc.MarshalJSON()
}

// Tombstone returns nil, the null value used for log compaction
func (t *DocumentTransformer) Tombstone(key string) []byte {
	return nil
}
