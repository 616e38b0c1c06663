package transformer

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/mashable/elasticsearch-river-mongodb/document"
	"github.com/mashable/elasticsearch-river-mongodb/oplog"
	"github.com/mashable/elasticsearch-river-mongodb/publisher"
	"github.com/mashable/elasticsearch-river-mongodb/river"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog/log"
)

const debeziumConnector = "mongodb"

func init() {
	publisher.RegisterTransformer("debezium", func(config publisher.TransformerConfig) publisher.Transformer {
		return NewDebeziumTransformer(config.River, config.Database)
	})
}

// DebeziumTransformer transforms change events to the Debezium MongoDB
// connector envelope with an embedded schema.
//
// The transformer:
//   - Renders documents as extended JSON strings in "after" (inserts, updates)
//     and the identifier selector in "filter" (deletes)
//   - Maps operations to "c", "u" and "d", drops to "t"
//   - Reports the log position in source.ts_ms/source.ord (timestamp
//     positions) or source.gtid (TokuMX)
//   - Caches envelope schemas per collection
type DebeziumTransformer struct {
	name        string
	database    string
	now         func() time.Time
	schemaCache *xsync.MapOf[string, *debeziumEnvelopeSchema]
}

// NewDebeziumTransformer creates a new Debezium transformer
func NewDebeziumTransformer(name, database string) *DebeziumTransformer {
	return &DebeziumTransformer{
		name:        name,
		database:    database,
		now:         time.Now,
		schemaCache: xsync.NewMapOf[string, *debeziumEnvelopeSchema](),
	}
}

// debeziumEnvelopeSchema represents the cached schema structure
type debeziumEnvelopeSchema struct {
	Type   string                `json:"type"`
	Name   string                `json:"name"`
	Fields []debeziumSchemaField `json:"fields"`
}

type debeziumSchemaField struct {
	Field    string                `json:"field"`
	Type     string                `json:"type"`
	Optional bool                  `json:"optional,omitempty"`
	Name     string                `json:"name,omitempty"`
	Fields   []debeziumSchemaField `json:"fields,omitempty"`
}

type debeziumMessage struct {
	Schema  *debeziumEnvelopeSchema `json:"schema"`
	Payload debeziumPayload         `json:"payload"`
}

type debeziumPayload struct {
	After  *string        `json:"after"`
	Filter *string        `json:"filter,omitempty"`
	Op     string         `json:"op"`
	TsMs   int64          `json:"ts_ms"`
	Source debeziumSource `json:"source"`
}

type debeziumSource struct {
	Connector  string `json:"connector"`
	Name       string `json:"name"`
	TsMs       int64  `json:"ts_ms"`
	Db         string `json:"db"`
	Collection string `json:"collection"`
	Ord        uint32 `json:"ord"`
	GTID       string `json:"gtid,omitempty"`
}

// Transform converts an event to Debezium JSON with Schema format
func (d *DebeziumTransformer) Transform(event river.ChangeEvent) ([]byte, error) {
	payload := debeziumPayload{
		Op:     d.mapOperation(event.Operation),
		TsMs:   d.now().UnixMilli(),
		Source: d.source(event),
	}

	switch event.Operation {
	case oplog.OpDropCollection, oplog.OpDropDatabase:
	case oplog.OpDelete:
		filter, err := d.render(event.Document().Only(document.IDField))
		if err != nil {
			return nil, fmt.Errorf("failed to render delete filter: %w", err)
		}
		payload.Filter = filter
	default:
		after, err := d.render(event.Document())
		if err != nil {
			return nil, fmt.Errorf("failed to render document: %w", err)
		}
		payload.After = after
	}

	message := debeziumMessage{
		Schema:  d.getOrBuildSchema(event.Collection),
		Payload: payload,
	}

	data, err := json.Marshal(message)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return data, nil
}

// Tombstone creates a tombstone marker (null value for Kafka log compaction)
func (d *DebeziumTransformer) Tombstone(key string) []byte {
	return nil
}

func (d *DebeziumTransformer) source(event river.ChangeEvent) debeziumSource {
	src := debeziumSource{
		Connector:  debeziumConnector,
		Name:       d.name,
		Db:         d.database,
		Collection: event.Collection,
	}
	switch event.Position.Kind() {
	case oplog.PositionTimestamp:
		ts := event.Position.Timestamp()
		src.TsMs = int64(ts.T) * 1000
		src.Ord = ts.I
	case oplog.PositionGTID:
		src.GTID = event.Position.String()
	}
	return src
}

func (d *DebeziumTransformer) render(doc *document.Document) (*string, error) {
	data, err := doc.MarshalJSON()
	if err != nil {
		return nil, err
	}
	s := string(data)
	return &s, nil
}

// mapOperation maps a river operation to a Debezium operation
func (d *DebeziumTransformer) mapOperation(op oplog.Operation) string {
	switch op {
	case oplog.OpInsert:
		return "c" // create
	case oplog.OpUpdate, oplog.OpUpdateRow:
		return "u" // update
	case oplog.OpDelete:
		return "d" // delete
	case oplog.OpDropCollection, oplog.OpDropDatabase:
		return "t" // truncate
	default:
		log.Warn().Str("op", op.String()).Msg("unknown change operation, defaulting to update")
		return "u"
	}
}

// getOrBuildSchema retrieves or builds the envelope schema for a collection
func (d *DebeziumTransformer) getOrBuildSchema(collection string) *debeziumEnvelopeSchema {
	key := d.database + "." + collection
	schema, _ := d.schemaCache.LoadOrCompute(key, func() *debeziumEnvelopeSchema {
		return d.buildEnvelopeSchema(key)
	})
	return schema
}

// buildEnvelopeSchema constructs the Debezium envelope schema
func (d *DebeziumTransformer) buildEnvelopeSchema(namespace string) *debeziumEnvelopeSchema {
	return &debeziumEnvelopeSchema{
		Type: "struct",
		Name: d.name + "." + namespace + ".Envelope",
		Fields: []debeziumSchemaField{
			{Field: "after", Type: "string", Optional: true, Name: "io.debezium.data.Json"},
			{Field: "filter", Type: "string", Optional: true, Name: "io.debezium.data.Json"},
			{Field: "op", Type: "string"},
			{Field: "ts_ms", Type: "int64", Optional: true},
			{
				Field: "source",
				Type:  "struct",
				Name:  "io.debezium.connector.mongo.Source",
				Fields: []debeziumSchemaField{
					{Field: "connector", Type: "string"},
					{Field: "name", Type: "string"},
					{Field: "ts_ms", Type: "int64"},
					{Field: "db", Type: "string"},
					{Field: "collection", Type: "string"},
					{Field: "ord", Type: "int32"},
					{Field: "gtid", Type: "string", Optional: true},
				},
			},
		},
	}
}
