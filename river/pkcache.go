package river

import (
	"context"
	"fmt"

	"github.com/mashable/elasticsearch-river-mongodb/document"
	"github.com/mashable/elasticsearch-river-mongodb/telemetry"
	"github.com/rs/zerolog/log"
)

// Index names consulted for key schemas, in order of preference
const (
	PrimaryKeyIndex = "primaryKey"
	IDIndex         = "_id_"
)

// PKSchemaCache maps namespaces to the ordered field names of their primary
// key. Non-empty schemas are cached forever; empty results are not cached
// and are looked up again on every call. Owned by a single tailing loop.
type PKSchemaCache struct {
	store   SourceStore
	schemas map[string][]string
}

// NewPKSchemaCache creates an empty cache over store
func NewPKSchemaCache(store SourceStore) *PKSchemaCache {
	return &PKSchemaCache{store: store, schemas: make(map[string][]string)}
}

// SchemaFor returns the key fields of namespace, nil when unknown
func (c *PKSchemaCache) SchemaFor(ctx context.Context, namespace string) ([]string, error) {
	if keys, ok := c.schemas[namespace]; ok {
		telemetry.PKSchemaLookupsTotal.With("hit").Inc()
		return keys, nil
	}

	specs, err := c.store.Indexes(ctx, namespace)
	if err != nil {
		return nil, fmt.Errorf("failed to read indexes of %s: %w", namespace, err)
	}

	var pkKeys, idKeys []string
	for _, spec := range specs {
		switch spec.Name {
		case PrimaryKeyIndex:
			pkKeys = spec.Keys
		case IDIndex:
			idKeys = spec.Keys
		}
	}

	keys := pkKeys
	if keys == nil {
		keys = idKeys
	}

	log.Debug().Str("namespace", namespace).Strs("keys", keys).Msg("Loaded primary key schema")

	if len(keys) == 0 {
		telemetry.PKSchemaLookupsTotal.With("empty").Inc()
		return nil, nil
	}

	telemetry.PKSchemaLookupsTotal.With("loaded").Inc()
	c.schemas[namespace] = keys
	return keys, nil
}

// MapKey names the values of an unnamed key tuple. Tuples shorter than the
// schema fill its trailing fields. ok is false when the schema is unknown or
// shorter than the tuple.
func (c *PKSchemaCache) MapKey(ctx context.Context, namespace string, pk *document.Document) (*document.Document, bool, error) {
	schema, err := c.SchemaFor(ctx, namespace)
	if err != nil {
		return nil, false, err
	}
	if len(schema) == 0 || pk.Len() > len(schema) {
		return nil, false, nil
	}

	index := len(schema) - pk.Len()
	fields := pk.Fields()
	selector := make([]document.Field, len(fields))
	for i, f := range fields {
		selector[i] = document.Field{Key: schema[index+i], Value: f.Value}
	}
	return document.New(selector...), true, nil
}
