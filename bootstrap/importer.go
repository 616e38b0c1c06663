// Package bootstrap imports whole collections into the river event stream.
// It serves the initial import of a river without a checkpoint and the
// resync of collections renamed into the watched database.
package bootstrap

import (
	"context"
	"fmt"

	"github.com/mashable/elasticsearch-river-mongodb/document"
	"github.com/mashable/elasticsearch-river-mongodb/oplog"
	"github.com/mashable/elasticsearch-river-mongodb/river"
	"github.com/mashable/elasticsearch-river-mongodb/telemetry"
	"github.com/rs/zerolog/log"
)

// Scanner streams the documents of a collection
type Scanner interface {
	Scan(ctx context.Context, collection string, fn func(*document.Document) error) error
}

// Config configures an Importer
type Config struct {
	Scanner Scanner
	Sink    river.EventSink
	// Filter and Projection are applied to every imported document the way
	// the materializer applies them to change records
	Filter     *document.Document
	Projection document.Projection
}

// Importer emits every document of a collection as an insert event
type Importer struct {
	scanner    Scanner
	sink       river.EventSink
	filter     *document.Document
	projection document.Projection
}

// New creates an Importer
func New(config Config) (*Importer, error) {
	if config.Scanner == nil {
		return nil, fmt.Errorf("scanner is required")
	}
	if config.Sink == nil {
		return nil, fmt.Errorf("event sink is required")
	}
	return &Importer{
		scanner:    config.Scanner,
		sink:       config.Sink,
		filter:     config.Filter,
		projection: config.Projection,
	}, nil
}

// Import emits the documents of collection at position at. Events block on
// a full sink; ctx cancellation aborts the import.
func (i *Importer) Import(ctx context.Context, collection string, at oplog.Position) error {
	log.Info().Str("collection", collection).Str("position", at.String()).Msg("Importing collection")

	count := 0
	err := i.scanner.Scan(ctx, collection, func(doc *document.Document) error {
		if i.filter != nil && !doc.Matches(i.filter) {
			return nil
		}
		event := river.ChangeEvent{
			Position:   at,
			Operation:  oplog.OpInsert,
			Payload:    document.DocumentPayload{Doc: i.projection.Apply(doc)},
			Collection: collection,
		}
		if err := i.sink.Put(ctx, event); err != nil {
			return err
		}
		count++
		telemetry.ImportedDocumentsTotal.Inc()
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to import collection %s after %d documents: %w", collection, count, err)
	}

	log.Info().Str("collection", collection).Int("documents", count).Msg("Collection imported")
	return nil
}

// ImportAll imports collections in order
func (i *Importer) ImportAll(ctx context.Context, collections []string, at oplog.Position) error {
	for _, collection := range collections {
		if err := i.Import(ctx, collection, at); err != nil {
			return err
		}
	}
	return nil
}
