package river

import (
	"context"
	"fmt"
	"strings"

	"github.com/mashable/elasticsearch-river-mongodb/document"
	"github.com/mashable/elasticsearch-river-mongodb/oplog"
	"github.com/mashable/elasticsearch-river-mongodb/telemetry"
	"github.com/rs/zerolog/log"
)

// MaterializerConfig wires a Materializer
type MaterializerConfig struct {
	River       *Config
	Validator   *Validator
	Schemas     *PKSchemaCache
	Overflow    OverflowStore
	Source      SourceStore
	Attachments AttachmentStore // Required in GridFS mode
	Importer    Importer        // Optional, used for rename resyncs
	Sink        EventSink
}

// Materializer turns validated change-log records into change events
type Materializer struct {
	cfg         *Config
	validator   *Validator
	schemas     *PKSchemaCache
	overflow    OverflowStore
	source      SourceStore
	attachments AttachmentStore
	importer    Importer
	sink        EventSink
}

// NewMaterializer creates a materializer
func NewMaterializer(config MaterializerConfig) (*Materializer, error) {
	if config.River == nil {
		return nil, fmt.Errorf("river config is required")
	}
	if config.Source == nil {
		return nil, fmt.Errorf("source store is required")
	}
	if config.Overflow == nil {
		return nil, fmt.Errorf("overflow store is required")
	}
	if config.Sink == nil {
		return nil, fmt.Errorf("event sink is required")
	}
	if config.River.GridFS && config.Attachments == nil {
		return nil, fmt.Errorf("attachment store is required in gridfs mode")
	}
	if config.Validator == nil {
		config.Validator = NewValidator(config.River)
	}
	if config.Schemas == nil {
		config.Schemas = NewPKSchemaCache(config.Source)
	}

	return &Materializer{
		cfg:         config.River,
		validator:   config.Validator,
		schemas:     config.Schemas,
		overflow:    config.Overflow,
		source:      config.Source,
		attachments: config.Attachments,
		importer:    config.Importer,
		sink:        config.Sink,
	}, nil
}

// Process expands a record into events: overflow references are walked,
// batches are processed in order, single operations are validated and
// materialized. start is the position the current cursor was opened at.
func (m *Materializer) Process(ctx context.Context, e *oplog.Entry, start oplog.Position) error {
	if e.HasRef {
		return m.processOverflow(ctx, e, start)
	}
	if e.Ops != nil {
		for _, op := range e.Ops {
			if err := m.processSingle(ctx, op, start); err != nil {
				return err
			}
		}
		return nil
	}
	return m.processSingle(ctx, e, start)
}

func (m *Materializer) processOverflow(ctx context.Context, e *oplog.Entry, start oplog.Position) error {
	if e.Ref == nil {
		return Fatal(fmt.Errorf("invalid change-log record at %s: ref is not an ObjectID", e.Position))
	}
	ref := *e.Ref

	after := int64(-1)
	fragments := 0
	for {
		frag, err := m.overflow.NextFragment(ctx, ref, after, e.Position)
		if err != nil {
			return fmt.Errorf("failed to read overflow fragment %s/%d: %w", ref.Hex(), after, err)
		}
		if frag == nil || frag.Ref != ref {
			break
		}

		log.Debug().Str("ref", ref.Hex()).Int64("seq", frag.Seq).Msg("Processing overflow fragment")

		fragments++
		after = frag.Seq
		if err := m.Process(ctx, frag.Entry, start); err != nil {
			return err
		}
	}

	if fragments == 0 {
		return Fatal(fmt.Errorf("overflow reference %s at %s has no fragments", ref.Hex(), e.Position))
	}
	return nil
}

func (m *Materializer) processSingle(ctx context.Context, e *oplog.Entry, start oplog.Position) error {
	if verdict := m.validator.Validate(e, start); verdict != Accepted {
		telemetry.EntriesTotal.With(verdict).Inc()
		return nil
	}
	telemetry.EntriesTotal.With(Accepted).Inc()

	op := e.Operation()
	ns := e.Namespace
	obj := e.Object

	collection := m.cfg.Collection
	if m.cfg.AllCollections {
		collection = AllCollections
		if ns != m.cfg.CommandNamespace() {
			collection = m.cfg.CollectionOf(ns)
		}
	}

	if ns == m.cfg.CommandNamespace() {
		switch {
		case obj.Has(markerDrop):
			op = oplog.OpDropCollection
			v, _ := obj.Get(markerDrop)
			name := v.String()
			if !m.cfg.AllCollections {
				if !m.cfg.watches(name) {
					return SoftSkip("drop of unwatched collection %s", name)
				}
				break
			}
			if strings.HasPrefix(name, mapReduceDropPrefix) {
				return nil
			}
			collection = name
		case obj.Has(markerDropDatabase):
			op = oplog.OpDropDatabase
		}
	}

	log.Trace().Str("namespace", ns).Str("op", op.String()).Msg("Materializing record")

	if op == oplog.OpCommand {
		if ns == AdminCommandNamespace {
			return m.processAdminCommand(ctx, e)
		}
		return SoftSkip("command record on %s has no actionable marker", ns)
	}

	if op == oplog.OpDelete {
		id, ok := obj.ID()
		if !ok {
			return Fatal(fmt.Errorf("delete record at %s on %s has no _id", e.Position, ns))
		}
		if obj.Len() > 1 {
			obj = document.New(document.Field{Key: document.IDField, Value: id})
		}
	}

	if m.cfg.GridFS && strings.HasSuffix(ns, filesSuffix) &&
		(op == oplog.OpInsert || op == oplog.OpUpdate || op == oplog.OpUpdateRow) {
		return m.processAttachment(ctx, e, op, collection)
	}

	switch op {
	case oplog.OpInsert:
		return m.emit(ctx, e.Position, op, m.project(obj), collection)

	case oplog.OpUpdate, oplog.OpUpdateRow:
		upd := e.Update
		switch {
		case upd == nil && obj == nil:
			if e.PK == nil {
				return SoftSkip("update record on %s has no selector", ns)
			}
			selector, ok, err := m.schemas.MapKey(ctx, ns, e.PK)
			if err != nil {
				return err
			}
			if !ok {
				return SoftSkip("no primary key schema for %s", ns)
			}
			return m.emitLookup(ctx, e.Position, op, selector, collection)

		case upd == nil:
			id, ok := obj.ID()
			if !ok {
				return SoftSkip("update record on %s has no _id", ns)
			}
			selector := document.New(document.Field{Key: document.IDField, Value: id})
			return m.emitLookup(ctx, e.Position, op, selector, collection)

		case m.cfg.NativePostImage:
			return m.emit(ctx, e.Position, op, m.project(upd), collection)

		default:
			return m.emitLookup(ctx, e.Position, op, upd, collection)
		}

	default:
		return m.emit(ctx, e.Position, op, m.project(obj), collection)
	}
}

func (m *Materializer) processAttachment(ctx context.Context, e *oplog.Entry, op oplog.Operation, collection string) error {
	id, ok := e.Object.ID()
	if !ok {
		id, ok = e.Update.ID()
	}
	if !ok {
		return Fatal(fmt.Errorf("attachment record at %s on %s has no _id", e.Position, e.Namespace))
	}

	file, err := m.attachments.Find(ctx, m.cfg.Collection, id)
	if err != nil {
		return fmt.Errorf("failed to read attachment %s: %w", id, err)
	}
	if file == nil {
		log.Error().Str("id", id.String()).Str("bucket", m.cfg.Collection).Msg("Cannot find attachment")
		telemetry.SoftSkipsTotal.With("attachment_not_found").Inc()
		return nil
	}

	log.Trace().Str("id", id.String()).Str("filename", file.Filename).Msg("Adding attachment")
	return m.put(ctx, e.Position, op, document.AttachmentPayload{File: file.Project(m.cfg.Projection)}, collection)
}

func (m *Materializer) processAdminCommand(ctx context.Context, e *oplog.Entry) error {
	if !m.cfg.AllCollections {
		return nil
	}
	obj := e.Object
	if !obj.Has(markerRename) || !obj.Has(markerRenameTo) {
		return nil
	}

	to, _ := obj.Get(markerRenameTo)
	target := m.cfg.CollectionOf(to.String())
	if target == "" {
		return nil
	}

	if m.importer == nil {
		log.Warn().Str("collection", target).Msg("Collection renamed into watched database but no importer is configured")
		return nil
	}

	log.Info().Str("collection", target).Str("position", e.Position.String()).Msg("Collection renamed, importing")
	if err := m.importer.Import(ctx, target, e.Position); err != nil {
		return fmt.Errorf("failed to import renamed collection %s: %w", target, err)
	}
	return nil
}

// emitLookup reconstructs the post-image by querying the source store. An
// unresolved collection queries every collection of the database.
func (m *Materializer) emitLookup(ctx context.Context, pos oplog.Position, op oplog.Operation, selector *document.Document, collection string) error {
	names := []string{collection}
	if collection == AllCollections {
		var err error
		if names, err = m.source.CollectionNames(ctx); err != nil {
			return fmt.Errorf("failed to list collections: %w", err)
		}
	}

	for _, name := range names {
		doc, err := m.source.FindOne(ctx, name, selector)
		if err != nil {
			return fmt.Errorf("failed to look up %s in %s: %w", selector, name, err)
		}
		if doc == nil {
			log.Debug().Str("collection", name).Str("selector", selector.String()).Msg("Post-image not found")
			telemetry.SoftSkipsTotal.With("post_image_not_found").Inc()
			continue
		}
		if err := m.emit(ctx, pos, op, m.project(doc), name); err != nil {
			return err
		}
	}
	return nil
}

func (m *Materializer) emit(ctx context.Context, pos oplog.Position, op oplog.Operation, doc *document.Document, collection string) error {
	payload := document.DocumentPayload{Doc: doc}
	if op == oplog.OpDropDatabase && m.cfg.AllCollections {
		names, err := m.source.CollectionNames(ctx)
		if err != nil {
			return fmt.Errorf("failed to list collections: %w", err)
		}
		log.Info().Strs("collections", names).Msg("Database dropped, dropping every collection")
		for _, name := range names {
			if err := m.put(ctx, pos, oplog.OpDropCollection, payload, name); err != nil {
				return err
			}
		}
		return nil
	}
	return m.put(ctx, pos, op, payload, collection)
}

func (m *Materializer) put(ctx context.Context, pos oplog.Position, op oplog.Operation, payload document.Payload, collection string) error {
	event := ChangeEvent{Position: pos, Operation: op, Payload: payload, Collection: collection}
	if err := m.sink.Put(ctx, event); err != nil {
		return err
	}
	telemetry.EventsEmittedTotal.With(op.String()).Inc()
	return nil
}

func (m *Materializer) project(doc *document.Document) *document.Document {
	return m.cfg.Projection.Apply(doc)
}
