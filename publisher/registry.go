package publisher

import (
	"fmt"
	"time"

	"github.com/mashable/elasticsearch-river-mongodb/cfg"
	"github.com/mashable/elasticsearch-river-mongodb/oplog"
	"github.com/mashable/elasticsearch-river-mongodb/river"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog/log"
)

// TransformerConfig carries the context a transformer needs
type TransformerConfig struct {
	River           string // River name, reported as the source connector name
	Database        string // Watched database
	CollectionField string // Optional field receiving the collection name
}

// SinkFactory builds a sink from the [sink] section
type SinkFactory func(cfg.SinkConfiguration) (Sink, error)

// TransformerFactory builds the transformer for one output format
type TransformerFactory func(TransformerConfig) Transformer

var (
	sinkFactories        = xsync.NewMapOf[string, SinkFactory]()
	transformerFactories = xsync.NewMapOf[string, TransformerFactory]()
)

// RegisterSink makes a sink type available to NewWorkerFromConfig. Sink
// packages call it from init.
func RegisterSink(sinkType string, factory SinkFactory) {
	sinkFactories.Store(sinkType, factory)
}

func RegisterTransformer(format string, factory TransformerFactory) {
	transformerFactories.Store(format, factory)
}

func lookup[F any](m *xsync.MapOf[string, F], kind, name string) (F, error) {
	f, ok := m.Load(name)
	if !ok {
		return f, fmt.Errorf("unknown %s: %q", kind, name)
	}
	return f, nil
}

// Source is the queue side the worker consumes
type Source interface {
	Events() <-chan river.ChangeEvent
}

// NewWorkerFromConfig builds the sink, transformer and filter described by
// config and wires them into a worker reading from source
func NewWorkerFromConfig(config cfg.SinkConfiguration, tc TransformerConfig, source Source, committer Committer, handled func() oplog.Position) (w *Worker, err error) {
	newSink, err := lookup(sinkFactories, "sink type", config.Type)
	if err != nil {
		return nil, err
	}
	newTransformer, err := lookup(transformerFactories, "format", config.Format)
	if err != nil {
		return nil, err
	}

	snk, err := newSink(config)
	if err != nil {
		return nil, fmt.Errorf("sink %s: %w", config.Name, err)
	}
	defer func() {
		if err != nil {
			_ = snk.Close()
		}
	}()

	filter, err := NewGlobFilter(config.FilterCollections)
	if err != nil {
		return nil, fmt.Errorf("sink %s filter: %w", config.Name, err)
	}

	w, err = NewWorker(WorkerConfig{
		Name:            config.Name,
		Events:          source.Events(),
		Sink:            snk,
		Transformer:     newTransformer(tc),
		Filter:          filter,
		Committer:       committer,
		Handled:         handled,
		TopicPrefix:     config.TopicPrefix,
		Index:           config.Index,
		DropCollection:  config.DropCollection,
		BatchSize:       config.BatchSize,
		FlushInterval:   time.Duration(config.FlushIntervalMS) * time.Millisecond,
		RetryInitial:    time.Duration(config.RetryInitialMS) * time.Millisecond,
		RetryMax:        time.Duration(config.RetryMaxMS) * time.Millisecond,
		RetryMultiplier: config.RetryMultiplier,
		MaxRetries:      config.MaxRetries,
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("sink", config.Name).
		Str("type", config.Type).
		Str("format", config.Format).
		Strs("collections", config.FilterCollections).
		Msg("Publisher ready")
	return w, nil
}

// Close releases the sink of the worker
func (w *Worker) Close() error {
	return w.config.Sink.Close()
}
