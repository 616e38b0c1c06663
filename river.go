package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/mashable/elasticsearch-river-mongodb/admin"
	"github.com/mashable/elasticsearch-river-mongodb/bootstrap"
	"github.com/mashable/elasticsearch-river-mongodb/cfg"
	"github.com/mashable/elasticsearch-river-mongodb/checkpoint"
	"github.com/mashable/elasticsearch-river-mongodb/document"
	"github.com/mashable/elasticsearch-river-mongodb/oplog"
	"github.com/mashable/elasticsearch-river-mongodb/publisher"
	_ "github.com/mashable/elasticsearch-river-mongodb/publisher/sink"
	_ "github.com/mashable/elasticsearch-river-mongodb/publisher/transformer"
	"github.com/mashable/elasticsearch-river-mongodb/river"
	"github.com/mashable/elasticsearch-river-mongodb/source"
	"github.com/mashable/elasticsearch-river-mongodb/telemetry"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const collectInterval = 5 * time.Second

func main() {
	flag.Parse()

	// Load configuration
	err := cfg.Load(*cfg.ConfigPathFlag)
	if err != nil {
		panic(err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		panic(fmt.Sprintf("Invalid configuration: %v", err))
	}

	// Setup logging
	var writer io.Writer = zerolog.NewConsoleWriter()
	if cfg.Config.Logging.Format == "json" {
		writer = os.Stdout
	}
	gLog := zerolog.New(writer).
		With().
		Timestamp().
		Str("river", cfg.Config.Name).
		Logger()

	if cfg.Config.Logging.Verbose {
		log.Logger = gLog.Level(zerolog.DebugLevel)
	} else {
		log.Logger = gLog.Level(zerolog.InfoLevel)
	}

	log.Info().Msg("MongoDB river starting")
	log.Debug().Msg("Initializing telemetry")
	telemetry.Initialize(cfg.Config.Prometheus.Enabled, cfg.Config.Name)
	telemetry.InitMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		if errors.Is(err, river.ErrStale) {
			log.Fatal().Err(err).Msg("River is stale, restart with -reset after a full resync")
		}
		log.Fatal().Err(err).Msg("River failed")
	}
	log.Info().Msg("River stopped")
}

func run(ctx context.Context) (err error) {
	name := cfg.Config.Name
	mongoCfg := &cfg.Config.Mongo

	store, err := checkpoint.Open(cfg.Config.DataDir)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, store.Close()) }()

	if *cfg.ResetFlag {
		log.Warn().Msg("Resetting persisted position and status")
		if err := store.Reset(name); err != nil {
			return err
		}
	}

	stream := store.Stream(name)
	persisted, err := stream.Status(ctx)
	if err != nil {
		return err
	}
	if persisted == river.StatusStale {
		return fmt.Errorf("%w: persisted status is %s", river.ErrStale, persisted)
	}
	resume, err := stream.Position()
	if err != nil {
		return err
	}

	client, err := source.Connect(ctx, mongoCfg)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, client.Disconnect(context.WithoutCancel(ctx))) }()

	scope := riverConfig()
	queue := river.NewQueue(cfg.Config.River.QueueSize)
	docs := source.NewDocuments(client, mongoCfg.Database)
	changeLog := source.NewChangeLog(client)

	importer, err := bootstrap.New(bootstrap.Config{
		Scanner:    docs,
		Sink:       queue,
		Filter:     scope.Filter,
		Projection: scope.Projection,
	})
	if err != nil {
		return err
	}

	matCfg := river.MaterializerConfig{
		River:    scope,
		Overflow: source.NewOverflow(client),
		Source:   docs,
		Importer: importer,
		Sink:     queue,
	}
	if scope.GridFS {
		matCfg.Attachments = source.NewGridFS(client, mongoCfg.Database)
	}
	mat, err := river.NewMaterializer(matCfg)
	if err != nil {
		return err
	}

	// A river without a checkpoint may import existing documents and tail
	// from the position the import was taken at
	var imports []string
	importAt := oplog.Position{}
	if resume.IsZero() && scope.InitialPosition.IsZero() && cfg.Config.River.InitialImport {
		if imports, importAt, err = initialImport(ctx, scope, docs, changeLog); err != nil {
			return err
		}
		resume = importAt
	}

	tailer, err := river.NewTailer(river.TailerConfig{
		Name:         name,
		ChangeLog:    changeLog,
		Materializer: mat,
		StatusStore:  stream,
		Resume:       resume,
		Initial:      scope.InitialPosition,
		IdleDelay:    time.Duration(cfg.Config.River.IdleDelayMS) * time.Millisecond,
		RetryDelay:   time.Duration(cfg.Config.River.RetryDelayMS) * time.Millisecond,
	})
	if err != nil {
		return err
	}

	// Nothing is committed for an interrupted import
	var imported atomic.Bool
	handled := func() oplog.Position {
		if !imported.Load() {
			return oplog.Position{}
		}
		return tailer.Position()
	}

	worker, err := publisher.NewWorkerFromConfig(
		cfg.Config.Sink,
		publisher.TransformerConfig{
			River:           name,
			Database:        mongoCfg.Database,
			CollectionField: cfg.Config.Sink.IncludeCollectionField,
		},
		queue,
		stream,
		handled,
	)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, worker.Close()) }()

	g, gctx := errgroup.WithContext(ctx)

	// The worker outlives a signal so it can drain the queue once the
	// tailer has stopped
	workerCtx, cancelWorker := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelWorker()
	g.Go(func() error {
		return worker.Run(workerCtx)
	})

	// Admin and the collector stop with the tailer
	auxCtx, cancelAux := context.WithCancel(gctx)
	defer cancelAux()
	collector := telemetry.NewCollector(riverStats{queue: queue, tailer: tailer}, collectInterval)
	g.Go(func() error {
		return collector.Run(auxCtx)
	})
	if cfg.Config.Admin.Enabled {
		handlers := admin.NewAdminHandlers(name, tailer, worker.Committed)
		mux := admin.NewMux(handlers, cfg.Config.Admin.Secret, telemetry.GetMetricsHandler())
		g.Go(func() error {
			return admin.Serve(auxCtx, cfg.Config.Admin.BindAddress, cfg.Config.Admin.Port, mux)
		})
	}

	g.Go(func() error {
		defer cancelAux()
		// Tailer first, then the worker, so every enqueued event is delivered
		defer worker.Stop()

		if err := importer.ImportAll(gctx, imports, importAt); err != nil {
			if gctx.Err() != nil && errors.Is(err, context.Canceled) {
				log.Warn().Msg("Initial import interrupted")
				return nil
			}
			return err
		}
		imported.Store(true)
		return tailer.Run(gctx)
	})

	return g.Wait()
}

// initialImport locates the change-log tail and lists the collections to
// import at it
func initialImport(ctx context.Context, scope *river.Config, docs *source.Documents, changeLog *source.ChangeLog) ([]string, oplog.Position, error) {
	if scope.GridFS {
		log.Warn().Str("bucket", scope.Collection).Msg("Initial import is not supported for gridfs buckets, tailing only")
		return nil, oplog.Position{}, nil
	}

	at, err := changeLog.Tail(ctx)
	if err != nil {
		return nil, oplog.Position{}, err
	}

	collections := []string{scope.Collection}
	if scope.AllCollections {
		if collections, err = docs.CollectionNames(ctx); err != nil {
			return nil, oplog.Position{}, err
		}
	}

	log.Info().
		Strs("collections", collections).
		Str("position", at.String()).
		Msg("No checkpoint found, importing existing documents")
	return collections, at, nil
}

func riverConfig() *river.Config {
	m := cfg.Config.Mongo

	var filter *document.Document
	if len(m.Filter) > 0 {
		filter = document.FromValue(m.Filter).Document()
	}

	return &river.Config{
		Database:        m.Database,
		Collection:      m.Collection,
		AllCollections:  m.ImportAllCollections,
		GridFS:          m.GridFS,
		NativePostImage: m.Engine == cfg.EngineTokuMX,
		Filter:          filter,
		Projection: document.Projection{
			Include: m.IncludeFields,
			Exclude: m.ExcludeFields,
		},
		InitialPosition: cfg.InitialPosition(),
	}
}

// riverStats feeds the metrics collector
type riverStats struct {
	queue  *river.Queue
	tailer *river.Tailer
}

func (s riverStats) QueueDepth() int {
	return s.queue.Len()
}

func (s riverStats) PositionTime() (time.Time, bool) {
	return s.tailer.PositionTime()
}
