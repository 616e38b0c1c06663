package publisher

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/mashable/elasticsearch-river-mongodb/oplog"
	"github.com/mashable/elasticsearch-river-mongodb/river"
	"github.com/mashable/elasticsearch-river-mongodb/telemetry"
	"github.com/rs/zerolog/log"
)

const (
	// Default number of events per delivered batch
	DefaultBatchSize = 100
	// Default interval after which a partial batch is delivered
	DefaultFlushInterval = time.Second
	// Default initial retry delay for failed publish operations
	DefaultRetryInitial = 100 * time.Millisecond
	// Default maximum retry delay (exponential backoff cap)
	DefaultRetryMax = 30 * time.Second
	// Default exponential backoff multiplier
	DefaultRetryMultiplier = 2.0
	// Maximum number of retry attempts before giving up on a batch
	DefaultMaxRetries = 100
)

// WorkerConfig configures the publisher worker
type WorkerConfig struct {
	Name        string                   // Sink name (for logs and metrics)
	Events      <-chan river.ChangeEvent // Queue consumer side
	Sink        Sink                     // Destination sink
	Transformer Transformer              // Event transformer
	Filter      Filter                   // Collection filter
	Committer   Committer                // Optional, receives delivered positions
	// Handled reports the position the tailer has fully processed. It is
	// committed when the worker stops after draining the queue.
	Handled         func() oplog.Position
	TopicPrefix     string        // Topic prefix (e.g., "river.cdc")
	Index           string        // Fixed topic for every collection, overrides TopicPrefix
	DropCollection  bool          // Forward drop operations
	BatchSize       int           // Events per delivered batch
	FlushInterval   time.Duration // Partial batch delivery interval
	RetryInitial    time.Duration // Initial retry delay
	RetryMax        time.Duration // Max retry delay
	RetryMultiplier float64       // Backoff multiplier
	MaxRetries      int           // Maximum retry attempts
}

// Worker drains the river queue and publishes events to a sink
type Worker struct {
	config WorkerConfig

	// tail is the position of the newest delivered event. It is committed
	// once an event with a newer position is delivered.
	tail      oplog.Position
	committed atomic.Pointer[oplog.Position]

	started  atomic.Bool
	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewWorker creates a new publisher worker
func NewWorker(config WorkerConfig) (*Worker, error) {
	if config.Name == "" {
		return nil, fmt.Errorf("worker name is required")
	}
	if config.Events == nil {
		return nil, fmt.Errorf("event source is required")
	}
	if config.Sink == nil {
		return nil, fmt.Errorf("sink is required")
	}
	if config.Transformer == nil {
		return nil, fmt.Errorf("transformer is required")
	}
	if config.Filter == nil {
		return nil, fmt.Errorf("filter is required")
	}

	if config.BatchSize <= 0 {
		config.BatchSize = DefaultBatchSize
	}
	if config.FlushInterval <= 0 {
		config.FlushInterval = DefaultFlushInterval
	}
	if config.RetryInitial <= 0 {
		config.RetryInitial = DefaultRetryInitial
	}
	if config.RetryMax <= 0 {
		config.RetryMax = DefaultRetryMax
	}
	if config.RetryMultiplier <= 0 {
		config.RetryMultiplier = DefaultRetryMultiplier
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = DefaultMaxRetries
	}

	return &Worker{
		config: config,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}, nil
}

// Run delivers events until ctx is done or Stop is called. A stopped
// worker drains the queue, delivers what it holds and commits. Canceled
// workers return without committing.
func (w *Worker) Run(ctx context.Context) error {
	if !w.started.CompareAndSwap(false, true) {
		return fmt.Errorf("worker %s already started", w.config.Name)
	}
	defer close(w.doneCh)

	log.Info().
		Str("worker", w.config.Name).
		Int("batch_size", w.config.BatchSize).
		Dur("flush_interval", w.config.FlushInterval).
		Msg("Starting publisher worker")

	ticker := time.NewTicker(w.config.FlushInterval)
	defer ticker.Stop()

	batch := make([]river.ChangeEvent, 0, w.config.BatchSize)
	for {
		select {
		case <-ctx.Done():
			return nil

		case <-w.stopCh:
		drain:
			for {
				select {
				case ev := <-w.config.Events:
					batch = append(batch, ev)
					if len(batch) < w.config.BatchSize {
						continue
					}
					if err := w.flush(ctx, batch); err != nil {
						return err
					}
					batch = batch[:0]
				default:
					break drain
				}
			}
			if err := w.flush(ctx, batch); err != nil {
				return err
			}
			w.commitHandled(ctx)
			log.Info().Str("worker", w.config.Name).Str("committed", w.Committed().String()).Msg("Publisher worker stopped")
			return nil

		case ev := <-w.config.Events:
			batch = append(batch, ev)
			if len(batch) < w.config.BatchSize {
				continue
			}
			if err := w.flush(ctx, batch); err != nil {
				return err
			}
			batch = batch[:0]

		case <-ticker.C:
			if len(batch) == 0 {
				continue
			}
			if err := w.flush(ctx, batch); err != nil {
				return err
			}
			batch = batch[:0]
		}
	}
}

// Stop asks Run to drain, deliver and return, and waits for it
func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		log.Info().Str("worker", w.config.Name).Msg("Stopping publisher worker")
		close(w.stopCh)
	})
	if w.started.Load() {
		<-w.doneCh
	}
}

// Committed returns the last committed position
func (w *Worker) Committed() oplog.Position {
	if pos := w.committed.Load(); pos != nil {
		return *pos
	}
	return oplog.Position{}
}

// flush delivers a batch and commits the newest complete position
func (w *Worker) flush(ctx context.Context, batch []river.ChangeEvent) error {
	if len(batch) == 0 {
		return nil
	}

	msgs, err := w.messages(batch)
	if err != nil {
		return err
	}

	if len(msgs) > 0 {
		start := time.Now()
		if err := w.publishWithRetry(ctx, msgs); err != nil {
			telemetry.SinkMessagesTotal.With(w.config.Name, "failed").Add(float64(len(msgs)))
			return err
		}
		telemetry.SinkPublishSeconds.With(w.config.Name).Observe(time.Since(start).Seconds())
		telemetry.SinkMessagesTotal.With(w.config.Name, "published").Add(float64(len(msgs)))
	}

	// Every event before the last position change is complete
	complete := oplog.Position{}
	prev := w.tail
	for _, ev := range batch {
		if !prev.IsZero() && prev.Before(ev.Position) {
			complete = prev
		}
		prev = ev.Position
	}
	w.tail = prev

	w.commit(ctx, complete)
	return nil
}

// messages transforms a batch. Filtered events produce no messages.
func (w *Worker) messages(batch []river.ChangeEvent) ([]Message, error) {
	msgs := make([]Message, 0, len(batch))
	for _, ev := range batch {
		if !w.config.Filter.Match(ev.Collection) {
			telemetry.SinkMessagesTotal.With(w.config.Name, "filtered").Inc()
			continue
		}

		drop := ev.Operation == oplog.OpDropCollection || ev.Operation == oplog.OpDropDatabase
		if drop && !w.config.DropCollection {
			log.Debug().Str("worker", w.config.Name).Str("collection", ev.Collection).Msg("Ignoring drop operation")
			telemetry.SinkMessagesTotal.With(w.config.Name, "filtered").Inc()
			continue
		}

		data, err := w.config.Transformer.Transform(ev)
		if err != nil {
			return nil, fmt.Errorf("failed to transform event at %s: %w", ev.Position, err)
		}

		msg := Message{
			Topic:      w.buildTopic(ev.Collection),
			Value:      data,
			Operation:  ev.Operation,
			Collection: ev.Collection,
			Position:   ev.Position,
		}
		if !drop {
			msg.Key = KeyOf(ev)
		}
		msgs = append(msgs, msg)

		// For delete operations, also send tombstone
		if ev.Operation == oplog.OpDelete && msg.Key != "" {
			tomb := msg
			tomb.Value = w.config.Transformer.Tombstone(msg.Key)
			tomb.Tombstone = true
			msgs = append(msgs, tomb)
		}
	}
	return msgs, nil
}

// buildTopic builds the topic name for a collection
func (w *Worker) buildTopic(collection string) string {
	if w.config.Index != "" {
		return w.config.Index
	}
	if w.config.TopicPrefix == "" {
		return collection
	}
	return fmt.Sprintf("%s.%s", w.config.TopicPrefix, collection)
}

// publishWithRetry publishes a batch with exponential backoff retry
// Returns error if max retries exhausted or ctx is done
func (w *Worker) publishWithRetry(ctx context.Context, msgs []Message) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = w.config.RetryInitial
	policy.MaxInterval = w.config.RetryMax
	policy.Multiplier = w.config.RetryMultiplier
	policy.MaxElapsedTime = 0

	attempts := 0
	operation := func() error {
		err := w.config.Sink.Publish(ctx, msgs)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		attempts++
		return err
	}
	notify := func(err error, delay time.Duration) {
		telemetry.SinkRetriesTotal.Inc()
		log.Warn().
			Err(err).
			Str("worker", w.config.Name).
			Int("messages", len(msgs)).
			Int("attempt", attempts).
			Dur("retry_delay", delay).
			Msg("Failed to publish batch, retrying")
	}

	retry := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(w.config.MaxRetries)), ctx)
	if err := backoff.RetryNotify(operation, retry, notify); err != nil {
		return fmt.Errorf("failed to publish %d messages after %d attempts: %w", len(msgs), attempts, err)
	}
	return nil
}

// commitHandled commits the tailer position after the queue is drained
func (w *Worker) commitHandled(ctx context.Context) {
	pos := w.tail
	if w.config.Handled != nil {
		if handled := w.config.Handled(); !handled.IsZero() && !handled.Before(pos) {
			pos = handled
		}
	}
	w.commit(ctx, pos)
}

func (w *Worker) commit(ctx context.Context, pos oplog.Position) {
	if pos.IsZero() {
		return
	}
	if cur := w.Committed(); !cur.IsZero() && !cur.Before(pos) {
		return
	}
	if w.config.Committer != nil {
		// A failed commit means events may be redelivered on restart
		if err := w.config.Committer.CommitPosition(context.WithoutCancel(ctx), pos); err != nil {
			log.Warn().
				Err(err).
				Str("worker", w.config.Name).
				Str("position", pos.String()).
				Msg("Failed to commit position - events may be redelivered")
			return
		}
	}
	w.committed.Store(&pos)
	if pos.Kind() == oplog.PositionTimestamp {
		telemetry.CommittedPositionSeconds.Set(float64(pos.Timestamp().T))
	}
}
