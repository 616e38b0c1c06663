package river

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/mashable/elasticsearch-river-mongodb/oplog"
	"github.com/mashable/elasticsearch-river-mongodb/telemetry"
	"github.com/rs/zerolog/log"
)

// TailerConfig configures the tailing loop
type TailerConfig struct {
	Name         string
	ChangeLog    ChangeLog
	Materializer *Materializer
	Status       *StatusCell
	StatusStore  StatusStore // Optional
	// Resume is the committed position of a previous run. The record at
	// Resume was already handled and must still exist in the log.
	Resume oplog.Position
	// Initial is used when Resume is zero. The record at Initial, if any,
	// is processed and no stale check is made against it.
	Initial    oplog.Position
	IdleDelay  time.Duration
	RetryDelay time.Duration
	// RetryPolicy overrides the constant RetryDelay policy
	RetryPolicy backoff.BackOff
}

// Tailer owns the change-log cursor. It is the only writer of the river
// position.
type Tailer struct {
	name      string
	changeLog ChangeLog
	mat       *Materializer
	status    *StatusCell
	store     StatusStore
	initial   oplog.Position
	idleDelay time.Duration
	retry     backoff.BackOff

	position atomic.Pointer[oplog.Position]
	// handled is set once the record at position needs no further processing
	handled bool

	cancelMu sync.Mutex
	cancel   context.CancelFunc
}

// NewTailer creates a tailing loop
func NewTailer(config TailerConfig) (*Tailer, error) {
	if config.Name == "" {
		return nil, fmt.Errorf("river name is required")
	}
	if config.ChangeLog == nil {
		return nil, fmt.Errorf("change log is required")
	}
	if config.Materializer == nil {
		return nil, fmt.Errorf("materializer is required")
	}
	if config.Status == nil {
		config.Status = &StatusCell{}
	}
	if config.IdleDelay <= 0 {
		config.IdleDelay = DefaultIdleDelay
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = DefaultRetryDelay
	}
	if config.RetryPolicy == nil {
		config.RetryPolicy = backoff.NewConstantBackOff(config.RetryDelay)
	}

	t := &Tailer{
		name:      config.Name,
		changeLog: config.ChangeLog,
		mat:       config.Materializer,
		status:    config.Status,
		store:     config.StatusStore,
		initial:   config.Initial,
		idleDelay: config.IdleDelay,
		retry:     config.RetryPolicy,
	}

	start := config.Resume
	t.handled = !start.IsZero()
	if start.IsZero() {
		start = config.Initial
	}
	t.position.Store(&start)

	return t, nil
}

// Position returns the last processed position
func (t *Tailer) Position() oplog.Position {
	return *t.position.Load()
}

// Status returns the current river status
func (t *Tailer) Status() Status {
	return t.status.Get()
}

// Stop requests a cooperative stop and interrupts blocking waits
func (t *Tailer) Stop() {
	if t.status.RequestStop() {
		log.Info().Str("river", t.name).Msg("Stop requested")
	}
	t.cancelMu.Lock()
	if t.cancel != nil {
		t.cancel()
	}
	t.cancelMu.Unlock()
}

// Run tails the change log until the river reaches a terminal state.
// It returns nil when stopped, ErrStale when the resume position is gone,
// and the cause for fatal failures.
func (t *Tailer) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	t.cancelMu.Lock()
	t.cancel = cancel
	t.cancelMu.Unlock()

	if !t.status.Transition(StatusRunning) {
		return fmt.Errorf("river %s cannot start from status %s", t.name, t.status.Get())
	}
	t.publishStatus(ctx, StatusRunning)

	log.Info().
		Str("river", t.name).
		Str("position", t.Position().String()).
		Msg("Starting change-log tailing")

	for {
		if t.status.Get() != StatusRunning {
			return t.stopped(ctx)
		}

		err := t.cycle(ctx)
		if err == nil {
			t.retry.Reset()
			continue
		}

		kind := KindOf(err)
		if ctx.Err() != nil {
			kind = KindCanceled
		}

		switch kind {
		case KindCanceled:
			t.status.Transition(StatusStopped)
			return t.stopped(ctx)

		case KindTransient:
			delay := t.retry.NextBackOff()
			if delay == backoff.Stop {
				return t.fail(ctx, fmt.Errorf("retries exhausted: %w", err))
			}
			telemetry.TailRetriesTotal.Inc()
			log.Info().
				Err(err).
				Str("river", t.name).
				Str("position", t.Position().String()).
				Dur("retry_delay", delay).
				Msg("Change-log tailing failed, will retry")
			if !sleep(ctx, delay) {
				t.status.Transition(StatusStopped)
				return t.stopped(ctx)
			}

		case KindStale:
			t.status.Transition(StatusStale)
			t.publishStatus(context.WithoutCancel(ctx), StatusStale)
			log.Error().
				Err(err).
				Str("river", t.name).
				Str("position", t.Position().String()).
				Msg("River is stale, a full resync is required")
			return fmt.Errorf("%w: %v", ErrStale, err)

		default:
			return t.fail(ctx, err)
		}
	}
}

func (t *Tailer) fail(ctx context.Context, err error) error {
	t.status.Transition(StatusFatal)
	t.publishStatus(context.WithoutCancel(ctx), StatusFatal)
	log.Error().
		Err(err).
		Str("river", t.name).
		Str("position", t.Position().String()).
		Msg("Change-log tailing stopped on fatal error")
	return err
}

func (t *Tailer) stopped(ctx context.Context) error {
	t.publishStatus(context.WithoutCancel(ctx), t.status.Get())
	log.Info().
		Str("river", t.name).
		Str("status", t.status.Get().String()).
		Str("position", t.Position().String()).
		Msg("Change-log tailing stopped")
	return nil
}

func (t *Tailer) publishStatus(ctx context.Context, status Status) {
	telemetry.RiverStatus.Set(float64(status))
	if t.store == nil {
		return
	}
	if err := t.store.SetStatus(ctx, status); err != nil {
		log.Warn().Err(err).Str("river", t.name).Str("status", status.String()).Msg("Failed to persist river status")
	}
}

// cycle opens a cursor at the current position, drains it and sleeps the
// idle delay. The cursor is closed on every path.
func (t *Tailer) cycle(ctx context.Context) error {
	cursor, first, err := t.open(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := cursor.Close(context.WithoutCancel(ctx)); cerr != nil {
			log.Debug().Err(cerr).Str("river", t.name).Msg("Failed to close change-log cursor")
		}
	}()

	start := t.Position()

	drain := true
	if first != nil {
		if first.IsApplied() {
			if err := t.handle(ctx, first, start); err != nil {
				return err
			}
		} else {
			t.logUnapplied(first)
			drain = false
		}
	}

	for drain && t.status.Get() == StatusRunning {
		entry, err := cursor.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		if !entry.IsApplied() {
			t.logUnapplied(entry)
			break
		}
		if err := t.handle(ctx, entry, start); err != nil {
			return err
		}
	}

	if t.status.Get() != StatusRunning {
		return nil
	}
	if !sleep(ctx, t.idleDelay) {
		return ctx.Err()
	}
	return nil
}

// logUnapplied reports a record that stops the cycle. Position stays before it
// so the next cycle reopens there.
func (t *Tailer) logUnapplied(entry *oplog.Entry) {
	log.Debug().
		Str("river", t.name).
		Str("position", entry.Position.String()).
		Msg("Record not yet applied, waiting")
}

// open opens the cursor and verifies the resume point. The returned entry,
// when non-nil, was read while verifying and still has to be processed.
func (t *Tailer) open(ctx context.Context) (Cursor, *oplog.Entry, error) {
	pos := t.Position()
	verify := t.handled

	if pos.IsZero() {
		tail, err := t.changeLog.Tail(ctx)
		if err != nil {
			return nil, nil, err
		}
		log.Info().Str("river", t.name).Str("position", tail.String()).Msg("No resume position, starting at the change-log tail")
		if !tail.IsZero() {
			t.advance(tail)
		}
		pos, verify = tail, false
	}

	cursor, err := t.changeLog.Open(ctx, pos)
	if err != nil {
		return nil, nil, err
	}
	telemetry.CursorOpensTotal.Inc()

	if pos.IsZero() {
		return cursor, nil, nil
	}

	first, err := cursor.Next(ctx)
	switch {
	case errors.Is(err, io.EOF):
		if verify {
			cursor.Close(context.WithoutCancel(ctx))
			return nil, nil, Stale(fmt.Errorf("no change-log record at or after %s", pos))
		}
		return cursor, nil, nil
	case err != nil:
		cursor.Close(context.WithoutCancel(ctx))
		return nil, nil, err
	}

	if first.Position == pos && t.handled {
		return cursor, nil, nil
	}
	if verify {
		cursor.Close(context.WithoutCancel(ctx))
		return nil, nil, Stale(fmt.Errorf("expected change-log record at %s, found %s", pos, first.Position))
	}
	return cursor, first, nil
}

func (t *Tailer) handle(ctx context.Context, entry *oplog.Entry, start oplog.Position) error {
	if err := t.mat.Process(ctx, entry, start); err != nil {
		if KindOf(err) != KindSoftSkip {
			return err
		}
		telemetry.SoftSkipsTotal.With("record").Inc()
		log.Debug().
			Err(err).
			Str("river", t.name).
			Str("position", entry.Position.String()).
			Str("namespace", entry.Namespace).
			Msg("Skipping change-log record")
	}
	t.advance(entry.Position)
	return nil
}

func (t *Tailer) advance(pos oplog.Position) {
	if pos.IsZero() {
		return
	}
	if cur := t.Position(); pos.Compare(cur) >= 0 {
		t.position.Store(&pos)
		t.handled = true
	}
}

// PositionTime returns the wall-clock time encoded in a timestamp position
func (t *Tailer) PositionTime() (time.Time, bool) {
	pos := t.Position()
	if pos.Kind() != oplog.PositionTimestamp {
		return time.Time{}, false
	}
	return time.Unix(int64(pos.Timestamp().T), 0), true
}

// sleep waits for d, returning false if ctx is done first
func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
