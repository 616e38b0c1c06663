package river

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/mashable/elasticsearch-river-mongodb/oplog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type tailerFixture struct {
	log    *fakeChangeLog
	sink   EventSink
	events *fakeSink
	store  *fakeStatusStore
	tailer *Tailer
}

func newTailerFixture(t *testing.T, resume, initial oplog.Position, sink EventSink) *tailerFixture {
	t.Helper()
	f := &tailerFixture{
		log:    &fakeChangeLog{},
		events: &fakeSink{},
		store:  &fakeStatusStore{},
	}
	f.sink = sink
	if f.sink == nil {
		f.sink = f.events
	}

	mat, err := NewMaterializer(MaterializerConfig{
		River:    singleCollection(),
		Source:   newFakeSource(),
		Overflow: &fakeOverflow{},
		Sink:     f.sink,
	})
	require.NoError(t, err)

	f.tailer, err = NewTailer(TailerConfig{
		Name:         "test",
		ChangeLog:    f.log,
		Materializer: mat,
		StatusStore:  f.store,
		Resume:       resume,
		Initial:      initial,
		IdleDelay:    time.Millisecond,
		RetryPolicy:  &backoff.ZeroBackOff{},
	})
	require.NoError(t, err)
	return f
}

func (f *tailerFixture) run() <-chan error {
	done := make(chan error, 1)
	go func() { done <- f.tailer.Run(context.Background()) }()
	return done
}

func waitDone(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("tailer did not stop")
		return nil
	}
}

func insert(at uint32, id int) *oplog.Entry {
	return entry(at, "i", "db.coll", doc("_id", id))
}

func eventIDs(events []ChangeEvent) []int64 {
	ids := make([]int64, 0, len(events))
	for _, ev := range events {
		id, _ := ev.Document().ID()
		n, _ := id.Scalar().(int64)
		ids = append(ids, n)
	}
	return ids
}

func TestNewTailerValidation(t *testing.T) {
	_, err := NewTailer(TailerConfig{})
	assert.Error(t, err)

	_, err = NewTailer(TailerConfig{Name: "x", ChangeLog: &fakeChangeLog{}})
	assert.Error(t, err)
}

func TestTailerStartsAtTailWithoutPosition(t *testing.T) {
	f := newTailerFixture(t, oplog.Position{}, oplog.Position{}, nil)
	f.log.append(insert(1, 1), insert(2, 2))

	done := f.run()
	require.Eventually(t, func() bool { return f.tailer.Position() == ts(2) }, time.Second, time.Millisecond)

	f.log.append(insert(3, 3))
	require.Eventually(t, func() bool { return len(f.events.snapshot()) == 1 }, time.Second, time.Millisecond)

	f.tailer.Stop()
	require.NoError(t, waitDone(t, done))

	assert.Equal(t, []int64{3}, eventIDs(f.events.snapshot()))
	assert.Equal(t, StatusStopped, f.tailer.Status())
	assert.Equal(t, ts(3), f.tailer.Position())
}

func TestTailerResumesAfterCommittedPosition(t *testing.T) {
	f := newTailerFixture(t, ts(5), oplog.Position{}, nil)
	f.log.append(insert(4, 4), insert(5, 5), insert(6, 6), insert(7, 7))

	done := f.run()
	require.Eventually(t, func() bool { return f.tailer.Position() == ts(7) }, time.Second, time.Millisecond)
	f.tailer.Stop()
	require.NoError(t, waitDone(t, done))

	assert.Equal(t, []int64{6, 7}, eventIDs(f.events.snapshot()))
}

func TestTailerStaleResume(t *testing.T) {
	f := newTailerFixture(t, ts(5), oplog.Position{}, nil)
	f.log.append(insert(7, 7), insert(8, 8))

	err := waitDone(t, f.run())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrStale))
	assert.Equal(t, StatusStale, f.tailer.Status())
	assert.Empty(t, f.events.snapshot())
	assert.Equal(t, ts(5), f.tailer.Position())

	status, _ := f.store.Status(context.Background())
	assert.Equal(t, StatusStale, status)
}

func TestTailerStaleWhenLogIsEmptyAfterResume(t *testing.T) {
	f := newTailerFixture(t, ts(5), oplog.Position{}, nil)

	err := waitDone(t, f.run())
	assert.True(t, errors.Is(err, ErrStale))
}

func TestTailerProcessesInitialPositionRecord(t *testing.T) {
	f := newTailerFixture(t, oplog.Position{}, ts(2), nil)
	f.log.append(insert(1, 1), insert(2, 2), insert(3, 3))

	done := f.run()
	require.Eventually(t, func() bool { return len(f.events.snapshot()) == 2 }, time.Second, time.Millisecond)
	f.tailer.Stop()
	require.NoError(t, waitDone(t, done))

	assert.Equal(t, []int64{2, 3}, eventIDs(f.events.snapshot()))
}

func TestTailerInitialPositionWithoutRecordIsNotStale(t *testing.T) {
	f := newTailerFixture(t, oplog.Position{}, ts(2), nil)
	f.log.append(insert(4, 4))

	done := f.run()
	require.Eventually(t, func() bool { return len(f.events.snapshot()) == 1 }, time.Second, time.Millisecond)
	f.tailer.Stop()
	require.NoError(t, waitDone(t, done))
	assert.Equal(t, StatusStopped, f.tailer.Status())
}

func TestTailerRetriesTransientFailures(t *testing.T) {
	f := newTailerFixture(t, oplog.Position{}, ts(1), nil)
	f.log.openErrs = []error{Transient(errors.New("connection reset")), Transient(errors.New("not primary"))}
	f.log.append(insert(1, 1))

	done := f.run()
	require.Eventually(t, func() bool { return len(f.events.snapshot()) == 1 }, time.Second, time.Millisecond)
	f.tailer.Stop()
	require.NoError(t, waitDone(t, done))
}

func TestTailerRetriesExhausted(t *testing.T) {
	f := newTailerFixture(t, oplog.Position{}, ts(1), nil)
	f.tailer.retry = &backoff.StopBackOff{}
	f.log.openErrs = []error{Transient(errors.New("connection reset"))}

	err := waitDone(t, f.run())
	require.Error(t, err)
	assert.Equal(t, StatusFatal, f.tailer.Status())
}

func TestTailerFatalFailure(t *testing.T) {
	f := newTailerFixture(t, oplog.Position{}, ts(1), nil)
	boom := errors.New("unauthorized")
	f.log.openErrs = []error{boom}

	err := waitDone(t, f.run())
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, StatusFatal, f.tailer.Status())

	status, _ := f.store.Status(context.Background())
	assert.Equal(t, StatusFatal, status)
}

func TestTailerFatalRecordStopsLoop(t *testing.T) {
	f := newTailerFixture(t, oplog.Position{}, ts(1), nil)
	f.log.append(insert(1, 1), entry(2, "d", "db.coll", doc("a", 1)), insert(3, 3))

	err := waitDone(t, f.run())
	require.Error(t, err)
	assert.Equal(t, KindFatal, KindOf(err))
	assert.Equal(t, []int64{1}, eventIDs(f.events.snapshot()))
	assert.Equal(t, ts(1), f.tailer.Position())
}

func TestTailerWaitsForUnappliedRecord(t *testing.T) {
	f := newTailerFixture(t, oplog.Position{}, ts(1), nil)
	pending := insert(2, 2)
	applied := false
	pending.Applied = &applied
	f.log.append(insert(1, 1), pending, insert(3, 3))

	done := f.run()
	require.Eventually(t, func() bool { return f.tailer.Position() == ts(1) && len(f.events.snapshot()) == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, f.events.snapshot(), 1)

	f.log.setApplied(ts(2))
	require.Eventually(t, func() bool { return len(f.events.snapshot()) == 3 }, time.Second, time.Millisecond)
	f.tailer.Stop()
	require.NoError(t, waitDone(t, done))

	assert.Equal(t, []int64{1, 2, 3}, eventIDs(f.events.snapshot()))
}

func TestTailerWaitsForUnappliedFirstRecord(t *testing.T) {
	f := newTailerFixture(t, oplog.Position{}, ts(1), nil)
	pending := insert(2, 2)
	applied := false
	pending.Applied = &applied
	f.log.append(pending)

	done := f.run()
	require.Eventually(t, func() bool {
		opens, _ := f.log.counts()
		return opens >= 3
	}, time.Second, time.Millisecond)
	assert.Empty(t, f.events.snapshot())
	assert.Equal(t, ts(1), f.tailer.Position())

	f.log.setApplied(ts(2))
	require.Eventually(t, func() bool { return len(f.events.snapshot()) == 1 }, time.Second, time.Millisecond)
	f.tailer.Stop()
	require.NoError(t, waitDone(t, done))

	assert.Equal(t, []int64{2}, eventIDs(f.events.snapshot()))
	assert.Equal(t, ts(2), f.tailer.Position())
}

func TestTailerRejectedRecordsAdvancePosition(t *testing.T) {
	f := newTailerFixture(t, oplog.Position{}, ts(1), nil)
	f.log.append(insert(1, 1), entry(2, "i", "db.other", doc("_id", 2)), entry(3, "n", "", nil))

	done := f.run()
	require.Eventually(t, func() bool { return f.tailer.Position() == ts(3) }, time.Second, time.Millisecond)
	f.tailer.Stop()
	require.NoError(t, waitDone(t, done))

	assert.Equal(t, []int64{1}, eventIDs(f.events.snapshot()))
}

func TestTailerStopWhileQueueIsFull(t *testing.T) {
	queue := NewQueue(1)
	f := newTailerFixture(t, oplog.Position{}, ts(1), queue)
	f.log.append(insert(1, 1), insert(2, 2), insert(3, 3))

	done := f.run()
	require.Eventually(t, func() bool { return queue.Len() == 1 && f.tailer.Position() == ts(1) }, time.Second, time.Millisecond)

	f.tailer.Stop()
	require.NoError(t, waitDone(t, done))
	assert.Equal(t, StatusStopped, f.tailer.Status())
	assert.Equal(t, ts(1), f.tailer.Position())

	opens, closes := f.log.counts()
	assert.Equal(t, opens, closes)
}

func TestTailerClosesEveryCursor(t *testing.T) {
	f := newTailerFixture(t, oplog.Position{}, ts(1), nil)
	f.log.append(insert(1, 1))

	done := f.run()
	require.Eventually(t, func() bool {
		opens, _ := f.log.counts()
		return opens >= 3
	}, time.Second, time.Millisecond)
	f.tailer.Stop()
	require.NoError(t, waitDone(t, done))

	opens, closes := f.log.counts()
	assert.Equal(t, opens, closes)
	assert.Len(t, f.events.snapshot(), 1)
}

func TestTailerCannotRunTwice(t *testing.T) {
	f := newTailerFixture(t, oplog.Position{}, ts(1), nil)
	f.tailer.Stop()

	err := f.tailer.Run(context.Background())
	assert.Error(t, err)
}

func TestTailerContextCancel(t *testing.T) {
	f := newTailerFixture(t, oplog.Position{}, ts(1), nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.tailer.Run(ctx) }()

	require.Eventually(t, func() bool { return f.tailer.Status() == StatusRunning }, time.Second, time.Millisecond)
	cancel()
	require.NoError(t, waitDone(t, done))
	assert.Equal(t, StatusStopped, f.tailer.Status())

	status, _ := f.store.Status(context.Background())
	assert.Equal(t, StatusStopped, status)
}

func TestTailerStopPersistsStatus(t *testing.T) {
	f := newTailerFixture(t, oplog.Position{}, ts(1), nil)
	f.log.append(insert(1, 1))

	done := f.run()
	require.Eventually(t, func() bool { return f.tailer.Position() == ts(1) }, time.Second, time.Millisecond)
	f.tailer.Stop()
	require.NoError(t, waitDone(t, done))

	status, _ := f.store.Status(context.Background())
	assert.Equal(t, StatusStopped, status)
}

func TestPositionTime(t *testing.T) {
	f := newTailerFixture(t, ts(1700000000), oplog.Position{}, nil)
	at, ok := f.tailer.PositionTime()
	require.True(t, ok)
	assert.Equal(t, int64(1700000000), at.Unix())

	g := newTailerFixture(t, oplog.FromGTID([]byte{1, 2}), oplog.Position{}, nil)
	_, ok = g.tailer.PositionTime()
	assert.False(t, ok)
}
