package river

import "context"

// Queue is a bounded EventSink. Put blocks while the queue is full, which
// throttles tailing to the consumer's pace.
type Queue struct {
	ch chan ChangeEvent
}

// NewQueue creates a queue holding up to size events
func NewQueue(size int) *Queue {
	if size < 1 {
		size = 1
	}
	return &Queue{ch: make(chan ChangeEvent, size)}
}

// Put enqueues an event, returning ctx.Err() if canceled while blocked
func (q *Queue) Put(ctx context.Context, event ChangeEvent) error {
	select {
	case q.ch <- event:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Events is the consumer side of the queue
func (q *Queue) Events() <-chan ChangeEvent {
	return q.ch
}

// Len returns the number of waiting events
func (q *Queue) Len() int {
	return len(q.ch)
}

// Cap returns the queue capacity
func (q *Queue) Cap() int {
	return cap(q.ch)
}
