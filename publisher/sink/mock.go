package sink

import (
	"context"
	"sync"

	"github.com/mashable/elasticsearch-river-mongodb/publisher"
)

// MockSink is a mock implementation of Sink for testing
type MockSink struct {
	Messages   []publisher.Message
	Batches    int
	PublishErr error
	Closed     bool
	mu         sync.Mutex
}

// Publish records messages for later inspection in tests
func (m *MockSink) Publish(ctx context.Context, msgs []publisher.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.PublishErr != nil {
		return m.PublishErr
	}

	m.Messages = append(m.Messages, msgs...)
	m.Batches++
	return nil
}

// Close marks the mock closed
func (m *MockSink) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Closed = true
	return nil
}

// Reset clears all recorded messages
func (m *MockSink) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Messages = nil
	m.Batches = 0
}
