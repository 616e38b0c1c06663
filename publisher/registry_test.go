package publisher

import (
	"testing"

	"github.com/mashable/elasticsearch-river-mongodb/cfg"
	"github.com/mashable/elasticsearch-river-mongodb/river"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type queueSource struct {
	ch chan river.ChangeEvent
}

func (q queueSource) Events() <-chan river.ChangeEvent { return q.ch }

type closeTrackingSink struct {
	mockSink
	closed bool
}

func (c *closeTrackingSink) Close() error {
	c.closed = true
	return nil
}

func registerTestStack(t *testing.T, sinkType string) *closeTrackingSink {
	t.Helper()
	snk := &closeTrackingSink{}
	RegisterSink(sinkType, func(cfg.SinkConfiguration) (Sink, error) { return snk, nil })
	RegisterTransformer("registry-test", func(TransformerConfig) Transformer { return &mockTransformer{} })
	return snk
}

func TestNewWorkerFromConfig(t *testing.T) {
	snk := registerTestStack(t, "registry-test-ok")
	source := queueSource{ch: make(chan river.ChangeEvent)}

	w, err := NewWorkerFromConfig(cfg.SinkConfiguration{
		Name:              "search",
		Type:              "registry-test-ok",
		Format:            "registry-test",
		TopicPrefix:       "river",
		FilterCollections: []string{"users"},
		BatchSize:         5,
		FlushIntervalMS:   250,
		MaxRetries:        3,
	}, TransformerConfig{River: "r1", Database: "app"}, source, &mockCommitter{}, nil)
	require.NoError(t, err)

	assert.Equal(t, "search", w.config.Name)
	assert.Equal(t, 5, w.config.BatchSize)
	assert.Equal(t, int64(250), w.config.FlushInterval.Milliseconds())
	assert.Equal(t, 3, w.config.MaxRetries)
	assert.Equal(t, DefaultRetryMax, w.config.RetryMax)
	assert.True(t, w.config.Filter.Match("users"))
	assert.False(t, w.config.Filter.Match("orders"))
	assert.Equal(t, "river.users", w.buildTopic("users"))

	require.NoError(t, w.Close())
	assert.True(t, snk.closed)
}

func TestNewWorkerFromConfig_UnknownSink(t *testing.T) {
	_, err := NewWorkerFromConfig(cfg.SinkConfiguration{
		Name:   "search",
		Type:   "does-not-exist",
		Format: "registry-test",
	}, TransformerConfig{}, queueSource{ch: make(chan river.ChangeEvent)}, nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown sink type")
}

func TestNewWorkerFromConfig_UnknownFormatOpensNoSink(t *testing.T) {
	snk := registerTestStack(t, "registry-test-format")

	_, err := NewWorkerFromConfig(cfg.SinkConfiguration{
		Name:   "search",
		Type:   "registry-test-format",
		Format: "does-not-exist",
	}, TransformerConfig{}, queueSource{ch: make(chan river.ChangeEvent)}, nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown format")
	assert.False(t, snk.closed, "sink is never built")
}

func TestNewWorkerFromConfig_InvalidFilterClosesSink(t *testing.T) {
	snk := registerTestStack(t, "registry-test-filter")

	_, err := NewWorkerFromConfig(cfg.SinkConfiguration{
		Name:              "search",
		Type:              "registry-test-filter",
		Format:            "registry-test",
		FilterCollections: []string{"user["},
	}, TransformerConfig{}, queueSource{ch: make(chan river.ChangeEvent)}, nil, nil)
	require.Error(t, err)
	assert.True(t, snk.closed)
}
