package sink

import "github.com/mashable/elasticsearch-river-mongodb/publisher"

// Compile-time interface verification
var (
	_ publisher.Sink = (*ElasticsearchSink)(nil)
	_ publisher.Sink = (*KafkaSink)(nil)
	_ publisher.Sink = (*NatsSink)(nil)
	_ publisher.Sink = (*MockSink)(nil)
)
