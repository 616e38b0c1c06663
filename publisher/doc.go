// Package publisher delivers river change events to a downstream sink.
//
// A Worker drains the river queue in batches, turns every event into sink
// messages with a Transformer and publishes them with exponential retry.
// After a batch is delivered the worker commits the newest position whose
// events have all been delivered, so a restarted river resumes without
// losing events (at-least-once delivery).
//
// Sinks and transformers register themselves by name:
//
//	publisher.RegisterSink("kafka", newKafka)
//	publisher.RegisterTransformer("debezium", newDebezium)
//
// and NewWorkerFromConfig builds a worker from a cfg.SinkConfiguration.
//
// # Filters
//
// GlobFilter restricts delivery to collections matching glob patterns:
//
//	filter, err := NewGlobFilter([]string{"users", "orders*"})
//	if filter.Match("orders_2024") {
//		// publish
//	}
package publisher
