package sink

import (
	"context"
	"errors"

	"github.com/mashable/elasticsearch-river-mongodb/cfg"
	"github.com/mashable/elasticsearch-river-mongodb/publisher"
	"github.com/segmentio/kafka-go"
)

const (
	kafkaBatchSize  = 100
	kafkaBatchBytes = 1 << 20
)

var errNoBrokers = errors.New("kafka sink requires at least one broker address")

func init() {
	publisher.RegisterSink("kafka", func(c cfg.SinkConfiguration) (publisher.Sink, error) {
		return NewKafkaSink(c.Brokers, WithKafkaBatchSize(c.BatchSize))
	})
}

// KafkaOption tunes the underlying kafka.Writer
type KafkaOption func(*kafka.Writer)

// WithKafkaBatchSize caps the number of messages per produce request. Zero
// keeps the default.
func WithKafkaBatchSize(n int) KafkaOption {
	return func(w *kafka.Writer) {
		if n > 0 {
			w.BatchSize = n
		}
	}
}

func WithKafkaBatchBytes(n int64) KafkaOption {
	return func(w *kafka.Writer) {
		if n > 0 {
			w.BatchBytes = n
		}
	}
}

func WithKafkaAcks(acks kafka.RequiredAcks) KafkaOption {
	return func(w *kafka.Writer) { w.RequiredAcks = acks }
}

// KafkaSink writes change messages synchronously, keyed by document id so
// every change of a document lands on one partition
type KafkaSink struct {
	writer *kafka.Writer
}

func NewKafkaSink(brokers []string, opts ...KafkaOption) (*KafkaSink, error) {
	if len(brokers) == 0 {
		return nil, errNoBrokers
	}

	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		BatchSize:              kafkaBatchSize,
		BatchBytes:             kafkaBatchBytes,
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}
	for _, opt := range opts {
		opt(w)
	}
	return &KafkaSink{writer: w}, nil
}

func (k *KafkaSink) Publish(ctx context.Context, msgs []publisher.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	return k.writer.WriteMessages(ctx, kafkaMessages(msgs)...)
}

// kafkaMessages maps messages to records. Tombstones carry a nil value for
// log compaction.
func kafkaMessages(msgs []publisher.Message) []kafka.Message {
	out := make([]kafka.Message, 0, len(msgs))
	for _, m := range msgs {
		rec := kafka.Message{
			Topic: m.Topic,
			Headers: []kafka.Header{
				{Key: "operation", Value: []byte(m.Operation.String())},
				{Key: "position", Value: []byte(m.Position.String())},
			},
		}
		if m.Key != "" {
			rec.Key = []byte(m.Key)
		}
		if !m.Tombstone {
			rec.Value = m.Value
		}
		out = append(out, rec)
	}
	return out
}

func (k *KafkaSink) Close() error {
	if k.writer == nil {
		return nil
	}
	return k.writer.Close()
}
