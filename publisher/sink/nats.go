package sink

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/mashable/elasticsearch-river-mongodb/cfg"
	"github.com/mashable/elasticsearch-river-mongodb/publisher"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/puzpuzpuz/xsync/v3"
)

const (
	natsPublishTimeout = 5 * time.Second
	natsStreamMaxAge   = 24 * time.Hour
)

func init() {
	publisher.RegisterSink("nats", func(c cfg.SinkConfiguration) (publisher.Sink, error) {
		return NewNatsSink(c.NatsURL)
	})
}

// NatsSink publishes to JetStream, one stream per subject created on first use
type NatsSink struct {
	nc      *nats.Conn
	js      jetstream.JetStream
	streams *xsync.MapOf[string, struct{}]
}

func NewNatsSink(url string) (*NatsSink, error) {
	if url == "" {
		return nil, errors.New("nats sink requires nats_url")
	}

	nc, err := nats.Connect(url,
		nats.Name("mongo-river"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats %s: %w", url, err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream: %w", err)
	}

	return &NatsSink{nc: nc, js: js, streams: xsync.NewMapOf[string, struct{}]()}, nil
}

// Publish sends messages to JetStream in order. Each message carries a
// deduplication id so a retried batch is not stored twice.
func (n *NatsSink) Publish(ctx context.Context, msgs []publisher.Message) error {
	for _, m := range msgs {
		if err := n.ensureStream(ctx, m.Topic); err != nil {
			return err
		}

		pubCtx, cancel := context.WithTimeout(ctx, natsPublishTimeout)
		_, err := n.js.PublishMsg(pubCtx, natsMessage(m), jetstream.WithMsgID(messageID(m)))
		cancel()
		if err != nil {
			return fmt.Errorf("failed to publish to %s: %w", m.Topic, err)
		}
	}
	return nil
}

func (n *NatsSink) ensureStream(ctx context.Context, subject string) error {
	if _, ok := n.streams.Load(subject); ok {
		return nil
	}

	name := sanitizeStreamName(subject)
	if _, err := n.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      name,
		Subjects:  []string{subject},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    natsStreamMaxAge,
	}); err != nil {
		return fmt.Errorf("ensure stream %s: %w", name, err)
	}
	n.streams.Store(subject, struct{}{})
	return nil
}

func natsMessage(m publisher.Message) *nats.Msg {
	out := nats.NewMsg(m.Topic)
	out.Header.Set("key", m.Key)
	out.Header.Set("operation", m.Operation.String())
	out.Header.Set("position", m.Position.String())
	if m.Tombstone {
		out.Header.Set("tombstone", "true")
		return out
	}
	out.Data = m.Value
	return out
}

// messageID identifies a message across redeliveries
func messageID(m publisher.Message) string {
	d := xxhash.New()
	for _, part := range []string{m.Topic, m.Key, m.Position.String(), m.Operation.String()} {
		_, _ = d.WriteString(part)
		_, _ = d.Write([]byte{0})
	}
	if m.Tombstone {
		_, _ = d.WriteString("t")
	}
	return strconv.FormatUint(d.Sum64(), 16)
}

func (n *NatsSink) Close() error {
	if n.nc != nil {
		n.nc.Close()
	}
	return nil
}

// sanitizeStreamName maps a subject to a stream name, which may not contain dots
func sanitizeStreamName(subject string) string {
	return strings.ReplaceAll(subject, ".", "_")
}
