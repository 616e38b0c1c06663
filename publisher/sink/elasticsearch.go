package sink

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/typedapi/core/bulk"
	"github.com/elastic/go-elasticsearch/v8/typedapi/types"
	"github.com/mashable/elasticsearch-river-mongodb/cfg"
	"github.com/mashable/elasticsearch-river-mongodb/oplog"
	"github.com/mashable/elasticsearch-river-mongodb/publisher"
	"github.com/rs/zerolog/log"
	"go.uber.org/multierr"
)

func init() {
	publisher.RegisterSink("elasticsearch", func(config cfg.SinkConfiguration) (publisher.Sink, error) {
		return NewElasticsearchSink(ElasticsearchConfig{
			Addresses: config.URLs,
			Username:  config.Username,
			Password:  config.Password,
		})
	})
}

// ElasticsearchConfig holds configuration for ElasticsearchSink
type ElasticsearchConfig struct {
	Addresses []string
	Username  string
	Password  string
	Transport http.RoundTripper // Optional, mostly for tests
}

// ElasticsearchSink indexes change events with the bulk API. Topics are
// used as index names, message keys as document ids.
type ElasticsearchSink struct {
	client *elasticsearch.TypedClient
}

// NewElasticsearchSink creates a new ElasticsearchSink
func NewElasticsearchSink(config ElasticsearchConfig) (*ElasticsearchSink, error) {
	if len(config.Addresses) == 0 {
		return nil, fmt.Errorf("elasticsearch sink requires at least one address")
	}

	client, err := elasticsearch.NewTypedClient(elasticsearch.Config{
		Addresses: config.Addresses,
		Username:  config.Username,
		Password:  config.Password,
		Transport: config.Transport,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create elasticsearch client: %w", err)
	}

	return &ElasticsearchSink{client: client}, nil
}

// Publish sends messages as bulk requests. Drop operations flush what is
// pending and delete the index.
func (e *ElasticsearchSink) Publish(ctx context.Context, msgs []publisher.Message) error {
	var pending *bulk.Bulk
	ops := 0

	flush := func() error {
		if ops == 0 {
			return nil
		}
		err := e.sendBulk(ctx, pending, ops)
		pending, ops = nil, 0
		return err
	}

	for _, msg := range msgs {
		if msg.Tombstone || msg.Topic == "" {
			continue
		}
		index := strings.ToLower(msg.Topic)

		switch msg.Operation {
		case oplog.OpDropCollection, oplog.OpDropDatabase:
			if err := flush(); err != nil {
				return err
			}
			if err := e.deleteIndex(ctx, index); err != nil {
				return err
			}
			continue

		case oplog.OpDelete:
			if msg.Key == "" {
				continue
			}
			if pending == nil {
				pending = e.client.Bulk()
			}
			if err := pending.DeleteOp(types.DeleteOperation{Index_: &index, Id_: optionalStr(msg.Key)}); err != nil {
				return fmt.Errorf("failed to add delete of %s to bulk: %w", msg.Key, err)
			}

		default:
			if msg.Value == nil {
				continue
			}
			if pending == nil {
				pending = e.client.Bulk()
			}
			if err := pending.IndexOp(types.IndexOperation{Index_: &index, Id_: optionalStr(msg.Key)}, msg.Value); err != nil {
				return fmt.Errorf("failed to add document %s to bulk: %w", msg.Key, err)
			}
		}
		ops++
	}

	return flush()
}

func (e *ElasticsearchSink) sendBulk(ctx context.Context, req *bulk.Bulk, ops int) error {
	result, err := req.Do(ctx)
	if err != nil {
		return fmt.Errorf("failed to send bulk request: %w", err)
	}
	if !result.Errors {
		log.Debug().Int("operations", ops).Int64("took_ms", result.Took).Msg("Bulk request indexed")
		return nil
	}

	var errs error
	for _, item := range result.Items {
		for action, resp := range item {
			if resp.Error == nil {
				continue
			}
			reason := "unknown error"
			if resp.Error.Reason != nil {
				reason = *resp.Error.Reason
			}
			id := ""
			if resp.Id_ != nil {
				id = *resp.Id_
			}
			errs = multierr.Append(errs, fmt.Errorf("%s %s/%s: %s", action, resp.Index_, id, reason))
		}
	}
	if errs == nil {
		return nil
	}
	return fmt.Errorf("bulk request failed: %w", errs)
}

func (e *ElasticsearchSink) deleteIndex(ctx context.Context, index string) error {
	_, err := e.client.Indices.Delete(index).IgnoreUnavailable(true).Do(ctx)
	if err != nil {
		var esErr *types.ElasticsearchError
		if errors.As(err, &esErr) && esErr.Status == http.StatusNotFound {
			return nil
		}
		return fmt.Errorf("failed to delete index %s: %w", index, err)
	}
	log.Info().Str("index", index).Msg("Deleted index of dropped collection")
	return nil
}

// Close releases resources held by the ElasticsearchSink
func (e *ElasticsearchSink) Close() error {
	return nil
}

func optionalStr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
