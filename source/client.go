package source

import (
	"context"
	"fmt"
	"time"

	"github.com/mashable/elasticsearch-river-mongodb/cfg"
	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
)

const (
	localDatabase   = "local"
	oplogCollection = "oplog.rs"
	refsCollection  = "oplog.refs"
)

// ClientOptions builds driver options from the river configuration
func ClientOptions(conf *cfg.MongoConfiguration) *options.ClientOptions {
	opt := options.Client().
		ApplyURI(conf.URL).
		SetAppName("mongo-river")

	if conf.ConnectTimeoutMS > 0 {
		opt.SetConnectTimeout(time.Duration(conf.ConnectTimeoutMS) * time.Millisecond)
	}
	if conf.SocketTimeoutMS > 0 {
		opt.SetTimeout(time.Duration(conf.SocketTimeoutMS) * time.Millisecond)
	}
	if conf.ServerSelectionMS > 0 {
		opt.SetServerSelectionTimeout(time.Duration(conf.ServerSelectionMS) * time.Millisecond)
	}

	if conf.Username != "" && conf.Password != "" {
		creds := options.Credential{
			Username:   conf.Username,
			Password:   conf.Password,
			AuthSource: conf.AuthSource,
		}
		opt.SetAuth(creds)
	}
	return opt
}

// Connect opens a client and checks the primary is reachable
func Connect(ctx context.Context, conf *cfg.MongoConfiguration) (*mongo.Client, error) {
	client, err := mongo.Connect(ClientOptions(conf))
	if err != nil {
		return nil, fmt.Errorf("failed to create mongodb client: %w", err)
	}

	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.WithoutCancel(ctx))
		return nil, fmt.Errorf("failed to reach mongodb: %w", classify(ctx, err))
	}

	log.Info().Str("database", conf.Database).Msg("Connected to MongoDB")
	return client, nil
}
