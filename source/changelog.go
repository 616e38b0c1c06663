package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/mashable/elasticsearch-river-mongodb/oplog"
	"github.com/mashable/elasticsearch-river-mongodb/river"
	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

const defaultMaxAwait = time.Second

// ChangeLog tails local.oplog.rs
type ChangeLog struct {
	coll     *mongo.Collection
	maxAwait time.Duration
}

// NewChangeLog creates a change log reader over client
func NewChangeLog(client *mongo.Client) *ChangeLog {
	return &ChangeLog{
		coll:     client.Database(localDatabase).Collection(oplogCollection),
		maxAwait: defaultMaxAwait,
	}
}

// Tail returns the position of the newest record, zero when the log is empty
func (c *ChangeLog) Tail(ctx context.Context) (oplog.Position, error) {
	opts := options.FindOne().SetSort(bson.D{{Key: "$natural", Value: -1}})
	raw, err := c.coll.FindOne(ctx, bson.D{}, opts).Raw()
	if errors.Is(err, mongo.ErrNoDocuments) {
		return oplog.Position{}, nil
	}
	if err != nil {
		return oplog.Position{}, fmt.Errorf("failed to read change-log tail: %w", classify(ctx, err))
	}

	pos, err := oplog.PositionOf(raw)
	if err != nil {
		return oplog.Position{}, river.Fatal(err)
	}
	return pos, nil
}

// Open opens a tailable cursor returning records at or after from
func (c *ChangeLog) Open(ctx context.Context, from oplog.Position) (river.Cursor, error) {
	opts := OpenOptions(from, c.maxAwait)
	filter, ok := from.ResumeFilter()
	if !ok {
		filter = bson.D{}
	}

	cur, err := c.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open change-log cursor at %s: %w", from, classify(ctx, err))
	}

	log.Debug().Str("position", from.String()).Msg("Opened change-log cursor")
	return &cursor{cur: cur}, nil
}

// OpenOptions are the find options of a change-log cursor
func OpenOptions(from oplog.Position, maxAwait time.Duration) *options.FindOptionsBuilder {
	opts := options.Find().
		SetCursorType(options.TailableAwait).
		SetNoCursorTimeout(true).
		SetMaxAwaitTime(maxAwait)
	if from.Kind() == oplog.PositionGTID {
		opts.SetHint("_id_")
	}
	return opts
}

type cursor struct {
	cur *mongo.Cursor
}

func (c *cursor) Next(ctx context.Context) (*oplog.Entry, error) {
	if c.cur.TryNext(ctx) {
		entry, err := oplog.Parse(c.cur.Current)
		if err != nil {
			return nil, river.Fatal(err)
		}
		return entry, nil
	}
	if err := c.cur.Err(); err != nil {
		return nil, classify(ctx, err)
	}
	return nil, io.EOF
}

func (c *cursor) Close(ctx context.Context) error {
	return c.cur.Close(ctx)
}

// Overflow reads batch overflow fragments from local.oplog.refs
type Overflow struct {
	coll *mongo.Collection
}

// NewOverflow creates an overflow reader over client
func NewOverflow(client *mongo.Client) *Overflow {
	return &Overflow{coll: client.Database(localDatabase).Collection(refsCollection)}
}

// FragmentFilter selects the first fragment of ref past sequence after
func FragmentFilter(ref bson.ObjectID, after int64) bson.D {
	return bson.D{
		{Key: "_id.oid", Value: ref},
		{Key: "_id.seq", Value: bson.D{{Key: "$gt", Value: after}}},
	}
}

// NextFragment returns the fragment of ref following sequence after, nil
// when the chain is exhausted
func (o *Overflow) NextFragment(ctx context.Context, ref bson.ObjectID, after int64, parent oplog.Position) (*oplog.Fragment, error) {
	opts := options.FindOne().SetSort(bson.D{{Key: "_id.seq", Value: 1}})
	raw, err := o.coll.FindOne(ctx, FragmentFilter(ref, after), opts).Raw()
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, classify(ctx, err)
	}

	frag, err := oplog.ParseFragment(raw, parent)
	if err != nil {
		return nil, river.Fatal(err)
	}
	return frag, nil
}
