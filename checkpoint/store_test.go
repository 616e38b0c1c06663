package checkpoint

import (
	"context"
	"sort"
	"testing"

	"github.com/mashable/elasticsearch-river-mongodb/oplog"
	"github.com/mashable/elasticsearch-river-mongodb/river"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"
)

func ts(t, i uint32) oplog.Position {
	return oplog.FromTimestamp(bson.Timestamp{T: t, I: i})
}

func TestPositionPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()

	s, err := Open(dir)
	require.NoError(t, err)

	pos, err := s.Position("a")
	require.NoError(t, err)
	assert.True(t, pos.IsZero())

	require.NoError(t, s.CommitPosition("a", ts(100, 2)))
	require.NoError(t, s.CommitPosition("b", oplog.FromGTID([]byte{1, 2, 3})))
	require.NoError(t, s.Close())

	s, err = Open(dir)
	require.NoError(t, err)
	defer s.Close()

	pos, err = s.Position("a")
	require.NoError(t, err)
	assert.Equal(t, ts(100, 2), pos)

	pos, err = s.Position("b")
	require.NoError(t, err)
	assert.Equal(t, oplog.FromGTID([]byte{1, 2, 3}), pos)

	rivers := s.Rivers()
	sort.Strings(rivers)
	assert.Equal(t, []string{"a", "b"}, rivers)
}

func TestCommitPositionIsMonotonic(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.CommitPosition("a", ts(100, 2)))
	require.NoError(t, s.CommitPosition("a", ts(100, 1)))
	require.NoError(t, s.CommitPosition("a", oplog.Position{}))

	pos, err := s.Position("a")
	require.NoError(t, err)
	assert.Equal(t, ts(100, 2), pos)

	require.NoError(t, s.CommitPosition("a", ts(101, 0)))
	pos, _ = s.Position("a")
	assert.Equal(t, ts(101, 0), pos)
}

func TestStatus(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	require.NoError(t, err)

	status, err := s.Status("a")
	require.NoError(t, err)
	assert.Equal(t, river.StatusInit, status)

	require.NoError(t, s.SetStatus("a", river.StatusStale))
	require.NoError(t, s.Close())

	s, err = Open(dir)
	require.NoError(t, err)
	defer s.Close()

	status, err = s.Status("a")
	require.NoError(t, err)
	assert.Equal(t, river.StatusStale, status)
}

func TestReset(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.CommitPosition("a", ts(100, 2)))
	require.NoError(t, s.SetStatus("a", river.StatusFatal))
	require.NoError(t, s.CommitPosition("b", ts(50, 1)))

	require.NoError(t, s.Reset("a"))

	pos, _ := s.Position("a")
	assert.True(t, pos.IsZero())
	status, _ := s.Status("a")
	assert.Equal(t, river.StatusInit, status)

	pos, _ = s.Position("b")
	assert.Equal(t, ts(50, 1), pos)

	// a reset river starts over, older positions are accepted again
	require.NoError(t, s.CommitPosition("a", ts(10, 1)))
	pos, _ = s.Position("a")
	assert.Equal(t, ts(10, 1), pos)
}

func TestStream(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	stream := s.Stream("orders")
	assert.Equal(t, "orders", stream.Name())

	var _ river.StatusStore = stream

	require.NoError(t, stream.CommitPosition(ctx, ts(7, 1)))
	require.NoError(t, stream.SetStatus(ctx, river.StatusRunning))

	pos, err := stream.Position()
	require.NoError(t, err)
	assert.Equal(t, ts(7, 1), pos)

	status, err := stream.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, river.StatusRunning, status)
}

func TestClosedStore(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, s.Close())

	assert.Error(t, s.Close())
	assert.Error(t, s.CommitPosition("a", ts(1, 1)))
	assert.Error(t, s.SetStatus("a", river.StatusRunning))
	_, err = s.Position("a")
	assert.Error(t, err)
}

func TestPrefixUpperBound(t *testing.T) {
	assert.Equal(t, []byte("/riverpos0"), prefixUpperBound([]byte("/riverpos/")))
	assert.Nil(t, prefixUpperBound([]byte{0xff, 0xff}))
}
