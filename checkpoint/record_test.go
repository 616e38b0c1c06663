package checkpoint

import (
	"testing"

	"github.com/mashable/elasticsearch-river-mongodb/oplog"
	"github.com/mashable/elasticsearch-river-mongodb/river"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
)

func TestPositionRecord(t *testing.T) {
	tests := []struct {
		name string
		pos  oplog.Position
	}{
		{"timestamp", ts(1700000000, 3)},
		{"gtid", oplog.FromGTID([]byte{0x01, 0x02, 0xff})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			val, err := encodePosition(tt.pos, 1700000001)
			require.NoError(t, err)

			got, err := decodePosition(val)
			require.NoError(t, err)
			assert.Equal(t, tt.pos, got)

			rec, err := decodeRecord[positionRecord](val)
			require.NoError(t, err)
			assert.Equal(t, int64(1700000001), rec.CommittedAt)
		})
	}
}

func TestStatusRecord(t *testing.T) {
	val, err := encodeRecord(statusRecord{Status: river.StatusStale.String(), UpdatedAt: 42})
	require.NoError(t, err)

	status, err := decodeStatus(val)
	require.NoError(t, err)
	assert.Equal(t, river.StatusStale, status)
}

func TestRecordIgnoresUnknownFields(t *testing.T) {
	val, err := msgpack.Marshal(map[string]any{"p": "5:1", "x": true})
	require.NoError(t, err)

	pos, err := decodePosition(val)
	require.NoError(t, err)
	assert.Equal(t, ts(5, 1), pos)
}

func TestRecordCorrupted(t *testing.T) {
	_, err := decodePosition([]byte{0xc1})
	assert.Error(t, err)

	_, err = decodeStatus([]byte{0xc1})
	assert.Error(t, err)
}
