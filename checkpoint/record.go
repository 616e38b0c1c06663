package checkpoint

import (
	"bytes"
	"fmt"

	"github.com/mashable/elasticsearch-river-mongodb/oplog"
	"github.com/mashable/elasticsearch-river-mongodb/river"
	"github.com/vmihailenco/msgpack/v5"
)

// Values under prefixPosition and prefixStatus are msgpack maps with short keys
type positionRecord struct {
	Position    string `msgpack:"p"`
	CommittedAt int64  `msgpack:"c"`
}

type statusRecord struct {
	Status    string `msgpack:"s"`
	UpdatedAt int64  `msgpack:"u"`
}

type record interface {
	positionRecord | statusRecord
}

func encodeRecord[R record](rec R) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.UseCompactInts(true)
	if err := enc.Encode(&rec); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeRecord[R record](val []byte) (R, error) {
	var rec R
	err := msgpack.Unmarshal(val, &rec)
	return rec, err
}

func encodePosition(pos oplog.Position, at int64) ([]byte, error) {
	text, err := pos.MarshalText()
	if err != nil {
		return nil, err
	}
	return encodeRecord(positionRecord{Position: string(text), CommittedAt: at})
}

func decodePosition(val []byte) (oplog.Position, error) {
	rec, err := decodeRecord[positionRecord](val)
	if err != nil {
		return oplog.Position{}, err
	}
	return oplog.ParsePosition(rec.Position)
}

func decodeStatus(val []byte) (river.Status, error) {
	rec, err := decodeRecord[statusRecord](val)
	if err != nil {
		return river.StatusInit, fmt.Errorf("decode status: %w", err)
	}
	return river.ParseStatus(rec.Status)
}
