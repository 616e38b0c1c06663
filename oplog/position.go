package oplog

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// PositionKind distinguishes the ordering token families
type PositionKind uint8

const (
	// PositionNone is the zero position: no resumable point known
	PositionNone PositionKind = iota
	// PositionTimestamp orders MongoDB records by their ts field
	PositionTimestamp
	// PositionGTID orders TokuMX records by their binary _id
	PositionGTID
)

const gtidPrefix = "gtid:"

// Position is a totally ordered, comparable marker in the change log.
// The zero value means "no position".
type Position struct {
	kind PositionKind
	ts   bson.Timestamp
	gtid string
}

// FromTimestamp builds a timestamp position
func FromTimestamp(ts bson.Timestamp) Position {
	return Position{kind: PositionTimestamp, ts: ts}
}

// FromGTID builds a TokuMX global transaction id position
func FromGTID(gtid []byte) Position {
	if len(gtid) == 0 {
		return Position{}
	}
	return Position{kind: PositionGTID, gtid: string(gtid)}
}

// PositionOf extracts the ordering token of a raw log record. MongoDB
// records carry a bson Timestamp under ts; TokuMX records carry a binary
// GTID under _id.
func PositionOf(raw bson.Raw) (Position, error) {
	if tsVal, err := raw.LookupErr("ts"); err == nil && tsVal.Type == bson.TypeTimestamp {
		t, i := tsVal.Timestamp()
		return FromTimestamp(bson.Timestamp{T: t, I: i}), nil
	}
	if idVal, err := raw.LookupErr("_id"); err == nil && idVal.Type == bson.TypeBinary {
		_, data := idVal.Binary()
		if len(data) > 0 {
			return FromGTID(data), nil
		}
	}
	return Position{}, fmt.Errorf("log record has no ordering token")
}

// Kind returns the token family
func (p Position) Kind() PositionKind {
	return p.kind
}

// IsZero reports whether p is the zero position
func (p Position) IsZero() bool {
	return p.kind == PositionNone
}

// Timestamp returns the timestamp component of a timestamp position
func (p Position) Timestamp() bson.Timestamp {
	return p.ts
}

// GTID returns the raw GTID bytes of a GTID position
func (p Position) GTID() []byte {
	if p.kind != PositionGTID {
		return nil
	}
	return []byte(p.gtid)
}

// Compare returns -1, 0 or 1. The zero position sorts before everything.
// Positions of different kinds order by kind.
func (p Position) Compare(o Position) int {
	if p.kind != o.kind {
		if p.kind < o.kind {
			return -1
		}
		return 1
	}
	switch p.kind {
	case PositionTimestamp:
		return compareTimestamp(p.ts, o.ts)
	case PositionGTID:
		return bytes.Compare([]byte(p.gtid), []byte(o.gtid))
	default:
		return 0
	}
}

func compareTimestamp(a, b bson.Timestamp) int {
	switch {
	case a.T < b.T:
		return -1
	case a.T > b.T:
		return 1
	case a.I < b.I:
		return -1
	case a.I > b.I:
		return 1
	default:
		return 0
	}
}

// Before reports whether p sorts strictly before o
func (p Position) Before(o Position) bool {
	return p.Compare(o) < 0
}

// ResumeFilter returns the change-log query selecting records at or after p.
// The record at p itself is returned first so callers can verify it still
// exists. ok is false for the zero position, meaning the live tail must be
// located instead.
func (p Position) ResumeFilter() (filter bson.D, ok bool) {
	switch p.kind {
	case PositionTimestamp:
		return bson.D{{Key: "ts", Value: bson.D{{Key: "$gte", Value: p.ts}}}}, true
	case PositionGTID:
		return bson.D{{Key: "_id", Value: bson.D{{Key: "$gte", Value: bson.Binary{Data: []byte(p.gtid)}}}}}, true
	default:
		return nil, false
	}
}

// String renders timestamps as "T:I" and GTIDs as "gtid:<hex>"
func (p Position) String() string {
	switch p.kind {
	case PositionTimestamp:
		return fmt.Sprintf("%d:%d", p.ts.T, p.ts.I)
	case PositionGTID:
		return gtidPrefix + hex.EncodeToString([]byte(p.gtid))
	default:
		return ""
	}
}

// MarshalText implements encoding.TextMarshaler
func (p Position) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (p *Position) UnmarshalText(text []byte) error {
	parsed, err := ParsePosition(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// ParsePosition parses the String form. An empty string yields the zero
// position.
func ParsePosition(s string) (Position, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Position{}, nil
	}

	if strings.HasPrefix(s, gtidPrefix) {
		data, err := hex.DecodeString(s[len(gtidPrefix):])
		if err != nil {
			return Position{}, fmt.Errorf("invalid gtid position %q: %w", s, err)
		}
		if len(data) == 0 {
			return Position{}, fmt.Errorf("invalid gtid position %q: empty", s)
		}
		return FromGTID(data), nil
	}

	secs, inc, found := strings.Cut(s, ":")
	if !found {
		inc = "0"
	}
	t, err := strconv.ParseUint(secs, 10, 32)
	if err != nil {
		return Position{}, fmt.Errorf("invalid timestamp position %q: %w", s, err)
	}
	i, err := strconv.ParseUint(inc, 10, 32)
	if err != nil {
		return Position{}, fmt.Errorf("invalid timestamp position %q: %w", s, err)
	}
	return FromTimestamp(bson.Timestamp{T: uint32(t), I: uint32(i)}), nil
}
