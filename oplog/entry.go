package oplog

import (
	"fmt"

	"github.com/mashable/elasticsearch-river-mongodb/document"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// Raw log record field names
const (
	FieldTimestamp   = "ts"
	FieldOperation   = "op"
	FieldNamespace   = "ns"
	FieldObject      = "o"
	FieldUpdate      = "o2"
	FieldMods        = "m"
	FieldPK          = "pk"
	FieldOps         = "ops"
	FieldRef         = "ref"
	FieldApplied     = "a"
	FieldFromMigrate = "fromMigrate"
)

// Entry is a parsed change-log record: a single operation, a batch under
// Ops, or a reference to an overflow chain under Ref.
type Entry struct {
	Position    Position
	Code        string
	HasCode     bool
	Namespace   string
	Object      *document.Document
	Update      *document.Document
	Mods        *document.Document
	PK          *document.Document
	Ops         []*Entry
	HasRef      bool
	Ref         *bson.ObjectID // nil when present but not an ObjectID
	Applied     *bool
	FromMigrate bool
}

// Operation decodes the raw code
func (e *Entry) Operation() Operation {
	return FromCode(e.Code)
}

// IsApplied reports whether the record is durable. Records without the flag
// are durable; any value other than true means not yet applied.
func (e *Entry) IsApplied() bool {
	return e.Applied == nil || *e.Applied
}

// Parse decodes a raw change-log record. Nested batch operations inherit
// the parent's Position.
func Parse(raw bson.Raw) (*Entry, error) {
	e := &Entry{}
	if pos, err := PositionOf(raw); err == nil {
		e.Position = pos
	}

	elems, err := raw.Elements()
	if err != nil {
		return nil, fmt.Errorf("failed to read log record: %w", err)
	}

	for _, elem := range elems {
		val := elem.Value()
		switch elem.Key() {
		case FieldOperation:
			if s, ok := val.StringValueOK(); ok {
				e.Code, e.HasCode = s, true
			}
		case FieldNamespace:
			if s, ok := val.StringValueOK(); ok {
				e.Namespace = s
			}
		case FieldObject:
			if e.Object, err = parseDocument(elem.Key(), val); err != nil {
				return nil, err
			}
		case FieldUpdate:
			if e.Update, err = parseDocument(elem.Key(), val); err != nil {
				return nil, err
			}
		case FieldMods:
			if e.Mods, err = parseDocument(elem.Key(), val); err != nil {
				return nil, err
			}
		case FieldPK:
			if e.PK, err = parseDocument(elem.Key(), val); err != nil {
				return nil, err
			}
		case FieldRef:
			e.HasRef = true
			if oid, ok := val.ObjectIDOK(); ok {
				e.Ref = &oid
			}
		case FieldApplied:
			applied := false
			if b, ok := val.BooleanOK(); ok {
				applied = b
			}
			e.Applied = &applied
		case FieldFromMigrate:
			if b, ok := val.BooleanOK(); ok {
				e.FromMigrate = b
			}
		case FieldOps:
			ops, err := parseOps(val, e.Position)
			if err != nil {
				return nil, err
			}
			e.Ops = ops
		}
	}

	return e, nil
}

func parseDocument(key string, val bson.RawValue) (*document.Document, error) {
	if val.Type != bson.TypeEmbeddedDocument {
		return nil, nil
	}
	doc, err := document.FromRaw(val.Document())
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return doc, nil
}

func parseOps(val bson.RawValue, parent Position) ([]*Entry, error) {
	if val.Type != bson.TypeArray {
		return nil, nil
	}
	items, err := val.Array().Values()
	if err != nil {
		return nil, fmt.Errorf("failed to read batch operations: %w", err)
	}

	ops := make([]*Entry, 0, len(items))
	for i, item := range items {
		if item.Type != bson.TypeEmbeddedDocument {
			return nil, fmt.Errorf("batch operation %d is not a document", i)
		}
		op, err := Parse(item.Document())
		if err != nil {
			return nil, fmt.Errorf("batch operation %d: %w", i, err)
		}
		op.Position = parent
		ops = append(ops, op)
	}
	return ops, nil
}

// Fragment is one element of an overflow chain in local.oplog.refs
type Fragment struct {
	Ref   bson.ObjectID
	Seq   int64
	Entry *Entry
}

// ParseFragment decodes an overflow document {_id: {oid, seq}, ops: [...]}.
// The fragment's operations take the position of the referencing record.
func ParseFragment(raw bson.Raw, parent Position) (*Fragment, error) {
	idVal, err := raw.LookupErr("_id")
	if err != nil || idVal.Type != bson.TypeEmbeddedDocument {
		return nil, fmt.Errorf("overflow fragment has no compound _id")
	}
	id := idVal.Document()

	oidVal, err := id.LookupErr("oid")
	if err != nil {
		return nil, fmt.Errorf("overflow fragment has no oid")
	}
	oid, ok := oidVal.ObjectIDOK()
	if !ok {
		return nil, fmt.Errorf("overflow fragment oid is %s, not an ObjectID", oidVal.Type)
	}

	seqVal, err := id.LookupErr("seq")
	if err != nil {
		return nil, fmt.Errorf("overflow fragment has no seq")
	}
	seq, ok := seqVal.AsInt64OK()
	if !ok {
		return nil, fmt.Errorf("overflow fragment seq is %s, not a number", seqVal.Type)
	}

	entry, err := Parse(raw)
	if err != nil {
		return nil, err
	}
	entry.Position = parent
	for _, op := range entry.Ops {
		op.Position = parent
	}

	return &Fragment{Ref: oid, Seq: seq, Entry: entry}, nil
}
