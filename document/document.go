package document

import (
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// IDField is the identifier field every source document carries
const IDField = "_id"

// Field is a single key/value pair of a Document
type Field struct {
	Key   string
	Value Value
}

// F builds a field converting v with FromValue
func F(key string, v any) Field {
	return Field{Key: key, Value: FromValue(v)}
}

// Document is an ordered, immutable set of fields
type Document struct {
	fields []Field
}

// New builds a document from fields in the given order
func New(fields ...Field) *Document {
	out := make([]Field, len(fields))
	copy(out, fields)
	return &Document{fields: out}
}

// FromD converts a bson.D preserving its order
func FromD(d bson.D) *Document {
	fields := make([]Field, len(d))
	for i, e := range d {
		fields[i] = Field{Key: e.Key, Value: FromValue(e.Value)}
	}
	return &Document{fields: fields}
}

// FromRaw decodes raw BSON bytes into a Document
func FromRaw(raw bson.Raw) (*Document, error) {
	elems, err := raw.Elements()
	if err != nil {
		return nil, fmt.Errorf("failed to read document elements: %w", err)
	}

	fields := make([]Field, 0, len(elems))
	for _, elem := range elems {
		v, err := fromRawValue(elem.Value())
		if err != nil {
			return nil, fmt.Errorf("failed to decode field %q: %w", elem.Key(), err)
		}
		fields = append(fields, Field{Key: elem.Key(), Value: v})
	}
	return &Document{fields: fields}, nil
}

func fromRawValue(rv bson.RawValue) (Value, error) {
	switch rv.Type {
	case bson.TypeNull, bson.TypeUndefined:
		return Null(), nil
	case bson.TypeEmbeddedDocument:
		d, err := FromRaw(rv.Document())
		if err != nil {
			return Value{}, err
		}
		return Nested(d), nil
	case bson.TypeArray:
		items, err := rv.Array().Values()
		if err != nil {
			return Value{}, err
		}
		vs := make([]Value, len(items))
		for i, item := range items {
			if vs[i], err = fromRawValue(item); err != nil {
				return Value{}, err
			}
		}
		return Value{kind: KindArray, arr: vs}, nil
	case bson.TypeString:
		return Scalar(rv.StringValue()), nil
	case bson.TypeInt32:
		return Scalar(rv.Int32()), nil
	case bson.TypeInt64:
		return Scalar(rv.Int64()), nil
	case bson.TypeDouble:
		return Scalar(rv.Double()), nil
	case bson.TypeBoolean:
		return Scalar(rv.Boolean()), nil
	case bson.TypeObjectID:
		return Scalar(rv.ObjectID()), nil
	case bson.TypeDateTime:
		return Scalar(bson.DateTime(rv.DateTime())), nil
	case bson.TypeTimestamp:
		t, i := rv.Timestamp()
		return Scalar(bson.Timestamp{T: t, I: i}), nil
	case bson.TypeBinary:
		subtype, data := rv.Binary()
		return Scalar(bson.Binary{Subtype: subtype, Data: data}), nil
	default:
		var out any
		if err := rv.Unmarshal(&out); err != nil {
			return Value{}, err
		}
		return Scalar(out), nil
	}
}

// Len returns the number of fields
func (d *Document) Len() int {
	if d == nil {
		return 0
	}
	return len(d.fields)
}

// Get returns the value stored under key
func (d *Document) Get(key string) (Value, bool) {
	if d == nil {
		return Value{}, false
	}
	for _, f := range d.fields {
		if f.Key == key {
			return f.Value, true
		}
	}
	return Value{}, false
}

// Has reports whether key is present
func (d *Document) Has(key string) bool {
	_, ok := d.Get(key)
	return ok
}

// Keys returns field names in order
func (d *Document) Keys() []string {
	if d == nil {
		return nil
	}
	keys := make([]string, len(d.fields))
	for i, f := range d.fields {
		keys[i] = f.Key
	}
	return keys
}

// Fields returns a copy of the fields in order
func (d *Document) Fields() []Field {
	if d == nil {
		return nil
	}
	out := make([]Field, len(d.fields))
	copy(out, d.fields)
	return out
}

// With returns a copy of d with key set to v, replacing an existing field in
// place or appending a new one.
func (d *Document) With(key string, v Value) *Document {
	fields := d.Fields()
	for i := range fields {
		if fields[i].Key == key {
			fields[i].Value = v
			return &Document{fields: fields}
		}
	}
	return &Document{fields: append(fields, Field{Key: key, Value: v})}
}

// Only returns a document holding just the named field, or nil when absent
func (d *Document) Only(key string) *Document {
	v, ok := d.Get(key)
	if !ok {
		return nil
	}
	return &Document{fields: []Field{{Key: key, Value: v}}}
}

// ID returns the identifier field
func (d *Document) ID() (Value, bool) {
	return d.Get(IDField)
}

// D converts the document into a bson.D for driver calls
func (d *Document) D() bson.D {
	if d == nil {
		return nil
	}
	out := make(bson.D, len(d.fields))
	for i, f := range d.fields {
		out[i] = bson.E{Key: f.Key, Value: f.Value.Interface()}
	}
	return out
}

// Equal compares documents field by field, order included
func (d *Document) Equal(o *Document) bool {
	if d.Len() != o.Len() {
		return false
	}
	for i := 0; i < d.Len(); i++ {
		a, b := d.fields[i], o.fields[i]
		if a.Key != b.Key || !a.Value.Equal(b.Value) {
			return false
		}
	}
	return true
}

// Matches reports whether every top-level field of filter is present in d
// with an equal value. A nil filter matches everything; a nil document
// matches only an empty filter.
func (d *Document) Matches(filter *Document) bool {
	for _, f := range filter.Fields() {
		v, ok := d.Get(f.Key)
		if !ok || !v.Equal(f.Value) {
			return false
		}
	}
	return true
}

func (d *Document) String() string {
	return Nested(d).String()
}
