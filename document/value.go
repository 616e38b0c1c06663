// Package document holds the recursive value model used for change-event
// payloads. A Value is one of null, scalar, nested document or ordered array;
// documents keep field order as read from the source store.
package document

import (
	"fmt"
	"math"
	"reflect"
	"sort"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// Kind tags the variant held by a Value
type Kind uint8

const (
	KindNull Kind = iota
	KindScalar
	KindDocument
	KindArray
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindScalar:
		return "scalar"
	case KindDocument:
		return "document"
	case KindArray:
		return "array"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Value is a tagged variant over scalar, nested document and array
type Value struct {
	kind   Kind
	scalar any
	doc    *Document
	arr    []Value
}

// Null returns the null value
func Null() Value {
	return Value{kind: KindNull}
}

// Scalar wraps a BSON scalar (string, number, bool, ObjectID, DateTime, ...)
func Scalar(v any) Value {
	if v == nil {
		return Null()
	}
	return Value{kind: KindScalar, scalar: v}
}

// Nested wraps a sub-document
func Nested(d *Document) Value {
	if d == nil {
		return Null()
	}
	return Value{kind: KindDocument, doc: d}
}

// Array wraps an ordered sequence
func Array(vs ...Value) Value {
	out := make([]Value, len(vs))
	copy(out, vs)
	return Value{kind: KindArray, arr: out}
}

// Kind returns the variant tag
func (v Value) Kind() Kind {
	return v.kind
}

// IsNull reports whether v holds no value
func (v Value) IsNull() bool {
	return v.kind == KindNull
}

// Scalar returns the scalar payload, nil for other kinds
func (v Value) Scalar() any {
	if v.kind != KindScalar {
		return nil
	}
	return v.scalar
}

// Document returns the nested document, nil for other kinds
func (v Value) Document() *Document {
	if v.kind != KindDocument {
		return nil
	}
	return v.doc
}

// Array returns a copy of the array items, nil for other kinds
func (v Value) Array() []Value {
	if v.kind != KindArray {
		return nil
	}
	out := make([]Value, len(v.arr))
	copy(out, v.arr)
	return out
}

// Interface converts the value back into driver types: bson.D for documents,
// bson.A for arrays.
func (v Value) Interface() any {
	switch v.kind {
	case KindScalar:
		return v.scalar
	case KindDocument:
		return v.doc.D()
	case KindArray:
		a := make(bson.A, len(v.arr))
		for i, item := range v.arr {
			a[i] = item.Interface()
		}
		return a
	default:
		return nil
	}
}

// Equal compares two values structurally. Numbers compare by value across
// int32, int64 and double.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindScalar:
		return scalarEqual(v.scalar, o.scalar)
	case KindDocument:
		return v.doc.Equal(o.doc)
	case KindArray:
		if len(v.arr) != len(o.arr) {
			return false
		}
		for i := range v.arr {
			if !v.arr[i].Equal(o.arr[i]) {
				return false
			}
		}
		return true
	}
	return false
}

func (v Value) String() string {
	switch v.kind {
	case KindNull:
		return "null"
	case KindScalar:
		if oid, ok := v.scalar.(bson.ObjectID); ok {
			return oid.Hex()
		}
		return fmt.Sprint(v.scalar)
	default:
		b, err := v.MarshalJSON()
		if err != nil {
			return fmt.Sprintf("<%s>", v.kind)
		}
		return string(b)
	}
}

// FromValue converts a Go or driver value into a Value. Maps are converted
// with sorted keys so the result is deterministic.
func FromValue(in any) Value {
	switch t := in.(type) {
	case nil:
		return Null()
	case Value:
		return t
	case *Document:
		return Nested(t)
	case bson.D:
		return Nested(FromD(t))
	case bson.M:
		return Nested(fromMap(t))
	case map[string]any:
		return Nested(fromMap(t))
	case bson.A:
		return fromSlice(t)
	case []any:
		return fromSlice(t)
	case []string:
		vs := make([]Value, len(t))
		for i, s := range t {
			vs[i] = Scalar(s)
		}
		return Value{kind: KindArray, arr: vs}
	case bson.Raw:
		d, err := FromRaw(t)
		if err != nil {
			return Scalar(t)
		}
		return Nested(d)
	case bson.RawValue:
		v, err := fromRawValue(t)
		if err != nil {
			return Scalar(t)
		}
		return v
	case int:
		return Scalar(int64(t))
	default:
		return Scalar(in)
	}
}

func fromSlice(in []any) Value {
	vs := make([]Value, len(in))
	for i, item := range in {
		vs[i] = FromValue(item)
	}
	return Value{kind: KindArray, arr: vs}
}

func fromMap(m map[string]any) *Document {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	fields := make([]Field, len(keys))
	for i, k := range keys {
		fields[i] = Field{Key: k, Value: FromValue(m[k])}
	}
	return &Document{fields: fields}
}

func scalarEqual(a, b any) bool {
	if ai, ok := asInt64(a); ok {
		if bi, ok := asInt64(b); ok {
			return ai == bi
		}
	}
	if af, ok := asFloat64(a); ok {
		if bf, ok := asFloat64(b); ok {
			return af == bf
		}
	}
	return reflect.DeepEqual(a, b)
}

func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case float64:
		if n == math.Trunc(n) && math.Abs(n) < 1<<53 {
			return int64(n), true
		}
	case float32:
		f := float64(n)
		if f == math.Trunc(f) && math.Abs(f) < 1<<24 {
			return int64(f), true
		}
	}
	return 0, false
}

func asFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	}
	if i, ok := asInt64(v); ok {
		return float64(i), true
	}
	return 0, false
}
