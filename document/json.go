package document

import (
	"bytes"
	"encoding/json"
	"math"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// MarshalJSON writes the document with its field order preserved
func (d *Document) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := writeDocument(&buf, d); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// MarshalJSON writes the value in relaxed JSON form: ObjectIDs as hex,
// dates as RFC3339, binary as base64.
func (v Value) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := writeValue(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeDocument(buf *bytes.Buffer, d *Document) error {
	if d == nil {
		buf.WriteString("null")
		return nil
	}
	buf.WriteByte('{')
	for i, f := range d.fields {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(f.Key)
		if err != nil {
			return err
		}
		buf.Write(key)
		buf.WriteByte(':')
		if err := writeValue(buf, f.Value); err != nil {
			return err
		}
	}
	buf.WriteByte('}')
	return nil
}

func writeValue(buf *bytes.Buffer, v Value) error {
	switch v.kind {
	case KindNull:
		buf.WriteString("null")
		return nil
	case KindDocument:
		return writeDocument(buf, v.doc)
	case KindArray:
		buf.WriteByte('[')
		for i, item := range v.arr {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeValue(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
		return nil
	}

	b, err := json.Marshal(jsonScalar(v.scalar))
	if err != nil {
		return err
	}
	buf.Write(b)
	return nil
}

func jsonScalar(s any) any {
	switch t := s.(type) {
	case bson.ObjectID:
		return t.Hex()
	case bson.DateTime:
		return t.Time().UTC().Format(time.RFC3339Nano)
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano)
	case bson.Timestamp:
		return map[string]uint32{"t": t.T, "i": t.I}
	case bson.Binary:
		return t.Data
	case bson.Decimal128:
		return t.String()
	case bson.Symbol:
		return string(t)
	case bson.JavaScript:
		return string(t)
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return nil
		}
	}
	return s
}
