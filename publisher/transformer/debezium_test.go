package transformer

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/mashable/elasticsearch-river-mongodb/document"
	"github.com/mashable/elasticsearch-river-mongodb/oplog"
	"github.com/mashable/elasticsearch-river-mongodb/river"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"
)

func newTestDebezium() *DebeziumTransformer {
	d := NewDebeziumTransformer("river1", "mydb")
	d.now = func() time.Time { return time.UnixMilli(1702345678901) }
	return d
}

func transformDebezium(t *testing.T, d *DebeziumTransformer, event river.ChangeEvent) map[string]interface{} {
	t.Helper()
	data, err := d.Transform(event)
	require.NoError(t, err)
	require.NotNil(t, data)

	var result map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &result))
	return result
}

func usersEvent(op oplog.Operation, doc *document.Document) river.ChangeEvent {
	return river.ChangeEvent{
		Position:   oplog.FromTimestamp(bson.Timestamp{T: 1702345678, I: 3}),
		Operation:  op,
		Collection: "users",
		Payload:    document.DocumentPayload{Doc: doc},
	}
}

func TestDebeziumTransformer_Transform_Insert(t *testing.T) {
	transformer := newTestDebezium()
	doc := document.New(document.F("_id", 1), document.F("name", "Alice"), document.F("age", 30))

	result := transformDebezium(t, transformer, usersEvent(oplog.OpInsert, doc))

	// Verify schema
	schemaMap := result["schema"].(map[string]interface{})
	assert.Equal(t, "struct", schemaMap["type"])
	assert.Equal(t, "river1.mydb.users.Envelope", schemaMap["name"])

	fields := schemaMap["fields"].([]interface{})
	assert.Len(t, fields, 5) // after, filter, op, ts_ms, source

	// Verify payload
	payload := result["payload"].(map[string]interface{})
	assert.Equal(t, "c", payload["op"])
	assert.Equal(t, float64(1702345678901), payload["ts_ms"])
	assert.NotContains(t, payload, "filter")
	assert.Equal(t, `{"_id":1,"name":"Alice","age":30}`, payload["after"])

	// Verify source
	source := payload["source"].(map[string]interface{})
	assert.Equal(t, "mongodb", source["connector"])
	assert.Equal(t, "river1", source["name"])
	assert.Equal(t, "mydb", source["db"])
	assert.Equal(t, "users", source["collection"])
	assert.Equal(t, float64(1702345678000), source["ts_ms"])
	assert.Equal(t, float64(3), source["ord"])
	assert.NotContains(t, source, "gtid")
}

func TestDebeziumTransformer_Transform_Update(t *testing.T) {
	transformer := newTestDebezium()
	doc := document.New(document.F("_id", 1), document.F("name", "Alice Updated"))

	for _, op := range []oplog.Operation{oplog.OpUpdate, oplog.OpUpdateRow} {
		payload := transformDebezium(t, transformer, usersEvent(op, doc))["payload"].(map[string]interface{})
		assert.Equal(t, "u", payload["op"])
		assert.Equal(t, `{"_id":1,"name":"Alice Updated"}`, payload["after"])
	}
}

func TestDebeziumTransformer_Transform_Delete(t *testing.T) {
	transformer := newTestDebezium()
	doc := document.New(document.F("_id", "a1"), document.F("name", "Alice"))

	payload := transformDebezium(t, transformer, usersEvent(oplog.OpDelete, doc))["payload"].(map[string]interface{})
	assert.Equal(t, "d", payload["op"])
	assert.Nil(t, payload["after"])
	assert.Equal(t, `{"_id":"a1"}`, payload["filter"])
}

func TestDebeziumTransformer_Transform_Drop(t *testing.T) {
	transformer := newTestDebezium()

	payload := transformDebezium(t, transformer, usersEvent(oplog.OpDropCollection, nil))["payload"].(map[string]interface{})
	assert.Equal(t, "t", payload["op"])
	assert.Nil(t, payload["after"])
	assert.NotContains(t, payload, "filter")
}

func TestDebeziumTransformer_GTIDSource(t *testing.T) {
	transformer := newTestDebezium()
	pos := oplog.FromGTID([]byte{0, 1, 2, 3})
	event := river.ChangeEvent{
		Position:   pos,
		Operation:  oplog.OpInsert,
		Collection: "users",
		Payload:    document.DocumentPayload{Doc: document.New(document.F("_id", 1))},
	}

	source := transformDebezium(t, transformer, event)["payload"].(map[string]interface{})["source"].(map[string]interface{})
	assert.Equal(t, pos.String(), source["gtid"])
	assert.Equal(t, float64(0), source["ts_ms"])
}

func TestDebeziumTransformer_Attachment(t *testing.T) {
	transformer := newTestDebezium()
	file := &document.Attachment{
		ID:          document.Scalar("f1"),
		Filename:    "report.pdf",
		ContentType: "application/pdf",
		Length:      3,
		Content:     []byte("abc"),
	}
	event := river.ChangeEvent{
		Position:   oplog.FromTimestamp(bson.Timestamp{T: 1, I: 1}),
		Operation:  oplog.OpInsert,
		Collection: "fs",
		Payload:    document.AttachmentPayload{File: file},
	}

	payload := transformDebezium(t, transformer, event)["payload"].(map[string]interface{})

	var after map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(payload["after"].(string)), &after))
	assert.Equal(t, "f1", after["_id"])
	assert.Equal(t, "report.pdf", after["filename"])
	assert.Equal(t, "YWJj", after["content"])
}

func TestDebeziumTransformer_SchemaCaching(t *testing.T) {
	transformer := newTestDebezium()

	first := transformer.getOrBuildSchema("users")
	second := transformer.getOrBuildSchema("users")
	other := transformer.getOrBuildSchema("orders")

	assert.Same(t, first, second)
	assert.NotSame(t, first, other)
	assert.Equal(t, "river1.mydb.orders.Envelope", other.Name)
}

func TestDebeziumTransformer_MapOperation(t *testing.T) {
	transformer := newTestDebezium()

	tests := []struct {
		op   oplog.Operation
		want string
	}{
		{oplog.OpInsert, "c"},
		{oplog.OpUpdate, "u"},
		{oplog.OpUpdateRow, "u"},
		{oplog.OpDelete, "d"},
		{oplog.OpDropCollection, "t"},
		{oplog.OpDropDatabase, "t"},
		{oplog.OpCommand, "u"},
	}

	for _, tt := range tests {
		t.Run(tt.op.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, transformer.mapOperation(tt.op))
		})
	}
}

func TestDebeziumTransformer_Tombstone(t *testing.T) {
	assert.Nil(t, newTestDebezium().Tombstone("1"))
}
