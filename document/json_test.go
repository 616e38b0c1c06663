package document

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"
)

func TestMarshalJSONKeepsOrder(t *testing.T) {
	doc := New(F("z", 1), F("a", "x"), F("m", bson.A{true, nil}), F("d", bson.D{{Key: "k", Value: 2.5}}))

	b, err := json.Marshal(doc)
	require.NoError(t, err)
	assert.Equal(t, `{"z":1,"a":"x","m":[true,null],"d":{"k":2.5}}`, string(b))
}

func TestMarshalJSONDriverTypes(t *testing.T) {
	oid, err := bson.ObjectIDFromHex("5f1b2c3d4e5f6a7b8c9d0e1f")
	require.NoError(t, err)
	when := time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)

	doc := New(
		F("_id", oid),
		F("at", bson.NewDateTimeFromTime(when)),
		F("bin", bson.Binary{Data: []byte("hi")}),
		F("ts", bson.Timestamp{T: 10, I: 2}),
	)

	b, err := json.Marshal(doc)
	require.NoError(t, err)
	assert.JSONEq(t, `{"_id":"5f1b2c3d4e5f6a7b8c9d0e1f","at":"2024-05-06T07:08:09Z","bin":"aGk=","ts":{"t":10,"i":2}}`, string(b))
}

func TestMarshalJSONNilDocument(t *testing.T) {
	var doc *Document
	b, err := doc.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, "null", string(b))
}
