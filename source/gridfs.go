package source

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/mashable/elasticsearch-river-mongodb/document"
	"github.com/mashable/elasticsearch-river-mongodb/river"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// GridFS reads attachments from GridFS buckets of the watched database
type GridFS struct {
	db *mongo.Database
}

// NewGridFS creates an attachment reader over database
func NewGridFS(client *mongo.Client, database string) *GridFS {
	return &GridFS{db: client.Database(database)}
}

// Find loads the file metadata and content of id, nil when it is gone
func (g *GridFS) Find(ctx context.Context, bucket string, id document.Value) (*document.Attachment, error) {
	raw, err := g.db.Collection(bucket+".files").FindOne(ctx, bson.D{{Key: document.IDField, Value: id.Interface()}}).Raw()
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, classify(ctx, err)
	}

	file, err := AttachmentFromFile(raw)
	if err != nil {
		return nil, river.Fatal(err)
	}

	gfs := g.db.GridFSBucket(options.GridFSBucket().SetName(bucket))
	stream, err := gfs.OpenDownloadStream(ctx, id.Interface())
	if errors.Is(err, mongo.ErrFileNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, classify(ctx, err)
	}
	defer stream.Close()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(stream); err != nil {
		return nil, fmt.Errorf("failed to read attachment %s: %w", id, classify(ctx, err))
	}
	file.Content = buf.Bytes()
	return file, nil
}

// AttachmentFromFile decodes a <bucket>.files document without its content
func AttachmentFromFile(raw bson.Raw) (*document.Attachment, error) {
	doc, err := document.FromRaw(raw)
	if err != nil {
		return nil, err
	}

	id, ok := doc.ID()
	if !ok {
		return nil, fmt.Errorf("file document has no _id")
	}

	file := &document.Attachment{ID: id}
	if v, err := raw.LookupErr("filename"); err == nil {
		file.Filename, _ = v.StringValueOK()
	}
	if v, err := raw.LookupErr("contentType"); err == nil {
		file.ContentType, _ = v.StringValueOK()
	}
	if v, err := raw.LookupErr("md5"); err == nil {
		file.MD5, _ = v.StringValueOK()
	}
	if v, err := raw.LookupErr("length"); err == nil {
		file.Length, _ = v.AsInt64OK()
	}
	if v, err := raw.LookupErr("chunkSize"); err == nil {
		size, _ := v.AsInt64OK()
		file.ChunkSize = int32(size)
	}
	if v, err := raw.LookupErr("uploadDate"); err == nil {
		if dt, ok := v.DateTimeOK(); ok {
			file.UploadDate = bson.DateTime(dt).Time().UTC()
		}
	}
	if meta, ok := doc.Get("metadata"); ok {
		file.Metadata = meta.Document()
	}
	return file, nil
}
