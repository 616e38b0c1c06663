package document

import (
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// Attachment is a stored binary object plus its file metadata
type Attachment struct {
	ID          Value
	Filename    string
	ContentType string
	Length      int64
	ChunkSize   int32
	UploadDate  time.Time
	MD5         string
	Metadata    *Document
	Content     []byte
}

// Project applies p to the attachment metadata
func (a *Attachment) Project(p Projection) *Attachment {
	if a == nil || p.Empty() {
		return a
	}
	out := *a
	out.Metadata = p.Apply(a.Metadata)
	return &out
}

// Document renders the attachment as an indexable document
func (a *Attachment) Document() *Document {
	fields := []Field{
		{Key: IDField, Value: a.ID},
		{Key: "filename", Value: Scalar(a.Filename)},
		{Key: "length", Value: Scalar(a.Length)},
		{Key: "chunkSize", Value: Scalar(a.ChunkSize)},
		{Key: "uploadDate", Value: Scalar(bson.NewDateTimeFromTime(a.UploadDate))},
	}
	if a.ContentType != "" {
		fields = append(fields, Field{Key: "contentType", Value: Scalar(a.ContentType)})
	}
	if a.MD5 != "" {
		fields = append(fields, Field{Key: "md5", Value: Scalar(a.MD5)})
	}
	if a.Metadata != nil {
		fields = append(fields, Field{Key: "metadata", Value: Nested(a.Metadata)})
	}
	fields = append(fields, Field{Key: "content", Value: Scalar(bson.Binary{Data: a.Content})})
	return &Document{fields: fields}
}

// Payload is the closed set of event payloads: DocumentPayload or
// AttachmentPayload.
type Payload interface {
	// Document returns the payload as a document
	Document() *Document
	isPayload()
}

// DocumentPayload carries a regular source document
type DocumentPayload struct {
	Doc *Document
}

func (p DocumentPayload) Document() *Document { return p.Doc }
func (DocumentPayload) isPayload()            {}

// AttachmentPayload carries an attachment-store object
type AttachmentPayload struct {
	File *Attachment
}

func (p AttachmentPayload) Document() *Document {
	if p.File == nil {
		return nil
	}
	return p.File.Document()
}
func (AttachmentPayload) isPayload() {}
