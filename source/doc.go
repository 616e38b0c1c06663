// Package source reads the MongoDB change log, overflow references,
// source documents and GridFS attachments for the river.
package source
