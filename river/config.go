package river

import (
	"strings"
	"time"

	"github.com/mashable/elasticsearch-river-mongodb/document"
	"github.com/mashable/elasticsearch-river-mongodb/oplog"
)

const (
	// DefaultIdleDelay is the sleep after a cursor is caught up
	DefaultIdleDelay = 500 * time.Millisecond
	// DefaultRetryDelay is the fixed delay after a transient failure
	DefaultRetryDelay = 10 * time.Second
)

// Namespace constants
const (
	AdminCommandNamespace = "admin.$cmd"
	commandSuffix         = ".$cmd"
	filesSuffix           = ".files"
	chunksSuffix          = ".chunks"
	mapReducePrefix       = "tmp.mr"

	// Dropped map-reduce output collections are named tmp.mr.<job>
	mapReduceDropPrefix = "tmp.mr."
)

// Command markers found in command record payloads
const (
	markerDrop         = "drop"
	markerDropDatabase = "dropDatabase"
	markerRename       = "renameCollection"
	markerRenameTo     = "to"
	skipMarker         = "__es_skip"
	unsetModifier      = "$unset"
)

// Config is the watch scope of a river
type Config struct {
	Database       string
	Collection     string // Collection name, or bucket name in GridFS mode
	AllCollections bool
	GridFS         bool
	// NativePostImage is set for engines whose update records carry the
	// full post-image (TokuMX).
	NativePostImage bool
	Filter          *document.Document
	Projection      document.Projection
	// InitialPosition is where a river without a checkpoint starts
	InitialPosition oplog.Position
}

// CommandNamespace is the command namespace of the watched database
func (c *Config) CommandNamespace() string {
	return c.Database + commandSuffix
}

// WatchedNamespace is the single watched namespace outside all-collections mode
func (c *Config) WatchedNamespace() string {
	if c.GridFS {
		return c.Database + "." + c.Collection + filesSuffix
	}
	return c.Database + "." + c.Collection
}

// CollectionOf strips the database prefix from namespace, "" when the
// namespace is outside the watched database.
func (c *Config) CollectionOf(namespace string) string {
	prefix := c.Database + "."
	if !strings.HasPrefix(namespace, prefix) {
		return ""
	}
	return namespace[len(prefix):]
}

// watches reports whether a drop of collection name concerns the single
// watched collection. GridFS buckets are dropped through their files
// collection.
func (c *Config) watches(name string) bool {
	if c.GridFS {
		return name == c.Collection+filesSuffix
	}
	return name == c.Collection
}

func (c *Config) inDatabase(namespace string) bool {
	return strings.HasPrefix(namespace, c.Database+".")
}

func (c *Config) isMapReduceTemp(namespace string) bool {
	return strings.HasPrefix(namespace, c.Database+"."+mapReducePrefix)
}
