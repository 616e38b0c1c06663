package river

import (
	"strings"

	"github.com/mashable/elasticsearch-river-mongodb/document"
	"github.com/mashable/elasticsearch-river-mongodb/oplog"
	"github.com/rs/zerolog/log"
)

// Rejection reasons reported by Validator
const (
	Accepted          = "accepted"
	RejectNoCode      = "no_code"
	RejectNoop        = "noop"
	RejectMigration   = "migration"
	RejectChunks      = "chunks"
	RejectBeforeStart = "before_start"
	RejectNamespace   = "namespace"
	RejectOperation   = "operation"
	RejectSkipMarker  = "skip_marker"
	RejectFilter      = "filter"
)

// Validator decides which change-log records the river acts on
type Validator struct {
	cfg *Config
}

// NewValidator creates a validator for the given watch scope
func NewValidator(cfg *Config) *Validator {
	return &Validator{cfg: cfg}
}

// Validate returns Accepted or the reason the record is rejected. start is
// the position the current cursor was opened at; zero disables the check.
func (v *Validator) Validate(e *oplog.Entry, start oplog.Position) string {
	if !e.HasCode {
		return RejectNoCode
	}
	if e.Code == oplog.CodeNoop {
		return RejectNoop
	}
	if e.FromMigrate {
		return RejectMigration
	}
	if strings.HasSuffix(e.Namespace, chunksSuffix) {
		return RejectChunks
	}

	if !start.IsZero() && e.Position.Before(start) {
		log.Error().
			Str("position", e.Position.String()).
			Str("start", start.String()).
			Str("namespace", e.Namespace).
			Msg("Change-log record is before the start position")
		return RejectBeforeStart
	}

	if !v.validNamespace(e.Namespace) {
		return RejectNamespace
	}
	if !oplog.IsRecognizedCode(e.Code) {
		return RejectOperation
	}
	if hasSkipMarker(e.Object) || hasSkipMarker(e.Mods) {
		return RejectSkipMarker
	}

	if v.cfg.Filter.Len() > 0 && !e.Object.Matches(v.cfg.Filter) {
		return RejectFilter
	}

	return Accepted
}

func (v *Validator) validNamespace(ns string) bool {
	cfg := v.cfg
	if cfg.GridFS {
		return ns == cfg.WatchedNamespace()
	}
	if ns == cfg.CommandNamespace() || ns == AdminCommandNamespace {
		return true
	}
	if cfg.AllCollections {
		return cfg.inDatabase(ns) && !cfg.isMapReduceTemp(ns)
	}
	return ns == cfg.WatchedNamespace()
}

// hasSkipMarker finds {$unset: {__es_skip: ...}} in an update modifier document
func hasSkipMarker(mods *document.Document) bool {
	unset, ok := mods.Get(unsetModifier)
	if !ok {
		return false
	}
	return unset.Document().Has(skipMarker)
}
