// Package oplog models MongoDB and TokuMX change-log records.
//
// Records are read from local.oplog.rs; overflow fragments of oversized
// TokuMX transactions live in local.oplog.refs keyed by {oid, seq}.
//
// Position orders records. MongoDB positions come from the ts Timestamp,
// TokuMX positions from the binary GTID stored in _id:
//
//	pos, err := oplog.PositionOf(raw)
//	filter, ok := pos.ResumeFilter() // {ts: {$gte: ...}} or {_id: {$gte: ...}}
//
// Position strings are "T:I" for timestamps and "gtid:<hex>" for GTIDs, and
// are what the checkpoint store and configuration use.
package oplog
