package oplog

import "strings"

// Operation classifies a change
type Operation uint8

const (
	OpUnknown Operation = iota
	OpInsert
	OpUpdate
	// OpUpdateRow is the TokuMX update-by-key-tuple operation
	OpUpdateRow
	OpDelete
	OpDropCollection
	OpDropDatabase
	OpCommand
	// OpCheckpoint forwards progress without a data change. It never comes
	// from a log code.
	OpCheckpoint
)

// Raw log operation codes
const (
	CodeInsert    = "i"
	CodeUpdate    = "u"
	CodeUpdateRow = "ur"
	CodeDelete    = "d"
	CodeCommand   = "c"
	CodeNoop      = "n"
)

var codeTable = map[string]Operation{
	CodeInsert:    OpInsert,
	CodeUpdate:    OpUpdate,
	CodeUpdateRow: OpUpdateRow,
	CodeDelete:    OpDelete,
	CodeCommand:   OpCommand,
}

var operationNames = [...]string{
	OpUnknown:        "unknown",
	OpInsert:         "insert",
	OpUpdate:         "update",
	OpUpdateRow:      "update_row",
	OpDelete:         "delete",
	OpDropCollection: "drop_collection",
	OpDropDatabase:   "drop_database",
	OpCommand:        "command",
	OpCheckpoint:     "checkpoint",
}

// FromCode decodes a raw operation code case-insensitively. Unrecognized
// codes, including the noop sentinel, decode to OpUnknown.
func FromCode(code string) Operation {
	if op, ok := codeTable[strings.ToLower(code)]; ok {
		return op
	}
	return OpUnknown
}

// IsRecognizedCode reports whether code is one the river acts on
func IsRecognizedCode(code string) bool {
	return FromCode(code) != OpUnknown
}

func (o Operation) String() string {
	if int(o) < len(operationNames) {
		return operationNames[o]
	}
	return operationNames[OpUnknown]
}

// IsData reports whether o changes a single document
func (o Operation) IsData() bool {
	switch o {
	case OpInsert, OpUpdate, OpUpdateRow, OpDelete:
		return true
	}
	return false
}
