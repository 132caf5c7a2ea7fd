package oplog

import "github.com/vinllen/mgo/bson"

// Kind tags which write Operation represents. Replacing the teacher's
// runtime shape-sniffing (gofmt-style "is this a $-prefixed doc?") with an
// explicit sum type, as suggested by spec.md's design notes.
type Kind int

const (
	// KindReplace upserts Doc as a whole document, used for both inserts
	// and full-replacement updates — the converter never distinguishes
	// "insert" from "upsert" since both reduce to the same idempotent
	// write (spec.md §3's invariant 1).
	KindReplace Kind = iota
	KindPartialUpdate
	KindDelete
)

// Operation is one converted, idempotent write destined for a single
// namespace. Filter is always keyed solely on "_id" (invariant 1 of
// spec.md §3), except where explicitly noted otherwise (see
// ConvertSingle in oplog/convert.go, used by the single-op path).
type Operation struct {
	Kind   Kind
	Filter bson.D
	Doc    bson.D
	Upsert bool
}

// ID returns the "_id" value used to filter this operation, and whether a
// lane hash can be computed from it (always true for well-formed ops).
func (op Operation) ID() (interface{}, bool) {
	for _, elem := range op.Filter {
		if elem.Name == "_id" {
			return elem.Value, true
		}
	}
	return nil, false
}
