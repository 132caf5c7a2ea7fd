// Package oplog models one raw MongoDB oplog entry and the idempotent
// operations it converts into.
package oplog

import (
	"github.com/vinllen/mgo/bson"
)

// Op values as they appear in the "op" field of local.oplog.rs.
const (
	OpInsert  = "i"
	OpUpdate  = "u"
	OpDelete  = "d"
	OpCommand = "c"
	OpNoop    = "n"
)

// ShardKey selects the strategy used to bucket concurrent replay lanes.
const (
	ShardAutomatic   = "auto"
	ShardByID        = "id"
	ShardByNamespace = "collection"
)

// PartialLog is the subset of a raw oplog document the converter and
// replayer need. Field names mirror local.oplog.rs exactly so a document
// can be unmarshalled into it directly.
type PartialLog struct {
	Timestamp   bson.MongoTimestamp `bson:"ts"`
	Term        int64               `bson:"t"`
	Hash        int64               `bson:"h"`
	Version     int                 `bson:"v"`
	Operation   string              `bson:"op"`
	Namespace   string              `bson:"ns"`
	Object      bson.D              `bson:"o"`
	Query       bson.D              `bson:"o2"`
	FromMigrate bool                `bson:"fromMigrate,omitempty"`
	GID         string              `bson:"g,omitempty"`

	// RawSize is the byte length of the source document, used only for
	// metrics; it is not part of the wire format.
	RawSize int `bson:"-"`
}

// GenericOplog pairs a decoded entry with its original bytes, mirroring
// the teacher's mongoshake/oplog.GenericOplog so a deserializer stage can
// hand off both without re-encoding.
type GenericOplog struct {
	Raw    []byte
	Parsed *PartialLog
}

// DocumentID returns the "_id" value of the operation's primary document,
// looking at "o" for insert/delete and "o2" for update, and whether one
// was found at all.
func (log *PartialLog) DocumentID() (interface{}, bool) {
	switch log.Operation {
	case OpUpdate:
		return lookup(log.Query, "_id")
	default:
		return lookup(log.Object, "_id")
	}
}

func lookup(d bson.D, key string) (interface{}, bool) {
	for _, elem := range d {
		if elem.Name == key {
			return elem.Value, true
		}
	}
	return nil, false
}

// Database and Collection split "ns" on the first '.', matching
// mongo_utils.py:parse_namespace.
func (log *PartialLog) Database() string {
	db, _ := SplitNamespace(log.Namespace)
	return db
}

func (log *PartialLog) Collection() string {
	_, coll := SplitNamespace(log.Namespace)
	return coll
}

// SplitNamespace splits "db.coll[.sub...]" into ("db", "coll[.sub...]").
func SplitNamespace(ns string) (db, coll string) {
	for i := 0; i < len(ns); i++ {
		if ns[i] == '.' {
			return ns[:i], ns[i+1:]
		}
	}
	return ns, ""
}

// IsPartialUpdate reports whether a "u" operation's "o" document is a
// partial-update operator document (any top-level key begins with '$')
// rather than a full replacement document.
func (log *PartialLog) IsPartialUpdate() bool {
	for _, elem := range log.Object {
		if len(elem.Name) > 0 && elem.Name[0] == '$' {
			return true
		}
	}
	return false
}

// IsIndexInsert reports whether an "i" operation lacks "_id" and is
// therefore a raw index/system insert rather than a document write.
func (log *PartialLog) IsIndexInsert() bool {
	if log.Operation != OpInsert {
		return false
	}
	_, ok := lookup(log.Object, "_id")
	return !ok
}
