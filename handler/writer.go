package handler

import (
	"strings"

	LOG "github.com/vinllen/log4go"
	"github.com/vinllen/mgo/bson"

	"github.com/divomen/go-mongo-sync/common"
	"github.com/divomen/go-mongo-sync/oplog"
)

// Writer is the resilient writer (the second half of component A):
// bulk-apply a lane of converted operations with whole-batch retry on
// transient disconnect, degrading to serial per-op retry on any other
// failure, matching mongosync/mongo/handler.py:MongoHandler.bulk_write.
type Writer struct {
	conn         writerConn
	ignoreDupKey bool

	// newCollection/newDatabase, set only by tests, substitute a fake
	// collectionOps/databaseOps for the real *mgo.Collection/*mgo.Database
	// a live session would hand back, so retry/degrade/fallback logic can
	// be exercised without dialing a live deployment.
	newCollection func(db, coll string) collectionOps
	newDatabase   func(db string) databaseOps
}

// NewWriter builds a Writer over an already-connected Connection.
// ignoreDupKey mirrors handler.py's "ignore_duplicate_key_error" option
// (spec.md §7's duplicate-key policy).
func NewWriter(conn *Connection, ignoreDupKey bool) *Writer {
	return &Writer{conn: conn, ignoreDupKey: ignoreDupKey}
}

// collection returns a handle for db.coll, or ok=false if no live session
// is available right now (not Ready, between a disconnect and the next
// successful reconnect).
func (w *Writer) collection(db, coll string) (collectionOps, bool) {
	if w.newCollection != nil {
		return w.newCollection(db, coll), true
	}
	session := w.conn.Session()
	if session == nil {
		return nil, false
	}
	return mgoCollection{session.DB(db).C(coll)}, true
}

// database returns a handle for db, or ok=false if no live session is
// available right now.
func (w *Writer) database(db string) (databaseOps, bool) {
	if w.newDatabase != nil {
		return w.newDatabase(db), true
	}
	session := w.conn.Session()
	if session == nil {
		return nil, false
	}
	return mgoDatabase{session.DB(db)}, true
}

// BulkWrite applies ops (all belonging to the single namespace db.coll,
// as guaranteed by the replayer's per-lane grouping) as one unordered
// bulk operation. On a transient disconnect it reconnects and retries
// the whole batch unchanged; on any other error it degrades to applying
// each op serially via applyOne, matching bulk_write's two-tier except
// clause (AutoReconnect vs every other exception).
func (w *Writer) BulkWrite(db, coll string, ops []oplog.Operation) {
	for {
		c, ok := w.collection(db, coll)
		if !ok {
			w.conn.Reconnect()
			continue
		}

		bulk := c.Bulk()
		bulk.Unordered()
		for _, op := range ops {
			switch op.Kind {
			case oplog.KindReplace:
				bulk.Upsert(op.Filter, op.Doc)
			case oplog.KindPartialUpdate:
				bulk.Update(op.Filter, op.Doc)
			case oplog.KindDelete:
				bulk.Remove(op.Filter)
			}
		}

		_, err := bulk.Run()
		if err == nil {
			return
		}

		if IsTransientDisconnect(err) {
			LOG.Error("bulk write to %s.%s lost connection, reconnecting: %v", db, coll, err)
			w.conn.Reconnect()
			continue
		}

		LOG.Warn("bulk write to %s.%s failed (%v), degrading to per-op retry", db, coll, err)
		w.degradeToSerial(db, coll, ops)
		return
	}
}

// degradeToSerial re-applies each operation one at a time, matching
// bulk_write's fallback loop. A duplicate key on an individual op is
// swallowed when ignoreDupKey is set (spec.md §7); any other failure is
// fatal, matching handler.py's "sys.exit(1)".
func (w *Writer) degradeToSerial(db, coll string, ops []oplog.Operation) {
	for _, op := range ops {
		w.applyOne(db, coll, op)
	}
}

func (w *Writer) applyOne(db, coll string, op oplog.Operation) {
	for {
		c, ok := w.collection(db, coll)
		if !ok {
			w.conn.Reconnect()
			continue
		}

		var err error
		switch op.Kind {
		case oplog.KindReplace:
			_, err = c.Upsert(op.Filter, op.Doc)
		case oplog.KindPartialUpdate:
			err = c.Update(op.Filter, op.Doc)
		case oplog.KindDelete:
			err = c.Remove(op.Filter)
		}

		if err == nil {
			return
		}
		if IsTransientDisconnect(err) {
			w.conn.Reconnect()
			continue
		}
		if IsDuplicateKeyError(err) {
			if w.ignoreDupKey {
				LOG.Warn("ignoring duplicate key on %s.%s: %v", db, coll, err)
				return
			}
			common.FatalErr("duplicate key on "+db+"."+coll, err)
		}
		common.FatalErr("apply op on "+db+"."+coll, err)
	}
}

// ApplyOplog applies a single raw oplog entry directly, bypassing the
// pool: the replayer calls this at a command/index-insert flush boundary,
// and tests call it directly. It reproduces handler.py:apply_oplog's
// per-op dispatch, including the mongos shard-key-immutability fallback:
// when a delete-then-insert shard-key-changing update is rejected by a
// mongos router, fetch the old document, delete it by its original
// filter, and insert the synthesized new document in its place.
func (w *Writer) ApplyOplog(log *oplog.PartialLog) {
	op, action := oplog.ConvertSingle(log)
	db, coll := log.Database(), log.Collection()

	switch action {
	case oplog.ActionSkip:
		return
	case oplog.ActionUnknown:
		common.Fatal("unknown oplog operation %q on %s", log.Operation, log.Namespace)
		return
	case oplog.ActionIndexInsert:
		w.applyIndexInsert(db, coll, log)
		return
	case oplog.ActionCommand:
		w.applyCommand(db, log)
		return
	}
	for {
		c, ok := w.collection(db, coll)
		if !ok {
			w.conn.Reconnect()
			continue
		}

		var err error
		switch op.Kind {
		case oplog.KindReplace:
			_, err = c.Upsert(op.Filter, op.Doc)
		case oplog.KindPartialUpdate:
			err = c.Update(op.Filter, op.Doc)
		case oplog.KindDelete:
			err = c.Remove(op.Filter)
		}

		if err == nil {
			return
		}
		if IsTransientDisconnect(err) {
			w.conn.Reconnect()
			continue
		}
		if IsDuplicateKeyError(err) {
			if w.ignoreDupKey {
				LOG.Warn("ignoring duplicate key on %s.%s", db, coll)
				return
			}
			common.FatalErr("duplicate key on "+db+"."+coll, err)
		}
		if IsImmutableFieldError(err) && w.conn.IsMongos() && log.Operation == oplog.OpUpdate {
			w.shardKeyFallback(c, op, log)
			return
		}
		common.FatalErr("apply oplog on "+db+"."+coll, err)
	}
}

// applyIndexInsert applies a raw "i" entry with no "_id" directly,
// bypassing the converter: matching handler.py:apply_oplog's branch for
// a system.indexes-style insert, which is inserted verbatim rather than
// upserted by _id (it has none).
func (w *Writer) applyIndexInsert(db, coll string, log *oplog.PartialLog) {
	for {
		c, ok := w.collection(db, coll)
		if !ok {
			w.conn.Reconnect()
			continue
		}
		err := c.Insert(log.Object)
		if err == nil {
			return
		}
		if IsTransientDisconnect(err) {
			w.conn.Reconnect()
			continue
		}
		if IsDuplicateKeyError(err) {
			if w.ignoreDupKey {
				LOG.Warn("ignoring duplicate key on index insert %s.%s", db, coll)
				return
			}
			common.FatalErr("duplicate key on index insert "+db+"."+coll, err)
		}
		common.FatalErr("apply index insert on "+db+"."+coll, err)
	}
}

// applyCommand runs a "c" entry's command document against the
// destination database it targets (log.Namespace's db, with "$cmd"
// stripped by Database()). Matching handler.py:apply_oplog, a command
// failure (e.g. "ns not found" on a drop that was already applied) is
// logged and swallowed rather than treated as fatal: commands replay
// best-effort, since many are naturally idempotent-by-absence.
func (w *Writer) applyCommand(db string, log *oplog.PartialLog) {
	for {
		d, ok := w.database(db)
		if !ok {
			w.conn.Reconnect()
			continue
		}
		err := d.Run(log.Object, nil)
		if err == nil {
			return
		}
		if IsTransientDisconnect(err) {
			w.conn.Reconnect()
			continue
		}
		LOG.Warn("command on %s failed, ignoring: %v", db, err)
		return
	}
}

// shardKeyFallback handles the one write shape a mongos router refuses
// outright: an update that would change a document's shard key. It
// reads the old document, deletes it, and inserts the merged result,
// matching handler.py:apply_oplog's "the (immutable) field" branch.
func (w *Writer) shardKeyFallback(c collectionOps, op oplog.Operation, log *oplog.PartialLog) {
	var old bson.D
	if err := c.FindOne(op.Filter, &old); err != nil {
		common.FatalErr("shard-key fallback: find old doc", err)
		return
	}

	newDoc := mergeShardKeyUpdate(old, op.Doc)

	info, err := c.RemoveAll(op.Filter)
	if err != nil {
		common.FatalErr("shard-key fallback: delete old doc", err)
		return
	}
	if info.Removed != 1 {
		common.Fatal("shard-key fallback: expected to delete exactly 1 doc, deleted %d", info.Removed)
		return
	}

	if err := c.Insert(newDoc); err != nil {
		common.FatalErr("shard-key fallback: insert new doc", err)
	}
}

// mergeShardKeyUpdate produces the document to reinsert after the old one
// is deleted. A partial-update operator document ($set, $unset, ...) is
// applied on top of the previously-fetched full document, since the
// update can no longer be issued in place once the old document is gone;
// a full-replacement "u" (every top-level key non-$-prefixed) instead
// replaces the old document outright, matching handler.py:apply_oplog's
// "else: new_doc = oplog['o']" branch.
func mergeShardKeyUpdate(old bson.D, update bson.D) bson.D {
	if !isOperatorDoc(update) {
		return update
	}

	result := append(bson.D{}, old...)
	for _, elem := range update {
		if !strings.HasPrefix(elem.Name, "$") {
			continue
		}
		ops, ok := elem.Value.(bson.D)
		if !ok {
			continue
		}
		switch elem.Name {
		case "$set":
			for _, field := range ops {
				result = setField(result, field.Name, field.Value)
			}
		case "$unset":
			for _, field := range ops {
				result = unsetField(result, field.Name)
			}
		}
	}
	return result
}

// isOperatorDoc reports whether every top-level key of doc is $-prefixed,
// i.e. doc is a partial-update operator document rather than a full
// replacement document.
func isOperatorDoc(doc bson.D) bool {
	if len(doc) == 0 {
		return false
	}
	for _, elem := range doc {
		if !strings.HasPrefix(elem.Name, "$") {
			return false
		}
	}
	return true
}

func setField(doc bson.D, name string, value interface{}) bson.D {
	for i, elem := range doc {
		if elem.Name == name {
			doc[i].Value = value
			return doc
		}
	}
	return append(doc, bson.DocElem{Name: name, Value: value})
}

func unsetField(doc bson.D, name string) bson.D {
	out := doc[:0]
	for _, elem := range doc {
		if elem.Name != name {
			out = append(out, elem)
		}
	}
	return out
}
