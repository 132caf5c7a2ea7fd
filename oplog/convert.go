package oplog

import "github.com/vinllen/mgo/bson"

// Action classifies how a raw oplog entry must be dispatched, per the
// conversion table in spec.md §4.3.
type Action int

const (
	// ActionBuffer means the entry converted to an Operation that can be
	// buffered, sharded and bulk-written by the replayer.
	ActionBuffer Action = iota
	// ActionIndexInsert means an "i" entry with no "_id" (a system.indexes
	// style insert) that must be applied directly, not batched.
	ActionIndexInsert
	// ActionCommand means a "c" entry: the replayer must flush whatever is
	// buffered, then apply this command directly against the database.
	ActionCommand
	// ActionSkip means a "n" no-op; drop it.
	ActionSkip
	// ActionUnknown means the "op" field did not match any known value;
	// per spec.md §7 class 5, this is a fatal protocol-drift condition.
	ActionUnknown
)

// Convert maps one raw oplog entry to exactly one Operation, or reports
// that it must bypass the batched path (ActionIndexInsert, ActionCommand,
// ActionSkip, ActionUnknown). It never mutates log.Object/log.Query.
func Convert(log *PartialLog) (Operation, Action) {
	switch log.Operation {
	case OpInsert:
		if log.IsIndexInsert() {
			return Operation{}, ActionIndexInsert
		}
		return Operation{
			Kind:   KindReplace,
			Filter: idFilter(log.Object),
			Doc:    log.Object,
			Upsert: true,
		}, ActionBuffer

	case OpUpdate:
		id, _ := lookup(log.Query, "_id")
		filter := bson.D{{Name: "_id", Value: id}}
		if log.IsPartialUpdate() {
			return Operation{
				Kind:   KindPartialUpdate,
				Filter: filter,
				Doc:    stripVersionField(log.Object),
			}, ActionBuffer
		}
		return Operation{
			Kind:   KindReplace,
			Filter: filter,
			Doc:    log.Object,
			Upsert: true,
		}, ActionBuffer

	case OpDelete:
		return Operation{
			Kind:   KindDelete,
			Filter: idFilter(log.Object),
		}, ActionBuffer

	case OpCommand:
		return Operation{}, ActionCommand

	case OpNoop:
		return Operation{}, ActionSkip

	default:
		return Operation{}, ActionUnknown
	}
}

// idFilter builds a {_id: doc._id} filter, matching the batched-path
// narrowing called out in spec.md §9's first Open Question.
func idFilter(doc bson.D) bson.D {
	id, _ := lookup(doc, "_id")
	return bson.D{{Name: "_id", Value: id}}
}

// ConvertSingle maps one raw oplog entry to an Operation the same way
// Convert does, except it preserves the Open Question distinction from
// spec.md §9: the batched replayer path (Convert) always narrows an
// update/delete filter to {_id: ...}, but the single-op apply path
// (handler.Writer.ApplyOplog, used for command flush boundaries and the
// mongos shard-key fallback) keeps the raw "o2" (update) or "o" (delete)
// document as the filter verbatim, matching
// mongosync/mongo/handler.py:apply_oplog's "self._dc[ns].update(oplog['o2'],
// oplog['o'])" / "self._dc[ns].delete_one(oplog['o'])" — neither call
// narrows to _id, so a primary-emitted non-_id match condition (if any)
// is preserved instead of silently dropped.
func ConvertSingle(log *PartialLog) (Operation, Action) {
	switch log.Operation {
	case OpUpdate:
		if log.IsPartialUpdate() {
			return Operation{
				Kind:   KindPartialUpdate,
				Filter: log.Query,
				Doc:    stripVersionField(log.Object),
			}, ActionBuffer
		}
		return Operation{
			Kind:   KindReplace,
			Filter: log.Query,
			Doc:    log.Object,
			Upsert: true,
		}, ActionBuffer

	case OpDelete:
		return Operation{
			Kind:   KindDelete,
			Filter: log.Object,
		}, ActionBuffer

	default:
		return Convert(log)
	}
}

// stripVersionField removes a top-level "$v" key (a wire-protocol version
// tag the source server attaches to update operator documents) so the
// destination does not reject it, per spec.md §4.3's rationale.
func stripVersionField(doc bson.D) bson.D {
	out := make(bson.D, 0, len(doc))
	for _, elem := range doc {
		if elem.Name == "$v" {
			continue
		}
		out = append(out, elem)
	}
	return out
}
