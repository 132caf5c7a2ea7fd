// Package tailer implements the oplog tailer (B): a resumable, blocking
// iterator over local.oplog.rs entries, grounded on
// mongosync/mongo/handler.py:tail_oplog and the tailable-await retry loop
// from dailymotion-oplog's use of mgo's Tail cursor.
package tailer

import (
	"time"

	LOG "github.com/vinllen/log4go"
	"github.com/vinllen/mgo"
	"github.com/vinllen/mgo/bson"

	"github.com/divomen/go-mongo-sync/handler"
	"github.com/divomen/go-mongo-sync/oplog"
)

const (
	oplogDatabase   = "local"
	oplogCollection = "oplog.rs"

	// tailTimeout bounds how long a single Tail call blocks waiting for a
	// new document before returning control so the caller can check for
	// shutdown; it does not bound how long the tailer runs overall.
	tailTimeout = 10 * time.Second
)

// Reader tails local.oplog.rs from a resumable position, filtering out
// any entry whose "g" field equals the configured own GID (self-loop
// guard, spec.md §4.4) before handing entries to the caller. Namespace
// filtering is not done here: the caller's filter chain applies it.
type Reader struct {
	conn *handler.Connection
	iter *mgo.Iter

	// lastTs is the timestamp of the most recently returned entry (or the
	// position Start was called with, before the first entry). reopen
	// uses it to rebuild the cursor at the same place after a disconnect,
	// since the query itself is gone once the cursor is torn down.
	lastTs bson.MongoTimestamp

	// ownGID, if non-empty, is the group id treated as this bridge's own;
	// reads whose "g" field carries it are dropped here, before the filter
	// chain ever sees them, to prevent a replication loop. Nothing in this
	// module stamps it on the writes the bridge applies.
	ownGID string
}

func NewReader(conn *handler.Connection, ownGID string) *Reader {
	return &Reader{conn: conn, ownGID: ownGID}
}

// Start positions the tailer at startPosition (inclusive) and
// opens a tailable, awaitData cursor, matching tail_oplog's query shape:
// {ts: {$gte: start}, fromMigrate: {$exists: false}}, no_cursor_timeout.
func (r *Reader) Start(startPosition bson.MongoTimestamp) error {
	r.lastTs = startPosition
	session := r.conn.Session()
	if session == nil {
		return errNotConnected
	}
	r.openCursor(session)
	return nil
}

// openCursor (re)opens the tailable cursor at r.lastTs against a live
// session. Called both by Start and by reopen after a reconnect.
func (r *Reader) openCursor(session *mgo.Session) {
	query := bson.D{
		{Name: "ts", Value: bson.M{"$gte": r.lastTs}},
		{Name: "fromMigrate", Value: bson.M{"$exists": false}},
	}
	r.iter = session.DB(oplogDatabase).C(oplogCollection).
		Find(query).
		LogReplay().
		Tail(tailTimeout)
}

var errNotConnected = &tailerError{"tailer: connection not ready"}

type tailerError struct{ msg string }

func (e *tailerError) Error() string { return e.msg }

// Next returns the next oplog entry, or nil if none is available right
// now (an awaitData wakeup with nothing new). It transparently retries on
// transient disconnect and reopens the cursor as needed, matching
// tail_oplog's caller (apply_oplog's outer "while True" consume loop) and
// handler.py's blanket AutoReconnect handling. Returning nil on a bare
// timeout, rather than looping internally until data arrives, lets the
// caller's driver loop alternate fairly between polling and its own
// time-triggered flush check instead of blocking here indefinitely.
func (r *Reader) Next() *oplog.PartialLog {
	for {
		if r.iter == nil {
			r.reopen()
			continue
		}

		log := &oplog.PartialLog{}
		if r.iter.Next(log) {
			r.lastTs = log.Timestamp
			if r.ownGID != "" && log.GID == r.ownGID {
				continue
			}
			return log
		}

		if r.iter.Timeout() {
			return nil
		}

		err := r.iter.Err()
		if err == nil {
			// Cursor exhausted without error: the oplog collection was
			// recreated (resync) underneath us. Re-open from scratch.
			LOG.Warn("oplog cursor exhausted unexpectedly, reopening")
			r.iter = nil
			continue
		}

		if handler.IsTransientDisconnect(err) {
			LOG.Error("oplog tail lost connection: %v", err)
			r.conn.Reconnect()
			r.iter = nil
			continue
		}

		LOG.Error("oplog tail cursor error, reopening: %v", err)
		r.iter = nil
	}
}

// reopen re-establishes the cursor at lastTs after a connection loss or
// unexpected cursor exhaustion, reconnecting first if the session itself
// was lost. A small overlap at lastTs is possible ($gte is inclusive);
// the converter's idempotent upsert/delete operations tolerate the
// occasional replayed entry.
func (r *Reader) reopen() {
	session := r.conn.Session()
	if session == nil {
		r.conn.Reconnect()
		session = r.conn.Session()
		if session == nil {
			return
		}
	}
	r.openCursor(session)
}

// Close releases the underlying cursor, if any.
func (r *Reader) Close() {
	if r.iter != nil {
		r.iter.Close()
		r.iter = nil
	}
}
