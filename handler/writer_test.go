package handler

import (
	"errors"
	"os"
	"os/exec"
	"reflect"
	"testing"

	"github.com/vinllen/mgo"
	"github.com/vinllen/mgo/bson"

	"github.com/divomen/go-mongo-sync/oplog"
)

// fakeConn is a writerConn that never dials anything: once newCollection
// or newDatabase is set on a Writer, collection()/database() bypass
// Session() entirely, so Reconnect only needs to be a no-op counter.
type fakeConn struct {
	mongos     bool
	reconnects int
}

func (f *fakeConn) Session() *mgo.Session { return nil }
func (f *fakeConn) Reconnect()            { f.reconnects++ }
func (f *fakeConn) IsMongos() bool        { return f.mongos }

// fakeBulk returns runResults[i] from its i-th Run call (nil once the
// list is exhausted), simulating a transient failure that clears up on
// retry without ever touching a live mongod.
type fakeBulk struct {
	runResults []error
	runCalls   int
}

func (b *fakeBulk) Unordered()                      {}
func (b *fakeBulk) Upsert(pairs ...interface{})     {}
func (b *fakeBulk) Update(pairs ...interface{})     {}
func (b *fakeBulk) Remove(selectors ...interface{}) {}
func (b *fakeBulk) Run() (*mgo.BulkResult, error) {
	var err error
	if b.runCalls < len(b.runResults) {
		err = b.runResults[b.runCalls]
	}
	b.runCalls++
	return &mgo.BulkResult{}, err
}

// fakeCollection is a collectionOps whose behavior per method is
// supplied by optional function fields, defaulting to an unconditional
// success; it records what was attempted so tests can assert on it.
type fakeCollection struct {
	bulk *fakeBulk

	upsertFunc    func(selector, update interface{}) (*mgo.ChangeInfo, error)
	updateFunc    func(selector, update interface{}) error
	removeFunc    func(selector interface{}) error
	removeAllFunc func(selector interface{}) (*mgo.ChangeInfo, error)
	insertFunc    func(docs ...interface{}) error
	findOneFunc   func(query, result interface{}) error

	upsertCalls  int
	insertedDocs []interface{}
}

func (c *fakeCollection) Bulk() bulkOps { return c.bulk }

func (c *fakeCollection) Upsert(selector, update interface{}) (*mgo.ChangeInfo, error) {
	c.upsertCalls++
	if c.upsertFunc != nil {
		return c.upsertFunc(selector, update)
	}
	return &mgo.ChangeInfo{}, nil
}

func (c *fakeCollection) Update(selector, update interface{}) error {
	if c.updateFunc != nil {
		return c.updateFunc(selector, update)
	}
	return nil
}

func (c *fakeCollection) Remove(selector interface{}) error {
	if c.removeFunc != nil {
		return c.removeFunc(selector)
	}
	return nil
}

func (c *fakeCollection) RemoveAll(selector interface{}) (*mgo.ChangeInfo, error) {
	if c.removeAllFunc != nil {
		return c.removeAllFunc(selector)
	}
	return &mgo.ChangeInfo{Removed: 1}, nil
}

func (c *fakeCollection) Insert(docs ...interface{}) error {
	c.insertedDocs = append(c.insertedDocs, docs...)
	if c.insertFunc != nil {
		return c.insertFunc(docs...)
	}
	return nil
}

func (c *fakeCollection) FindOne(query, result interface{}) error {
	if c.findOneFunc != nil {
		return c.findOneFunc(query, result)
	}
	return nil
}

func replaceOp() oplog.Operation {
	return oplog.Operation{
		Kind:   oplog.KindReplace,
		Filter: bson.D{{Name: "_id", Value: 1}},
		Doc:    bson.D{{Name: "_id", Value: 1}},
	}
}

func TestBulkWriteRetriesOnTransientDisconnect(t *testing.T) {
	bulk := &fakeBulk{runResults: []error{errors.New("read tcp 1.2.3.4:1234: EOF"), nil}}
	coll := &fakeCollection{bulk: bulk}
	conn := &fakeConn{}
	w := &Writer{conn: conn, newCollection: func(db, c string) collectionOps { return coll }}

	w.BulkWrite("test", "coll", []oplog.Operation{replaceOp()})

	if bulk.runCalls != 2 {
		t.Fatalf("expected bulk.Run to be attempted twice (fail then succeed), got %d", bulk.runCalls)
	}
	if conn.reconnects != 1 {
		t.Fatalf("expected exactly one reconnect after the transient failure, got %d", conn.reconnects)
	}
}

func TestBulkWriteDegradesOnNonTransientFailure(t *testing.T) {
	bulk := &fakeBulk{runResults: []error{errors.New("some other write error")}}
	coll := &fakeCollection{bulk: bulk}
	conn := &fakeConn{}
	w := &Writer{conn: conn, newCollection: func(db, c string) collectionOps { return coll }}

	w.BulkWrite("test", "coll", []oplog.Operation{replaceOp()})

	if bulk.runCalls != 1 {
		t.Fatalf("expected bulk.Run to be attempted once before degrading, got %d", bulk.runCalls)
	}
	if coll.upsertCalls != 1 {
		t.Fatalf("expected degradeToSerial to retry the op via a plain Upsert, got %d calls", coll.upsertCalls)
	}
}

func TestDegradeToSerialSkipsDuplicateKeyWhenIgnored(t *testing.T) {
	dupErr := &mgo.LastError{Code: 11000}
	coll := &fakeCollection{
		upsertFunc: func(selector, update interface{}) (*mgo.ChangeInfo, error) { return nil, dupErr },
	}
	conn := &fakeConn{}
	w := &Writer{conn: conn, ignoreDupKey: true, newCollection: func(db, c string) collectionOps { return coll }}

	w.degradeToSerial("test", "coll", []oplog.Operation{replaceOp()})

	if coll.upsertCalls != 1 {
		t.Fatalf("expected exactly one upsert attempt before the duplicate was swallowed, got %d", coll.upsertCalls)
	}
}

// TestDegradeToSerialAbortsOnDuplicateKeyWhenNotIgnored exercises the
// abort branch (ignoreDupKey=false) by re-executing this test binary as a
// subprocess: common.FatalErr calls os.Exit directly, so invoking it
// in-process would kill the real test run.
func TestDegradeToSerialAbortsOnDuplicateKeyWhenNotIgnored(t *testing.T) {
	if os.Getenv("GO_WRITER_TEST_ABORT_ON_DUP_KEY") == "1" {
		dupErr := &mgo.LastError{Code: 11000}
		coll := &fakeCollection{
			upsertFunc: func(selector, update interface{}) (*mgo.ChangeInfo, error) { return nil, dupErr },
		}
		conn := &fakeConn{}
		w := &Writer{conn: conn, ignoreDupKey: false, newCollection: func(db, c string) collectionOps { return coll }}
		w.degradeToSerial("test", "coll", []oplog.Operation{replaceOp()})
		return
	}

	cmd := exec.Command(os.Args[0], "-test.run=^TestDegradeToSerialAbortsOnDuplicateKeyWhenNotIgnored$")
	cmd.Env = append(os.Environ(), "GO_WRITER_TEST_ABORT_ON_DUP_KEY=1")
	err := cmd.Run()
	if err == nil {
		t.Fatal("expected the subprocess to abort on an unignored duplicate key")
	}
	exitErr, ok := err.(*exec.ExitError)
	if !ok {
		t.Fatalf("expected an *exec.ExitError, got %T: %v", err, err)
	}
	if exitErr.ExitCode() != 1 {
		t.Fatalf("expected exit code 1, got %d", exitErr.ExitCode())
	}
}

func TestApplyOplogShardKeyFallbackFullReplacement(t *testing.T) {
	immutableErr := errors.New("After applying the update, the (immutable) field 'shardKey' was found to have been altered")
	old := bson.D{{Name: "_id", Value: 1}, {Name: "shardKey", Value: "a"}, {Name: "extra", Value: "keep"}}
	newDoc := bson.D{{Name: "_id", Value: 1}, {Name: "shardKey", Value: "b"}}

	coll := &fakeCollection{
		upsertFunc: func(selector, update interface{}) (*mgo.ChangeInfo, error) { return nil, immutableErr },
		findOneFunc: func(query, result interface{}) error {
			*result.(*bson.D) = old
			return nil
		},
	}
	conn := &fakeConn{mongos: true}
	w := &Writer{conn: conn, newCollection: func(db, c string) collectionOps { return coll }}

	log := &oplog.PartialLog{
		Operation: oplog.OpUpdate,
		Namespace: "test.coll",
		Query:     bson.D{{Name: "_id", Value: 1}},
		Object:    newDoc,
	}
	w.ApplyOplog(log)

	if len(coll.insertedDocs) != 1 {
		t.Fatalf("expected exactly one insert after the fallback delete, got %d", len(coll.insertedDocs))
	}
	inserted, ok := coll.insertedDocs[0].(bson.D)
	if !ok {
		t.Fatalf("expected inserted doc to be bson.D, got %T", coll.insertedDocs[0])
	}
	if !reflect.DeepEqual(inserted, newDoc) {
		t.Fatalf("expected the full replacement document to be reinserted verbatim, got %v", inserted)
	}
}

func TestApplyOplogShardKeyFallbackPartialUpdate(t *testing.T) {
	immutableErr := errors.New("the (immutable) field 'shardKey' was found to have been altered")
	old := bson.D{{Name: "_id", Value: 1}, {Name: "shardKey", Value: "a"}, {Name: "extra", Value: "keep"}}
	update := bson.D{{Name: "$set", Value: bson.D{{Name: "shardKey", Value: "b"}}}}

	coll := &fakeCollection{
		updateFunc: func(selector, newValue interface{}) error { return immutableErr },
		findOneFunc: func(query, result interface{}) error {
			*result.(*bson.D) = old
			return nil
		},
	}
	conn := &fakeConn{mongos: true}
	w := &Writer{conn: conn, newCollection: func(db, c string) collectionOps { return coll }}

	log := &oplog.PartialLog{
		Operation: oplog.OpUpdate,
		Namespace: "test.coll",
		Query:     bson.D{{Name: "_id", Value: 1}},
		Object:    update,
	}
	w.ApplyOplog(log)

	if len(coll.insertedDocs) != 1 {
		t.Fatalf("expected exactly one insert after the fallback delete, got %d", len(coll.insertedDocs))
	}
	inserted, ok := coll.insertedDocs[0].(bson.D)
	if !ok {
		t.Fatalf("expected inserted doc to be bson.D, got %T", coll.insertedDocs[0])
	}

	var shardKey, extra interface{}
	for _, elem := range inserted {
		switch elem.Name {
		case "shardKey":
			shardKey = elem.Value
		case "extra":
			extra = elem.Value
		}
	}
	if shardKey != "b" {
		t.Fatalf("expected shardKey merged onto the old document to be 'b', got %v", shardKey)
	}
	if extra != "keep" {
		t.Fatalf("expected the untouched field to survive the merge, got %v", extra)
	}
}

func TestApplyOplogSkipsFallbackWhenNotMongos(t *testing.T) {
	immutableErr := errors.New("the (immutable) field '_id' was found to have been altered")
	coll := &fakeCollection{
		upsertFunc: func(selector, update interface{}) (*mgo.ChangeInfo, error) { return nil, immutableErr },
	}
	conn := &fakeConn{mongos: false}
	w := &Writer{conn: conn, newCollection: func(db, c string) collectionOps { return coll }}

	log := &oplog.PartialLog{
		Operation: oplog.OpUpdate,
		Namespace: "test.coll",
		Query:     bson.D{{Name: "_id", Value: 1}},
		Object:    bson.D{{Name: "_id", Value: 1}},
	}

	if os.Getenv("GO_WRITER_TEST_NONMONGOS_FATAL") == "1" {
		w.ApplyOplog(log)
		return
	}

	cmd := exec.Command(os.Args[0], "-test.run=^TestApplyOplogSkipsFallbackWhenNotMongos$")
	cmd.Env = append(os.Environ(), "GO_WRITER_TEST_NONMONGOS_FATAL=1")
	err := cmd.Run()
	if err == nil {
		t.Fatal("expected a non-mongos immutable-field error to abort rather than fall back")
	}
	exitErr, ok := err.(*exec.ExitError)
	if !ok {
		t.Fatalf("expected an *exec.ExitError, got %T: %v", err, err)
	}
	if exitErr.ExitCode() != 1 {
		t.Fatalf("expected exit code 1, got %d", exitErr.ExitCode())
	}
}
