// Package replayer implements the replayer (D) and the worker pool (E):
// grouping oplog entries by namespace, sharding each namespace's entries
// into key-hashed lanes, and fanning the lanes out to a bounded pool of
// writers. Grounded on mongosync/multi_oplog_replayer.py's
// MultiOplogReplayer and, for the worker-pool shape, on
// collector/docsyncer/doc_executor.go's CollectionExecutor/DocExecutor
// channel-fed pattern.
package replayer

import (
	"sync"

	"github.com/divomen/go-mongo-sync/common"
	"github.com/divomen/go-mongo-sync/oplog"
)

// Lane is one ordered, single-namespace slice of operations destined for
// a single bulk write, matching one entry of multi_oplog_replayer.py's
// per-namespace, post-hash grouping.
type Lane struct {
	NS  common.NS
	Ops []oplog.Operation
}

// bulkWriter is the subset of *handler.Writer's API a worker drives,
// narrowed to an interface so tests can substitute a fake and exercise
// the pool's concurrency/barrier behavior without a live destination
// connection.
type bulkWriter interface {
	BulkWrite(db, coll string, ops []oplog.Operation)
}

// Pool is a fixed-size set of writer goroutines fed over a channel, the
// Go analogue of gevent.pool.Pool(n_writers) in multi_oplog_replayer.py
// and structurally identical to CollectionExecutor/DocExecutor's
// docBatch-channel pattern in doc_executor.go, generalized from "insert
// one batch of documents" to "bulk-apply one lane of converted ops".
type Pool struct {
	writer bulkWriter
	jobs   chan Lane
	wg     sync.WaitGroup
}

// NewPool starts workers goroutines immediately; they run until Close is
// called. A Pool is meant to live for the process lifetime of one
// destination connection and be reused across many Replay calls. writer
// is typically a *handler.Writer; tests substitute a fake bulkWriter.
func NewPool(writer bulkWriter, workers int) *Pool {
	if workers <= 0 {
		workers = 1
	}
	p := &Pool{writer: writer, jobs: make(chan Lane, workers)}
	for i := 0; i < workers; i++ {
		go p.run()
	}
	return p
}

func (p *Pool) run() {
	for lane := range p.jobs {
		p.writer.BulkWrite(lane.NS.Database, lane.NS.Collection, lane.Ops)
		p.wg.Done()
	}
}

// submit enqueues one lane and counts it against the wait barrier.
func (p *Pool) submit(lane Lane) {
	p.wg.Add(1)
	p.jobs <- lane
}

// wait blocks until every lane submitted since the last wait has been
// applied, matching multi_oplog_replayer.py's apply() awaiting the full
// gevent pool before returning (spec.md's "await-all barrier per
// flush").
func (p *Pool) wait() {
	p.wg.Wait()
}

// Close stops accepting new lanes and lets the worker goroutines exit.
// Callers must not submit further work afterwards.
func (p *Pool) Close() {
	close(p.jobs)
}
