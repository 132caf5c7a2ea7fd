package collector

import (
	"time"

	"github.com/gugemichael/nimo4go"
	LOG "github.com/vinllen/log4go"

	"github.com/divomen/go-mongo-sync/ckpt"
	"github.com/divomen/go-mongo-sync/common"
	"github.com/divomen/go-mongo-sync/config"
	"github.com/divomen/go-mongo-sync/filter"
	"github.com/divomen/go-mongo-sync/metrics"
	"github.com/divomen/go-mongo-sync/oplog"
	"github.com/divomen/go-mongo-sync/quorum"
	"github.com/divomen/go-mongo-sync/replayer"
	"github.com/divomen/go-mongo-sync/tailer"
)

const (
	// FilterCheckpointGap bounds how long the checkpoint may lag behind
	// the newest fetched entry while everything is being filtered out;
	// past this the syncer force-advances the marker so an all-filtered
	// stream still makes checkpoint progress.
	FilterCheckpointGap = 180 * time.Second
)

// OplogSyncer drives the Buffering → Grouping → Sharding → Dispatching
// → Waiting → Done flush state machine (spec.md §4.4) for a single
// source. Adapted from collector/syncer.go:OplogSyncer, trimmed of the
// deserializer-queue fan-out (pendingQueue/logsQueue, CPU-parallel BSON
// decode workers): this bridge's bottleneck is the destination write
// path, not oplog decode, so entries are decoded inline by tailer.Reader
// as they're read.
type OplogSyncer struct {
	replset string

	reader   *tailer.Reader
	replayer *replayer.Replayer
	ckpt     *ckpt.Manager
	chain    filter.Chain
	metric   *metrics.Metric

	opts config.Options

	buffer         []*oplog.PartialLog
	lastFilterSeen time.Time
}

// NewOplogSyncer wires the filter chain exactly as the teacher does —
// AutologousFilter, NoopFilter, then whichever optional filters the
// configuration asks for: NamespaceFilter for an allow/deny list,
// GidFilter to accept only a subset of a tagged multi-origin source, and
// DDLFilter for a data-only replication mode. The self-loop guard
// (dropping entries tagged with this bridge's own GID) lives in
// tailer.Reader instead of the chain: that's a different question from
// GidFilter's positive allowlist ("keep only these gids").
func NewOplogSyncer(replset string, reader *tailer.Reader, replay *replayer.Replayer,
	ckptMgr *ckpt.Manager, opts config.Options) *OplogSyncer {

	chain := filter.Chain{filter.AutologousFilter{}, filter.NoopFilter{}}
	if len(opts.NamespaceWhite) > 0 || len(opts.NamespaceBlack) > 0 {
		chain = append(chain, filter.NewNamespaceFilter(opts.NamespaceWhite, opts.NamespaceBlack))
	}
	if len(opts.SourceGIDs) > 0 {
		chain = append(chain, filter.NewGidFilter(opts.SourceGIDs))
	}
	if opts.DMLOnly {
		chain = append(chain, filter.DDLFilter{})
	}

	return &OplogSyncer{
		replset:  replset,
		reader:   reader,
		replayer: replay,
		ckpt:     ckptMgr,
		chain:    chain,
		metric:   metrics.New(),
		opts:     opts,
	}
}

// Start runs the poll loop forever: pull entries off the tailer, buffer
// them, and flush on whichever bound — count or time — is hit first.
// Matches OplogSyncer.start/poll/next/transfer's "poll, buffer, flush on
// threshold" shape, minus the separate deserializer stage.
func (s *OplogSyncer) Start() {
	if err := s.reader.Start(s.ckpt.Get()); err != nil {
		LOG.Error("oplog reader start failed for %s: %v", s.replset, err)
	}

	nimo.GoRoutine(func() {
		ticker := time.NewTicker(s.opts.FlushInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				s.flush(true)
			default:
				s.poll()
			}
		}
	})
}

// poll pulls the next entry and buffers it, triggering a count-based
// flush once FlushBatchSize is reached — matching next()/transfer()'s
// "len(sync.buffer) >= conf.Options.FetcherBufferCapacity" check. A nil
// return from Next means the source is idle right now; poll yields back
// to Start's select immediately instead of buffering anything, so a
// ticker-triggered flush is never starved behind an indefinite wait.
func (s *OplogSyncer) poll() {
	log := s.reader.Next()
	if log == nil {
		return
	}
	if !quorum.IsMaster() {
		return
	}

	s.metric.AddGet(1)
	s.metric.SetLSN(common.TimestampToInt64(log.Timestamp))

	if s.chain.Filter(log) {
		if s.lastFilterSeen.IsZero() {
			s.lastFilterSeen = time.Now()
		}
		return
	}

	s.buffer = append(s.buffer, log)
	s.lastFilterSeen = time.Time{}

	if len(s.buffer) >= s.opts.FlushBatchSize {
		s.flush(false)
	}
}

// flush runs Grouping → Sharding → Dispatching → Waiting → Done over the
// buffered entries (spec.md §4.4) and advances the checkpoint to the
// newest buffered ts. barrier distinguishes a time-triggered flush (may
// run on an empty buffer, still checked for checkpoint-gap advance) from
// a count-triggered one.
func (s *OplogSyncer) flush(barrier bool) {
	if len(s.buffer) == 0 {
		if barrier {
			s.checkFilterGap()
		}
		return
	}

	batch := s.buffer
	s.buffer = nil

	newest := batch[len(batch)-1].Timestamp
	s.replayer.Replay(batch)

	// Replay only returns once every lane's bulk write has been
	// acknowledged under w:1, so the destination has confirmed everything
	// up to newest by this point.
	s.metric.SetLSNAck(common.TimestampToInt64(newest))
	s.metric.AddApplied(int64(len(batch)))
	s.metric.AddSuccess(int64(len(batch)))
	s.ckpt.Set(newest)
	s.metric.SetLSNCheckpoint(common.TimestampToInt64(newest))

	LOG.Info("%s flushed %d ops, checkpoint now %v (unix %d)", s.replset, len(batch), newest,
		common.ExtractMongoTimestamp(newest))
}

// checkFilterGap force-advances the checkpoint once the stream has gone
// quiet (nothing but filtered-out entries) for FilterCheckpointGap,
// matching startBatcher's "filterNewestTs-FilterCheckpointGap >
// checkpointTs" mandatory-update branch — otherwise a collection
// receiving only filtered writes would never advance its resume marker.
func (s *OplogSyncer) checkFilterGap() {
	if s.lastFilterSeen.IsZero() {
		return
	}
	if time.Since(s.lastFilterSeen) < FilterCheckpointGap {
		return
	}
	newest := common.Int64ToTimestamp(s.metric.LSN())
	s.ckpt.Set(newest)
	s.metric.SetLSNCheckpoint(s.metric.LSN())
	LOG.Info("%s checkpoint force-advanced to %v (unix %d) after filter gap", s.replset, newest,
		common.ExtractMongoTimestamp(newest))
}

// Metric exposes the syncer's counters for a caller-owned status report.
func (s *OplogSyncer) Metric() *metrics.Metric {
	return s.metric
}
