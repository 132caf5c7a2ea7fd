// Package config holds the in-memory options a driver loop constructs
// and passes down to collector.Coordinator. Deliberately has no
// file/flag parsing: spec.md's component table treats "configuration
// loading" as an external collaborator the core is not responsible for,
// so there is no SPEC_FULL.md component for a config *loader* to serve
// (see DESIGN.md).
package config

import "time"

// Options mirrors the knobs collector/syncer.go reads off conf.Options
// (FetcherBufferCapacity, CheckpointInterval, OplogGIDS, ShardKey, ...),
// trimmed to what this bridge's single-source, single-destination scope
// needs.
type Options struct {
	// SourceAddrs/SourceReplSet identify the oplog to tail.
	SourceAddrs    []string
	SourceReplSet  string
	SourceUsername string
	SourcePassword string

	// DestAddrs/DestReplSet identify the write destination. DestReplSet
	// may be empty for a standalone or mongos destination.
	DestAddrs    []string
	DestReplSet  string
	DestUsername string
	DestPassword string

	// GID is the group id tailer.Reader's self-loop guard drops: source
	// entries whose "g" field equals it are skipped when two bridges
	// chain. The bridge does not stamp GID on the writes it applies.
	GID string

	// NamespaceWhite/NamespaceBlack configure filter.NamespaceFilter.
	NamespaceWhite []string
	NamespaceBlack []string

	// SourceGIDs, when non-empty, configures filter.GidFilter as a
	// positive allowlist: only entries tagged with one of these group ids
	// are replayed. Distinct from GID/tailer.Reader's self-loop guard —
	// this is for accepting only a subset of a multi-origin tagged source,
	// not for dropping this bridge's own writes.
	SourceGIDs []string

	// DMLOnly, when true, wires filter.DDLFilter into the chain so
	// command ("c") entries never reach the converter: only data writes
	// are replayed, schema/collection changes are left for the operator
	// to apply out of band.
	DMLOnly bool

	// FlushInterval and FlushBatchSize decide when the driver loop ends
	// a Buffering phase and transitions to Grouping (spec.md §4.4):
	// whichever bound is hit first triggers a flush.
	FlushInterval  time.Duration
	FlushBatchSize int

	// ReplayBatchSize is the lane-sharding batch size multi_oplog_replayer.py
	// calls batch_size (default 40): replayer.NewReplayer uses it to pick
	// how many lanes a namespace's ops are spread across.
	ReplayBatchSize int

	// ShardKey selects how a namespace's entries are distributed across
	// lanes: oplog.ShardByID (the default, hash the document's "_id") or
	// oplog.ShardByNamespace (hash the whole namespace into one lane per
	// collection, for a destination whose unique indexes make
	// per-document reordering across the collection unsafe). Empty uses
	// oplog.ShardByID.
	ShardKey string

	// Workers is the worker pool size (E), gevent.pool.Pool(n_writers)'s
	// analogue.
	Workers int

	// IgnoreDupKey mirrors handler.py's ignore_duplicate_key_error: when
	// true, a duplicate-key write error is logged and skipped rather
	// than treated as fatal (spec.md §7, class 2).
	IgnoreDupKey bool
}

// Default returns the Python original's defaults: batch_size=40,
// n_writers=10 (mongosync/multi_oplog_replayer.py), plus a conservative
// time-based flush bound this bridge adds since it has no REPL/CLI loop
// deciding flush cadence for it.
func Default() Options {
	return Options{
		FlushInterval:   1 * time.Second,
		FlushBatchSize:  1000,
		ReplayBatchSize: 40,
		Workers:         10,
	}
}
