// Package filter composes the predicate chain the teacher's OplogSyncer
// builds in front of the batcher (collector/syncer.go: "filterList :=
// filter.OplogFilterChain{...}"), deciding which raw oplog entries never
// reach the converter at all.
package filter

import "github.com/divomen/go-mongo-sync/oplog"

// Filter reports whether an entry should be dropped before conversion.
type Filter interface {
	Filter(log *oplog.PartialLog) bool
}

// Chain drops an entry if any member filter says so, matching the
// teacher's "drop the oplog if any of the filter list returns true"
// semantics; filter order is not significant.
type Chain []Filter

func (c Chain) Filter(log *oplog.PartialLog) bool {
	for _, f := range c {
		if f.Filter(log) {
			return true
		}
	}
	return false
}

// AutologousFilter drops entries the bridge itself would never need to
// replay: the source's own "local" database and admin bookkeeping
// namespaces. Grounded on the teacher's AutologousFilter in the same
// constructor call.
type AutologousFilter struct{}

func (AutologousFilter) Filter(log *oplog.PartialLog) bool {
	db := log.Database()
	return db == "local" || db == "admin" || db == "config"
}

// NoopFilter drops "n" entries before they ever reach the converter,
// which would otherwise just discard them one at a time.
type NoopFilter struct{}

func (NoopFilter) Filter(log *oplog.PartialLog) bool {
	return log.Operation == oplog.OpNoop
}

// DDLFilter drops command ("c") entries when the caller only wants data
// replicated, not schema/collection changes. Grounded on
// "conf.Options.ReplayerDMLOnly" gating filter.DDLFilter in
// collector/syncer.go.
type DDLFilter struct{}

func (DDLFilter) Filter(log *oplog.PartialLog) bool {
	return log.Operation == oplog.OpCommand
}

// GidFilter keeps only entries tagged with one of a set of group ids (the
// "g" field some tagged-replication sources attach), or passes everything
// through untouched when no ids are configured. Grounded on
// filter.NewGidFilter(gids) in collector/syncer.go; gids is typically
// empty, in which case every entry passes.
type GidFilter struct {
	ids map[string]struct{}
}

func NewGidFilter(gids []string) *GidFilter {
	if len(gids) == 0 {
		return &GidFilter{}
	}
	ids := make(map[string]struct{}, len(gids))
	for _, g := range gids {
		ids[g] = struct{}{}
	}
	return &GidFilter{ids: ids}
}

func (f *GidFilter) Filter(log *oplog.PartialLog) bool {
	if len(f.ids) == 0 {
		return false
	}
	_, ok := f.ids[log.GID]
	return !ok
}
