package oplog

import (
	"fmt"

	"github.com/spaolacci/murmur3"
)

// Hasher assigns a replay lane or shard bucket to an oplog entry. The
// teacher (collector/syncer.go) selects one of these by
// conf.Options.ShardKey when building an OplogSyncer.
type Hasher interface {
	// DistributeOplogByMod returns a deterministic, non-negative bucket
	// index for log, modulo mod.
	DistributeOplogByMod(log *PartialLog, mod int) int
}

// PrimaryKeyHasher shards by the document's "_id", so that every operation
// touching the same document lands in the same lane regardless of which
// namespace it belongs to. This is the replayer's default hasher when
// sharding a single namespace bucket into lanes (spec.md §4.4).
type PrimaryKeyHasher struct{}

func (PrimaryKeyHasher) DistributeOplogByMod(log *PartialLog, mod int) int {
	id, ok := log.DocumentID()
	if !ok {
		return 0
	}
	return HashMod(id, mod)
}

// TableHasher shards by namespace, so that every operation in a given
// collection is handled by the same concurrency unit. Used when the
// source has unique indexes and per-document reordering across a
// namespace would be unsafe for uniqueness constraints. replayer.NewReplayer
// selects it only for ShardByNamespace; ShardAutomatic does not select it.
type TableHasher struct{}

func (TableHasher) DistributeOplogByMod(log *PartialLog, mod int) int {
	return HashMod(log.Namespace, mod)
}

// HashMod hashes the string form of v with murmur3 (the Go analogue of the
// Python original's mmh3.hash) and reduces it modulo mod. mod <= 0 always
// returns 0. On any failure to hash, lane 0 is returned — safe because it
// still assigns the same id to the same lane deterministically
// (spec.md §4.4 "tie-breaks").
func HashMod(v interface{}, mod int) int {
	if mod <= 0 {
		return 0
	}
	s := fmt.Sprintf("%v", v)
	h := murmur3.Sum32([]byte(s))
	return int(h) % mod
}
