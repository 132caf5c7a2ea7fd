package filter

import (
	"strings"

	"github.com/divomen/go-mongo-sync/oplog"
)

// NamespaceFilter supplements spec.md §4.2's caller-supplied namespace
// predicate with an explicit, inspectable whitelist/blacklist, matching
// filter.NewNamespaceFilter(white, black) in collector/syncer.go. A
// namespace may be an exact "db.coll" or a bare "db" to match every
// collection in that database.
type NamespaceFilter struct {
	white map[string]struct{}
	black map[string]struct{}
}

func NewNamespaceFilter(white, black []string) *NamespaceFilter {
	return &NamespaceFilter{white: toSet(white), black: toSet(black)}
}

func toSet(list []string) map[string]struct{} {
	if len(list) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(list))
	for _, ns := range list {
		set[ns] = struct{}{}
	}
	return set
}

// Filter reports true (drop) when ns is blacklisted, or when a whitelist
// is configured and ns is not in it. Matching is by exact namespace or by
// owning database. A "$cmd" entry has no collection of its own — it can
// affect every collection in its database — so it is checked at database
// granularity instead: it matches a list if any entry in that list names
// the database itself or a collection under it.
func (f *NamespaceFilter) Filter(log *oplog.PartialLog) bool {
	ns := log.Namespace
	db := log.Database()

	if IsCommandNamespace(ns) {
		if matchesDatabase(f.black, db) {
			return true
		}
		if f.white != nil && !matchesDatabase(f.white, db) {
			return true
		}
		return false
	}

	if matches(f.black, ns, db) {
		return true
	}
	if f.white != nil && !matches(f.white, ns, db) {
		return true
	}
	return false
}

func matches(set map[string]struct{}, ns, db string) bool {
	if set == nil {
		return false
	}
	if _, ok := set[ns]; ok {
		return true
	}
	_, ok := set[db]
	return ok
}

// matchesDatabase reports whether set contains db itself or any
// "db.collection" entry under it.
func matchesDatabase(set map[string]struct{}, db string) bool {
	if set == nil {
		return false
	}
	if _, ok := set[db]; ok {
		return true
	}
	prefix := db + "."
	for ns := range set {
		if strings.HasPrefix(ns, prefix) {
			return true
		}
	}
	return false
}

// IsCommandNamespace reports whether ns is a "$cmd" pseudo-collection,
// used by Filter to check a command entry's *database* (rather than a
// specific collection) against a namespace filter.
func IsCommandNamespace(ns string) bool {
	return strings.HasSuffix(ns, ".$cmd")
}
