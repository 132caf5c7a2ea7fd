// Package quorum answers "is this process the one that should be
// replaying right now". MongoShake's production build answers this with
// a multi-node election (utils.Sentinel, quorum.go) so that a standby
// collector can take over if the active one dies; spec.md describes a
// single-source bridge with no competing replicas; see DESIGN.md's Open
// Question decision for why this is kept as a stub rather than ported.
package quorum

// IsMaster always reports true: this bridge assumes it is the only
// writer for its configured source, so it never defers to a peer.
func IsMaster() bool {
	return true
}
