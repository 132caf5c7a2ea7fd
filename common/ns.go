// Package common holds small cross-package helpers the teacher keeps in
// "mongoshake/common" (utils.NS, utils.ExtractMongoTimestamp, ...).
package common

import "strings"

// NS is a parsed "db.coll" namespace, grounded on utils.NS (referenced
// throughout collector/docsyncer) and mongo_utils.py's
// parse_namespace/gen_namespace pair.
type NS struct {
	Database   string
	Collection string
}

func (ns NS) Str() string {
	return ns.Database + "." + ns.Collection
}

// NewNS splits "db.coll" on the first '.', matching
// mongo_utils.py:parse_namespace.
func NewNS(namespace string) NS {
	i := strings.IndexByte(namespace, '.')
	if i < 0 {
		return NS{Database: namespace}
	}
	return NS{Database: namespace[:i], Collection: namespace[i+1:]}
}
