// Package ckpt persists and recovers the resume marker: the ts of the
// last oplog entry successfully flushed (spec.md §3 "Resume marker").
// Grounded on collector/syncer.go's ckptManager call sites
// (sync.ckptManager.Get/Set, newCheckpointManager) — the teacher's own
// checkpoint package was not part of the retrieved source, so the
// storage shape here follows the conventional MongoShake checkpoint
// collection: one document per replication source, keyed by name.
package ckpt

import (
	"sync"

	LOG "github.com/vinllen/log4go"
	"github.com/vinllen/mgo"
	"github.com/vinllen/mgo/bson"
)

const (
	checkpointDatabase   = "mongoshake"
	checkpointCollection = "ckpt"
)

// record is the on-disk shape of a single checkpoint document.
type record struct {
	Name      string               `bson:"_id"`
	Timestamp bson.MongoTimestamp  `bson:"ts"`
}

// Manager tracks and durably persists the resume marker for one
// replication source, identified by name (typically the source replica
// set name). Get/Set are safe for concurrent use; the syncer reads Get()
// for the tailer's start position and calls Set() once a flush reaches
// the Done state, or when its FilterCheckpointGap check force-advances
// the marker.
type Manager struct {
	mu   sync.RWMutex
	name string
	ts   bson.MongoTimestamp

	session *mgo.Session
}

// NewManager loads (or initializes) the checkpoint for name, using
// defaultTs when no checkpoint document exists yet — matching
// replSetGetStatus's reported optime being used as the initial resume
// marker (spec.md §6 "Upstream").
func NewManager(session *mgo.Session, name string, defaultTs bson.MongoTimestamp) *Manager {
	m := &Manager{name: name, ts: defaultTs, session: session}
	m.load()
	return m
}

func (m *Manager) load() {
	if m.session == nil {
		return
	}
	var rec record
	err := m.session.DB(checkpointDatabase).C(checkpointCollection).
		FindId(m.name).One(&rec)
	if err != nil {
		if err != mgo.ErrNotFound {
			LOG.Warn("checkpoint load failed for %s, using default: %v", m.name, err)
		}
		return
	}
	m.ts = rec.Timestamp
}

// Get returns the current in-memory resume marker.
func (m *Manager) Get() bson.MongoTimestamp {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ts
}

// Set advances the in-memory resume marker and persists it, matching
// the flush state machine's Done → "advance the durable resume marker"
// transition (spec.md §4.4). Set never moves the marker backwards.
func (m *Manager) Set(ts bson.MongoTimestamp) {
	m.mu.Lock()
	if ts <= m.ts {
		m.mu.Unlock()
		return
	}
	m.ts = ts
	m.mu.Unlock()

	if m.session == nil {
		return
	}
	_, err := m.session.DB(checkpointDatabase).C(checkpointCollection).
		UpsertId(m.name, record{Name: m.name, Timestamp: ts})
	if err != nil {
		LOG.Error("checkpoint persist failed for %s: %v", m.name, err)
	}
}
