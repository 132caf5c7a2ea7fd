// Package handler implements the connection handler (A): a lifecycle
// wrapper around one live MongoDB client with reconnect-until-success
// semantics and transparent retry on transient disconnect, and the
// resilient bulk-write / single-op apply path (§4.1, §4.5 of spec.md).
package handler

import (
	"strings"
	"time"

	LOG "github.com/vinllen/log4go"
	"github.com/vinllen/mgo"
	"github.com/vinllen/mgo/bson"
)

// State is the connection's lifecycle state, replacing ad-hoc nil checks
// with the explicit state machine spec.md §9 calls for ("Never expose a
// half-open client").
type State int

const (
	Disconnected State = iota
	Connecting
	Ready
)

// serverSelectionTimeout and reconnectInterval are fixed by spec.md §4.1
// and §4.5: 3s server selection, 1s sleep between reconnect attempts.
const (
	serverSelectionTimeout = 3 * time.Second
	reconnectInterval      = 1 * time.Second
)

// Config describes one MongoDB endpoint, equivalent to the (host, port,
// ssl, authdb, username, password) tuple mongosync/mongo/handler.py's
// MongoHandler is constructed with.
type Config struct {
	Addrs          []string
	ReplicaSetName string // empty if not a replica set
	TLS            bool
	AuthDatabase   string
	Username       string
	Password       string
}

// Connection owns one live *mgo.Session and mediates every operation the
// replayer and tailer issue against it, matching
// mongosync/mongo/handler.py:MongoHandler.
type Connection struct {
	cfg     Config
	session *mgo.Session
	state   State

	// isMongos is determined once at connect time via "isMaster"; it
	// gates the shard-key-immutability fallback in writer.go, matching
	// "self._mc.is_mongos" in handler.py:apply_oplog.
	isMongos bool
}

// New constructs an unconnected Connection. Callers must call Connect or
// Reconnect before using it.
func New(cfg Config) *Connection {
	return &Connection{cfg: cfg, state: Disconnected}
}

// Session returns the live *mgo.Session, or nil if not Ready. Workers
// share this session concurrently; mgo.Session is safe for concurrent
// use and maintains its own connection pool (spec.md §5 "Shared
// resources").
func (c *Connection) Session() *mgo.Session {
	if c.state != Ready {
		return nil
	}
	return c.session
}

func (c *Connection) State() State { return c.state }

// Connect makes a single best-effort attempt to dial and authenticate,
// confirming liveness with "ismaster", matching
// MongoHandler.connect: returns false on any failure rather than
// retrying, mirroring the Python original's best-effort single attempt.
func (c *Connection) Connect() bool {
	c.state = Connecting
	info := &mgo.DialInfo{
		Addrs:          c.cfg.Addrs,
		Timeout:        serverSelectionTimeout,
		ReplicaSetName: c.cfg.ReplicaSetName,
		Source:         authSource(c.cfg),
		Username:       c.cfg.Username,
		Password:       c.cfg.Password,
	}

	session, err := mgo.DialWithInfo(info)
	if err != nil {
		LOG.Error("connect failed: %v", err)
		c.state = Disconnected
		return false
	}

	session.SetMode(mgo.Strong, true)
	session.SetSafe(&mgo.Safe{W: 1})
	session.EnsureSafe(&mgo.Safe{W: 1})

	var result bson.M
	if err := session.Run(bson.D{{Name: "ismaster", Value: 1}}, &result); err != nil {
		LOG.Error("connect failed: ismaster check: %v", err)
		session.Close()
		c.state = Disconnected
		return false
	}
	c.isMongos = result["msg"] == "isdbgrid"

	c.session = session
	c.state = Ready
	return true
}

func authSource(cfg Config) string {
	if cfg.AuthDatabase != "" {
		return cfg.AuthDatabase
	}
	return "admin"
}

// Reconnect loops close/connect/confirm until it succeeds, sleeping 1s
// between attempts, and never returns failure — matching
// MongoHandler.reconnect's "while True" loop exactly.
func (c *Connection) Reconnect() {
	for {
		c.Close()
		if c.Connect() {
			return
		}
		LOG.Error("reconnect failed, retrying in %s", reconnectInterval)
		time.Sleep(reconnectInterval)
	}
}

// Close releases the current session, if any.
func (c *Connection) Close() {
	if c.session != nil {
		c.session.Close()
		c.session = nil
	}
	c.state = Disconnected
}

// IsMongos reports whether this endpoint is a mongos router, determined
// at connect time.
func (c *Connection) IsMongos() bool {
	return c.isMongos
}

// CreateIndex wraps index creation with transparent reconnect on
// transient disconnect, re-invoking until it returns success — matching
// MongoHandler.create_index's "while True" / AutoReconnect retry loop.
// Any other error is returned immediately, uncaught by the retry loop,
// matching the Python original's behavior of only catching AutoReconnect.
func (c *Connection) CreateIndex(db, coll string, index mgo.Index) error {
	for {
		session := c.Session()
		if session == nil {
			c.Reconnect()
			continue
		}
		err := session.DB(db).C(coll).EnsureIndex(index)
		if err == nil {
			return nil
		}
		if IsTransientDisconnect(err) {
			LOG.Error("%v", err)
			c.Reconnect()
			continue
		}
		return err
	}
}

// IsTransientDisconnect classifies an mgo error as a transient link-loss
// condition that should trigger reconnect-and-retry rather than fatal
// abort, matching the pymongo.errors.AutoReconnect category the Python
// original special-cases everywhere.
func IsTransientDisconnect(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, substr := range []string{
		"EOF",
		"connection reset",
		"broken pipe",
		"no reachable servers",
		"i/o timeout",
		"closed network connection",
		"connection refused",
		"server selection error",
	} {
		if strings.Contains(msg, substr) {
			return true
		}
	}
	return false
}

// IsDuplicateKeyError classifies an mgo error as MongoDB's E11000
// duplicate-key write error, matching pymongo.errors.DuplicateKeyError.
func IsDuplicateKeyError(err error) bool {
	if err == nil {
		return false
	}
	if lastErr, ok := err.(*mgo.LastError); ok {
		return lastErr.Code == 11000
	}
	return strings.Contains(err.Error(), "E11000")
}

// IsImmutableFieldError classifies an mgo write error as MongoDB rejecting
// a shard-key-modifying update, matching handler.py's
// "'the (immutable) field' in str(e)" string check.
func IsImmutableFieldError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "immutable")
}
