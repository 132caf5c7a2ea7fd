package collector

import (
	"encoding/json"
	"fmt"

	LOG "github.com/vinllen/log4go"
	"github.com/vinllen/mgo"
	"github.com/vinllen/mgo/bson"

	"github.com/divomen/go-mongo-sync/ckpt"
	"github.com/divomen/go-mongo-sync/config"
	"github.com/divomen/go-mongo-sync/handler"
	"github.com/divomen/go-mongo-sync/metrics"
	"github.com/divomen/go-mongo-sync/replayer"
	"github.com/divomen/go-mongo-sync/tailer"
)

// Coordinator wires one source and one destination together and drives
// the single OplogSyncer between them. Adapted from
// collector/replication.go:ReplicationCoordinator, trimmed of the
// multi-source document-replication branch (SYNCMODE_ALL/SYNCMODE_DOCUMENT,
// an explicit Non-goal per spec.md §1) down to the oplog-only path: this
// bridge has exactly one source and one destination, so there is no
// Sources slice or syncMode selection left to make.
type Coordinator struct {
	Opts config.Options

	source *handler.Connection
	dest   *handler.Connection
	syncer *OplogSyncer
}

// NewCoordinator builds an unconnected Coordinator; call Run to connect
// both endpoints and start replication.
func NewCoordinator(opts config.Options) *Coordinator {
	return &Coordinator{Opts: opts}
}

// Run connects both endpoints, confirms the source has an oplog, builds
// the syncer, and starts it. Matches ReplicationCoordinator.Run's
// "sanitize, log config, start" shape, minus sanitizeMongoDB's
// multi-source replica-set-name cross-check (only meaningful with more
// than one source) and the full sync mode switch.
func (c *Coordinator) Run() error {
	opts, _ := json.Marshal(c.Opts)
	LOG.Info("collector startup with config %s", string(opts))

	c.source = handler.New(handler.Config{
		Addrs:          c.Opts.SourceAddrs,
		ReplicaSetName: c.Opts.SourceReplSet,
		Username:       c.Opts.SourceUsername,
		Password:       c.Opts.SourcePassword,
	})
	if !c.source.Connect() {
		return fmt.Errorf("failed to connect to source %v", c.Opts.SourceAddrs)
	}

	c.dest = handler.New(handler.Config{
		Addrs:          c.Opts.DestAddrs,
		ReplicaSetName: c.Opts.DestReplSet,
		Username:       c.Opts.DestUsername,
		Password:       c.Opts.DestPassword,
	})
	if !c.dest.Connect() {
		return fmt.Errorf("failed to connect to destination %v", c.Opts.DestAddrs)
	}

	if err := c.sanitize(); err != nil {
		return err
	}

	startTs, err := GetOptime(c.source.Session())
	if err != nil {
		return fmt.Errorf("failed to read source optime: %v", err)
	}

	ckptMgr := ckpt.NewManager(c.dest.Session(), c.Opts.SourceReplSet, startTs)

	writer := handler.NewWriter(c.dest, c.Opts.IgnoreDupKey)
	pool := replayer.NewPool(writer, c.Opts.Workers)
	replay := replayer.NewReplayer(pool, writer, c.Opts.ReplayBatchSize, c.Opts.ShardKey)

	reader := tailer.NewReader(c.source, c.Opts.GID)

	c.syncer = NewOplogSyncer(c.Opts.SourceReplSet, reader, replay, ckptMgr, c.Opts)
	c.syncer.Start()

	LOG.Info("collector running, resuming from %v", ckptMgr.Get())
	return nil
}

// Metric exposes the running syncer's counters, or nil before Run has
// built one, for a caller-owned status report (spec.md §8's "observable
// progress" requirement, minus the dropped /repl HTTP endpoint itself).
func (c *Coordinator) Metric() *metrics.Metric {
	if c.syncer == nil {
		return nil
	}
	return c.syncer.Metric()
}

// sanitize confirms the source exposes a usable oplog, matching
// sanitizeMongoDB's "oplog ns exists, replica set configured" checks,
// trimmed of the cross-source replica-set-name comparison that only
// applies to a sharded, multi-source deployment.
func (c *Coordinator) sanitize() error {
	session := c.source.Session()
	if session == nil {
		return fmt.Errorf("source connection not ready")
	}
	names, err := session.DB("local").CollectionNames()
	if err != nil {
		return fmt.Errorf("failed to list local collections: %v", err)
	}
	for _, name := range names {
		if name == "oplog.rs" {
			return nil
		}
	}
	return fmt.Errorf("source has no local.oplog.rs, is it a replica set member")
}

// GetOptime reads the primary's current optime off replSetGetStatus,
// used as the default resume marker for a fresh replication (spec.md
// §6). Handles both the protocolVersion 0 top-level "optime" field and
// the protocolVersion 1 nested "optime.ts" shape, matching
// mongo_utils.py:get_optime.
func GetOptime(session *mgo.Session) (bson.MongoTimestamp, error) {
	var status bson.M
	if err := session.Run(bson.D{{Name: "replSetGetStatus", Value: 1}}, &status); err != nil {
		return 0, err
	}

	members, _ := status["members"].([]interface{})
	for _, m := range members {
		member, ok := m.(bson.M)
		if !ok {
			continue
		}
		state, _ := member["state"].(int)
		if state != 1 { // PRIMARY
			continue
		}
		if ts, ok := member["optime"].(bson.MongoTimestamp); ok {
			return ts, nil // protocolVersion 0
		}
		if optime, ok := member["optime"].(bson.M); ok {
			if ts, ok := optime["ts"].(bson.MongoTimestamp); ok {
				return ts, nil // protocolVersion 1
			}
		}
	}
	return 0, fmt.Errorf("no PRIMARY member found in replSetGetStatus output")
}
