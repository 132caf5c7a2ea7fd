// The oplogbridged command tails one MongoDB replica set's oplog and
// continuously replays it onto a second MongoDB deployment, preserving
// per-document write order while fanning bulk writes out across a
// bounded worker pool. It resumes automatically from its last durably
// checkpointed position on restart.
package main

import (
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gugemichael/nimo4go"
	LOG "github.com/vinllen/log4go"

	"github.com/divomen/go-mongo-sync/collector"
	"github.com/divomen/go-mongo-sync/config"
	"github.com/divomen/go-mongo-sync/oplog"
)

// statusInterval is how often the status-logging goroutine reports
// progress, independent of FlushInterval.
const statusInterval = 10 * time.Second

func main() {
	var (
		sourceAddrs    = flag.String("source", "", "comma-separated source mongod/mongos addresses")
		sourceReplSet  = flag.String("source-replset", "", "source replica set name")
		sourceUser     = flag.String("source-username", "", "source auth username")
		sourcePassword = flag.String("source-password", "", "source auth password")

		destAddrs    = flag.String("dest", "", "comma-separated destination mongod/mongos addresses")
		destReplSet  = flag.String("dest-replset", "", "destination replica set name, empty for standalone/mongos")
		destUser     = flag.String("dest-username", "", "destination auth username")
		destPassword = flag.String("dest-password", "", "destination auth password")

		gid          = flag.String("gid", "", "group id whose tagged source entries are dropped, to break self-loops when chaining; not stamped on this bridge's own writes")
		sourceGIDs   = flag.String("source-gids", "", "comma-separated group ids to accept from a tagged multi-origin source; empty accepts every gid")
		dmlOnly      = flag.Bool("dml-only", false, "replay data writes only, dropping command (c) entries")
		nsWhite      = flag.String("ns-white", "", "comma-separated namespace whitelist (db or db.coll)")
		nsBlack      = flag.String("ns-black", "", "comma-separated namespace blacklist (db or db.coll)")
		workers      = flag.Int("workers", 10, "bulk-write worker pool size")
		batchSize    = flag.Int("replay-batch-size", 40, "lane-sharding batch size")
		shardKey     = flag.String("shard-key", oplog.ShardByID, "lane-sharding strategy: id or collection")
		flushBatch   = flag.Int("flush-batch-size", 1000, "entries buffered before a count-triggered flush")
		flushMs      = flag.Int("flush-interval-ms", 1000, "milliseconds between time-triggered flush checks")
		ignoreDupKey = flag.Bool("ignore-dup-key", true, "log and skip duplicate-key errors instead of aborting")
	)
	flag.Parse()

	if *sourceAddrs == "" || *destAddrs == "" {
		LOG.Error("both -source and -dest are required")
		flag.Usage()
		os.Exit(2)
	}

	opts := config.Default()
	opts.SourceAddrs = splitCSV(*sourceAddrs)
	opts.SourceReplSet = *sourceReplSet
	opts.SourceUsername = *sourceUser
	opts.SourcePassword = *sourcePassword
	opts.DestAddrs = splitCSV(*destAddrs)
	opts.DestReplSet = *destReplSet
	opts.DestUsername = *destUser
	opts.DestPassword = *destPassword
	opts.GID = *gid
	opts.SourceGIDs = splitCSV(*sourceGIDs)
	opts.DMLOnly = *dmlOnly
	opts.NamespaceWhite = splitCSV(*nsWhite)
	opts.NamespaceBlack = splitCSV(*nsBlack)
	opts.Workers = *workers
	opts.ReplayBatchSize = *batchSize
	opts.ShardKey = *shardKey
	opts.FlushBatchSize = *flushBatch
	opts.FlushInterval = time.Duration(*flushMs) * time.Millisecond
	opts.IgnoreDupKey = *ignoreDupKey

	coordinator := collector.NewCoordinator(opts)
	if err := coordinator.Run(); err != nil {
		LOG.Critical("collector failed to start: %v", err)
		os.Exit(1)
	}

	nimo.GoRoutine(func() {
		ticker := time.NewTicker(statusInterval)
		defer ticker.Stop()
		for range ticker.C {
			m := coordinator.Metric()
			if m == nil {
				continue
			}
			LOG.Info("status: fetched=%d applied=%d success=%d lag=%d tps=%.1f",
				m.Get(), m.Applied(), m.Success(), m.Lag(), m.Tps())
		}
	})

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	LOG.Info("oplogbridged shutting down")
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
