package filter

import (
	"testing"

	"github.com/divomen/go-mongo-sync/oplog"
)

func TestAutologousFilterDropsLocalAndAdmin(t *testing.T) {
	for _, ns := range []string{"local.startup_log", "admin.system.version", "config.shards"} {
		log := &oplog.PartialLog{Namespace: ns}
		if !(AutologousFilter{}).Filter(log) {
			t.Fatalf("expected %s to be dropped", ns)
		}
	}
	log := &oplog.PartialLog{Namespace: "test.coll"}
	if (AutologousFilter{}).Filter(log) {
		t.Fatal("did not expect test.coll to be dropped")
	}
}

func TestNoopFilter(t *testing.T) {
	noop := &oplog.PartialLog{Operation: oplog.OpNoop}
	if !(NoopFilter{}).Filter(noop) {
		t.Fatal("expected noop to be dropped")
	}
	insert := &oplog.PartialLog{Operation: oplog.OpInsert}
	if (NoopFilter{}).Filter(insert) {
		t.Fatal("did not expect insert to be dropped")
	}
}

func TestGidFilterPassesEverythingWhenUnconfigured(t *testing.T) {
	f := NewGidFilter(nil)
	log := &oplog.PartialLog{GID: "anything"}
	if f.Filter(log) {
		t.Fatal("expected unconfigured GidFilter to pass everything")
	}
}

func TestGidFilterKeepsOnlyConfiguredIDs(t *testing.T) {
	f := NewGidFilter([]string{"a", "b"})
	if f.Filter(&oplog.PartialLog{GID: "a"}) {
		t.Fatal("expected matching gid to pass")
	}
	if !f.Filter(&oplog.PartialLog{GID: "z"}) {
		t.Fatal("expected non-matching gid to be dropped")
	}
}

func TestChainDropsIfAnyMemberDrops(t *testing.T) {
	chain := Chain{AutologousFilter{}, NoopFilter{}}
	if !chain.Filter(&oplog.PartialLog{Namespace: "local.oplog.rs"}) {
		t.Fatal("expected chain to drop local namespace")
	}
	if !chain.Filter(&oplog.PartialLog{Namespace: "test.coll", Operation: oplog.OpNoop}) {
		t.Fatal("expected chain to drop noop")
	}
	if chain.Filter(&oplog.PartialLog{Namespace: "test.coll", Operation: oplog.OpInsert}) {
		t.Fatal("did not expect chain to drop a plain insert")
	}
}
