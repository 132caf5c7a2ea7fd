package oplog

import (
	"testing"

	"github.com/vinllen/mgo/bson"
)

func TestConvertInsertWithID(t *testing.T) {
	log := &PartialLog{
		Operation: OpInsert,
		Namespace: "test.coll",
		Object:    bson.D{{Name: "_id", Value: "x1"}, {Name: "a", Value: 1}},
	}
	op, action := Convert(log)
	if action != ActionBuffer {
		t.Fatalf("expected ActionBuffer, got %v", action)
	}
	if op.Kind != KindReplace {
		t.Fatalf("expected KindReplace, got %v", op.Kind)
	}
	if !op.Upsert {
		t.Fatal("expected Upsert true")
	}
	id, ok := op.ID()
	if !ok || id != "x1" {
		t.Fatalf("expected id x1, got %v (ok=%v)", id, ok)
	}
}

func TestConvertInsertWithoutID(t *testing.T) {
	log := &PartialLog{
		Operation: OpInsert,
		Namespace: "test.coll",
		Object:    bson.D{{Name: "a", Value: 1}},
	}
	_, action := Convert(log)
	if action != ActionIndexInsert {
		t.Fatalf("expected ActionIndexInsert, got %v", action)
	}
}

func TestConvertPartialUpdateStripsVersion(t *testing.T) {
	log := &PartialLog{
		Operation: OpUpdate,
		Namespace: "test.coll",
		Query:     bson.D{{Name: "_id", Value: "x1"}},
		Object: bson.D{
			{Name: "$v", Value: 1},
			{Name: "$set", Value: bson.D{{Name: "a", Value: 2}}},
		},
	}
	op, action := Convert(log)
	if action != ActionBuffer {
		t.Fatalf("expected ActionBuffer, got %v", action)
	}
	if op.Kind != KindPartialUpdate {
		t.Fatalf("expected KindPartialUpdate, got %v", op.Kind)
	}
	for _, elem := range op.Doc {
		if elem.Name == "$v" {
			t.Fatal("$v should have been stripped")
		}
	}
	if op.Upsert {
		t.Fatal("partial update must not upsert")
	}
}

func TestConvertFullReplace(t *testing.T) {
	log := &PartialLog{
		Operation: OpUpdate,
		Namespace: "test.coll",
		Query:     bson.D{{Name: "_id", Value: "x1"}},
		Object:    bson.D{{Name: "_id", Value: "x1"}, {Name: "a", Value: 3}},
	}
	op, action := Convert(log)
	if action != ActionBuffer {
		t.Fatalf("expected ActionBuffer, got %v", action)
	}
	if op.Kind != KindReplace {
		t.Fatalf("expected KindReplace, got %v", op.Kind)
	}
	if !op.Upsert {
		t.Fatal("expected Upsert true for a full replacement")
	}
}

func TestConvertDelete(t *testing.T) {
	log := &PartialLog{
		Operation: OpDelete,
		Namespace: "test.coll",
		Object:    bson.D{{Name: "_id", Value: "x1"}},
	}
	op, action := Convert(log)
	if action != ActionBuffer {
		t.Fatalf("expected ActionBuffer, got %v", action)
	}
	if op.Kind != KindDelete {
		t.Fatalf("expected KindDelete, got %v", op.Kind)
	}
}

func TestConvertCommandAndNoop(t *testing.T) {
	cmd := &PartialLog{Operation: OpCommand, Namespace: "test.$cmd"}
	if _, action := Convert(cmd); action != ActionCommand {
		t.Fatalf("expected ActionCommand, got %v", action)
	}

	noop := &PartialLog{Operation: OpNoop}
	if _, action := Convert(noop); action != ActionSkip {
		t.Fatalf("expected ActionSkip, got %v", action)
	}
}

func TestConvertUnknownOp(t *testing.T) {
	log := &PartialLog{Operation: "z", Namespace: "test.coll"}
	if _, action := Convert(log); action != ActionUnknown {
		t.Fatalf("expected ActionUnknown, got %v", action)
	}
}

func TestConvertSinglePreservesRawUpdateFilter(t *testing.T) {
	log := &PartialLog{
		Operation: OpUpdate,
		Namespace: "test.coll",
		Query:     bson.D{{Name: "_id", Value: "x1"}, {Name: "status", Value: "pending"}},
		Object:    bson.D{{Name: "$set", Value: bson.D{{Name: "a", Value: 2}}}},
	}
	batched, _ := Convert(log)
	if len(batched.Filter) != 1 {
		t.Fatalf("Convert should narrow the filter to _id only, got %v", batched.Filter)
	}

	single, action := ConvertSingle(log)
	if action != ActionBuffer {
		t.Fatalf("expected ActionBuffer, got %v", action)
	}
	if len(single.Filter) != 2 {
		t.Fatalf("ConvertSingle should preserve the raw o2 filter verbatim, got %v", single.Filter)
	}
}

func TestConvertSinglePreservesRawDeleteFilter(t *testing.T) {
	log := &PartialLog{
		Operation: OpDelete,
		Namespace: "test.coll",
		Object:    bson.D{{Name: "_id", Value: "x1"}, {Name: "shard", Value: 3}},
	}
	batched, _ := Convert(log)
	if len(batched.Filter) != 1 {
		t.Fatalf("Convert should narrow the filter to _id only, got %v", batched.Filter)
	}

	single, action := ConvertSingle(log)
	if action != ActionBuffer {
		t.Fatalf("expected ActionBuffer, got %v", action)
	}
	if len(single.Filter) != 2 {
		t.Fatalf("ConvertSingle should preserve the raw o filter verbatim, got %v", single.Filter)
	}
}

func TestConvertSingleDelegatesInsertAndCommand(t *testing.T) {
	insert := &PartialLog{
		Operation: OpInsert,
		Namespace: "test.coll",
		Object:    bson.D{{Name: "_id", Value: "x1"}},
	}
	if _, action := ConvertSingle(insert); action != ActionBuffer {
		t.Fatalf("expected ActionBuffer for insert, got %v", action)
	}

	cmd := &PartialLog{Operation: OpCommand, Namespace: "test.$cmd"}
	if _, action := ConvertSingle(cmd); action != ActionCommand {
		t.Fatalf("expected ActionCommand, got %v", action)
	}
}
