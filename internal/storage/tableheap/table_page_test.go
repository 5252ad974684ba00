package tableheap

import (
	"testing"

	"github.com/RamonZhou/MiniSQL/internal/storage/page"
)

func charSchema() page.Schema {
	return page.NewSchema([]page.Column{
		{Name: "a", Type: page.TypeInt, Length: 4},
		{Name: "b", Type: page.TypeChar, Length: 8},
	})
}

func sampleRow(i int32) page.Row {
	return page.Row{Fields: []page.Field{
		page.NewIntField(i),
		page.NewCharField([]byte("hello")),
	}}
}

func TestTablePage_InsertGetTuple(t *testing.T) {
	s := charSchema()
	buf := make([]byte, page.Size)
	tp := InitTablePage(buf, 0, page.InvalidID)

	rid, ok := tp.InsertTuple(sampleRow(1), s)
	if !ok {
		t.Fatalf("InsertTuple: want success")
	}
	if rid.PageID != 0 || rid.Slot != 0 {
		t.Fatalf("InsertTuple: got rid %+v, want {0,0}", rid)
	}
	got, ok := tp.GetTuple(rid, s)
	if !ok {
		t.Fatalf("GetTuple: want success")
	}
	if !got.Fields[0].Equal(sampleRow(1).Fields[0]) {
		t.Fatalf("GetTuple: field mismatch, got %+v", got.Fields[0])
	}
}

func TestTablePage_MarkApplyRollbackDelete(t *testing.T) {
	s := charSchema()
	buf := make([]byte, page.Size)
	tp := InitTablePage(buf, 0, page.InvalidID)
	rid, _ := tp.InsertTuple(sampleRow(1), s)

	if !tp.MarkDelete(rid) {
		t.Fatalf("MarkDelete: want success")
	}
	if _, ok := tp.GetTuple(rid, s); ok {
		t.Fatalf("GetTuple after MarkDelete: want failure")
	}
	if !tp.RollbackDelete(rid) {
		t.Fatalf("RollbackDelete: want success")
	}
	if _, ok := tp.GetTuple(rid, s); !ok {
		t.Fatalf("GetTuple after RollbackDelete: want success")
	}

	if !tp.MarkDelete(rid) {
		t.Fatalf("MarkDelete (2): want success")
	}
	if !tp.ApplyDelete(rid) {
		t.Fatalf("ApplyDelete: want success")
	}
	if _, ok := tp.GetTuple(rid, s); ok {
		t.Fatalf("GetTuple after ApplyDelete: want failure")
	}
}

func TestTablePage_ApplyDeleteReclaimsSpaceForFollowingInsert(t *testing.T) {
	s := charSchema()
	buf := make([]byte, page.Size)
	tp := InitTablePage(buf, 0, page.InvalidID)

	var rids []page.RowID
	for i := int32(0); i < 3; i++ {
		rid, ok := tp.InsertTuple(sampleRow(i), s)
		if !ok {
			t.Fatalf("InsertTuple %d: want success", i)
		}
		rids = append(rids, rid)
	}
	tp.MarkDelete(rids[1])
	if !tp.ApplyDelete(rids[1]) {
		t.Fatalf("ApplyDelete: want success")
	}
	// Surviving tuples must still read back correctly after the compaction
	// shifted their physical offsets.
	for i, rid := range []page.RowID{rids[0], rids[2]} {
		got, ok := tp.GetTuple(rid, s)
		if !ok {
			t.Fatalf("GetTuple survivor %d: want success", i)
		}
		want := sampleRow([]int32{0, 2}[i])
		if !got.Fields[0].Equal(want.Fields[0]) {
			t.Fatalf("GetTuple survivor %d: got %+v want %+v", i, got.Fields[0], want.Fields[0])
		}
	}
}

func TestTablePage_UpdateTupleInPlaceOnly(t *testing.T) {
	s := charSchema()
	buf := make([]byte, page.Size)
	tp := InitTablePage(buf, 0, page.InvalidID)
	rid, _ := tp.InsertTuple(sampleRow(1), s)

	if !tp.UpdateTuple(sampleRow(2), rid, s) {
		t.Fatalf("UpdateTuple (same size): want success")
	}
	got, _ := tp.GetTuple(rid, s)
	if got.Fields[0].Int != 2 {
		t.Fatalf("UpdateTuple: got %d want 2", got.Fields[0].Int)
	}
}

func TestTablePage_InsertFailsWhenFull(t *testing.T) {
	s := charSchema()
	buf := make([]byte, page.Size)
	tp := InitTablePage(buf, 0, page.InvalidID)

	inserted := 0
	for {
		if _, ok := tp.InsertTuple(sampleRow(int32(inserted)), s); !ok {
			break
		}
		inserted++
	}
	if inserted == 0 {
		t.Fatalf("expected at least one tuple to fit")
	}
	if _, ok := tp.InsertTuple(sampleRow(int32(inserted)), s); ok {
		t.Fatalf("expected insert to fail once the page is full")
	}
}

func TestTablePage_GetFirstAndNextTupleRidSkipTombstones(t *testing.T) {
	s := charSchema()
	buf := make([]byte, page.Size)
	tp := InitTablePage(buf, 0, page.InvalidID)

	var rids []page.RowID
	for i := int32(0); i < 5; i++ {
		rid, _ := tp.InsertTuple(sampleRow(i), s)
		rids = append(rids, rid)
	}
	tp.MarkDelete(rids[1])
	tp.MarkDelete(rids[3])

	first, ok := tp.GetFirstTupleRid()
	if !ok || first != rids[0] {
		t.Fatalf("GetFirstTupleRid: got (%v,%v), want (%v,true)", first, ok, rids[0])
	}
	cur := first
	var order []uint32
	for {
		next, ok := tp.GetNextTupleRid(cur)
		if !ok {
			break
		}
		order = append(order, next.Slot)
		cur = next
	}
	if len(order) != 2 || order[0] != 2 || order[1] != 4 {
		t.Fatalf("GetNextTupleRid sequence: got %v, want [2 4]", order)
	}
}
