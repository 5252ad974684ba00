package catalog

import (
	"errors"
	"fmt"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/RamonZhou/MiniSQL/internal/storage/buffer"
	"github.com/RamonZhou/MiniSQL/internal/storage/diskmgr"
	"github.com/RamonZhou/MiniSQL/internal/storage/index"
	"github.com/RamonZhou/MiniSQL/internal/storage/page"
	"github.com/RamonZhou/MiniSQL/internal/txn"
)

type engine struct {
	dm   *diskmgr.DiskManager
	pool *buffer.PoolManager
	cat  *Catalog
}

func openEngine(t *testing.T, path string, init bool) *engine {
	t.Helper()
	dm, err := diskmgr.Open(path)
	if err != nil {
		t.Fatalf("diskmgr.Open: %v", err)
	}
	pool := buffer.NewPoolManager(dm, 64)
	cat, err := NewCatalog(pool, txn.NewManager(), init)
	if err != nil {
		dm.Close()
		t.Fatalf("NewCatalog(init=%v): %v", init, err)
	}
	return &engine{dm: dm, pool: pool, cat: cat}
}

// close flushes everything through and releases the file, simulating a
// clean engine shutdown.
func (e *engine) close(t *testing.T) {
	t.Helper()
	if err := e.cat.FlushCatalogMetaPage(); err != nil {
		t.Fatalf("FlushCatalogMetaPage: %v", err)
	}
	if leaked := e.pool.CheckAllUnpinned(); leaked != nil {
		t.Fatalf("leaked pins at shutdown: %v", leaked)
	}
	if err := e.pool.FlushAll(); err != nil {
		t.Fatalf("FlushAll: %v", err)
	}
	if err := e.dm.Close(); err != nil {
		t.Fatalf("dm.Close: %v", err)
	}
}

func testSchema() page.Schema {
	return page.NewSchema([]page.Column{
		{Name: "a", Type: page.TypeInt, Length: 4, Unique: true},
		{Name: "b", Type: page.TypeChar, Length: 8},
	})
}

func testRow(a int, b string) page.Row {
	return page.Row{Fields: []page.Field{
		page.NewIntField(int32(a)),
		page.NewCharField([]byte(b)),
	}}
}

func countRows(t *testing.T, info *TableInfo) int {
	t.Helper()
	it, err := info.Heap.Begin()
	if err != nil {
		t.Fatalf("heap Begin: %v", err)
	}
	n := 0
	for it.Valid() {
		n++
		if err := it.Next(); err != nil {
			t.Fatalf("heap Next: %v", err)
		}
	}
	return n
}

func TestCatalog_CreateTableAndLookup(t *testing.T) {
	e := openEngine(t, filepath.Join(t.TempDir(), "mini.db"), true)
	defer e.dm.Close()
	h := txn.New()

	info, err := e.cat.CreateTable("t", testSchema(), h)
	if err != nil {
		t.Fatalf("CreateTable: %v", err)
	}
	if info.Meta.Name != "t" || !info.Meta.FirstPageID.Valid() {
		t.Fatalf("table info: %+v", info.Meta)
	}
	if _, err := e.cat.CreateTable("t", testSchema(), h); !errors.Is(err, ErrTableAlreadyExist) {
		t.Fatalf("duplicate CreateTable: got %v, want ErrTableAlreadyExist", err)
	}
	if _, err := e.cat.GetTable("missing"); !errors.Is(err, ErrTableNotExist) {
		t.Fatalf("GetTable(missing): got %v, want ErrTableNotExist", err)
	}
	if got, err := e.cat.GetTable("t"); err != nil || got != info {
		t.Fatalf("GetTable(t): got (%v,%v)", got, err)
	}
	if tables := e.cat.GetTables(); len(tables) != 1 {
		t.Fatalf("GetTables: got %d tables, want 1", len(tables))
	}
}

func TestCatalog_CreateIndexValidation(t *testing.T) {
	e := openEngine(t, filepath.Join(t.TempDir(), "mini.db"), true)
	defer e.dm.Close()
	h := txn.New()

	if _, err := e.cat.CreateIndex("nope", "i", []string{"a"}, h); !errors.Is(err, ErrTableNotExist) {
		t.Fatalf("CreateIndex on missing table: got %v", err)
	}
	if _, err := e.cat.CreateTable("t", testSchema(), h); err != nil {
		t.Fatalf("CreateTable: %v", err)
	}
	if _, err := e.cat.CreateIndex("t", "i", []string{"zzz"}, h); !errors.Is(err, ErrColumnNameNotExist) {
		t.Fatalf("CreateIndex on missing column: got %v", err)
	}
	if _, err := e.cat.CreateIndex("t", "i", []string{"a"}, h); err != nil {
		t.Fatalf("CreateIndex: %v", err)
	}
	if _, err := e.cat.CreateIndex("t", "i", []string{"a"}, h); !errors.Is(err, ErrIndexAlreadyExist) {
		t.Fatalf("duplicate CreateIndex: got %v", err)
	}
	if _, err := e.cat.GetIndex("t", "missing"); !errors.Is(err, ErrIndexNotFound) {
		t.Fatalf("GetIndex(missing): got %v", err)
	}
}

// A unique index makes the second insert of the same key roll back
// cleanly: no heap row, no index entry.
func TestCatalog_InsertRowRollsBackOnDuplicateKey(t *testing.T) {
	e := openEngine(t, filepath.Join(t.TempDir(), "mini.db"), true)
	defer e.dm.Close()
	h := txn.New()

	info, err := e.cat.CreateTable("t", testSchema(), h)
	if err != nil {
		t.Fatalf("CreateTable: %v", err)
	}
	if _, err := e.cat.CreateIndex("t", "pk_a", []string{"a"}, h); err != nil {
		t.Fatalf("CreateIndex: %v", err)
	}
	if _, err := e.cat.InsertRow(info, testRow(1, "aaaaaaaa"), h); err != nil {
		t.Fatalf("InsertRow: %v", err)
	}
	if _, err := e.cat.InsertRow(info, testRow(1, "bbbbbbbb"), h); !errors.Is(err, ErrDuplicateKey) {
		t.Fatalf("duplicate InsertRow: got %v, want ErrDuplicateKey", err)
	}
	if n := countRows(t, info); n != 1 {
		t.Fatalf("row count after rollback: got %d, want 1", n)
	}
}

func TestCatalog_DeleteRowMaintainsIndexes(t *testing.T) {
	e := openEngine(t, filepath.Join(t.TempDir(), "mini.db"), true)
	defer e.dm.Close()
	h := txn.New()

	info, _ := e.cat.CreateTable("t", testSchema(), h)
	pk, err := e.cat.CreateIndex("t", "pk_a", []string{"a"}, h)
	if err != nil {
		t.Fatalf("CreateIndex: %v", err)
	}
	rid, err := e.cat.InsertRow(info, testRow(7, "xxxxxxxx"), h)
	if err != nil {
		t.Fatalf("InsertRow: %v", err)
	}
	if err := e.cat.DeleteRow(info, rid, h); err != nil {
		t.Fatalf("DeleteRow: %v", err)
	}
	if n := countRows(t, info); n != 0 {
		t.Fatalf("row count after delete: got %d, want 0", n)
	}
	key := pk.EncodeRowKey(testRow(7, "xxxxxxxx"))
	if _, found, _ := pk.Tree.GetValue(key); found {
		t.Fatal("index entry survived DeleteRow")
	}
	// A re-insert of the same key must now succeed.
	if _, err := e.cat.InsertRow(info, testRow(7, "yyyyyyyy"), h); err != nil {
		t.Fatalf("re-insert after delete: %v", err)
	}
}

// Full persistence cycle: create, populate, close, reopen, and verify
// both the heap contents and index routing.
func TestCatalog_PersistenceAcrossReopen(t *testing.T) {
	const rows = 100
	path := filepath.Join(t.TempDir(), "mini.db")
	h := txn.New()

	e := openEngine(t, path, true)
	info, err := e.cat.CreateTable("t", testSchema(), h)
	if err != nil {
		t.Fatalf("CreateTable: %v", err)
	}
	if _, err := e.cat.CreateIndex("t", "pk_a", []string{"a"}, h); err != nil {
		t.Fatalf("CreateIndex: %v", err)
	}
	for i := 0; i < rows; i++ {
		if _, err := e.cat.InsertRow(info, testRow(i, fmt.Sprintf("v%07d", i)), h); err != nil {
			t.Fatalf("InsertRow(%d): %v", i, err)
		}
	}
	e.close(t)

	instanceID := e.cat.InstanceID()

	e2 := openEngine(t, path, false)
	defer e2.dm.Close()
	if e2.cat.InstanceID() != instanceID {
		t.Fatal("instance id did not survive the reopen")
	}
	info2, err := e2.cat.GetTable("t")
	if err != nil {
		t.Fatalf("GetTable after reopen: %v", err)
	}
	if !reflect.DeepEqual(info2.Meta.Schema, info.Meta.Schema) {
		t.Fatal("schema did not survive the reopen")
	}
	if n := countRows(t, info2); n != rows {
		t.Fatalf("row count after reopen: got %d, want %d", n, rows)
	}

	pk, err := e2.cat.GetIndex("t", "pk_a")
	if err != nil {
		t.Fatalf("GetIndex after reopen: %v", err)
	}
	for i := 0; i < rows; i++ {
		key := index.EncodeFields([]page.Field{page.NewIntField(int32(i))}, pk.KeyWidth)
		rid, found, err := pk.Tree.GetValue(key)
		if err != nil || !found {
			t.Fatalf("point lookup %d after reopen: (found=%v, err=%v)", i, found, err)
		}
		row, ok, err := info2.Heap.Get(rid, h)
		if err != nil || !ok {
			t.Fatalf("heap Get(%v): (ok=%v, err=%v)", rid, ok, err)
		}
		if row.Fields[0].Int != int32(i) {
			t.Fatalf("point lookup %d routed to row with a=%d", i, row.Fields[0].Int)
		}
		if want := fmt.Sprintf("v%07d", i); string(row.Fields[1].Char) != want {
			t.Fatalf("point lookup %d: b=%q, want %q", i, row.Fields[1].Char, want)
		}
	}
}

// Building an index over a column with duplicate existing values must
// fail with DuplicateKey and leave no partial index behind.
func TestCatalog_DuplicateIndexBuildRollsBack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mini.db")
	h := txn.New()

	e := openEngine(t, path, true)
	info, err := e.cat.CreateTable("t", testSchema(), h)
	if err != nil {
		t.Fatalf("CreateTable: %v", err)
	}
	for i := 0; i < 10; i++ {
		if _, err := e.cat.InsertRow(info, testRow(i, "same_val"), h); err != nil {
			t.Fatalf("InsertRow(%d): %v", i, err)
		}
	}
	if _, err := e.cat.CreateIndex("t", "idx_b", []string{"b"}, h); !errors.Is(err, ErrDuplicateKey) {
		t.Fatalf("CreateIndex over duplicates: got %v, want ErrDuplicateKey", err)
	}
	if _, err := e.cat.GetIndex("t", "idx_b"); !errors.Is(err, ErrIndexNotFound) {
		t.Fatalf("partial index still registered: %v", err)
	}
	indexes, err := e.cat.GetTableIndexes("t")
	if err != nil || len(indexes) != 0 {
		t.Fatalf("GetTableIndexes: got (%d,%v), want (0,nil)", len(indexes), err)
	}
	// The unique column still indexes cleanly afterwards.
	if _, err := e.cat.CreateIndex("t", "pk_a", []string{"a"}, h); err != nil {
		t.Fatalf("CreateIndex after failed build: %v", err)
	}
	e.close(t)

	e2 := openEngine(t, path, false)
	defer e2.dm.Close()
	indexes, err = e2.cat.GetTableIndexes("t")
	if err != nil || len(indexes) != 1 || indexes[0].Meta.Name != "pk_a" {
		t.Fatalf("indexes after reopen: got (%v,%v), want only pk_a", indexes, err)
	}
}

func TestCatalog_DropTableRemovesIndexes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mini.db")
	h := txn.New()

	e := openEngine(t, path, true)
	if _, err := e.cat.CreateTable("t", testSchema(), h); err != nil {
		t.Fatalf("CreateTable: %v", err)
	}
	if _, err := e.cat.CreateIndex("t", "pk_a", []string{"a"}, h); err != nil {
		t.Fatalf("CreateIndex: %v", err)
	}
	if err := e.cat.DropTable("t", h); err != nil {
		t.Fatalf("DropTable: %v", err)
	}
	if _, err := e.cat.GetTable("t"); !errors.Is(err, ErrTableNotExist) {
		t.Fatalf("GetTable after drop: got %v", err)
	}
	e.close(t)

	e2 := openEngine(t, path, false)
	defer e2.dm.Close()
	if tables := e2.cat.GetTables(); len(tables) != 0 {
		t.Fatalf("tables after reopen: got %d, want 0", len(tables))
	}
}

func TestCatalog_DropIndex(t *testing.T) {
	e := openEngine(t, filepath.Join(t.TempDir(), "mini.db"), true)
	defer e.dm.Close()
	h := txn.New()

	info, _ := e.cat.CreateTable("t", testSchema(), h)
	if _, err := e.cat.InsertRow(info, testRow(1, "aaaaaaaa"), h); err != nil {
		t.Fatalf("InsertRow: %v", err)
	}
	if _, err := e.cat.CreateIndex("t", "pk_a", []string{"a"}, h); err != nil {
		t.Fatalf("CreateIndex: %v", err)
	}
	if err := e.cat.DropIndex("t", "pk_a", h); err != nil {
		t.Fatalf("DropIndex: %v", err)
	}
	if err := e.cat.DropIndex("t", "pk_a", h); !errors.Is(err, ErrIndexNotFound) {
		t.Fatalf("double DropIndex: got %v", err)
	}
}

func TestTableMetadata_RoundTrip(t *testing.T) {
	meta := TableMetadata{ID: 3, Name: "orders", Schema: testSchema(), FirstPageID: 17}
	buf := meta.Marshal(nil)
	if len(buf) != meta.SerializedSize() {
		t.Fatalf("serialized length %d != SerializedSize %d", len(buf), meta.SerializedSize())
	}
	got, n := UnmarshalTableMetadata(buf)
	if n != len(buf) {
		t.Fatalf("consumed %d of %d bytes", n, len(buf))
	}
	if !reflect.DeepEqual(got, meta) {
		t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", got, meta)
	}
	// A clobbered magic yields zero bytes consumed.
	buf[0] ^= 0xFF
	if _, n := UnmarshalTableMetadata(buf); n != 0 {
		t.Fatalf("corrupt magic consumed %d bytes, want 0", n)
	}
}

func TestIndexMetadata_RoundTrip(t *testing.T) {
	meta := IndexMetadata{ID: 9, Name: "pk_a", TableID: 3, KeyColumns: []uint32{0, 1}}
	buf := meta.Marshal(nil)
	if len(buf) != meta.SerializedSize() {
		t.Fatalf("serialized length %d != SerializedSize %d", len(buf), meta.SerializedSize())
	}
	got, n := UnmarshalIndexMetadata(buf)
	if n != len(buf) {
		t.Fatalf("consumed %d of %d bytes", n, len(buf))
	}
	if !reflect.DeepEqual(got, meta) {
		t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", got, meta)
	}
	buf[0] ^= 0xFF
	if _, n := UnmarshalIndexMetadata(buf); n != 0 {
		t.Fatalf("corrupt magic consumed %d bytes, want 0", n)
	}
}

func TestCatalogMeta_RoundTrip(t *testing.T) {
	meta := NewCatalogMeta()
	meta.Tables[0] = 5
	meta.Tables[1] = 9
	meta.Indexes[0] = 12
	buf := meta.Marshal(nil)
	if len(buf) != meta.SerializedSize() {
		t.Fatalf("serialized length %d != SerializedSize %d", len(buf), meta.SerializedSize())
	}
	got, n := UnmarshalCatalogMeta(buf)
	if n != len(buf) {
		t.Fatalf("consumed %d of %d bytes", n, len(buf))
	}
	if !reflect.DeepEqual(got, meta) {
		t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", got, meta)
	}
}

// The historical reload bookkeeping clamps each index id against the
// table id high-water mark, so an index id above the last-iterated one
// can be lost and the next mint collides.
func TestLegacyNextIndexID_CanCollide(t *testing.T) {
	if got := legacyNextIndexID([]int32{5, 1}, 2); got != 3 {
		t.Fatalf("legacy next id: got %d, want the colliding 3", got)
	}
	// A lone index id above the table mark still yields max+1.
	if got := legacyNextIndexID([]int32{5}, 2); got != 6 {
		t.Fatalf("legacy next id single: got %d, want 6", got)
	}
}

func TestStorageError_KindMatching(t *testing.T) {
	err := newErr(DuplicateKey, "index \"pk\"", nil)
	if !errors.Is(err, ErrDuplicateKey) {
		t.Fatal("errors.Is failed to match on Kind")
	}
	if errors.Is(err, ErrTableNotExist) {
		t.Fatal("errors.Is matched a different Kind")
	}
	wrapped := newErr(Failed, "outer", err)
	if !errors.Is(wrapped, ErrDuplicateKey) {
		t.Fatal("errors.Is failed to unwrap to the inner Kind")
	}
}
