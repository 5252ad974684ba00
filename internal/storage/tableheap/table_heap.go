package tableheap

import (
	"fmt"

	"github.com/RamonZhou/MiniSQL/internal/storage/buffer"
	"github.com/RamonZhou/MiniSQL/internal/storage/page"
	"github.com/RamonZhou/MiniSQL/internal/txn"
)

// TableHeap is a logical sequence of tuples threaded through a linked
// list of TablePages, all reached through the buffer pool.
type TableHeap struct {
	pool        *buffer.PoolManager
	schema      page.Schema
	firstPageID page.PageID
}

// NewTableHeap allocates the chain's head page and returns the heap.
func NewTableHeap(pool *buffer.PoolManager, schema page.Schema) (*TableHeap, error) {
	frame, id, err := pool.NewPage()
	if err != nil {
		return nil, fmt.Errorf("tableheap: allocate first page: %w", err)
	}
	if frame == nil {
		return nil, fmt.Errorf("tableheap: buffer pool exhausted allocating first page")
	}
	InitTablePage(frame.Data, id, page.InvalidID)
	pool.UnpinPage(id, true)
	return &TableHeap{pool: pool, schema: schema, firstPageID: id}, nil
}

// OpenTableHeap wraps an existing chain whose head is already on disk
// (loaded by the catalog at database open).
func OpenTableHeap(pool *buffer.PoolManager, schema page.Schema, firstPageID page.PageID) *TableHeap {
	return &TableHeap{pool: pool, schema: schema, firstPageID: firstPageID}
}

// FirstPageID reports the chain head, persisted by the catalog as the
// table's metadata root.
func (h *TableHeap) FirstPageID() page.PageID { return h.firstPageID }

// Insert scans the page chain, write-latching each page in turn and
// attempting InsertTuple; the first page that accepts the tuple wins. If
// none do, a new page is allocated, linked to the prior tail via
// next_page_id, initialized, and inserted into.
func (h *TableHeap) Insert(row page.Row, _ txn.Handle) (page.RowID, error) {
	var lastID page.PageID = page.InvalidID
	pageID := h.firstPageID
	for pageID.Valid() {
		frame, err := h.pool.FetchPage(pageID)
		if err != nil {
			return page.InvalidRowID, fmt.Errorf("tableheap: insert: fetch page %s: %w", pageID, err)
		}
		if frame == nil {
			return page.InvalidRowID, fmt.Errorf("tableheap: insert: buffer pool exhausted")
		}
		tp := WrapTablePage(frame.Data)
		tp.Latch.Lock()
		rid, ok := tp.InsertTuple(row, h.schema)
		tp.Latch.Unlock()
		h.pool.UnpinPage(pageID, ok)
		if ok {
			return rid, nil
		}
		lastID = pageID
		pageID = tp.NextPageID()
	}

	frame, newID, err := h.pool.NewPage()
	if err != nil {
		return page.InvalidRowID, fmt.Errorf("tableheap: insert: allocate new page: %w", err)
	}
	if frame == nil {
		return page.InvalidRowID, fmt.Errorf("tableheap: insert: buffer pool exhausted allocating new page")
	}
	tp := InitTablePage(frame.Data, newID, lastID)
	rid, ok := tp.InsertTuple(row, h.schema)
	h.pool.UnpinPage(newID, true)
	if !ok {
		return page.InvalidRowID, fmt.Errorf("tableheap: insert: row too large for an empty page")
	}

	lastFrame, err := h.pool.FetchPage(lastID)
	if err != nil {
		return page.InvalidRowID, fmt.Errorf("tableheap: insert: relink tail %s: %w", lastID, err)
	}
	if lastFrame != nil {
		WrapTablePage(lastFrame.Data).SetNextPageID(newID)
		h.pool.UnpinPage(lastID, true)
	}
	return rid, nil
}

// Update overwrites rid's row in place; fails if the new row's
// serialized size exceeds the old one's (caller should delete-then-insert).
func (h *TableHeap) Update(row page.Row, rid page.RowID, _ txn.Handle) (bool, error) {
	frame, err := h.pool.FetchPage(rid.PageID)
	if err != nil {
		return false, fmt.Errorf("tableheap: update: fetch page %s: %w", rid.PageID, err)
	}
	if frame == nil {
		return false, fmt.Errorf("tableheap: update: page %s not resident", rid.PageID)
	}
	tp := WrapTablePage(frame.Data)
	tp.Latch.Lock()
	ok := tp.UpdateTuple(row, rid, h.schema)
	tp.Latch.Unlock()
	h.pool.UnpinPage(rid.PageID, ok)
	return ok, nil
}

// MarkDelete sets rid's tombstone bit without reclaiming space.
func (h *TableHeap) MarkDelete(rid page.RowID, _ txn.Handle) error {
	return h.mutate(rid, func(tp *TablePage) bool { return tp.MarkDelete(rid) })
}

// ApplyDelete physically reclaims a previously tombstoned tuple's space.
func (h *TableHeap) ApplyDelete(rid page.RowID, _ txn.Handle) error {
	return h.mutate(rid, func(tp *TablePage) bool { return tp.ApplyDelete(rid) })
}

// RollbackDelete undoes a MarkDelete that was never applied.
func (h *TableHeap) RollbackDelete(rid page.RowID, _ txn.Handle) error {
	return h.mutate(rid, func(tp *TablePage) bool { return tp.RollbackDelete(rid) })
}

func (h *TableHeap) mutate(rid page.RowID, op func(*TablePage) bool) error {
	frame, err := h.pool.FetchPage(rid.PageID)
	if err != nil {
		return fmt.Errorf("tableheap: fetch page %s: %w", rid.PageID, err)
	}
	if frame == nil {
		return fmt.Errorf("tableheap: page %s not resident", rid.PageID)
	}
	tp := WrapTablePage(frame.Data)
	tp.Latch.Lock()
	ok := op(tp)
	tp.Latch.Unlock()
	h.pool.UnpinPage(rid.PageID, true)
	if !ok {
		return fmt.Errorf("tableheap: operation on %s failed", rid)
	}
	return nil
}

// Get fetches and copies out rid's row.
func (h *TableHeap) Get(rid page.RowID, _ txn.Handle) (page.Row, bool, error) {
	frame, err := h.pool.FetchPage(rid.PageID)
	if err != nil {
		return page.Row{}, false, fmt.Errorf("tableheap: get: fetch page %s: %w", rid.PageID, err)
	}
	if frame == nil {
		return page.Row{}, false, fmt.Errorf("tableheap: get: page %s not resident", rid.PageID)
	}
	tp := WrapTablePage(frame.Data)
	tp.Latch.RLock()
	row, ok := tp.GetTuple(rid, h.schema)
	tp.Latch.RUnlock()
	h.pool.UnpinPage(rid.PageID, false)
	return row, ok, nil
}

// Iterator walks the heap forward, single pass, not restartable from
// End(). Concurrent mutation safety is only as good as the caller's
// latch discipline.
type Iterator struct {
	heap *TableHeap
	cur  page.RowID
}

// Begin positions an iterator at the heap's first live tuple.
func (h *TableHeap) Begin() (*Iterator, error) {
	it := &Iterator{heap: h, cur: page.InvalidRowID}
	pageID := h.firstPageID
	for pageID.Valid() {
		frame, err := h.pool.FetchPage(pageID)
		if err != nil {
			return nil, fmt.Errorf("tableheap: begin: fetch page %s: %w", pageID, err)
		}
		if frame == nil {
			return nil, fmt.Errorf("tableheap: begin: buffer pool exhausted")
		}
		tp := WrapTablePage(frame.Data)
		rid, ok := tp.GetFirstTupleRid()
		next := tp.NextPageID()
		h.pool.UnpinPage(pageID, false)
		if ok {
			it.cur = rid
			return it, nil
		}
		pageID = next
	}
	return it, nil
}

// End returns the canonical end sentinel; an iterator at End() is
// exhausted.
func (h *TableHeap) End() page.RowID { return page.InvalidRowID }

// Valid reports whether the iterator currently references a tuple.
func (it *Iterator) Valid() bool { return it.cur.Valid() }

// RowID returns the iterator's current position.
func (it *Iterator) RowID() page.RowID { return it.cur }

// Row fetches the current tuple's contents.
func (it *Iterator) Row() (page.Row, error) {
	row, ok, err := it.heap.Get(it.cur, txn.Nil)
	if err != nil {
		return page.Row{}, err
	}
	if !ok {
		return page.Row{}, fmt.Errorf("tableheap: iterator row %s vanished underneath it", it.cur)
	}
	return row, nil
}

// Next advances the iterator: it asks the current page for the next
// live rid; if none remains on that page, it walks next_page_id until a
// page yields a first tuple, or the chain ends (Valid() becomes false).
func (it *Iterator) Next() error {
	if !it.cur.Valid() {
		return nil
	}
	h := it.heap
	frame, err := h.pool.FetchPage(it.cur.PageID)
	if err != nil {
		return fmt.Errorf("tableheap: next: fetch page %s: %w", it.cur.PageID, err)
	}
	if frame == nil {
		return fmt.Errorf("tableheap: next: buffer pool exhausted")
	}
	tp := WrapTablePage(frame.Data)
	if rid, ok := tp.GetNextTupleRid(it.cur); ok {
		h.pool.UnpinPage(it.cur.PageID, false)
		it.cur = rid
		return nil
	}
	pageID := tp.NextPageID()
	h.pool.UnpinPage(it.cur.PageID, false)

	for pageID.Valid() {
		frame, err := h.pool.FetchPage(pageID)
		if err != nil {
			return fmt.Errorf("tableheap: next: fetch page %s: %w", pageID, err)
		}
		if frame == nil {
			return fmt.Errorf("tableheap: next: buffer pool exhausted")
		}
		tp := WrapTablePage(frame.Data)
		rid, ok := tp.GetFirstTupleRid()
		next := tp.NextPageID()
		h.pool.UnpinPage(pageID, false)
		if ok {
			it.cur = rid
			return nil
		}
		pageID = next
	}
	it.cur = page.InvalidRowID
	return nil
}
