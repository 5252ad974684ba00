package buffer

import (
	"path/filepath"
	"testing"

	"github.com/RamonZhou/MiniSQL/internal/storage/diskmgr"
	"github.com/RamonZhou/MiniSQL/internal/storage/page"
)

func newPoolForTest(t *testing.T, poolSize int) *PoolManager {
	t.Helper()
	dm, err := diskmgr.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("diskmgr.Open: %v", err)
	}
	t.Cleanup(func() { dm.Close() })
	return NewPoolManager(dm, poolSize)
}

func fill(buf []byte, b byte) {
	for i := range buf {
		buf[i] = b
	}
}

// Churn: fill the pool with new dirty pages, then force an eviction and
// verify the victim's content survives the round trip through disk.
func TestPoolManager_EvictionWritesVictimThrough(t *testing.T) {
	pool := newPoolForTest(t, 10)

	ids := make([]page.PageID, 0, 10)
	for i := 0; i < 10; i++ {
		frame, id, err := pool.NewPage()
		if err != nil {
			t.Fatalf("NewPage %d: %v", i, err)
		}
		if frame == nil {
			t.Fatalf("NewPage %d: pool exhausted with free frames remaining", i)
		}
		fill(frame.Data, byte(i+1))
		if !pool.UnpinPage(id, true) {
			t.Fatalf("UnpinPage(%s): not resident", id)
		}
		ids = append(ids, id)
	}

	// All frames occupied and unpinned: the next NewPage must evict the
	// least recently unpinned page (ids[0]) and write it through.
	frame, extraID, err := pool.NewPage()
	if err != nil {
		t.Fatalf("NewPage after filling pool: %v", err)
	}
	if frame == nil {
		t.Fatal("NewPage after filling pool: got nil, want eviction")
	}
	pool.UnpinPage(extraID, false)

	victim, err := pool.FetchPage(ids[0])
	if err != nil {
		t.Fatalf("FetchPage(%s): %v", ids[0], err)
	}
	if victim == nil {
		t.Fatalf("FetchPage(%s): got nil", ids[0])
	}
	for i, b := range victim.Data {
		if b != 1 {
			t.Fatalf("victim page byte %d: got %d, want 1", i, b)
		}
	}
	pool.UnpinPage(ids[0], false)
}

func TestPoolManager_FetchInvalidReturnsNil(t *testing.T) {
	pool := newPoolForTest(t, 4)
	frame, err := pool.FetchPage(page.InvalidID)
	if err != nil {
		t.Fatalf("FetchPage(invalid): %v", err)
	}
	if frame != nil {
		t.Fatal("FetchPage(invalid): got a frame, want nil")
	}
}

func TestPoolManager_ExhaustionReturnsNil(t *testing.T) {
	pool := newPoolForTest(t, 4)
	var ids []page.PageID
	for i := 0; i < 4; i++ {
		frame, id, err := pool.NewPage()
		if err != nil || frame == nil {
			t.Fatalf("NewPage %d: (%v,%v)", i, frame, err)
		}
		ids = append(ids, id)
	}
	// Every frame pinned: both NewPage and FetchPage must fail soft.
	if frame, _, err := pool.NewPage(); err != nil || frame != nil {
		t.Fatalf("NewPage on exhausted pool: got (%v,%v), want (nil,nil)", frame, err)
	}
	if frame, err := pool.FetchPage(page.PageID(0)); err != nil || frame != nil {
		t.Fatalf("FetchPage on exhausted pool: got (%v,%v), want (nil,nil)", frame, err)
	}
	if leaked := pool.CheckAllUnpinned(); len(leaked) != 4 {
		t.Fatalf("CheckAllUnpinned: got %v, want all 4 pages", leaked)
	}
	for _, id := range ids {
		pool.UnpinPage(id, false)
	}
	if leaked := pool.CheckAllUnpinned(); leaked != nil {
		t.Fatalf("CheckAllUnpinned after unpin: got %v, want none", leaked)
	}
}

func TestPoolManager_FetchPinsAndDedupes(t *testing.T) {
	pool := newPoolForTest(t, 4)
	frame, id, err := pool.NewPage()
	if err != nil || frame == nil {
		t.Fatalf("NewPage: (%v,%v)", frame, err)
	}
	again, err := pool.FetchPage(id)
	if err != nil {
		t.Fatalf("FetchPage: %v", err)
	}
	if again != frame {
		t.Fatal("FetchPage returned a different frame for a resident page")
	}
	if frame.PinCount != 2 {
		t.Fatalf("PinCount: got %d, want 2", frame.PinCount)
	}
	pool.UnpinPage(id, false)
	pool.UnpinPage(id, false)
}

func TestPoolManager_UnpinUnknownPage(t *testing.T) {
	pool := newPoolForTest(t, 4)
	if pool.UnpinPage(page.PageID(42), false) {
		t.Fatal("UnpinPage of a non-resident page reported success")
	}
}

func TestPoolManager_DirtyStickyAcrossUnpins(t *testing.T) {
	pool := newPoolForTest(t, 4)
	frame, id, err := pool.NewPage()
	if err != nil || frame == nil {
		t.Fatalf("NewPage: (%v,%v)", frame, err)
	}
	pool.UnpinPage(id, true)
	pool.FetchPage(id)
	pool.UnpinPage(id, false) // must not clear the dirty bit
	if !frame.Dirty {
		t.Fatal("dirty flag cleared by a clean unpin")
	}
}

func TestPoolManager_DeletePage(t *testing.T) {
	pool := newPoolForTest(t, 4)
	frame, id, err := pool.NewPage()
	if err != nil || frame == nil {
		t.Fatalf("NewPage: (%v,%v)", frame, err)
	}
	if ok, _ := pool.DeletePage(id); ok {
		t.Fatal("DeletePage succeeded on a pinned page")
	}
	pool.UnpinPage(id, false)
	if ok, err := pool.DeletePage(id); err != nil || !ok {
		t.Fatalf("DeletePage: got (%v,%v), want (true,nil)", ok, err)
	}
	// Not resident: trivial success.
	if ok, err := pool.DeletePage(id); err != nil || !ok {
		t.Fatalf("DeletePage (absent): got (%v,%v), want (true,nil)", ok, err)
	}
}

func TestPoolManager_FlushPage(t *testing.T) {
	pool := newPoolForTest(t, 4)
	frame, id, err := pool.NewPage()
	if err != nil || frame == nil {
		t.Fatalf("NewPage: (%v,%v)", frame, err)
	}
	fill(frame.Data, 0xAB)
	ok, err := pool.FlushPage(id)
	if err != nil || !ok {
		t.Fatalf("FlushPage: got (%v,%v), want (true,nil)", ok, err)
	}
	pool.UnpinPage(id, false)
	if ok, _ := pool.FlushPage(page.PageID(9999)); ok {
		t.Fatal("FlushPage of a non-resident page reported success")
	}
}
