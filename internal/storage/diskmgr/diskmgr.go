// Package diskmgr implements the lowest layer of the storage engine: one
// database file, fixed-size physical page I/O, and a bitmap-per-extent
// allocator for logical page ids. Nothing above this package ever touches
// the file directly.
package diskmgr

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"log"
	"os"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/RamonZhou/MiniSQL/internal/storage/page"
)

// MaxValidPageID bounds how many logical pages a single meta page can
// account for; AllocatePage returns the invalid sentinel once reached.
const MaxValidPageID = int64(MaxExtents) * int64(BitmapSize)

// metaPhysical is the one physical slot that never moves: physical page
// 0 is always the disk meta page. Physical page 1 is extent 0's bitmap,
// computed by bitmapPhysicalForExtent.
const metaPhysical int64 = 0

// physStride is the on-disk footprint of one physical page: its content
// plus a trailing CRC32 (IEEE) of that content. The logical<->physical
// index mapping in phys() is unaffected; only the byte offset each index
// maps to changes.
const physStride int64 = page.Size + 4

// DiskManager owns the database file and serves physical page I/O plus
// logical page allocation. It is safe for concurrent use.
type DiskManager struct {
	mu   sync.Mutex
	file *os.File

	numAllocatedPages uint32
	numExtents        uint32
	extentUsed        []uint32
}

// Open opens (creating if necessary) the database file at path and
// initializes or loads its disk meta page.
func Open(path string) (*DiskManager, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("diskmgr: open %s: %w", path, err)
	}
	dm := &DiskManager{file: f}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("diskmgr: stat %s: %w", path, err)
	}
	if info.Size() == 0 {
		if err := dm.initFresh(); err != nil {
			f.Close()
			return nil, err
		}
		return dm, nil
	}
	if err := dm.loadMeta(); err != nil {
		f.Close()
		return nil, err
	}
	return dm, nil
}

// fixedPages are reserved, in allocation order, the moment a new
// database file is created, before any table or index exists: the
// bitmap allocator hands out dense ids starting at 0, so claiming them
// here pins page.CatalogMetaPageID and page.IndexRootsPageID for good.
var fixedPages = []page.PageID{page.CatalogMetaPageID, page.IndexRootsPageID}

func (dm *DiskManager) initFresh() error {
	meta := InitMetaPage(make([]byte, page.Size))
	if err := dm.writePhysical(metaPhysical, meta.Bytes()); err != nil {
		return fmt.Errorf("diskmgr: init meta page: %w", err)
	}
	dm.numAllocatedPages = 0
	dm.numExtents = 0
	for _, want := range fixedPages {
		got, err := dm.AllocatePage()
		if err != nil {
			return fmt.Errorf("diskmgr: reserve fixed page %s: %w", want, err)
		}
		if got != want {
			return fmt.Errorf("diskmgr: fixed page allocation order violated: got %s want %s", got, want)
		}
	}
	return nil
}

func (dm *DiskManager) loadMeta() error {
	buf := make([]byte, page.Size)
	if err := dm.readPhysical(metaPhysical, buf); err != nil {
		return fmt.Errorf("diskmgr: load meta page: %w", err)
	}
	meta := WrapMetaPage(buf)
	dm.numAllocatedPages = meta.NumAllocatedPages()
	dm.numExtents = meta.NumExtents()
	dm.extentUsed = make([]uint32, dm.numExtents)
	for i := range dm.extentUsed {
		dm.extentUsed[i] = meta.ExtentUsedPage(uint32(i))
	}
	return nil
}

// Close flushes metadata and closes the backing file.
func (dm *DiskManager) Close() error {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	if err := dm.file.Sync(); err != nil {
		return fmt.Errorf("diskmgr: sync on close: %w", err)
	}
	return dm.file.Close()
}

// ───────────────────────────────────────────────────────────────────────────
// Physical layout
// ───────────────────────────────────────────────────────────────────────────

// phys maps a logical page id to its physical slot: physical page 0 is
// the disk meta page; physical page 1 is the bitmap for extent 0; each
// subsequent extent is one bitmap page followed by BitmapSize data pages.
func phys(l int64) int64 {
	return 2 + l + l/int64(BitmapSize)
}

func extentOf(l int64) (extent int64, offset uint32) {
	return l / int64(BitmapSize), uint32(l % int64(BitmapSize))
}

func bitmapPhysicalForExtent(extent int64) int64 {
	return 1 + extent*(int64(BitmapSize)+1)
}

// ───────────────────────────────────────────────────────────────────────────
// Raw physical I/O
// ───────────────────────────────────────────────────────────────────────────

// readPhysical fills out (page.Size bytes) with physical slot phys's
// content, verifying its trailing CRC32 on a full read. A mismatch is
// logged, not returned as an error: there is no WAL or recovery path to
// act on it, only a diagnostic for a reader.
func (dm *DiskManager) readPhysical(phys int64, out []byte) error {
	raw := make([]byte, physStride)
	n, err := dm.file.ReadAt(raw, phys*physStride)
	if err != nil && n == 0 {
		// Treat a slot entirely beyond EOF as zero-initialized.
		for i := range out {
			out[i] = 0
		}
		return nil
	}
	copy(out, raw[:page.Size])
	for i := n; i < len(out); i++ {
		out[i] = 0
	}
	if n == len(raw) {
		want := binary.LittleEndian.Uint32(raw[page.Size:])
		if got := crc32.ChecksumIEEE(out); got != want {
			log.Printf("diskmgr: checksum mismatch reading physical page %d: got %08x want %08x", phys, got, want)
		}
	}
	return nil
}

func (dm *DiskManager) writePhysical(phys int64, buf []byte) error {
	raw := make([]byte, physStride)
	copy(raw, buf)
	binary.LittleEndian.PutUint32(raw[page.Size:], crc32.ChecksumIEEE(buf))
	if _, err := dm.file.WriteAt(raw, phys*physStride); err != nil {
		return fmt.Errorf("write physical page %d: %w", phys, err)
	}
	if err := dm.file.Sync(); err != nil {
		return fmt.Errorf("sync after write of physical page %d: %w", phys, err)
	}
	return nil
}

// preallocateExtent best-effort reserves disk space for a new extent
// (one bitmap page plus BitmapSize data pages) using Fallocate, falling
// back to a zero-filled extension when the syscall is unsupported.
func (dm *DiskManager) preallocateExtent(firstPhysical int64) {
	size := int64(BitmapSize+1) * physStride
	off := firstPhysical * physStride
	err := unix.Fallocate(int(dm.file.Fd()), 0, off, size)
	if err == nil {
		return
	}
	if err != unix.ENOSYS && err != unix.EOPNOTSUPP {
		log.Printf("diskmgr: fallocate extent at physical %d failed, falling back to zero-fill: %v", firstPhysical, err)
	}
	zero := make([]byte, physStride)
	last := firstPhysical + int64(BitmapSize)
	if _, err := dm.file.WriteAt(zero, last*physStride); err != nil {
		log.Printf("diskmgr: zero-fill fallback for extent at physical %d failed: %v", firstPhysical, err)
	}
}

// ───────────────────────────────────────────────────────────────────────────
// Public page I/O
// ───────────────────────────────────────────────────────────────────────────

// ReadPage fills out (must be page.Size bytes) with logical page l's
// contents. Short reads (pages never written) are zero-filled.
func (dm *DiskManager) ReadPage(l page.PageID, out []byte) error {
	if !l.Valid() {
		return fmt.Errorf("diskmgr: ReadPage: invalid page id")
	}
	dm.mu.Lock()
	defer dm.mu.Unlock()
	return dm.readPhysical(phys(int64(l)), out)
}

// WritePage writes buf (page.Size bytes) to logical page l and flushes
// before returning.
func (dm *DiskManager) WritePage(l page.PageID, buf []byte) error {
	if !l.Valid() {
		return fmt.Errorf("diskmgr: WritePage: invalid page id")
	}
	dm.mu.Lock()
	defer dm.mu.Unlock()
	return dm.writePhysical(phys(int64(l)), buf)
}

// AllocatePage returns a free logical page id, or page.InvalidID if the
// meta page's capacity is exhausted. It opens a new extent whenever the
// current last extent has no bitmap yet or is full.
func (dm *DiskManager) AllocatePage() (page.PageID, error) {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	if int64(dm.numAllocatedPages) >= MaxValidPageID {
		return page.InvalidID, nil
	}

	var extent int64
	var bmBuf []byte
	var bm *BitmapPage

	if dm.numExtents > 0 {
		extent = int64(dm.numExtents) - 1
		bmBuf = make([]byte, page.Size)
		if err := dm.readPhysical(bitmapPhysicalForExtent(extent), bmBuf); err != nil {
			return page.InvalidID, fmt.Errorf("diskmgr: read bitmap for extent %d: %w", extent, err)
		}
		bm = WrapBitmapPage(bmBuf)
	}

	if bm == nil || bm.PageAllocated() >= BitmapSize {
		extent = int64(dm.numExtents)
		bmBuf = make([]byte, page.Size)
		bm = InitBitmapPage(bmBuf)
		dm.preallocateExtent(bitmapPhysicalForExtent(extent))
		dm.numExtents++
		dm.extentUsed = append(dm.extentUsed, 0)
	}

	offset, ok := bm.AllocatePage()
	if !ok {
		return page.InvalidID, fmt.Errorf("diskmgr: bitmap for extent %d reports full but had room", extent)
	}

	if err := dm.writePhysical(bitmapPhysicalForExtent(extent), bm.Bytes()); err != nil {
		return page.InvalidID, fmt.Errorf("diskmgr: persist bitmap for extent %d: %w", extent, err)
	}

	dm.numAllocatedPages++
	dm.extentUsed[extent]++
	if err := dm.flushMetaLocked(); err != nil {
		return page.InvalidID, err
	}

	logical := extent*int64(BitmapSize) + int64(offset)
	return page.PageID(logical), nil
}

// DeallocatePage clears the allocation bit for l. A no-op (no error) if
// l is already free or out of range.
func (dm *DiskManager) DeallocatePage(l page.PageID) error {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	extent, offset := extentOf(int64(l))
	if extent >= int64(dm.numExtents) {
		return nil
	}
	bmBuf := make([]byte, page.Size)
	if err := dm.readPhysical(bitmapPhysicalForExtent(extent), bmBuf); err != nil {
		return fmt.Errorf("diskmgr: read bitmap for extent %d: %w", extent, err)
	}
	bm := WrapBitmapPage(bmBuf)
	if !bm.DeAllocatePage(offset) {
		return nil
	}
	if err := dm.writePhysical(bitmapPhysicalForExtent(extent), bm.Bytes()); err != nil {
		return fmt.Errorf("diskmgr: persist bitmap for extent %d: %w", extent, err)
	}
	dm.numAllocatedPages--
	dm.extentUsed[extent]--
	return dm.flushMetaLocked()
}

// IsPageFree reports whether logical page l is currently unallocated.
func (dm *DiskManager) IsPageFree(l page.PageID) (bool, error) {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	extent, offset := extentOf(int64(l))
	if extent >= int64(dm.numExtents) {
		return true, nil
	}
	bmBuf := make([]byte, page.Size)
	if err := dm.readPhysical(bitmapPhysicalForExtent(extent), bmBuf); err != nil {
		return false, fmt.Errorf("diskmgr: read bitmap for extent %d: %w", extent, err)
	}
	return WrapBitmapPage(bmBuf).IsPageFree(offset), nil
}

func (dm *DiskManager) flushMetaLocked() error {
	meta := InitMetaPage(make([]byte, page.Size))
	meta.setNumAllocatedPages(dm.numAllocatedPages)
	meta.setNumExtents(dm.numExtents)
	for i, used := range dm.extentUsed {
		meta.setExtentUsedPage(uint32(i), used)
	}
	if err := dm.writePhysical(metaPhysical, meta.Bytes()); err != nil {
		return fmt.Errorf("diskmgr: persist meta page: %w", err)
	}
	return nil
}

// NumAllocatedPages reports the current allocation count (for tests and
// diagnostics).
func (dm *DiskManager) NumAllocatedPages() uint32 {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	return dm.numAllocatedPages
}

// NumExtents reports the current extent count.
func (dm *DiskManager) NumExtents() uint32 {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	return dm.numExtents
}

// Phys exposes the physical-mapping formula for tests and diagnostics
// that assert on it directly.
func Phys(l int64) int64 { return phys(l) }
