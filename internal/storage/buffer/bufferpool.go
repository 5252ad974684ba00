// Package buffer implements the buffer pool manager: a fixed array of
// frames that cache disk pages under pin-count discipline, backed by an
// LRU replacer for victim selection among unpinned frames.
package buffer

import (
	"fmt"
	"sync"

	"github.com/RamonZhou/MiniSQL/internal/storage/diskmgr"
	"github.com/RamonZhou/MiniSQL/internal/storage/page"
)

// FrameID indexes into the pool's fixed frame array.
type FrameID int

// Frame is one in-memory slot holding at most one cached page.
type Frame struct {
	Data     []byte
	PageID   page.PageID
	PinCount int
	Dirty    bool
}

// PoolManager is the buffer pool manager: it mediates every read and
// write of a page between the rest of the engine and the disk manager.
// Callers MUST pair every successful FetchPage/NewPage with exactly one
// UnpinPage; this is the pool's single load-bearing contract.
type PoolManager struct {
	mu sync.Mutex

	disk     *diskmgr.DiskManager
	frames   []Frame
	freeList []FrameID
	pageTbl  map[page.PageID]FrameID
	replacer *LRUReplacer
}

// NewPoolManager builds a pool of poolSize frames over disk.
func NewPoolManager(disk *diskmgr.DiskManager, poolSize int) *PoolManager {
	frames := make([]Frame, poolSize)
	free := make([]FrameID, poolSize)
	for i := range frames {
		frames[i].Data = make([]byte, page.Size)
		frames[i].PageID = page.InvalidID
		free[i] = FrameID(poolSize - 1 - i) // pop from the end gives frame 0 first
	}
	return &PoolManager{
		disk:     disk,
		frames:   frames,
		freeList: free,
		pageTbl:  make(map[page.PageID]FrameID, poolSize),
		replacer: NewLRUReplacer(poolSize),
	}
}

// PoolSize reports the fixed frame count.
func (p *PoolManager) PoolSize() int { return len(p.frames) }

// findVictim selects a frame to (re)use: the free list first, then the
// replacer. If the victim frame holds a dirty page, it is flushed before
// its mapping is erased.
func (p *PoolManager) findVictim() (FrameID, bool, error) {
	if n := len(p.freeList); n > 0 {
		f := p.freeList[n-1]
		p.freeList = p.freeList[:n-1]
		return f, true, nil
	}
	f, ok := p.replacer.Victim()
	if !ok {
		return 0, false, nil
	}
	frame := &p.frames[f]
	if frame.Dirty {
		if err := p.disk.WritePage(frame.PageID, frame.Data); err != nil {
			return 0, false, fmt.Errorf("buffer: flush victim frame %d (page %s): %w", f, frame.PageID, err)
		}
	}
	delete(p.pageTbl, frame.PageID)
	return f, true, nil
}

// FetchPage returns the frame caching logical page l, pinning it. It
// loads the page from disk if not already resident, evicting a victim
// frame if necessary. Returns nil if l is invalid or the pool is
// exhausted (all frames pinned, free list empty, replacer empty).
func (p *PoolManager) FetchPage(l page.PageID) (*Frame, error) {
	if !l.Valid() {
		return nil, nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if f, ok := p.pageTbl[l]; ok {
		frame := &p.frames[f]
		if frame.PinCount == 0 {
			p.replacer.Pin(f)
		}
		frame.PinCount++
		return frame, nil
	}

	f, ok, err := p.findVictim()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}

	frame := &p.frames[f]
	// Flush-then-reset-then-read ordering: the victim (identified by its
	// OLD page id) was already flushed in findVictim; only now do we
	// clear its memory and load the new page's content.
	for i := range frame.Data {
		frame.Data[i] = 0
	}
	if err := p.disk.ReadPage(l, frame.Data); err != nil {
		p.freeList = append(p.freeList, f)
		return nil, fmt.Errorf("buffer: read page %s: %w", l, err)
	}
	frame.PageID = l
	frame.PinCount = 1
	frame.Dirty = false
	p.pageTbl[l] = f
	return frame, nil
}

// NewPage allocates a fresh logical page via the disk manager, installs
// it in a frame, and returns the frame pinned. The pin count starts at 1,
// symmetric with FetchPage, so every NewPage must be paired with exactly
// one UnpinPage. (Starting at 0 would make the caller's first UnpinPage
// a no-op until the page is re-fetched.)
func (p *PoolManager) NewPage() (*Frame, page.PageID, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	f, ok, err := p.findVictim()
	if err != nil {
		return nil, page.InvalidID, err
	}
	if !ok {
		return nil, page.InvalidID, nil
	}

	l, err := p.disk.AllocatePage()
	if err != nil {
		p.freeList = append(p.freeList, f)
		return nil, page.InvalidID, fmt.Errorf("buffer: allocate page: %w", err)
	}
	if !l.Valid() {
		p.freeList = append(p.freeList, f)
		return nil, page.InvalidID, nil
	}

	frame := &p.frames[f]
	for i := range frame.Data {
		frame.Data[i] = 0
	}
	frame.PageID = l
	frame.PinCount = 1
	frame.Dirty = false
	p.pageTbl[l] = f
	return frame, l, nil
}

// UnpinPage ORs dirty into the frame's dirty flag and decrements its pin
// count; at zero the frame becomes replacer-eligible. Returns false if l
// is not currently resident.
func (p *PoolManager) UnpinPage(l page.PageID, dirty bool) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	f, ok := p.pageTbl[l]
	if !ok {
		return false
	}
	frame := &p.frames[f]
	frame.Dirty = frame.Dirty || dirty
	if frame.PinCount > 0 {
		frame.PinCount--
	}
	if frame.PinCount == 0 {
		p.replacer.Unpin(f)
	}
	return true
}

// FlushPage writes the frame's current content through to disk without
// changing its residence. Returns false if l is not resident.
func (p *PoolManager) FlushPage(l page.PageID) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	f, ok := p.pageTbl[l]
	if !ok {
		return false, nil
	}
	frame := &p.frames[f]
	if err := p.disk.WritePage(l, frame.Data); err != nil {
		return false, fmt.Errorf("buffer: flush page %s: %w", l, err)
	}
	frame.Dirty = false
	return true, nil
}

// DeletePage removes l from the pool and deallocates it on disk. A no-op
// success if l is not resident. Fails if the page is still pinned.
func (p *PoolManager) DeletePage(l page.PageID) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	f, ok := p.pageTbl[l]
	if !ok {
		return true, nil
	}
	frame := &p.frames[f]
	if frame.PinCount > 0 {
		return false, nil
	}
	if err := p.disk.DeallocatePage(l); err != nil {
		return false, fmt.Errorf("buffer: deallocate page %s: %w", l, err)
	}
	p.replacer.Pin(f)
	delete(p.pageTbl, l)
	frame.PageID = page.InvalidID
	frame.Dirty = false
	for i := range frame.Data {
		frame.Data[i] = 0
	}
	p.freeList = append(p.freeList, f)
	return true, nil
}

// FlushAll writes every resident dirty frame through to disk. Used at
// clean shutdown.
func (p *PoolManager) FlushAll() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for l, f := range p.pageTbl {
		frame := &p.frames[f]
		if frame.Dirty {
			if err := p.disk.WritePage(l, frame.Data); err != nil {
				return fmt.Errorf("buffer: flush all, page %s: %w", l, err)
			}
			frame.Dirty = false
		}
	}
	return nil
}

// CheckAllUnpinned verifies the shutdown invariant that no frame is
// still pinned; a non-empty result indicates a caller leaked a pin.
func (p *PoolManager) CheckAllUnpinned() []page.PageID {
	p.mu.Lock()
	defer p.mu.Unlock()
	var leaked []page.PageID
	for l, f := range p.pageTbl {
		if p.frames[f].PinCount > 0 {
			leaked = append(leaked, l)
		}
	}
	return leaked
}
