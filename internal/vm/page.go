package vm

import (
	"container/list"

	"github.com/hctung57/tinyVM/internal/fsys"
	"github.com/hctung57/tinyVM/internal/hw"
)

// Page is one supplemental page table entry: everything the kernel knows
// about a virtual page beyond what the hardware table records.
//
// At most one of {resident frame, swap slot, file backing} is the
// authoritative copy at any instant. loaded means a frame backs the page
// right now; valid false means the page lives in swap slot swapIdx.
type Page struct {
	addr   uintptr
	loaded bool
	valid  bool

	mapID         int
	file          *fsys.File
	fileOfs       int64
	fileReadBytes int
	fileWritable  bool

	swapIdx int

	elem *list.Element // registry linkage, nil unless part of a mapping
}

// Addr returns the page-aligned user virtual address.
func (p *Page) Addr() uintptr { return p.addr }

// Resident reports whether a frame currently backs the page.
func (p *Page) Resident() bool { return p.loaded }

// MapID returns the mapping the page belongs to, or NoMapping.
func (p *Page) MapID() int { return p.mapID }

// Insert adds a fresh supplemental entry at addr with resident defaults
// (loaded and valid, anonymous, no file). If an entry already exists at
// addr the insert fails: the existing entry is returned with ok false and
// the table is unchanged.
func (p *Process) Insert(addr uintptr) (*Page, bool) {
	p.k.frameMu.Lock()
	defer p.k.frameMu.Unlock()
	return p.insert(addr)
}

func (p *Process) insert(addr uintptr) (*Page, bool) {
	if hw.PageOfs(addr) != 0 {
		panic("vm: inserting unaligned page")
	}
	if old, ok := p.pages[addr]; ok {
		return old, false
	}
	pg := &Page{addr: addr, loaded: true, valid: true, mapID: NoMapping}
	p.pages[addr] = pg
	return pg, true
}

// Find returns the supplemental entry at addr, or nil.
func (p *Process) Find(addr uintptr) *Page {
	p.k.frameMu.Lock()
	defer p.k.frameMu.Unlock()
	return p.pages[addr]
}

// Destroy tears down the whole supplemental table: dirty mapped residents
// are written straight back to their files, hardware mappings and frames
// are released, and swap slots of swapped-out pages are freed.
func (p *Process) Destroy() {
	p.k.frameMu.Lock()
	defer p.k.frameMu.Unlock()

	for addr, pg := range p.pages {
		kpage := p.pd.Get(addr)
		if kpage != nil {
			if pg.mapID != NoMapping {
				if p.pd.IsDirty(addr) {
					p.k.fsMu.Lock()
					pg.file.WriteAt(kpage[:pg.fileReadBytes], pg.fileOfs)
					p.k.fsMu.Unlock()
				}
				p.mmaps.Remove(pg.elem)
				pg.elem = nil
			}
			p.pd.Clear(addr)
			p.k.frameFree(kpage)
		}
		if !pg.valid {
			p.k.swap.destroy(pg.swapIdx)
		}
		delete(p.pages, addr)
	}
}

// ───────────────────────────────────────────────────────────────────────────
// Loaders
// ───────────────────────────────────────────────────────────────────────────

// LoadSwap brings a swapped-out page back into a frame. The slot is
// released by the read; the page comes back writable with dirty and
// accessed set so a subsequent eviction knows the frame is the only copy.
func (p *Process) LoadSwap(pg *Page) bool {
	p.k.frameMu.Lock()
	defer p.k.frameMu.Unlock()
	return p.loadSwap(pg)
}

func (p *Process) loadSwap(pg *Page) bool {
	if pg.valid {
		panic("vm: LoadSwap on a page that is not swapped out")
	}
	kpage := p.k.frameAlloc(p, pg.addr, 0)
	if kpage == nil {
		return false
	}
	p.k.swap.in(pg, kpage)
	ok := p.pd.Get(pg.addr) == nil && p.pd.Set(pg.addr, kpage, true)
	if !ok {
		p.k.frameFree(kpage)
		return false
	}
	p.pd.SetDirty(pg.addr, true)
	p.pd.SetAccessed(pg.addr, true)
	pg.valid = true
	pg.loaded = true
	return true
}

// LoadFile materializes a file-backed page: read fileReadBytes from the
// backing file, zero the tail, install with the page's writability.
func (p *Process) LoadFile(pg *Page) bool {
	p.k.frameMu.Lock()
	defer p.k.frameMu.Unlock()
	return p.loadFile(pg)
}

func (p *Process) loadFile(pg *Page) bool {
	if pg.loaded {
		panic("vm: LoadFile on a resident page")
	}
	if pg.file == nil {
		panic("vm: LoadFile without a backing file")
	}

	var kpage *hw.PageBuf
	if pg.fileReadBytes == 0 {
		kpage = p.k.frameAlloc(p, pg.addr, hw.AllocZero)
	} else {
		kpage = p.k.frameAlloc(p, pg.addr, 0)
	}
	if kpage == nil {
		return false
	}

	if pg.fileReadBytes > 0 {
		p.k.fsMu.Lock()
		n, err := pg.file.ReadAt(kpage[:pg.fileReadBytes], pg.fileOfs)
		p.k.fsMu.Unlock()
		if err != nil || n != pg.fileReadBytes {
			p.k.frameFree(kpage)
			return false
		}
		for i := pg.fileReadBytes; i < hw.PageSize; i++ {
			kpage[i] = 0
		}
	}

	ok := p.pd.Get(pg.addr) == nil && p.pd.Set(pg.addr, kpage, pg.fileWritable)
	if !ok {
		p.k.frameFree(kpage)
		return false
	}
	p.pd.SetAccessed(pg.addr, true)
	pg.loaded = true
	return true
}

// LoadZero materializes an anonymous page as a writable zero-filled
// frame.
func (p *Process) LoadZero(pg *Page) bool {
	p.k.frameMu.Lock()
	defer p.k.frameMu.Unlock()
	return p.loadZero(pg)
}

func (p *Process) loadZero(pg *Page) bool {
	if pg.loaded {
		panic("vm: LoadZero on a resident page")
	}
	kpage := p.k.frameAlloc(p, pg.addr, hw.AllocZero)
	if kpage == nil {
		return false
	}
	ok := p.pd.Get(pg.addr) == nil && p.pd.Set(pg.addr, kpage, true)
	if !ok {
		p.k.frameFree(kpage)
		return false
	}
	p.pd.SetAccessed(pg.addr, true)
	pg.loaded = true
	return true
}

// ───────────────────────────────────────────────────────────────────────────
// Lazy page creation (stack growth, executable segments)
// ───────────────────────────────────────────────────────────────────────────

// GrowStack creates and materializes a fresh anonymous page at addr. It
// fails if the address is already tracked. The decision that a faulting
// address is stack growth belongs to the syscall layer; this is the
// mechanism only.
func (p *Process) GrowStack(addr uintptr) bool {
	p.k.frameMu.Lock()
	defer p.k.frameMu.Unlock()

	pg, ok := p.insert(hw.PageRound(addr))
	if !ok {
		return false
	}
	pg.loaded = false
	return p.loadZero(pg)
}

// AddFileSegment registers a lazy file-backed page the way a program
// loader populates the supplemental table for an executable image: not
// resident, not part of any mapping, faulted in from (f, ofs) on first
// touch. Bytes past readBytes within the page read as zero.
func (p *Process) AddFileSegment(f *fsys.File, ofs int64, addr uintptr, readBytes int, writable bool) bool {
	if readBytes < 0 || readBytes > hw.PageSize {
		panic("vm: segment read bytes out of range")
	}
	p.k.frameMu.Lock()
	defer p.k.frameMu.Unlock()

	pg, ok := p.insert(hw.PageRound(addr))
	if !ok {
		return false
	}
	pg.loaded = false
	pg.file = f
	pg.fileOfs = ofs
	pg.fileReadBytes = readBytes
	pg.fileWritable = writable
	return true
}
