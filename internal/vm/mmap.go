package vm

import (
	"github.com/hctung57/tinyVM/internal/fsys"
	"github.com/hctung57/tinyVM/internal/hw"
)

// The mapping registry is an ordered list of the pages participating in
// file mappings. Pages of one mapping are contiguous in the list and
// mapids never decrease along it, so an unmapping walk can skip smaller
// ids and stop at the first larger one.

// Mmap maps f at the page-aligned address addr and returns the new
// mapping id, or MapFailed. The whole file is covered page by page, each
// page lazily backed by its own reopened handle. A collision with any
// existing page rolls the partial mapping back completely: SPT, registry,
// and the mapid counter are restored before returning.
func (p *Process) Mmap(f *fsys.File, addr uintptr) int {
	if f == nil {
		return MapFailed
	}
	if hw.PageOfs(addr) != 0 || addr == 0 {
		return MapFailed
	}

	p.k.fsMu.Lock()
	length := f.Length()
	p.k.fsMu.Unlock()
	if length == 0 {
		return MapFailed
	}

	p.k.frameMu.Lock()
	defer p.k.frameMu.Unlock()

	mapid := p.nextMapID
	p.nextMapID++

	remaining := length
	var ofs int64
	for remaining > 0 {
		pg, ok := p.insert(addr + uintptr(ofs))
		if !ok {
			p.nextMapID--
			for ofs > 0 {
				ofs -= hw.PageSize
				back := p.mmaps.Remove(p.mmaps.Back()).(*Page)
				delete(p.pages, back.addr)
			}
			return MapFailed
		}

		readBytes := remaining
		if readBytes > hw.PageSize {
			readBytes = hw.PageSize
		}
		pg.loaded = false
		pg.mapID = mapid
		pg.file = f.Reopen()
		pg.fileOfs = ofs
		pg.fileReadBytes = int(readBytes)
		pg.fileWritable = true
		pg.elem = p.mmaps.PushBack(pg)

		remaining -= readBytes
		ofs += hw.PageSize
	}

	return mapid
}

// Munmap destroys the mapping named mapid: dirty resident pages are
// written back to the file, mappings and frames are released, and the
// supplemental entries disappear. Unmapping an id that no longer exists
// is a no-op, so the call is idempotent. The whole walk runs under the
// frame mutex so eviction cannot race it.
func (p *Process) Munmap(mapid int) {
	p.k.frameMu.Lock()
	defer p.k.frameMu.Unlock()

	e := p.mmaps.Front()
	for e != nil {
		pg := e.Value.(*Page)
		if pg.mapID < mapid {
			e = e.Next()
			continue
		}
		if pg.mapID > mapid {
			break
		}

		next := e.Next()
		p.mmaps.Remove(e)
		pg.elem = nil
		e = next

		kpage := p.pd.Get(pg.addr)
		if kpage == nil {
			delete(p.pages, pg.addr)
			continue
		}
		if p.pd.IsDirty(pg.addr) {
			p.k.fsMu.Lock()
			pg.file.WriteAt(kpage[:pg.fileReadBytes], pg.fileOfs)
			p.k.fsMu.Unlock()
		}
		p.pd.Clear(pg.addr)
		delete(p.pages, pg.addr)
		p.k.frameFree(kpage)
	}
}

// Mappings returns the number of pages currently in the registry.
func (p *Process) Mappings() int { return p.mmaps.Len() }

// NextMapID returns the next mapping id that Mmap would hand out.
func (p *Process) NextMapID() int { return p.nextMapID }
