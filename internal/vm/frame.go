package vm

import (
	"container/list"

	"github.com/hctung57/tinyVM/internal/hw"
)

// Frame records one physical user frame: which process maps it, at which
// user page, and the kernel address of the payload. The frame table lists
// frames in allocation order, which is also the eviction sweep order.
type Frame struct {
	proc  *Process
	upage uintptr
	kpage *hw.PageBuf
}

// frameAlloc obtains a user frame for (proc, upage), evicting a victim
// when the physical pool is exhausted, and records it in the frame table.
// Eviction always frees a page, so the result is never nil; eviction with
// an empty frame table panics. Caller holds the frame mutex.
func (k *Kernel) frameAlloc(proc *Process, upage uintptr, flags hw.AllocFlags) *hw.PageBuf {
	kpage := k.alloc.GetPage(hw.AllocUser | flags)
	if kpage == nil {
		kpage = k.frameEvict(flags)
	}
	if kpage != nil {
		k.frames.PushBack(&Frame{proc: proc, upage: upage, kpage: kpage})
	}
	return kpage
}

// frameFree releases the frame holding kpage. Freeing an address that is
// not in the table is a silent no-op. Caller holds the frame mutex.
func (k *Kernel) frameFree(kpage *hw.PageBuf) {
	for e := k.frames.Front(); e != nil; e = e.Next() {
		f := e.Value.(*Frame)
		if f.kpage == kpage {
			k.frames.Remove(e)
			k.alloc.FreePage(f.kpage)
			break
		}
	}
}

// frameEvict runs the second-chance sweep, dispossesses the victim's
// owner, and returns a fresh allocation with the requested flags.
//
// The sweep clears accessed bits as it goes, so even if every frame has
// its bit set the first pass strips them and the second pass must find a
// victim: the loop terminates within two rounds of the table. Caller
// holds the frame mutex, so eviction cannot recurse or race the victim's
// supplemental page table.
func (k *Kernel) frameEvict(flags hw.AllocFlags) *hw.PageBuf {
	if k.frames.Len() == 0 {
		panic("vm: eviction with empty frame table")
	}

	e := k.frames.Front()
	for {
		f := e.Value.(*Frame)
		pd := f.proc.pd
		if pd.IsAccessed(f.upage) {
			// Second chance: strip the bit and move on.
			pd.SetAccessed(f.upage, false)
		} else {
			k.evictFrame(e, f)
			k.evictions++
			return k.alloc.GetPage(hw.AllocUser | flags)
		}

		e = e.Next()
		if e == nil {
			e = k.frames.Front()
		}
	}
}

// evictFrame commits eviction of the victim frame: persist the page
// contents if they are the authoritative copy, mark the supplemental
// entry non-resident, and release the hardware mapping and the physical
// page. Caller holds the frame mutex.
func (k *Kernel) evictFrame(e *list.Element, f *Frame) {
	p := f.proc.pages[f.upage]
	if p == nil {
		panic("vm: frame without supplemental entry")
	}

	if f.proc.pd.IsDirty(f.upage) {
		if p.mapID != NoMapping {
			// Mapped dirty page: the file is the home location.
			k.fsMu.Lock()
			p.file.WriteAt(f.kpage[:p.fileReadBytes], p.fileOfs)
			k.fsMu.Unlock()
			p.loaded = false
		} else {
			// Anonymous dirty page: swap is the only home it has.
			p.valid = false
			p.swapIdx = k.swap.out(f.kpage)
			p.loaded = false
		}
	} else {
		// A clean page can be reconstructed from its original source: the
		// backing file, or all-zero for an anonymous page that was never
		// stored to (every store sets the dirty bit, and swap-in marks the
		// page dirty, so a clean anonymous page is still zero-filled).
		if p.file == nil && p.mapID == NoMapping {
			assertZero(f.kpage)
		}
		p.loaded = false
	}

	k.frames.Remove(e)
	f.proc.pd.Clear(f.upage)
	k.alloc.FreePage(f.kpage)
}

func assertZero(kpage *hw.PageBuf) {
	for _, b := range kpage {
		if b != 0 {
			panic("vm: clean anonymous page with non-zero contents")
		}
	}
}
