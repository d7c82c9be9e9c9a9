// Package vm implements the demand-paging core: the supplemental page
// table, the frame table with second-chance eviction, the swap-slot
// allocator, and the per-process mapping registry.
//
// Locking follows a strict order. The kernel-wide frame mutex serializes
// the frame table and every per-process structure eviction can observe;
// the filesystem mutex and the swap mutex nest inside it and never the
// reverse. The buffer cache below locks independently.
package vm

import (
	"container/list"
	"errors"
	"fmt"
	"sync"

	"github.com/hctung57/tinyVM/internal/hw"
)

// NoMapping marks a page that belongs to no file mapping.
const NoMapping = -1

// MapFailed is the mmap error return.
const MapFailed = -1

// Stats counts paging activity since boot.
type Stats struct {
	Faults         uint64
	Evictions      uint64
	SwapOuts       uint64
	SwapIns        uint64
	FramesInUse    int
	SwapSlotsInUse int
	SwapSlots      int
}

// Kernel owns the machine-wide paging state: the frame table, the
// physical allocator, the swap area, and the filesystem mutex.
type Kernel struct {
	frameMu sync.Mutex
	frames  *list.List // of *Frame, insertion order = sweep order
	alloc   *hw.Allocator
	swap    *swapArea
	fsMu    sync.Mutex

	// counters, guarded by frameMu
	faults    uint64
	evictions uint64
}

// NewKernel creates the paging core over the given physical allocator and
// swap disk.
func NewKernel(alloc *hw.Allocator, swapDev hw.BlockDev) *Kernel {
	return &Kernel{
		frames: list.New(),
		alloc:  alloc,
		swap:   newSwap(swapDev),
	}
}

// Stats returns a copy of the paging counters.
func (k *Kernel) Stats() Stats {
	k.frameMu.Lock()
	defer k.frameMu.Unlock()
	so, si, used, total := k.swap.counters()
	return Stats{
		Faults:         k.faults,
		Evictions:      k.evictions,
		SwapOuts:       so,
		SwapIns:        si,
		FramesInUse:    k.frames.Len(),
		SwapSlotsInUse: used,
		SwapSlots:      total,
	}
}

// FilesysLock acquires the filesystem mutex for callers outside the
// paging core (the syscall layer serializes its file I/O with the same
// lock eviction write-back uses).
func (k *Kernel) FilesysLock() { k.fsMu.Lock() }

// FilesysUnlock releases the filesystem mutex.
func (k *Kernel) FilesysUnlock() { k.fsMu.Unlock() }

// Process is one user address space: its hardware page directory, its
// supplemental page table, and its file-mapping registry.
type Process struct {
	k         *Kernel
	pd        *hw.PageDir
	pages     map[uintptr]*Page
	mmaps     *list.List // of *Page, grouped by ascending mapid
	nextMapID int
}

// NewProcess creates an empty address space.
func (k *Kernel) NewProcess() *Process {
	return &Process{
		k:     k,
		pd:    hw.NewPageDir(),
		pages: make(map[uintptr]*Page),
		mmaps: list.New(),
	}
}

// PageDir exposes the process's hardware page table, the surface the
// simulated user mode and the syscall layer touch memory through.
func (p *Process) PageDir() *hw.PageDir { return p.pd }

// Kernel returns the owning kernel.
func (p *Process) Kernel() *Kernel { return p.k }

// Exit tears the address space down: dirty mapped pages are written back,
// frames and swap slots are released, and the page directory is dropped.
func (p *Process) Exit() {
	p.Destroy()
	p.pd.Destroy()
}

// ───────────────────────────────────────────────────────────────────────────
// Simulated user access with demand paging
// ───────────────────────────────────────────────────────────────────────────

// Store writes data at va the way a user instruction would: pages are
// faulted in on demand and the store retries after each resolved fault.
// An unresolvable fault or a write to a read-only page surfaces as an
// error, the moral equivalent of killing the process.
func (p *Process) Store(va uintptr, data []byte) error {
	for len(data) > 0 {
		upage := hw.PageRound(va)
		ofs := hw.PageOfs(va)
		n := hw.PageSize - int(ofs)
		if n > len(data) {
			n = len(data)
		}
		if err := p.touch(upage); err != nil {
			return err
		}
		if err := p.pd.Store(va, data[:n]); err != nil {
			if errors.Is(err, hw.ErrNotMapped) {
				continue // evicted between fault and store; fault again
			}
			return err
		}
		va += uintptr(n)
		data = data[n:]
	}
	return nil
}

// Load reads n bytes at va, faulting pages in on demand.
func (p *Process) Load(va uintptr, n int) ([]byte, error) {
	out := make([]byte, 0, n)
	for n > 0 {
		upage := hw.PageRound(va)
		ofs := hw.PageOfs(va)
		c := hw.PageSize - int(ofs)
		if c > n {
			c = n
		}
		if err := p.touch(upage); err != nil {
			return nil, err
		}
		chunk, err := p.pd.Load(va, c)
		if err != nil {
			if errors.Is(err, hw.ErrNotMapped) {
				continue
			}
			return nil, err
		}
		out = append(out, chunk...)
		va += uintptr(c)
		n -= c
	}
	return out, nil
}

// touch makes upage resident, resolving a fault if needed.
func (p *Process) touch(upage uintptr) error {
	if p.pd.Get(upage) != nil {
		return nil
	}
	if !p.HandleFault(upage) {
		return &SegfaultError{VA: upage}
	}
	return nil
}

// SegfaultError reports a user access the fault handler could not
// resolve.
type SegfaultError struct {
	VA uintptr
}

func (e *SegfaultError) Error() string {
	return fmt.Sprintf("unresolvable page fault at %#x", e.VA)
}
