package vm

import (
	"fmt"
	"sync"

	"github.com/hctung57/tinyVM/internal/hw"
)

// swapArea allocates page-sized slots on a dedicated disk. A set bit in
// the table means the slot holds a swapped-out page. Slots are released
// on swap-in; a slot never survives being read back.
type swapArea struct {
	// mu serializes bitmap mutation and swap-disk I/O. It nests inside
	// the frame mutex, never outside it.
	mu    sync.Mutex
	dev   hw.BlockDev
	table *hw.Bitmap

	outs uint64
	ins  uint64
}

// newSwap sizes the slot table to the swap disk.
func newSwap(dev hw.BlockDev) *swapArea {
	slots := int(dev.Sectors()) * hw.SectorSize / hw.PageSize
	if slots == 0 {
		panic("vm: swap disk smaller than one page")
	}
	return &swapArea{dev: dev, table: hw.NewBitmap(slots)}
}

// out writes the page at kpage to a fresh slot and returns its index.
// Swap exhaustion halts the system: this kernel never grows swap.
func (s *swapArea) out(kpage *hw.PageBuf) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, ok := s.table.ScanAndFlip(false)
	if !ok {
		panic("vm: out of swap slots")
	}
	for sec := 0; sec < hw.SectorsPerPage; sec++ {
		sector := uint32(idx*hw.SectorsPerPage + sec)
		if err := s.dev.WriteSector(sector, kpage[sec*hw.SectorSize:(sec+1)*hw.SectorSize]); err != nil {
			panic(fmt.Sprintf("vm: swap write failed: %v", err))
		}
	}
	s.outs++
	return idx
}

// in reads the slot named by p.swapIdx into kpage and releases the slot.
func (s *swapArea) in(p *Page, kpage *hw.PageBuf) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.table.Test(p.swapIdx) {
		panic(fmt.Sprintf("vm: swap-in of free slot %d", p.swapIdx))
	}
	for sec := 0; sec < hw.SectorsPerPage; sec++ {
		sector := uint32(p.swapIdx*hw.SectorsPerPage + sec)
		if err := s.dev.ReadSector(sector, kpage[sec*hw.SectorSize:(sec+1)*hw.SectorSize]); err != nil {
			panic(fmt.Sprintf("vm: swap read failed: %v", err))
		}
	}
	s.table.Set(p.swapIdx, false)
	s.ins++
}

// destroy releases a slot whose page is being torn down while still
// swapped out.
func (s *swapArea) destroy(idx int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.table.Test(idx) {
		panic(fmt.Sprintf("vm: destroy of free slot %d", idx))
	}
	s.table.Set(idx, false)
}

func (s *swapArea) counters() (outs, ins uint64, used, total int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outs, s.ins, s.table.Count(), s.table.Len()
}
