// Package tinyvm boots a small teaching kernel's memory core: a
// demand-paged virtual memory manager over a write-back disk buffer
// cache.
//
// The simulated machine has two disks. The filesystem disk carries a flat
// volume whose sector I/O goes through the buffer cache; the swap disk is
// a bare array of page-sized slots. Processes are address spaces: pages
// materialize on first touch from a file, from swap, or zero-filled, and
// a second-chance sweep reclaims frames when the physical pool runs out.
//
// # Basic usage
//
//	k, _ := tinyvm.Boot(tinyvm.DefaultConfig())
//	defer k.Close()
//
//	f, _ := k.Volume().Create("data", 6000)
//	proc := k.NewProcess()
//	mapid := proc.Mmap(f, 0x08048000)
//	proc.Store(0x08048000, []byte("hello"))
//	proc.Munmap(mapid)   // "hello" reaches the file
//	proc.Exit()
package tinyvm

import (
	"fmt"
	"log"

	"github.com/hctung57/tinyVM/internal/cache"
	"github.com/hctung57/tinyVM/internal/fsys"
	"github.com/hctung57/tinyVM/internal/hw"
	"github.com/hctung57/tinyVM/internal/vm"
)

// MapFailed is the mmap error return.
const MapFailed = vm.MapFailed

// PageSize is the virtual and physical page size in bytes.
const PageSize = hw.PageSize

// SectorSize is the disk sector size in bytes.
const SectorSize = hw.SectorSize

// Process re-exports the core's address-space type.
type Process = vm.Process

// Kernel is a booted machine: both disks, the buffer cache, the mounted
// volume, and the paging core.
type Kernel struct {
	cfg      Config
	disk     *hw.MemDisk
	swapDisk *hw.MemDisk
	bufCache *cache.Cache
	vol      *fsys.Volume
	core     *vm.Kernel
}

// Boot brings the machine up: fresh disks, an empty buffer cache, a
// formatted volume, and an empty paging core.
func Boot(cfg Config) (*Kernel, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	disk := hw.NewMemDisk(cfg.DiskSectors)
	swapDisk := hw.NewMemDisk(cfg.SwapSectors)
	bufCache := cache.New(disk)

	vol, err := fsys.Format(disk, bufCache)
	if err != nil {
		return nil, fmt.Errorf("format volume: %w", err)
	}

	k := &Kernel{
		cfg:      cfg,
		disk:     disk,
		swapDisk: swapDisk,
		bufCache: bufCache,
		vol:      vol,
		core:     vm.NewKernel(hw.NewAllocator(cfg.UserFrames), swapDisk),
	}
	log.Printf("tinyvm: booted with %d user frames, %d swap slots, volume %s",
		cfg.UserFrames, int(cfg.SwapSectors)/hw.SectorsPerPage, vol.ID())
	return k, nil
}

// NewProcess creates an empty address space on this kernel.
func (k *Kernel) NewProcess() *Process { return k.core.NewProcess() }

// Volume returns the mounted file volume.
func (k *Kernel) Volume() *fsys.Volume { return k.vol }

// BufferCache returns the sector cache in front of the filesystem disk.
func (k *Kernel) BufferCache() *cache.Cache { return k.bufCache }

// VM returns the paging core.
func (k *Kernel) VM() *vm.Kernel { return k.core }

// Close shuts the machine down: every dirty cache line reaches the disk.
func (k *Kernel) Close() {
	k.bufCache.Close()
	s := k.bufCache.Stats()
	log.Printf("tinyvm: shutdown, %d cache write-backs total", s.WriteBacks)
}
