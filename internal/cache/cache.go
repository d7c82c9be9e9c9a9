// Package cache implements the write-back disk buffer cache: a fixed set
// of sector-sized lines in front of a block device, replaced with the
// clock algorithm. The filesystem layer routes all sector I/O through it.
package cache

import (
	"fmt"
	"sync"

	"github.com/hctung57/tinyVM/internal/hw"
)

// Lines is the number of cache lines. Each line holds one disk sector.
const Lines = 64

type line struct {
	used   bool
	sector uint32
	dirty  bool
	access bool // reference bit for the clock sweep
	data   [hw.SectorSize]byte
}

// Stats counts cache activity since creation.
type Stats struct {
	Hits       uint64
	Misses     uint64
	Evictions  uint64
	WriteBacks uint64
}

// Cache is a write-back sector cache. One mutex serializes every
// operation, including the device I/O a miss or eviction performs.
type Cache struct {
	mu    sync.Mutex
	dev   hw.BlockDev
	lines [Lines]line
	hand  int // persistent clock hand
	stats Stats
}

// New creates a cache in front of dev with all lines empty.
func New(dev hw.BlockDev) *Cache {
	return &Cache{dev: dev}
}

func checkBuf(buf []byte) {
	if len(buf) != hw.SectorSize {
		panic(fmt.Sprintf("cache: buffer is %d bytes, want %d", len(buf), hw.SectorSize))
	}
}

// lookup returns the line caching sector, or nil. Caller holds c.mu.
func (c *Cache) lookup(sector uint32) *line {
	for i := range c.lines {
		if c.lines[i].used && c.lines[i].sector == sector {
			return &c.lines[i]
		}
	}
	return nil
}

// writeBack persists a dirty line and marks it clean. Caller holds c.mu.
func (c *Cache) writeBack(ln *line) {
	if !ln.used {
		panic("cache: write-back of unused line")
	}
	if ln.dirty {
		if err := c.dev.WriteSector(ln.sector, ln.data[:]); err != nil {
			panic(fmt.Sprintf("cache: device write failed: %v", err))
		}
		ln.dirty = false
		c.stats.WriteBacks++
	}
}

// getSlot frees up a line using the clock algorithm and returns it marked
// unused. Unused lines are taken directly; a used line gets one reprieve
// via its reference bit before becoming the victim. Caller holds c.mu.
func (c *Cache) getSlot() *line {
	for {
		ln := &c.lines[c.hand]
		if !ln.used {
			return ln
		}
		if !ln.access {
			break
		}
		ln.access = false
		c.hand = (c.hand + 1) % Lines
	}

	victim := &c.lines[c.hand]
	c.writeBack(victim)
	victim.used = false
	c.stats.Evictions++
	return victim
}

// fill loads sector into an empty slot. The refill happens on the write
// path too, before the caller's bytes are copied in, so a write that
// covered only part of the sector would still leave the rest intact.
// Caller holds c.mu.
func (c *Cache) fill(sector uint32) *line {
	ln := c.getSlot()
	ln.used = true
	ln.sector = sector
	ln.dirty = false
	if err := c.dev.ReadSector(sector, ln.data[:]); err != nil {
		panic(fmt.Sprintf("cache: device read failed: %v", err))
	}
	c.stats.Misses++
	return ln
}

// Read copies sector into dst, faulting the sector in on a miss.
// len(dst) must be hw.SectorSize.
func (c *Cache) Read(sector uint32, dst []byte) {
	checkBuf(dst)
	c.mu.Lock()
	defer c.mu.Unlock()

	ln := c.lookup(sector)
	if ln == nil {
		ln = c.fill(sector)
	} else {
		c.stats.Hits++
	}
	ln.access = true
	copy(dst, ln.data[:])
}

// Write copies src over the cached sector, faulting it in on a miss. The
// line is left dirty; the device copy is updated on eviction or Flush.
// len(src) must be hw.SectorSize.
func (c *Cache) Write(sector uint32, src []byte) {
	checkBuf(src)
	c.mu.Lock()
	defer c.mu.Unlock()

	ln := c.lookup(sector)
	if ln == nil {
		ln = c.fill(sector)
	} else {
		c.stats.Hits++
	}
	ln.access = true
	ln.dirty = true
	copy(ln.data[:], src)
}

// Flush writes every dirty line to the device and leaves the cache
// contents in place, all lines clean.
func (c *Cache) Flush() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.lines {
		if c.lines[i].used {
			c.writeBack(&c.lines[i])
		}
	}
}

// Close flushes the cache at shutdown. The cache stays usable afterwards;
// Close exists so boot and shutdown have symmetric entry points.
func (c *Cache) Close() {
	c.Flush()
}

// Stats returns a copy of the activity counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}
