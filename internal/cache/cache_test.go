package cache

import (
	"bytes"
	"testing"

	"github.com/hctung57/tinyVM/internal/hw"
)

func sectorOf(b byte) []byte {
	return bytes.Repeat([]byte{b}, hw.SectorSize)
}

func TestCacheHitAfterWrite(t *testing.T) {
	dev := hw.NewMemDisk(256)
	c := New(dev)

	c.Write(5, sectorOf(0xAA))

	got := make([]byte, hw.SectorSize)
	c.Read(5, got)
	if !bytes.Equal(got, sectorOf(0xAA)) {
		t.Fatal("read after write returned wrong data")
	}

	s := c.Stats()
	if s.Hits != 1 {
		t.Errorf("Hits = %d, want 1", s.Hits)
	}
	if s.Misses != 1 {
		t.Errorf("Misses = %d, want 1 (the write allocated the line)", s.Misses)
	}

	// The device must not have seen the write yet: the cache is
	// write-back, not write-through.
	disk := make([]byte, hw.SectorSize)
	dev.ReadSector(5, disk)
	if bytes.Equal(disk, sectorOf(0xAA)) {
		t.Error("write reached the device before eviction")
	}
}

func TestCacheEvictionWritesBack(t *testing.T) {
	dev := hw.NewMemDisk(256)
	c := New(dev)

	c.Write(5, sectorOf(0xAA))

	// Fill the remaining 63 lines and force one eviction: the oldest
	// line, sector 5, loses its second chance first.
	for i := 0; i < Lines; i++ {
		c.Write(uint32(100+i), sectorOf(byte(i)))
	}

	disk := make([]byte, hw.SectorSize)
	dev.ReadSector(5, disk)
	if !bytes.Equal(disk, sectorOf(0xAA)) {
		t.Fatal("evicted dirty sector did not reach the device")
	}

	s := c.Stats()
	if s.Evictions == 0 {
		t.Error("no eviction recorded")
	}
	if s.WriteBacks == 0 {
		t.Error("no write-back recorded")
	}

	// Sector 5 still reads correctly, now from the device.
	got := make([]byte, hw.SectorSize)
	c.Read(5, got)
	if !bytes.Equal(got, sectorOf(0xAA)) {
		t.Error("re-read of evicted sector returned wrong data")
	}
}

func TestCacheNoDuplicateSectors(t *testing.T) {
	dev := hw.NewMemDisk(256)
	c := New(dev)

	for round := 0; round < 3; round++ {
		for i := 0; i < 80; i++ {
			c.Write(uint32(i), sectorOf(byte(i)))
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	seen := make(map[uint32]bool)
	for i := range c.lines {
		if !c.lines[i].used {
			continue
		}
		if seen[c.lines[i].sector] {
			t.Fatalf("sector %d cached in two lines", c.lines[i].sector)
		}
		seen[c.lines[i].sector] = true
	}
}

func TestCacheCloseFlushesEverything(t *testing.T) {
	dev := hw.NewMemDisk(256)
	c := New(dev)

	for i := 0; i < 16; i++ {
		c.Write(uint32(i), sectorOf(byte(0x40 + i)))
	}
	c.Close()

	disk := make([]byte, hw.SectorSize)
	for i := 0; i < 16; i++ {
		dev.ReadSector(uint32(i), disk)
		if !bytes.Equal(disk, sectorOf(byte(0x40+i))) {
			t.Fatalf("sector %d not flushed by Close", i)
		}
	}

	// All lines are clean now; a second flush writes nothing.
	before := c.Stats().WriteBacks
	c.Flush()
	if after := c.Stats().WriteBacks; after != before {
		t.Errorf("Flush after Close wrote %d lines, want 0", after-before)
	}
}

func TestCacheReadMissFillsFromDevice(t *testing.T) {
	dev := hw.NewMemDisk(256)
	dev.WriteSector(9, sectorOf(0x77))
	c := New(dev)

	got := make([]byte, hw.SectorSize)
	c.Read(9, got)
	if !bytes.Equal(got, sectorOf(0x77)) {
		t.Fatal("read miss returned wrong device data")
	}
	if s := c.Stats(); s.Misses != 1 || s.Hits != 0 {
		t.Errorf("stats = %+v, want one miss", s)
	}
}

func TestCacheWriteRefillsBeforeOverwrite(t *testing.T) {
	dev := hw.NewMemDisk(256)
	dev.WriteSector(3, sectorOf(0x11))
	c := New(dev)

	// A write miss still reads the old sector into the line first, so
	// the device copy is pulled through the cache exactly once.
	c.Write(3, sectorOf(0x22))
	if s := c.Stats(); s.Misses != 1 {
		t.Errorf("Misses = %d, want 1 (refill before overwrite)", s.Misses)
	}

	got := make([]byte, hw.SectorSize)
	c.Read(3, got)
	if !bytes.Equal(got, sectorOf(0x22)) {
		t.Error("overwrite lost the new contents")
	}
}

func TestCacheBadBufferPanics(t *testing.T) {
	c := New(hw.NewMemDisk(16))
	defer func() {
		if recover() == nil {
			t.Error("short buffer did not panic")
		}
	}()
	c.Read(0, make([]byte, 10))
}
