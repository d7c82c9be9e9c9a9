package hw

import (
	"fmt"
	"os"
)

// BlockDev is a disk exposing sector-sized reads and writes. The buffer
// cache and the swap area sit directly on top of one.
type BlockDev interface {
	// ReadSector reads sector into buf. len(buf) must be SectorSize.
	ReadSector(sector uint32, buf []byte) error
	// WriteSector writes buf to sector. len(buf) must be SectorSize.
	WriteSector(sector uint32, buf []byte) error
	// Sectors returns the device size in sectors.
	Sectors() uint32
}

// ───────────────────────────────────────────────────────────────────────────
// MemDisk
// ───────────────────────────────────────────────────────────────────────────

// MemDisk is an in-memory block device.
type MemDisk struct {
	data []byte
	n    uint32
}

// NewMemDisk creates an in-memory disk of the given size in sectors.
func NewMemDisk(sectors uint32) *MemDisk {
	return &MemDisk{data: make([]byte, int(sectors)*SectorSize), n: sectors}
}

func (d *MemDisk) bounds(sector uint32, buf []byte) error {
	if len(buf) != SectorSize {
		return fmt.Errorf("memdisk: buffer is %d bytes, want %d", len(buf), SectorSize)
	}
	if sector >= d.n {
		return fmt.Errorf("memdisk: sector %d out of range [0,%d)", sector, d.n)
	}
	return nil
}

// ReadSector copies one sector out of the disk.
func (d *MemDisk) ReadSector(sector uint32, buf []byte) error {
	if err := d.bounds(sector, buf); err != nil {
		return err
	}
	copy(buf, d.data[int(sector)*SectorSize:])
	return nil
}

// WriteSector copies one sector into the disk.
func (d *MemDisk) WriteSector(sector uint32, buf []byte) error {
	if err := d.bounds(sector, buf); err != nil {
		return err
	}
	copy(d.data[int(sector)*SectorSize:], buf)
	return nil
}

// Sectors returns the disk size in sectors.
func (d *MemDisk) Sectors() uint32 { return d.n }

// ───────────────────────────────────────────────────────────────────────────
// FileDisk
// ───────────────────────────────────────────────────────────────────────────

// FileDisk is a block device backed by a regular file.
type FileDisk struct {
	f *os.File
	n uint32
}

// OpenFileDisk opens (or creates) a disk image of the given size in sectors.
func OpenFileDisk(path string, sectors uint32) (*FileDisk, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("open disk image: %w", err)
	}
	if err := f.Truncate(int64(sectors) * SectorSize); err != nil {
		f.Close()
		return nil, fmt.Errorf("size disk image: %w", err)
	}
	return &FileDisk{f: f, n: sectors}, nil
}

// ReadSector reads one sector from the image.
func (d *FileDisk) ReadSector(sector uint32, buf []byte) error {
	if len(buf) != SectorSize {
		return fmt.Errorf("filedisk: buffer is %d bytes, want %d", len(buf), SectorSize)
	}
	if sector >= d.n {
		return fmt.Errorf("filedisk: sector %d out of range [0,%d)", sector, d.n)
	}
	if _, err := d.f.ReadAt(buf, int64(sector)*SectorSize); err != nil {
		return fmt.Errorf("read sector %d: %w", sector, err)
	}
	return nil
}

// WriteSector writes one sector to the image.
func (d *FileDisk) WriteSector(sector uint32, buf []byte) error {
	if len(buf) != SectorSize {
		return fmt.Errorf("filedisk: buffer is %d bytes, want %d", len(buf), SectorSize)
	}
	if sector >= d.n {
		return fmt.Errorf("filedisk: sector %d out of range [0,%d)", sector, d.n)
	}
	if _, err := d.f.WriteAt(buf, int64(sector)*SectorSize); err != nil {
		return fmt.Errorf("write sector %d: %w", sector, err)
	}
	return nil
}

// Sectors returns the disk size in sectors.
func (d *FileDisk) Sectors() uint32 { return d.n }

// Close syncs and closes the image file.
func (d *FileDisk) Close() error {
	if err := d.f.Sync(); err != nil {
		d.f.Close()
		return err
	}
	return d.f.Close()
}
