// Package fsys implements a minimal flat file volume on top of the buffer
// cache. It exists to back memory-mapped and executable pages: files are
// fixed-size contiguous sector extents named in a single header sector.
// Every byte of data I/O goes through the cache, never straight to the
// device.
package fsys

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/google/uuid"

	"github.com/hctung57/tinyVM/internal/cache"
	"github.com/hctung57/tinyVM/internal/hw"
)

// Volume header, sector 0:
//
//	[0:4]    magic "TVFS"
//	[4:6]    version       (uint16 LE)
//	[6:8]    file count    (uint16 LE)
//	[8:24]   volume UUID   (16 raw bytes)
//	[24:28]  next free sector (uint32 LE)
//	[28:...] file entries, 24 bytes each:
//	         [0:16]  name, NUL padded
//	         [16:20] start sector (uint32 LE)
//	         [20:24] size in bytes (uint32 LE)
const (
	magic        = "TVFS"
	version      = 1
	headerLen    = 28
	entryLen     = 24
	nameLen      = 16
	maxFiles     = (hw.SectorSize - headerLen) / entryLen
	headerSector = 0
	dataStart    = 1 // first sector available for file data
)

type fileEntry struct {
	name  string
	start uint32
	size  uint32
}

// Volume is a mounted file volume. Metadata mutation is serialized by the
// callers' filesystem mutex; the cache below serializes sector access.
type Volume struct {
	dev      hw.BlockDev
	c        *cache.Cache
	id       uuid.UUID
	files    []fileEntry
	nextFree uint32
}

// Format initializes a fresh volume on dev and mounts it. A new volume
// UUID is stamped into the header.
func Format(dev hw.BlockDev, c *cache.Cache) (*Volume, error) {
	if dev.Sectors() <= dataStart {
		return nil, fmt.Errorf("fsys: device too small (%d sectors)", dev.Sectors())
	}
	v := &Volume{dev: dev, c: c, id: uuid.New(), nextFree: dataStart}
	v.writeHeader()
	return v, nil
}

// Mount reads the header sector and returns the volume described there.
func Mount(dev hw.BlockDev, c *cache.Cache) (*Volume, error) {
	var buf [hw.SectorSize]byte
	c.Read(headerSector, buf[:])
	if string(buf[0:4]) != magic {
		return nil, fmt.Errorf("fsys: bad magic %q", buf[0:4])
	}
	if ver := binary.LittleEndian.Uint16(buf[4:6]); ver != version {
		return nil, fmt.Errorf("fsys: unsupported volume version %d", ver)
	}
	v := &Volume{dev: dev, c: c, nextFree: binary.LittleEndian.Uint32(buf[24:28])}
	copy(v.id[:], buf[8:24])
	count := int(binary.LittleEndian.Uint16(buf[6:8]))
	for i := 0; i < count; i++ {
		e := buf[headerLen+i*entryLen:]
		name := string(bytes.TrimRight(e[0:nameLen], "\x00"))
		v.files = append(v.files, fileEntry{
			name:  name,
			start: binary.LittleEndian.Uint32(e[nameLen : nameLen+4]),
			size:  binary.LittleEndian.Uint32(e[nameLen+4 : nameLen+8]),
		})
	}
	return v, nil
}

// ID returns the volume UUID.
func (v *Volume) ID() uuid.UUID { return v.id }

func (v *Volume) writeHeader() {
	var buf [hw.SectorSize]byte
	copy(buf[0:4], magic)
	binary.LittleEndian.PutUint16(buf[4:6], version)
	binary.LittleEndian.PutUint16(buf[6:8], uint16(len(v.files)))
	copy(buf[8:24], v.id[:])
	binary.LittleEndian.PutUint32(buf[24:28], v.nextFree)
	for i, e := range v.files {
		out := buf[headerLen+i*entryLen:]
		copy(out[0:nameLen], e.name)
		binary.LittleEndian.PutUint32(out[nameLen:nameLen+4], e.start)
		binary.LittleEndian.PutUint32(out[nameLen+4:nameLen+8], e.size)
	}
	v.c.Write(headerSector, buf[:])
}

func (v *Volume) find(name string) int {
	for i := range v.files {
		if v.files[i].name == name {
			return i
		}
	}
	return -1
}

// Create allocates a file of exactly size bytes as a contiguous extent
// and returns a handle to it. Files never grow or shrink.
func (v *Volume) Create(name string, size int64) (*File, error) {
	if name == "" || len(name) > nameLen {
		return nil, fmt.Errorf("fsys: bad file name %q", name)
	}
	if size < 0 {
		return nil, fmt.Errorf("fsys: negative size %d", size)
	}
	if v.find(name) >= 0 {
		return nil, fmt.Errorf("fsys: file %q exists", name)
	}
	if len(v.files) >= maxFiles {
		return nil, fmt.Errorf("fsys: file table full (%d entries)", maxFiles)
	}
	sectors := uint32((size + hw.SectorSize - 1) / hw.SectorSize)
	if v.nextFree+sectors > v.dev.Sectors() {
		return nil, fmt.Errorf("fsys: volume full: need %d sectors, %d free",
			sectors, v.dev.Sectors()-v.nextFree)
	}
	e := fileEntry{name: name, start: v.nextFree, size: uint32(size)}
	v.nextFree += sectors
	v.files = append(v.files, e)
	v.writeHeader()
	return &File{v: v, entry: e}, nil
}

// Open returns a handle to an existing file.
func (v *Volume) Open(name string) (*File, error) {
	i := v.find(name)
	if i < 0 {
		return nil, fmt.Errorf("fsys: no file %q", name)
	}
	return &File{v: v, entry: v.files[i]}, nil
}

// ───────────────────────────────────────────────────────────────────────────
// File
// ───────────────────────────────────────────────────────────────────────────

// File is an open handle to one extent on the volume. Handles are cheap;
// Reopen duplicates one so each mapped page can own its own.
type File struct {
	v     *Volume
	entry fileEntry
}

// Name returns the file name.
func (f *File) Name() string { return f.entry.name }

// Length returns the file size in bytes.
func (f *File) Length() int64 { return int64(f.entry.size) }

// Reopen duplicates the handle.
func (f *File) Reopen() *File {
	return &File{v: f.v, entry: f.entry}
}

// ReadAt reads len(p) bytes at offset off. Reads past the end are
// truncated and return io.EOF alongside the byte count.
func (f *File) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("fsys: negative offset %d", off)
	}
	size := f.Length()
	if off >= size {
		return 0, io.EOF
	}
	n := len(p)
	short := false
	if off+int64(n) > size {
		n = int(size - off)
		short = true
	}

	var sec [hw.SectorSize]byte
	done := 0
	for done < n {
		sector := f.entry.start + uint32((off+int64(done))/hw.SectorSize)
		ofs := int((off + int64(done)) % hw.SectorSize)
		c := hw.SectorSize - ofs
		if c > n-done {
			c = n - done
		}
		f.v.c.Read(sector, sec[:])
		copy(p[done:], sec[ofs:ofs+c])
		done += c
	}
	if short {
		return n, io.EOF
	}
	return n, nil
}

// WriteAt writes len(p) bytes at offset off. Writes past the end are
// truncated to the fixed file size; the count of bytes written is
// returned. Partial sectors are read-modify-written through the cache.
func (f *File) WriteAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("fsys: negative offset %d", off)
	}
	size := f.Length()
	if off >= size {
		return 0, fmt.Errorf("fsys: write at %d past end of %q (%d bytes)", off, f.entry.name, size)
	}
	n := len(p)
	if off+int64(n) > size {
		n = int(size - off)
	}

	var sec [hw.SectorSize]byte
	done := 0
	for done < n {
		sector := f.entry.start + uint32((off+int64(done))/hw.SectorSize)
		ofs := int((off + int64(done)) % hw.SectorSize)
		c := hw.SectorSize - ofs
		if c > n-done {
			c = n - done
		}
		if ofs != 0 || c != hw.SectorSize {
			f.v.c.Read(sector, sec[:])
		}
		copy(sec[ofs:], p[done:done+c])
		f.v.c.Write(sector, sec[:])
		done += c
	}
	return n, nil
}
