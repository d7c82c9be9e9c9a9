package tinyvm_test

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	tinyvm "github.com/hctung57/tinyVM"
)

func TestBootAndClose(t *testing.T) {
	k, err := tinyvm.Boot(tinyvm.DefaultConfig())
	if err != nil {
		t.Fatalf("Boot: %v", err)
	}
	defer k.Close()

	if k.Volume() == nil || k.BufferCache() == nil || k.VM() == nil {
		t.Fatal("booted kernel missing a component")
	}
}

func TestBootRejectsBadConfig(t *testing.T) {
	cfg := tinyvm.DefaultConfig()
	cfg.UserFrames = 0
	if _, err := tinyvm.Boot(cfg); err == nil {
		t.Error("Boot accepted zero user frames")
	}

	cfg = tinyvm.DefaultConfig()
	cfg.SwapSectors = 4 // half a page
	if _, err := tinyvm.Boot(cfg); err == nil {
		t.Error("Boot accepted a sub-page swap disk")
	}
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vm.yaml")
	body := "user_frames: 16\nswap_sectors: 256\n"
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := tinyvm.LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.UserFrames != 16 {
		t.Errorf("UserFrames = %d, want 16", cfg.UserFrames)
	}
	if cfg.SwapSectors != 256 {
		t.Errorf("SwapSectors = %d, want 256", cfg.SwapSectors)
	}
	// Unset fields keep their defaults.
	if cfg.DiskSectors != tinyvm.DefaultConfig().DiskSectors {
		t.Errorf("DiskSectors = %d, want default", cfg.DiskSectors)
	}

	if _, err := tinyvm.LoadConfig(filepath.Join(dir, "absent.yaml")); err == nil {
		t.Error("LoadConfig succeeded on a missing file")
	}
}

// TestPagingWorkload drives the whole stack: a mapped file written
// through user stores, anonymous pages pushed out to swap and faulted
// back, and the mapping flushed by munmap.
func TestPagingWorkload(t *testing.T) {
	cfg := tinyvm.DefaultConfig()
	cfg.UserFrames = 8
	k, err := tinyvm.Boot(cfg)
	if err != nil {
		t.Fatalf("Boot: %v", err)
	}
	defer k.Close()

	f, err := k.Volume().Create("scratch", 6000)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	proc := k.NewProcess()
	defer proc.Exit()

	const mapBase = uintptr(0x08048000)
	mapid := proc.Mmap(f, mapBase)
	if mapid == tinyvm.MapFailed {
		t.Fatal("Mmap failed")
	}
	if err := proc.Store(mapBase+100, []byte("through the mapping")); err != nil {
		t.Fatalf("Store: %v", err)
	}

	// Touch three times as many anonymous pages as there are frames.
	const stackBase = uintptr(0x40000000)
	const pages = 24
	for i := 0; i < pages; i++ {
		va := stackBase + uintptr(i)*tinyvm.PageSize
		if !proc.GrowStack(va) {
			t.Fatalf("GrowStack %d failed", i)
		}
		if err := proc.Store(va, []byte{byte(i), ^byte(i)}); err != nil {
			t.Fatalf("Store %d: %v", i, err)
		}
	}
	for i := 0; i < pages; i++ {
		va := stackBase + uintptr(i)*tinyvm.PageSize
		b, err := proc.Load(va, 2)
		if err != nil {
			t.Fatalf("Load %d: %v", i, err)
		}
		if !bytes.Equal(b, []byte{byte(i), ^byte(i)}) {
			t.Fatalf("page %d corrupted after paging: %v", i, b)
		}
	}

	s := k.VM().Stats()
	if s.Evictions == 0 || s.SwapOuts == 0 || s.SwapIns == 0 {
		t.Errorf("workload produced no paging traffic: %+v", s)
	}

	proc.Munmap(mapid)
	got := make([]byte, 19)
	if _, err := f.ReadAt(got, 100); err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	if string(got) != "through the mapping" {
		t.Errorf("file holds %q after munmap", got)
	}
}
