package vm

import (
	"bytes"
	"testing"

	"github.com/hctung57/tinyVM/internal/hw"
)

func TestInsertCollision(t *testing.T) {
	k := newTestKernel(t, 4, 4)
	p := k.NewProcess()

	first, ok := p.Insert(testBase)
	if !ok || first == nil {
		t.Fatal("fresh insert failed")
	}
	again, ok := p.Insert(testBase)
	if ok {
		t.Fatal("duplicate insert reported success")
	}
	if again != first {
		t.Error("collision did not return the pre-existing entry")
	}
	if first.mapID != NoMapping || !first.loaded || !first.valid {
		t.Error("insert defaults wrong")
	}
}

func TestLazyZero(t *testing.T) {
	k := newTestKernel(t, 4, 4)
	p := k.NewProcess()

	if !p.GrowStack(testBase) {
		t.Fatal("GrowStack failed")
	}
	pg := p.Find(testBase)
	if pg == nil || !pg.Resident() {
		t.Fatal("stack page not resident after growth")
	}

	kpage := p.PageDir().Get(testBase)
	if kpage == nil {
		t.Fatal("no hardware mapping installed")
	}
	for i := range kpage {
		if kpage[i] != 0 {
			t.Fatalf("byte %d of fresh page is %#x, want 0", i, kpage[i])
		}
	}

	// Writable.
	if err := p.Store(testBase, []byte{1}); err != nil {
		t.Errorf("zero page not writable: %v", err)
	}
}

func TestLazyFile(t *testing.T) {
	k := newTestKernel(t, 4, 4)
	v := newTestVolume(t)

	content := make([]byte, 100)
	for i := range content {
		content[i] = byte(i + 1)
	}
	f := createFile(t, v, "seg", content)

	p := k.NewProcess()
	if !p.AddFileSegment(f, 0, testBase, 100, true) {
		t.Fatal("AddFileSegment failed")
	}
	if pg := p.Find(testBase); pg.Resident() {
		t.Fatal("segment page resident before first touch")
	}

	if !p.HandleFault(testBase + 123) {
		t.Fatal("fault on file segment failed")
	}
	kpage := p.PageDir().Get(testBase)
	if kpage == nil {
		t.Fatal("no mapping after fault")
	}
	if !bytes.Equal(kpage[:100], content) {
		t.Error("file bytes wrong in frame")
	}
	for i := 100; i < hw.PageSize; i++ {
		if kpage[i] != 0 {
			t.Fatalf("tail byte %d not zeroed", i)
		}
	}
}

func TestLoadFileShortRead(t *testing.T) {
	k := newTestKernel(t, 4, 4)
	v := newTestVolume(t)
	f := createFile(t, v, "short", make([]byte, 50))

	p := k.NewProcess()
	// The segment claims 100 bytes but the file holds 50: the load must
	// fail and release its frame.
	if !p.AddFileSegment(f, 0, testBase, 100, true) {
		t.Fatal("AddFileSegment failed")
	}
	if p.HandleFault(testBase) {
		t.Fatal("short read did not fail the load")
	}
	if got := k.Stats().FramesInUse; got != 0 {
		t.Errorf("FramesInUse = %d after failed load, want 0", got)
	}
	if p.PageDir().Get(testBase) != nil {
		t.Error("failed load left a hardware mapping")
	}
}

func TestZeroReadBytesSegment(t *testing.T) {
	k := newTestKernel(t, 4, 4)
	v := newTestVolume(t)
	f := createFile(t, v, "bss", []byte{1, 2, 3})

	p := k.NewProcess()
	if !p.AddFileSegment(f, 0, testBase, 0, true) {
		t.Fatal("AddFileSegment failed")
	}
	if !p.HandleFault(testBase) {
		t.Fatal("fault on zero-read segment failed")
	}
	kpage := p.PageDir().Get(testBase)
	for i := range kpage {
		if kpage[i] != 0 {
			t.Fatal("zero-read segment page not zero-filled")
		}
	}
}

func TestFaultOnUnknownAddress(t *testing.T) {
	k := newTestKernel(t, 4, 4)
	p := k.NewProcess()
	if p.HandleFault(0xdeadbeef) {
		t.Error("fault on untracked address succeeded")
	}
}

func TestFaultOnResidentPage(t *testing.T) {
	k := newTestKernel(t, 4, 4)
	p := k.NewProcess()
	p.GrowStack(testBase)
	if !p.HandleFault(testBase) {
		t.Error("spurious fault on resident page did not succeed")
	}
}

func TestLoadSwapPreconditionPanics(t *testing.T) {
	k := newTestKernel(t, 4, 4)
	p := k.NewProcess()
	pg, _ := p.Insert(testBase)
	defer func() {
		if recover() == nil {
			t.Error("LoadSwap on a valid page did not panic")
		}
	}()
	p.LoadSwap(pg)
}
