package pmem

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"unsafe"
)

func TestMapFileCreatesAndUnmaps(t *testing.T) {
	path := filepath.Join(t.TempDir(), "region")

	data, isPmem, err := MapFile(path, 8192, MapFlagCreate, 0644)
	if err != nil {
		t.Fatalf("MapFile: %v", err)
	}
	if len(data) != 8192 {
		t.Fatalf("MapFile returned %d bytes, want 8192", len(data))
	}
	if isPmem {
		t.Fatal("a freshly created regular-file mapping should not report IsPmem true")
	}

	data[0] = 0xEE
	MemsetPersist(unsafe.Pointer(&data[1]), 0x11, 10)

	if err := Unmap(unsafe.Pointer(&data[0]), uintptr(len(data))); err != nil {
		t.Fatalf("Unmap: %v", err)
	}
}

func TestMapFileOpenExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "region")
	if err := os.WriteFile(path, make([]byte, 4096), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	data, _, err := MapFile(path, 0, MapFlagOpen, 0644)
	if err != nil {
		t.Fatalf("MapFile(open existing): %v", err)
	}
	if len(data) != 4096 {
		t.Fatalf("MapFile returned %d bytes, want 4096", len(data))
	}
	if err := Unmap(unsafe.Pointer(&data[0]), uintptr(len(data))); err != nil {
		t.Fatalf("Unmap: %v", err)
	}
}

func TestDeepFlushUntrackedRangeFallsBackToMsync(t *testing.T) {
	path := filepath.Join(t.TempDir(), "region")
	data, _, err := MapFile(path, 4096, MapFlagCreate, 0644)
	if err != nil {
		t.Fatalf("MapFile: %v", err)
	}
	defer Unmap(unsafe.Pointer(&data[0]), uintptr(len(data)))

	if err := DeepFlush(unsafe.Pointer(&data[0]), uintptr(len(data))); err != nil {
		t.Fatalf("DeepFlush over an untracked range: %v", err)
	}
}

func TestDeepFlushZeroLengthIsNoop(t *testing.T) {
	var x byte
	if err := DeepFlush(unsafe.Pointer(&x), 0); err != nil {
		t.Fatalf("DeepFlush(len=0) returned an error: %v", err)
	}
}

func TestRegisterRangeRejectsOverlap(t *testing.T) {
	path := filepath.Join(t.TempDir(), "region")
	data, _, err := MapFile(path, 4096, MapFlagCreate, 0644)
	if err != nil {
		t.Fatalf("MapFile: %v", err)
	}
	defer Unmap(unsafe.Pointer(&data[0]), uintptr(len(data)))

	base := uintptr(unsafe.Pointer(&data[0]))
	if err := RegisterRange(base, 2048, 1, -1); err != nil {
		t.Fatalf("RegisterRange: %v", err)
	}
	defer UnregisterRange(base, 2048)

	err = RegisterRange(base+1024, 1024, 2, -1)
	if !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("RegisterRange over an existing range: got %v, want ErrInvalidArgument", err)
	}
}

func TestDeepFlushTrackedRangeFallsBackWhenRegionUnresolved(t *testing.T) {
	path := filepath.Join(t.TempDir(), "region")
	data, _, err := MapFile(path, 4096, MapFlagCreate, 0644)
	if err != nil {
		t.Fatalf("MapFile: %v", err)
	}
	defer Unmap(unsafe.Pointer(&data[0]), uintptr(len(data)))

	base := uintptr(unsafe.Pointer(&data[0]))
	// regionID -1 means "never resolved"; DeepFlush's final-write step
	// must fall back to Msync rather than erroring out.
	if err := RegisterRange(base, uintptr(len(data)), 99, -1); err != nil {
		t.Fatalf("RegisterRange: %v", err)
	}
	defer UnregisterRange(base, uintptr(len(data)))

	if err := DeepFlush(unsafe.Pointer(&data[0]), uintptr(len(data))); err != nil {
		t.Fatalf("DeepFlush over a tracked-but-unresolved region: %v", err)
	}
}
