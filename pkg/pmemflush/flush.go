// Package pmemflush provides the per-call indirection to the cache-line
// flush and pre-drain fence chosen once by pkg/pmemcpu's capability
// probe: flush, drain, persist, and an OS-level msync fallback for
// mappings the capability probe doesn't trust with direct CPU flush
// instructions.
package pmemflush

import (
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/wlemkows/pmem/internal/common"
	"github.com/wlemkows/pmem/pkg/pmemasm"
	"github.com/wlemkows/pmem/pkg/pmemcpu"
)

// pagesize is read once; unix.Getpagesize() is cheap but there is no
// reason to repeat the syscall-free libc call on every Msync.
var pagesize = uintptr(unix.Getpagesize())

func flushKindFor(k pmemcpu.FlushKind) int {
	switch k {
	case pmemcpu.FlushCLFlush:
		return pmemasm.KindCLFlush
	case pmemcpu.FlushCLFlushOpt:
		return pmemasm.KindCLFlushOpt
	case pmemcpu.FlushCLWB:
		return pmemasm.KindCLWB
	default:
		return pmemasm.KindNone
	}
}

// Flush issues one cache-line flush instruction (or none, if
// PMEM_NO_FLUSH disabled flushing) for each 64-byte cache line that
// intersects [addr, addr+len). A zero-length range is a no-op.
func Flush(addr unsafe.Pointer, length uintptr) {
	if length == 0 {
		return
	}

	caps := pmemcpu.Get()
	kind := flushKindFor(caps.Flush)
	if kind == pmemasm.KindNone {
		return
	}

	start := uintptr(addr) &^ (common.FlushAlign - 1)
	end := uintptr(addr) + length
	for p := start; p < end; p += common.FlushAlign {
		pmemasm.FlushCacheLine(kind, unsafe.Pointer(p))
	}
}

// Drain calls the pre-drain fence chosen at init: empty when flushing
// with CLFLUSH (the instruction is itself serializing on the relevant
// cores), SFENCE otherwise — including when flushing is disabled, so
// reordering against later stores stays disallowed.
func Drain() {
	if pmemcpu.Get().Fence == pmemcpu.FenceSFence {
		pmemasm.SFence()
	}
}

// Persist is Flush followed by Drain.
func Persist(addr unsafe.Pointer, length uintptr) {
	Flush(addr, length)
	Drain()
}

// HasHWDrain reports whether the platform performs the drain step in
// hardware with no software involvement. Always false on x86.
func HasHWDrain() bool {
	return false
}

// Msync page-aligns addr down and extends length accordingly, then
// calls the OS page-cache sync primitive with full-sync semantics. It
// works for any memory-mapped file, not only persistent memory, but is
// less optimal than Persist for ranges pkg/pmemmap confirms are pmem.
func Msync(addr unsafe.Pointer, length uintptr) error {
	if length == 0 {
		return nil
	}

	p := uintptr(addr)
	aligned := p &^ (pagesize - 1)
	length += p - aligned

	region := unsafe.Slice((*byte)(unsafe.Pointer(aligned)), length)
	return unix.Msync(region, unix.MS_SYNC)
}
