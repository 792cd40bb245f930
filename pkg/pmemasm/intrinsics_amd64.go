//go:build amd64

package pmemasm

import "unsafe"

// CLFlush executes CLFLUSH on the cache line containing addr.
//
//go:noescape
func CLFlush(addr unsafe.Pointer)

// CLFlushOpt executes CLFLUSHOPT on the cache line containing addr.
//
//go:noescape
func CLFlushOpt(addr unsafe.Pointer)

// CLWB executes CLWB on the cache line containing addr.
//
//go:noescape
func CLWB(addr unsafe.Pointer)

// SFence executes SFENCE, draining the store buffer of any outstanding
// non-temporal (weakly ordered) stores.
func SFence()

// streamCopy16 loads 16 bytes from src and issues one non-temporal
// 16-byte store to dst. dst and src must both be readable/writable for
// 16 bytes; dst does not need to be 16-byte aligned but the instruction
// is fastest when it is.
//
//go:noescape
func streamCopy16(dst, src unsafe.Pointer)

// streamCopy4 loads 4 bytes from src and issues one non-temporal 4-byte
// store to dst.
//
//go:noescape
func streamCopy4(dst, src unsafe.Pointer)

// StreamCopy16 is streamCopy16 exported for use outside the package.
func StreamCopy16(dst, src unsafe.Pointer) { streamCopy16(dst, src) }

// StreamCopy4 is streamCopy4 exported for use outside the package.
func StreamCopy4(dst, src unsafe.Pointer) { streamCopy4(dst, src) }

// FlushCacheLine dispatches to the requested cache-line instruction.
// kind must be one of the Kind* constants below; callers reach this
// only through pkg/pmemflush, which already holds the validated
// pmemcpu.FlushKind.
func FlushCacheLine(kind int, addr unsafe.Pointer) {
	switch kind {
	case KindCLFlush:
		CLFlush(addr)
	case KindCLFlushOpt:
		CLFlushOpt(addr)
	case KindCLWB:
		CLWB(addr)
	}
}

// Kind* mirror pmemcpu.FlushKind without importing it, avoiding a
// dependency cycle (pmemcpu has no reason to depend on pmemasm).
const (
	KindNone = iota
	KindCLFlush
	KindCLFlushOpt
	KindCLWB
)
