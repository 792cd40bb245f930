//go:build !amd64

package pmemasm

import "unsafe"

// Kind* mirror pmemcpu.FlushKind without importing it.
const (
	KindNone = iota
	KindCLFlush
	KindCLFlushOpt
	KindCLWB
)

// CLFlush, CLFlushOpt and CLWB have no equivalent outside amd64;
// pkg/pmemcpu's probe never selects them there, so these are unreachable
// no-ops kept only so the package builds everywhere.
func CLFlush(addr unsafe.Pointer)    {}
func CLFlushOpt(addr unsafe.Pointer) {}
func CLWB(addr unsafe.Pointer)       {}

// SFence is a no-op outside amd64: there are no non-temporal stores to
// drain because StreamCopy16/StreamCopy4 fall back to ordinary stores.
func SFence() {}

// StreamCopy16 falls back to an ordinary 16-byte copy.
func StreamCopy16(dst, src unsafe.Pointer) {
	copy(unsafe.Slice((*byte)(dst), 16), unsafe.Slice((*byte)(src), 16))
}

// StreamCopy4 falls back to an ordinary 4-byte copy.
func StreamCopy4(dst, src unsafe.Pointer) {
	copy(unsafe.Slice((*byte)(dst), 4), unsafe.Slice((*byte)(src), 4))
}

// FlushCacheLine is a no-op outside amd64.
func FlushCacheLine(kind int, addr unsafe.Pointer) {}
