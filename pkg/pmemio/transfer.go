// Package pmemio implements the hand-tuned memmove/memcpy/memset
// variants that use non-temporal (cache-bypassing) stores for large
// ranges, with alignment prolog/epilog handling, correct forward/
// backward overlap direction, and a final store fence. It is the Go
// port of libpmem's memmove_nodrain_movnt/memset_nodrain_movnt and
// their *_normal scalar counterparts.
package pmemio

import (
	"unsafe"

	"github.com/wlemkows/pmem/internal/common"
	"github.com/wlemkows/pmem/pkg/pmemasm"
	"github.com/wlemkows/pmem/pkg/pmemcpu"
	"github.com/wlemkows/pmem/pkg/pmemflush"
)

func byteSlice(p unsafe.Pointer, n uintptr) []byte {
	if n == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(p), n)
}

// MemmoveNodrain copies n bytes from src to dst, which may overlap,
// flushing the destination range but not draining it: on return the
// bytes are in cache or a write-combining buffer, not yet guaranteed
// durable. Zero-length and self-copy (src == dst) return immediately
// with no memory traffic.
func MemmoveNodrain(dst, src unsafe.Pointer, n uintptr) unsafe.Pointer {
	if n == 0 || dst == src {
		return dst
	}

	caps := pmemcpu.Get()
	if !caps.HasMovnt || n < caps.MovntThreshold {
		copy(byteSlice(dst, n), byteSlice(src, n))
		pmemflush.Flush(dst, n)
		return dst
	}

	if uintptr(dst)-uintptr(src) >= n {
		movntForward(dst, src, n)
	} else {
		movntBackward(dst, src, n)
	}
	pmemasm.SFence()
	return dst
}

// MemcpyNodrain is MemmoveNodrain; libpmem's memcpy entry point just
// calls memmove, so overlapping input is tolerated here too.
func MemcpyNodrain(dst, src unsafe.Pointer, n uintptr) unsafe.Pointer {
	return MemmoveNodrain(dst, src, n)
}

// MemmovePersist is MemmoveNodrain followed by Drain: on return the
// destination range is durable.
func MemmovePersist(dst, src unsafe.Pointer, n uintptr) unsafe.Pointer {
	MemmoveNodrain(dst, src, n)
	pmemflush.Drain()
	return dst
}

// MemcpyPersist is MemcpyNodrain followed by Drain.
func MemcpyPersist(dst, src unsafe.Pointer, n uintptr) unsafe.Pointer {
	MemcpyNodrain(dst, src, n)
	pmemflush.Drain()
	return dst
}

// MemsetNodrain fills n bytes at dst with c, flushing the destination
// range but not draining it.
func MemsetNodrain(dst unsafe.Pointer, c byte, n uintptr) unsafe.Pointer {
	if n == 0 {
		return dst
	}

	caps := pmemcpu.Get()
	if !caps.HasMovnt || n < caps.MovntThreshold {
		s := byteSlice(dst, n)
		for i := range s {
			s[i] = c
		}
		pmemflush.Flush(dst, n)
		return dst
	}

	movntSet(dst, c, n)
	pmemasm.SFence()
	return dst
}

// MemsetPersist is MemsetNodrain followed by Drain.
func MemsetPersist(dst unsafe.Pointer, c byte, n uintptr) unsafe.Pointer {
	MemsetNodrain(dst, c, n)
	pmemflush.Drain()
	return dst
}

// movntForward implements the forward streaming-store copy: head
// prolog up to a FLUSH_ALIGN boundary (scalar, flushed), an aligned
// body copied in 128-byte chunks of eight 16-byte non-temporal stores,
// a 16-byte tail, a 4-byte sub-tail, and a byte sub-tail (scalar,
// flushed). The caller issues the mandatory SFENCE afterward.
func movntForward(dst, src unsafe.Pointer, n uintptr) {
	d := uintptr(dst)
	s := uintptr(src)

	if head := d & (common.FlushAlign - 1); head != 0 {
		cnt := common.FlushAlign - head
		if cnt > n {
			cnt = n
		}
		copy(byteSlice(unsafe.Pointer(d), cnt), byteSlice(unsafe.Pointer(s), cnt))
		pmemflush.Flush(unsafe.Pointer(d), cnt)
		d += cnt
		s += cnt
		n -= cnt
		if n == 0 {
			return
		}
	}

	chunks := n >> common.ChunkShift
	for i := uintptr(0); i < chunks; i++ {
		for j := uintptr(0); j < common.ChunkSize; j += common.MovntSize {
			pmemasm.StreamCopy16(unsafe.Pointer(d+j), unsafe.Pointer(s+j))
		}
		d += common.ChunkSize
		s += common.ChunkSize
	}
	n &= common.ChunkSize - 1

	if n != 0 {
		cnt := n >> common.MovntShift
		for i := uintptr(0); i < cnt; i++ {
			pmemasm.StreamCopy16(unsafe.Pointer(d), unsafe.Pointer(s))
			d += common.MovntSize
			s += common.MovntSize
		}
	}
	n &= common.MovntSize - 1

	if n != 0 {
		cnt := n >> common.DwordShift
		for i := uintptr(0); i < cnt; i++ {
			pmemasm.StreamCopy4(unsafe.Pointer(d), unsafe.Pointer(s))
			d += common.DwordSize
			s += common.DwordSize
		}

		cnt = n & (common.DwordSize - 1)
		if cnt != 0 {
			copy(byteSlice(unsafe.Pointer(d), cnt), byteSlice(unsafe.Pointer(s), cnt))
			pmemflush.Flush(unsafe.Pointer(d), cnt)
		}
	}
}

// movntBackward is the mirror image of movntForward, copying from the
// high end down to prevent overwriting source data through an
// overlapped destination range.
func movntBackward(dst, src unsafe.Pointer, n uintptr) {
	d := uintptr(dst) + n
	s := uintptr(src) + n

	if tail := d & (common.FlushAlign - 1); tail != 0 {
		cnt := tail
		if cnt > n {
			cnt = n
		}
		d -= cnt
		s -= cnt
		copy(byteSlice(unsafe.Pointer(d), cnt), byteSlice(unsafe.Pointer(s), cnt))
		pmemflush.Flush(unsafe.Pointer(d), cnt)
		n -= cnt
		if n == 0 {
			return
		}
	}

	chunks := n >> common.ChunkShift
	for i := uintptr(0); i < chunks; i++ {
		d -= common.ChunkSize
		s -= common.ChunkSize
		for j := common.ChunkSize; j > 0; j -= common.MovntSize {
			off := j - common.MovntSize
			pmemasm.StreamCopy16(unsafe.Pointer(d+off), unsafe.Pointer(s+off))
		}
	}
	n &= common.ChunkSize - 1

	if n != 0 {
		cnt := n >> common.MovntShift
		for i := uintptr(0); i < cnt; i++ {
			d -= common.MovntSize
			s -= common.MovntSize
			pmemasm.StreamCopy16(unsafe.Pointer(d), unsafe.Pointer(s))
		}
	}
	n &= common.MovntSize - 1

	if n != 0 {
		cnt := n >> common.DwordShift
		for i := uintptr(0); i < cnt; i++ {
			d -= common.DwordSize
			s -= common.DwordSize
			pmemasm.StreamCopy4(unsafe.Pointer(d), unsafe.Pointer(s))
		}

		cnt = n & (common.DwordSize - 1)
		if cnt != 0 {
			d -= cnt
			s -= cnt
			copy(byteSlice(unsafe.Pointer(d), cnt), byteSlice(unsafe.Pointer(s), cnt))
			pmemflush.Flush(unsafe.Pointer(d), cnt)
		}
	}
}

// movntSet implements the streaming-store memset: same staging as
// movntForward, but the source of every streaming store is a broadcast
// of the fill byte rather than a moving source pointer.
func movntSet(dst unsafe.Pointer, c byte, n uintptr) {
	var pattern [16]byte
	for i := range pattern {
		pattern[i] = c
	}
	pat16 := unsafe.Pointer(&pattern[0])
	pat4 := unsafe.Pointer(&pattern[0])

	d := uintptr(dst)

	if head := d & (common.FlushAlign - 1); head != 0 {
		cnt := common.FlushAlign - head
		if cnt > n {
			cnt = n
		}
		s := byteSlice(unsafe.Pointer(d), cnt)
		for i := range s {
			s[i] = c
		}
		pmemflush.Flush(unsafe.Pointer(d), cnt)
		d += cnt
		n -= cnt
		if n == 0 {
			return
		}
	}

	chunks := n >> common.ChunkShift
	for i := uintptr(0); i < chunks; i++ {
		for j := uintptr(0); j < common.ChunkSize; j += common.MovntSize {
			pmemasm.StreamCopy16(unsafe.Pointer(d+j), pat16)
		}
		d += common.ChunkSize
	}
	n &= common.ChunkSize - 1

	if n != 0 {
		cnt := n >> common.MovntShift
		for i := uintptr(0); i < cnt; i++ {
			pmemasm.StreamCopy16(unsafe.Pointer(d), pat16)
			d += common.MovntSize
		}
	}
	n &= common.MovntSize - 1

	if n != 0 {
		cnt := n >> common.DwordShift
		for i := uintptr(0); i < cnt; i++ {
			pmemasm.StreamCopy4(unsafe.Pointer(d), pat4)
			d += common.DwordSize
		}

		cnt = n & (common.DwordSize - 1)
		if cnt != 0 {
			s := byteSlice(unsafe.Pointer(d), cnt)
			for i := range s {
				s[i] = c
			}
			pmemflush.Flush(unsafe.Pointer(d), cnt)
		}
	}
}
