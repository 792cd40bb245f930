// Package pmem is the public durability surface: Flush, Drain, Persist,
// Msync, IsPmem, HasHWDrain, DeepFlush, the memmove/memcpy/memset
// nodrain/persist variants, and the MapFile/Unmap pair that ties a real
// OS mapping to the registry the rest of the package consults. Every
// other package under this module (pmemcpu, pmemflush, pmemio,
// pmemmap, daxdev) is plumbing this package assembles into the API a
// caller actually uses.
package pmem

import (
	"errors"
	"fmt"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/wlemkows/pmem/internal/common"
	"github.com/wlemkows/pmem/internal/daxdev"
	"github.com/wlemkows/pmem/pkg/pmemcpu"
	"github.com/wlemkows/pmem/pkg/pmemflush"
	"github.com/wlemkows/pmem/pkg/pmemio"
	"github.com/wlemkows/pmem/pkg/pmemmap"
)

// Sentinel errors matching the four error kinds every operation in this
// module can surface.
var (
	ErrInvalidArgument   = errors.New("pmem: invalid argument")
	ErrLockContention    = pmemmap.ErrLockContention
	ErrAllocationFailure = errors.New("pmem: allocation failure")
	ErrOSIOFailure       = errors.New("pmem: os i/o failure")
)

// MapFlag selects MapFile's creation behaviour.
type MapFlag int

const (
	// MapFlagOpen maps an existing file or device; it is an error if
	// the path does not exist.
	MapFlagOpen MapFlag = iota
	// MapFlagCreate creates path as a regular file of the requested
	// length if it does not already exist. It has no effect on DAX
	// character devices, which already exist as device nodes.
	MapFlagCreate
)

// registry is the single process-wide mapping tracker every MapFile,
// Unmap, IsPmem and DeepFlush call consults — a process-global table,
// not a per-caller one, matching libpmem's own Mmap_list.
var registry = &pmemmap.Registry{}

// Flush issues the chosen cache-line flush instruction over every
// cache line intersecting [addr, addr+len). Zero length is a no-op.
func Flush(addr unsafe.Pointer, length uintptr) {
	pmemflush.Flush(addr, length)
}

// Drain executes the pre-drain fence chosen at init.
func Drain() {
	pmemflush.Drain()
}

// Persist is Flush followed by Drain.
func Persist(addr unsafe.Pointer, length uintptr) {
	pmemflush.Persist(addr, length)
}

// Msync page-aligns addr and calls the OS page-cache sync primitive.
func Msync(addr unsafe.Pointer, length uintptr) error {
	if err := pmemflush.Msync(addr, length); err != nil {
		return fmt.Errorf("%w: %v", ErrOSIOFailure, err)
	}
	return nil
}

// HasHWDrain reports whether the platform drains in hardware with no
// software fence. Always false on the architectures this module
// supports.
func HasHWDrain() bool {
	return pmemflush.HasHWDrain()
}

// IsPmem reports whether [addr, addr+len) lies entirely within
// byte-addressable persistent memory this process mapped through
// MapFile/RegisterRange. A lazy force override wins outright if set;
// otherwise an unsupported CLFLUSH instruction makes every range
// report false (checked against IsPmemBase, which reflects only real
// CLFLUSH support and is unaffected by PMEM_NO_FLUSH forcing the flush
// dispatch itself to FlushNone); otherwise the registry decides.
func IsPmem(addr unsafe.Pointer, length uintptr) bool {
	if mode, ok := pmemcpu.IsPmemOverride(); ok {
		return mode == pmemcpu.IsPmemAlways
	}

	if pmemcpu.Get().IsPmemBase == pmemcpu.IsPmemNever {
		return false
	}

	return registry.IsPmemDetect(uintptr(addr), length)
}

// DeepFlush produces a stronger durability guarantee than Persist:
// data reach the storage controller, not merely the CPU's persistence
// domain. It walks [addr, addr+len) one tracked-or-untracked sub-range
// at a time under the registry's shared lock so the tracked set cannot
// change mid-walk, msync-ing gaps and untracked tails and invoking the
// owning DAX region's final-write step for tracked sub-ranges.
func DeepFlush(addr unsafe.Pointer, length uintptr) error {
	if length == 0 {
		return nil
	}

	registry.RLock()
	defer registry.RUnlock()

	cur := uintptr(addr)
	end := cur + length

	for cur < end {
		remaining := end - cur
		e := registry.FindLocked(cur, remaining)

		if e == nil {
			return msyncRange(cur, remaining)
		}

		if e.Base > cur {
			prefix := e.Base - cur
			if err := msyncRange(cur, prefix); err != nil {
				return err
			}
			cur = e.Base
			remaining = end - cur
		}

		trackedEnd := e.End
		if trackedEnd > end {
			trackedEnd = end
		}

		if err := finalWrite(e); err != nil {
			return err
		}
		cur = trackedEnd
	}
	return nil
}

func msyncRange(addr, length uintptr) error {
	if length == 0 {
		return nil
	}
	if err := Msync(unsafe.Pointer(addr), length); err != nil {
		return err
	}
	return nil
}

func finalWrite(e *pmemmap.Entry) error {
	if !e.DirectMapped || e.RegionID < 0 {
		return msyncRange(e.Base, e.End-e.Base)
	}
	if err := daxdev.FinalWrite(e.RegionID); err != nil {
		return fmt.Errorf("%w: %v", ErrOSIOFailure, err)
	}
	return nil
}

// MemmoveNodrain, MemcpyNodrain, MemsetNodrain, MemmovePersist,
// MemcpyPersist and MemsetPersist forward directly to pkg/pmemio; they
// are re-exported here so a caller imports one package for the whole
// durability surface.
func MemmoveNodrain(dst, src unsafe.Pointer, n uintptr) unsafe.Pointer {
	return pmemio.MemmoveNodrain(dst, src, n)
}

func MemcpyNodrain(dst, src unsafe.Pointer, n uintptr) unsafe.Pointer {
	return pmemio.MemcpyNodrain(dst, src, n)
}

func MemsetNodrain(dst unsafe.Pointer, c byte, n uintptr) unsafe.Pointer {
	return pmemio.MemsetNodrain(dst, c, n)
}

func MemmovePersist(dst, src unsafe.Pointer, n uintptr) unsafe.Pointer {
	return pmemio.MemmovePersist(dst, src, n)
}

func MemcpyPersist(dst, src unsafe.Pointer, n uintptr) unsafe.Pointer {
	return pmemio.MemcpyPersist(dst, src, n)
}

func MemsetPersist(dst unsafe.Pointer, c byte, n uintptr) unsafe.Pointer {
	return pmemio.MemsetPersist(dst, c, n)
}

// MapFile opens path (a DAX character device or a regular file),
// memory-maps it and, for DAX devices, registers the mapping with the
// registry so later IsPmem/DeepFlush calls recognize it. length is
// advisory: under MapFlagCreate it is the size to create a regular file
// at (or to extend a shorter existing one to); for a DAX device it is
// the mapping size, rounded up to DeviceDAXAlignment; it is ignored when
// opening an existing regular file with MapFlagOpen.
func MapFile(path string, length int64, flags MapFlag, mode os.FileMode) ([]byte, bool, error) {
	region, err := daxdev.Open(path, length, flags == MapFlagCreate, mode)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrOSIOFailure, err)
	}

	if region.IsDeviceDAX {
		addr := uintptr(unsafe.Pointer(&region.Data[0]))
		if err := registry.Register(addr, uintptr(len(region.Data)), region.DevID, region.RegionID); err != nil {
			region.Close()
			return nil, false, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
		}
	}

	return region.Data, IsPmem(unsafe.Pointer(&region.Data[0]), uintptr(len(region.Data))), nil
}

// Unmap releases an OS mapping and removes it from the registry —
// registry first, then the OS unmap — so a concurrent IsPmem cannot
// observe a mapping the registry still thinks is live but the OS has
// already torn down.
func Unmap(addr unsafe.Pointer, length uintptr) error {
	registry.Unregister(uintptr(addr), length)

	region := unsafe.Slice((*byte)(addr), length)
	if err := unix.Munmap(region); err != nil {
		return fmt.Errorf("%w: %v", ErrOSIOFailure, err)
	}
	return nil
}

// RegisterRange and UnregisterRange expose pkg/pmemmap's registry
// operations for callers that map their own ranges outside MapFile —
// device-DAX callers that already have an open fd and devID/regionID
// from their own stat call.
func RegisterRange(addr, length uintptr, devID uint64, regionID int) error {
	if err := registry.Register(addr, length, devID, regionID); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	return nil
}

func UnregisterRange(addr, length uintptr) {
	registry.Unregister(addr, length)
}

// FlushAlign is the hard 64-byte cache-line/flush-alignment constant
// re-exported for callers that need to round their own ranges.
const FlushAlign = common.FlushAlign
