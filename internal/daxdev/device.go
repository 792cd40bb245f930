// Package daxdev opens the two kinds of file pkg/pmem.MapFile can be
// pointed at — a DAX character device (/dev/daxX.Y) or an ordinary
// regular file — and mmaps whichever one it got. It also resolves the
// platform identity (device id, DAX region id) a DAX mapping needs so
// pkg/pmemmap can register it and pkg/pmem.DeepFlush can later find the
// region's deep-flush sysfs control file.
//
// It generalizes from "always a DAX device, fixed 16MB fallback size"
// to "DAX device or regular file, caller-supplied size", and adds the
// sysfs region resolution a deep-flush caller needs that a plain mmap
// wrapper never resolves on its own.
package daxdev

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// DeviceDAXAlignment is the alignment DAX char devices require for both
// mapping offset and length.
const DeviceDAXAlignment = 2 * 1024 * 1024

// Region is an open, mapped file or DAX device plus the identity
// pkg/pmemmap needs to track it.
type Region struct {
	File *os.File
	Data []byte

	// IsDeviceDAX is set when File refers to a DAX character device
	// rather than a regular file.
	IsDeviceDAX bool
	DevID       uint64
	RegionID    int
}

// statIsCharDevice reports whether path names a character device,
// matching util_file_is_device_dax's approach of checking the S_IFCHR
// bit on the stat result rather than trusting the path's prefix.
func statIsCharDevice(path string) (bool, unix.Stat_t, error) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return false, st, fmt.Errorf("daxdev: stat %s: %w", path, err)
	}
	return st.Mode&unix.S_IFMT == unix.S_IFCHR, st, nil
}

// Open opens path, which may be a DAX character device or a regular
// file. If create is true and path does not exist (or is shorter than
// length), a regular file of exactly length bytes is created/extended;
// create is ignored for character devices, which cannot be created by
// this library.
//
// DAX devices report a zero or implementation-defined st_size through
// fstat, so the device's st_size is not consulted: the mapping size is
// length rounded up to DeviceDAXAlignment (one DeviceDAXAlignment unit
// when length <= 0).
func Open(path string, length int64, create bool, mode os.FileMode) (*Region, error) {
	isChar, st, err := statIsCharDevice(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) || !create {
			return nil, err
		}
		isChar = false
	}

	if isChar {
		return openDeviceDAX(path, st, length)
	}
	return openRegularFile(path, length, create, mode)
}

func openDeviceDAX(path string, st unix.Stat_t, requested int64) (*Region, error) {
	file, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("daxdev: open %s: %w", path, err)
	}

	size := requested
	if size <= 0 {
		size = DeviceDAXAlignment
	}
	if rem := size % DeviceDAXAlignment; rem != 0 {
		size += DeviceDAXAlignment - rem
	}

	data, err := unix.Mmap(int(file.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("daxdev: mmap %s: %w", path, err)
	}

	devID := st.Rdev
	regionID, rerr := ResolveRegion(devID)
	if rerr != nil {
		// Deep-flush final-write degrades to msync for this region;
		// the caller still gets a usable mapping.
		regionID = -1
	}

	return &Region{
		File:        file,
		Data:        data,
		IsDeviceDAX: true,
		DevID:       devID,
		RegionID:    regionID,
	}, nil
}

func openRegularFile(path string, length int64, create bool, mode os.FileMode) (*Region, error) {
	flags := os.O_RDWR
	if create {
		flags |= os.O_CREATE
	}
	file, err := os.OpenFile(path, flags, mode)
	if err != nil {
		return nil, fmt.Errorf("daxdev: open %s: %w", path, err)
	}

	st, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("daxdev: stat %s: %w", path, err)
	}
	size := st.Size()
	if create && length > 0 && size < length {
		if err := file.Truncate(length); err != nil {
			file.Close()
			return nil, fmt.Errorf("daxdev: truncate %s: %w", path, err)
		}
		size = length
	}
	if size == 0 {
		file.Close()
		return nil, fmt.Errorf("daxdev: %s has zero length and no length was requested", path)
	}

	data, err := unix.Mmap(int(file.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("daxdev: mmap %s: %w", path, err)
	}

	return &Region{File: file, Data: data, IsDeviceDAX: false}, nil
}

// Close unmaps the region and closes the underlying file.
func (r *Region) Close() error {
	if err := unix.Munmap(r.Data); err != nil {
		return fmt.Errorf("daxdev: munmap: %w", err)
	}
	return r.File.Close()
}

// ResolveRegion maps a DAX character device's rdev to the DAX region
// index that owns it, by following /sys/dev/char/<major>:<minor>,
// which on Linux is a symlink into
// .../dax_region/../dax/daxN.M or .../daxN.M depending on kernel
// version; the region index parsed out of the "daxN.M" component is
// the same index that appears in the region's NVDIMM sysfs path
// (/sys/bus/nd/devices/regionN), which is where FinalWrite looks for
// the deep-flush control file.
func ResolveRegion(devID uint64) (int, error) {
	major := unix.Major(devID)
	minor := unix.Minor(devID)
	link := fmt.Sprintf("/sys/dev/char/%d:%d", major, minor)

	target, err := os.Readlink(link)
	if err != nil {
		return 0, fmt.Errorf("daxdev: readlink %s: %w", link, err)
	}

	for _, part := range strings.Split(target, "/") {
		if !strings.HasPrefix(part, "dax") {
			continue
		}
		name := strings.TrimPrefix(part, "dax")
		idx := strings.IndexByte(name, '.')
		if idx < 0 {
			continue
		}
		n, err := strconv.Atoi(name[:idx])
		if err == nil {
			return n, nil
		}
	}
	return 0, fmt.Errorf("daxdev: no dax region component in %s", target)
}

// FinalWrite performs the platform-specific "final write" deep-flush
// step: writing "1" to the owning region's deep_flush sysfs control
// file, which on Linux forces the NVDIMM region's write-pending fence
// regardless of which CPU dirtied it. regionID < 0 means the caller
// never resolved a region (ResolveRegion failed at Open time); callers
// should fall back to Msync in that case rather than calling this.
func FinalWrite(regionID int) error {
	if regionID < 0 {
		return fmt.Errorf("daxdev: no region resolved for deep-flush final write")
	}
	path := fmt.Sprintf("/sys/bus/nd/devices/region%d/deep_flush", regionID)
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return fmt.Errorf("daxdev: open %s: %w", path, err)
	}
	defer f.Close()
	if _, err := f.WriteString("1"); err != nil {
		return fmt.Errorf("daxdev: write %s: %w", path, err)
	}
	return nil
}
