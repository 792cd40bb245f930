// Command pmemctl is a command-line front end exercising the
// durability surface end to end: mapping a file or DAX device,
// copying bytes into it durably, forcing a deep flush, and mounting a
// read-only smoke-test view of a mapped region over FUSE.
package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"
	"unsafe"

	"bazil.org/fuse"
	fusefs "bazil.org/fuse/fs"

	"github.com/wlemkows/pmem/internal/daxview"
	"github.com/wlemkows/pmem/pkg/pmem"
	"github.com/wlemkows/pmem/pkg/pmemconfig"
)

func main() {
	debug := flag.Bool("debug", false, "enable verbose logging")
	createSize := flag.Int64("create", 0, "create the target as a regular file of this size in bytes if it does not exist")
	flag.Parse()
	pmemconfig.SetDebug(debug)

	args := flag.Args()
	if len(args) < 1 {
		usage()
	}

	var err error
	switch args[0] {
	case "map":
		err = cmdMap(args[1:], *createSize)
	case "copy":
		err = cmdCopy(args[1:])
	case "deep-flush":
		err = cmdDeepFlush(args[1:])
	case "serve":
		err = cmdServe(args[1:])
	default:
		usage()
	}
	if err != nil {
		log.Fatalf("pmemctl: %v", err)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: pmemctl [-debug] [-create N] <command> ...")
	fmt.Fprintln(os.Stderr, "  map <path>")
	fmt.Fprintln(os.Stderr, "  copy <path> <offset> <len>")
	fmt.Fprintln(os.Stderr, "  deep-flush <path> <offset> <len>")
	fmt.Fprintln(os.Stderr, "  serve <dax-path> <mountpoint>")
	os.Exit(2)
}

func cmdMap(args []string, createSize int64) error {
	if len(args) != 1 {
		usage()
	}
	flags := pmem.MapFlagOpen
	if createSize > 0 {
		flags = pmem.MapFlagCreate
	}

	data, isPmem, err := pmem.MapFile(args[0], createSize, flags, 0644)
	if err != nil {
		return err
	}
	log.Printf("mapped %s: %d bytes, is_pmem=%v", args[0], len(data), isPmem)

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, os.Interrupt, syscall.SIGTERM)
	log.Println("mapped; press Ctrl+C to unmap and exit")
	<-signalCh

	if err := pmem.Unmap(unsafe.Pointer(&data[0]), uintptr(len(data))); err != nil {
		log.Printf("warning: unmap failed: %v", err)
	}
	return nil
}

func cmdCopy(args []string) error {
	if len(args) != 3 {
		usage()
	}
	offset, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		return fmt.Errorf("bad offset: %w", err)
	}
	length, err := strconv.ParseInt(args[2], 10, 64)
	if err != nil {
		return fmt.Errorf("bad length: %w", err)
	}

	data, _, err := pmem.MapFile(args[0], offset+length, pmem.MapFlagCreate, 0644)
	if err != nil {
		return err
	}
	if offset+length > int64(len(data)) {
		return fmt.Errorf("range [%d, %d) exceeds mapped size %d", offset, offset+length, len(data))
	}

	buf := make([]byte, length)
	if _, err := io.ReadFull(os.Stdin, buf); err != nil {
		return fmt.Errorf("reading stdin: %w", err)
	}

	start := time.Now()
	pmem.MemcpyPersist(unsafe.Pointer(&data[offset]), unsafe.Pointer(&buf[0]), uintptr(length))
	log.Printf("copied %d bytes to offset %d in %v", length, offset, time.Since(start))
	return nil
}

func cmdDeepFlush(args []string) error {
	if len(args) != 3 {
		usage()
	}
	offset, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		return fmt.Errorf("bad offset: %w", err)
	}
	length, err := strconv.ParseInt(args[2], 10, 64)
	if err != nil {
		return fmt.Errorf("bad length: %w", err)
	}

	data, _, err := pmem.MapFile(args[0], offset+length, pmem.MapFlagOpen, 0644)
	if err != nil {
		return err
	}
	if offset+length > int64(len(data)) {
		return fmt.Errorf("range [%d, %d) exceeds mapped size %d", offset, offset+length, len(data))
	}

	if err := pmem.DeepFlush(unsafe.Pointer(&data[offset]), uintptr(length)); err != nil {
		return fmt.Errorf("deep flush failed: %w", err)
	}
	log.Printf("deep-flushed [%d, %d)", offset, offset+length)
	return nil
}

func cmdServe(args []string) error {
	if len(args) != 2 {
		usage()
	}
	daxPath, mountpoint := args[0], args[1]

	data, isPmem, err := pmem.MapFile(daxPath, 0, pmem.MapFlagOpen, 0)
	if err != nil {
		return err
	}
	log.Printf("serving %s (is_pmem=%v) at %s", daxPath, isPmem, mountpoint)

	opts := []fuse.MountOption{
		fuse.FSName("pmemctl"),
		fuse.Subtype("daxview"),
		fuse.ReadOnly(),
	}
	if pmemconfig.IsDebugEnabled() {
		fuse.Debug = func(msg interface{}) {
			log.Printf("FUSE: %v", msg)
		}
	}

	c, err := fuse.Mount(mountpoint, opts...)
	if err != nil {
		return fmt.Errorf("mount: %w", err)
	}
	defer c.Close()

	view := daxview.New(data)
	go func() {
		if err := fusefs.Serve(c, view); err != nil {
			log.Printf("serve exited: %v", err)
		}
	}()

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, os.Interrupt, syscall.SIGTERM)
	<-signalCh

	log.Println("unmounting...")
	if err := fuse.Unmount(mountpoint); err != nil {
		log.Printf("warning: failed to unmount cleanly: %v", err)
		log.Println("you may need to run 'fusermount -u " + mountpoint + "' manually")
	}
	return nil
}
