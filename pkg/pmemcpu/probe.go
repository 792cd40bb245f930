// Package pmemcpu implements the capability probe: at load time it
// determines which cache-line writeback/invalidate instructions and
// streaming-store instructions the CPU provides, then publishes an
// immutable dispatch record so every subsequent call in pkg/pmemflush
// and pkg/pmemio takes the cheapest correct path with no per-call
// branching.
//
// This replaces libpmem's mutable static function pointers
// (Func_flush, Func_predrain_fence, ...) with a single tagged record
// published exactly once via sync.Once, per the "tagged capability
// record" design note: same performance, no global mutable state.
package pmemcpu

import (
	"log"
	"os"
	"strconv"
	"sync"

	"golang.org/x/sys/cpu"

	"github.com/wlemkows/pmem/internal/common"
)

// FlushKind names which cache-line instruction Flush should issue.
type FlushKind int

const (
	FlushNone FlushKind = iota
	FlushCLFlush
	FlushCLFlushOpt
	FlushCLWB
)

func (k FlushKind) String() string {
	switch k {
	case FlushCLFlush:
		return "clflush"
	case FlushCLFlushOpt:
		return "clflushopt"
	case FlushCLWB:
		return "clwb"
	default:
		return "none"
	}
}

// FenceKind names which pre-drain fence Drain should issue.
type FenceKind int

const (
	FenceEmpty FenceKind = iota
	FenceSFence
)

// IsPmemMode names the strategy the probe selected for IsPmem, before any
// lazy PMEM_IS_PMEM_FORCE override is consulted.
type IsPmemMode int

const (
	IsPmemNever IsPmemMode = iota
	IsPmemAlways
	IsPmemDetect
)

// Capabilities is the immutable dispatch record published once by
// Get's first call to probe. Every field is fixed for the process lifetime once published;
// readers need no synchronization beyond the one-shot publish fence
// sync.Once already provides.
type Capabilities struct {
	Flush          FlushKind
	Fence          FenceKind
	IsPmemBase     IsPmemMode
	HasMovnt       bool
	MovntThreshold uintptr
}

var (
	once  sync.Once
	caps  Capabilities
	force struct {
		once sync.Once
		mode IsPmemMode // IsPmemDetect means "no override"
	}
)

// Get returns the process-wide capability record, probing on first call.
func Get() Capabilities {
	once.Do(probe)
	return caps
}

// probe implements SPEC_FULL.md §4.1 steps 1-6. Step 7 (the lazy
// PMEM_IS_PMEM_FORCE override) is evaluated separately by
// IsPmemOverride, on first call to IsPmem rather than at init time.
func probe() {
	hasCLFlush, hasCLFlushOpt, hasCLWB := detectFlushInstructions()
	c := probeFrom(hasCLFlush, hasCLFlushOpt, hasCLWB, cpu.X86.HasSSE2, os.Getenv)
	caps = c
	logProbeResult(c)
}

// probeFrom holds steps 1-6 of the capability decision with every input
// that can vary — detected instruction support and the environment —
// passed in rather than read from process-global state. Get calls it
// with real detection results and os.Getenv; tests call it directly
// with fakes, bypassing the sync.Once that otherwise latches the first
// caller's environment for the life of the process.
func probeFrom(hasCLFlush, hasCLFlushOpt, hasCLWB, hasSSE2 bool, getenv func(string) string) Capabilities {
	c := Capabilities{
		Flush:          FlushNone,
		Fence:          FenceEmpty,
		IsPmemBase:     IsPmemNever,
		MovntThreshold: common.DefaultMovntThreshold,
	}

	if hasCLFlush {
		c.IsPmemBase = IsPmemDetect
		c.Flush = FlushCLFlush
	}

	if hasCLFlushOpt && getenv("PMEM_NO_CLFLUSHOPT") != "1" {
		c.Flush = FlushCLFlushOpt
		c.Fence = FenceSFence
	}

	if hasCLWB && getenv("PMEM_NO_CLWB") != "1" {
		c.Flush = FlushCLWB
		c.Fence = FenceSFence
	}

	if getenv("PMEM_NO_FLUSH") == "1" {
		c.Flush = FlushNone
		c.Fence = FenceSFence
	}

	if v := getenv("PMEM_MOVNT_THRESHOLD"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			c.MovntThreshold = uintptr(n)
		} else {
			log.Printf("pmemcpu: invalid PMEM_MOVNT_THRESHOLD %q, keeping default", v)
		}
	}

	// SSE2 is used as the availability signal for the streaming-store
	// (movnt) transfer variants: SSE2 (thus movnt) is assumed
	// available whenever the CPU reports it, without a separate probe.
	c.HasMovnt = hasSSE2 && getenv("PMEM_NO_MOVNT") != "1"

	return c
}

func logProbeResult(c Capabilities) {
	log.Printf("pmemcpu: flush=%s fence=%v movnt=%v threshold=%d is_pmem_base=%v",
		c.Flush, c.Fence == FenceSFence, c.HasMovnt, c.MovntThreshold, c.IsPmemBase)
}

// IsPmemOverride consults PMEM_IS_PMEM_FORCE lazily, on first call, and
// latches the result with a single sync.Once — resolving the design
// note's Open Question about the original's racy non-atomic "once"
// flag followed by a separate atomic increment.
//
// It returns (mode, true) if an override is in effect, or
// (IsPmemDetect, false) if none was requested (an unrecognized value is
// treated as "no override", matching "any other value ignored").
func IsPmemOverride() (IsPmemMode, bool) {
	force.once.Do(func() {
		force.mode = isPmemOverrideFrom(os.Getenv)
	})
	if force.mode == IsPmemDetect {
		return IsPmemDetect, false
	}
	return force.mode, true
}

// isPmemOverrideFrom parses PMEM_IS_PMEM_FORCE via getenv rather than
// os.Getenv directly, so tests can exercise every case without racing
// the once-latched IsPmemOverride. IsPmemDetect doubles as the sentinel
// for "no override"; callers distinguish a real IsPmemDetect override
// from no override the same way IsPmemOverride does.
func isPmemOverrideFrom(getenv func(string) string) IsPmemMode {
	switch getenv("PMEM_IS_PMEM_FORCE") {
	case "0":
		return IsPmemNever
	case "1":
		return IsPmemAlways
	default:
		return IsPmemDetect
	}
}
