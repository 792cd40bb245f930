// Package pmemconfig holds the ambient, read-once runtime knobs shared
// by the rest of the library: the debug-logging gate, set by a
// caller-owned flag pointer so cmd/pmemctl can wire its own -debug flag
// straight through. cmd/pmemctl's serve command reads it to turn on FUSE
// debug logging; no library package gates its logging on it.
//
// The CPU-dispatch and streaming-store environment variables
// (PMEM_NO_CLFLUSHOPT, PMEM_NO_CLWB, PMEM_NO_FLUSH, PMEM_NO_MOVNT,
// PMEM_MOVNT_THRESHOLD, PMEM_IS_PMEM_FORCE) are read directly by
// pkg/pmemcpu at probe time; they are one-shot, process-wide dispatch
// decisions rather than ambient knobs a caller can toggle at runtime,
// so they live next to the probe that consumes them, not here.
package pmemconfig

// debugMode defaults to false until a caller supplies its own flag via
// SetDebug.
var debugMode *bool = new(bool)

// SetDebug makes a caller-owned flag (typically `flag.Bool("debug", ...)`)
// the source of truth for IsDebugEnabled. A nil flag is ignored.
func SetDebug(flag *bool) {
	if flag != nil {
		debugMode = flag
	}
}

// IsDebugEnabled reports whether debug-level logging is enabled.
func IsDebugEnabled() bool {
	return debugMode != nil && *debugMode
}
