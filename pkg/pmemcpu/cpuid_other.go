//go:build !amd64

package pmemcpu

// detectFlushInstructions reports no cache-line-flush instructions on
// non-amd64 architectures; the dispatch record falls back to the
// pessimistic defaults described in SPEC_FULL.md §4.1.
func detectFlushInstructions() (hasCLFlush, hasCLFlushOpt, hasCLWB bool) {
	return false, false, false
}
