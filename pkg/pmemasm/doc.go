// Package pmemasm wraps the raw cache-line flush and streaming-store
// CPU instructions behind a small typed API. These are unavoidable and
// inherently unsafe: every exported function's safety contract is that
// the caller guarantees the pointer is inside a writable mapping of at
// least the stated width, and does not outlive that mapping.
//
// On amd64 the bodies are real instructions (CLFLUSH, CLFLUSHOPT, CLWB,
// SFENCE, and non-temporal MOVNTO/MOVNTIL stores), implemented in
// intrinsics_amd64.s. On other architectures FlushCacheLine and SFence
// are no-ops and StreamCopy16/StreamCopy4 fall back to ordinary loads
// and stores — callers never reach the fallback in practice because
// pkg/pmemcpu.Capabilities.HasMovnt is false there, but the fallback
// keeps the package buildable and testable off amd64.
package pmemasm
