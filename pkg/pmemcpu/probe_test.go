package pmemcpu

import "testing"

func envFrom(overrides map[string]string) func(string) string {
	return func(key string) string { return overrides[key] }
}

func TestFlushKindString(t *testing.T) {
	cases := map[FlushKind]string{
		FlushNone:       "none",
		FlushCLFlush:    "clflush",
		FlushCLFlushOpt: "clflushopt",
		FlushCLWB:       "clwb",
	}
	for k, want := range cases {
		if got := k.String(); got != want {
			t.Errorf("FlushKind(%d).String() = %q, want %q", k, got, want)
		}
	}
}

func TestGetIsStableAcrossCalls(t *testing.T) {
	a := Get()
	b := Get()
	if a != b {
		t.Fatalf("Get() returned different values on successive calls: %+v vs %+v", a, b)
	}
}

func TestIsPmemOverrideIsLatchedOnce(t *testing.T) {
	mode1, ok1 := IsPmemOverride()
	mode2, ok2 := IsPmemOverride()
	if ok1 != ok2 || mode1 != mode2 {
		t.Fatalf("IsPmemOverride is not stable across calls: (%v,%v) vs (%v,%v)", mode1, ok1, mode2, ok2)
	}
}

func TestProbeFromNoClflushoptDisablesOptVariant(t *testing.T) {
	c := probeFrom(true, true, false, false, envFrom(map[string]string{"PMEM_NO_CLFLUSHOPT": "1"}))
	if c.Flush != FlushCLFlush {
		t.Fatalf("Flush = %v, want FlushCLFlush (PMEM_NO_CLFLUSHOPT should block clflushopt)", c.Flush)
	}
	if c.Fence != FenceEmpty {
		t.Fatalf("Fence = %v, want FenceEmpty (clflush is itself serializing)", c.Fence)
	}
}

func TestProbeFromClwbScenario(t *testing.T) {
	// The clwb-available, no overrides scenario: clwb wins dispatch and
	// flushing gets the SFENCE predrain fence.
	c := probeFrom(true, true, true, true, envFrom(nil))
	if c.Flush != FlushCLWB {
		t.Fatalf("Flush = %v, want FlushCLWB", c.Flush)
	}
	if c.Fence != FenceSFence {
		t.Fatalf("Fence = %v, want FenceSFence", c.Fence)
	}
}

func TestProbeFromNoClwbFallsBackToClflushopt(t *testing.T) {
	c := probeFrom(true, true, true, true, envFrom(map[string]string{"PMEM_NO_CLWB": "1"}))
	if c.Flush != FlushCLFlushOpt {
		t.Fatalf("Flush = %v, want FlushCLFlushOpt (PMEM_NO_CLWB should block clwb)", c.Flush)
	}
}

func TestProbeFromNoFlushScenario(t *testing.T) {
	// The zero-flush scenario: PMEM_NO_FLUSH wins over every detected
	// instruction, but the predrain fence still moves to SFENCE so
	// reordering against later stores stays disallowed.
	c := probeFrom(true, true, true, true, envFrom(map[string]string{"PMEM_NO_FLUSH": "1"}))
	if c.Flush != FlushNone {
		t.Fatalf("Flush = %v, want FlushNone", c.Flush)
	}
	if c.Fence != FenceSFence {
		t.Fatalf("Fence = %v, want FenceSFence", c.Fence)
	}
	// IsPmemBase reflects only real CLFLUSH detection and must not be
	// affected by PMEM_NO_FLUSH forcing the dispatch itself to FlushNone.
	if c.IsPmemBase != IsPmemDetect {
		t.Fatalf("IsPmemBase = %v, want IsPmemDetect (unaffected by PMEM_NO_FLUSH)", c.IsPmemBase)
	}
}

func TestProbeFromNoMovntDisablesStreamingStores(t *testing.T) {
	c := probeFrom(true, false, false, true, envFrom(map[string]string{"PMEM_NO_MOVNT": "1"}))
	if c.HasMovnt {
		t.Fatal("HasMovnt = true, want false with PMEM_NO_MOVNT=1")
	}

	c = probeFrom(true, false, false, true, envFrom(nil))
	if !c.HasMovnt {
		t.Fatal("HasMovnt = false, want true when SSE2 is available and PMEM_NO_MOVNT is unset")
	}
}

func TestProbeFromMovntThreshold(t *testing.T) {
	c := probeFrom(true, false, false, true, envFrom(map[string]string{"PMEM_MOVNT_THRESHOLD": "4096"}))
	if c.MovntThreshold != 4096 {
		t.Fatalf("MovntThreshold = %d, want 4096", c.MovntThreshold)
	}

	c = probeFrom(true, false, false, true, envFrom(map[string]string{"PMEM_MOVNT_THRESHOLD": "not-a-number"}))
	if c.MovntThreshold != 256 {
		t.Fatalf("MovntThreshold = %d, want default 256 when the override fails to parse", c.MovntThreshold)
	}
}

func TestProbeFromNoClflushLeavesIsPmemBaseNever(t *testing.T) {
	c := probeFrom(false, false, false, true, envFrom(nil))
	if c.Flush != FlushNone {
		t.Fatalf("Flush = %v, want FlushNone with no CLFLUSH support", c.Flush)
	}
	if c.IsPmemBase != IsPmemNever {
		t.Fatalf("IsPmemBase = %v, want IsPmemNever with no CLFLUSH support", c.IsPmemBase)
	}
}

func TestIsPmemOverrideFrom(t *testing.T) {
	cases := []struct {
		value string
		want  IsPmemMode
	}{
		{"0", IsPmemNever},
		{"1", IsPmemAlways},
		{"", IsPmemDetect},
		{"garbage", IsPmemDetect},
	}
	for _, tc := range cases {
		got := isPmemOverrideFrom(envFrom(map[string]string{"PMEM_IS_PMEM_FORCE": tc.value}))
		if got != tc.want {
			t.Errorf("isPmemOverrideFrom(PMEM_IS_PMEM_FORCE=%q) = %v, want %v", tc.value, got, tc.want)
		}
	}
}
