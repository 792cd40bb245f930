package pmemcpu

// cpuid issues the CPUID instruction with the given leaf/subleaf and
// returns the four result registers. Implemented in cpuid_amd64.s,
// following the same calling convention golang.org/x/sys/cpu uses for
// its own internal cpuid stub.
func cpuid(eaxArg, ecxArg uint32) (eax, ebx, ecx, edx uint32)

const (
	clflushEDXBit    = 19 // CPUID.1:EDX.CLFSH
	clflushoptEBXBit = 23 // CPUID.(EAX=7,ECX=0):EBX.CLFLUSHOPT
	clwbEBXBit       = 24 // CPUID.(EAX=7,ECX=0):EBX.CLWB
)

func detectFlushInstructions() (hasCLFlush, hasCLFlushOpt, hasCLWB bool) {
	_, _, _, edx1 := cpuid(1, 0)
	hasCLFlush = edx1&(1<<clflushEDXBit) != 0

	_, ebx7, _, _ := cpuid(7, 0)
	hasCLFlushOpt = ebx7&(1<<clflushoptEBXBit) != 0
	hasCLWB = ebx7&(1<<clwbEBXBit) != 0
	return
}
