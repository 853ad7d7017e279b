package kernel

import "kernelcore/kernel/mem"

// Compile-time tunables for the core. Collected here rather than scattered
// across subsystems so boot glue and tests can reference a single source of
// truth, mirroring the teacher's practice of keeping architecture constants
// in one file per package (kernel/mem/constants_amd64.go).
const (
	// HeapStart is the fixed virtual address where the kernel heap begins.
	HeapStart uintptr = 0xffff_ffff_a000_0000

	// HeapMax bounds how far heap_grow is allowed to extend the heap.
	HeapMax uintptr = HeapStart + 256*uintptr(mem.Mb)

	// HeapInitialSize is how much of the heap range is mapped at boot.
	HeapInitialSize = 16 * mem.Kb

	// StackSize is the default kernel stack size for a new thread.
	StackSize = 16 * mem.Kb

	// Quantum is the number of timer ticks between forced reschedules.
	Quantum = 5

	// TimerFrequencyHz is the default PIT tick rate.
	TimerFrequencyHz = 100

	// PollTimeout bounds the busy-wait loop for a block device request.
	PollTimeout = 10_000_000
)
