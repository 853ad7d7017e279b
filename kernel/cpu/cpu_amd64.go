// Package cpu exposes the small set of x86_64 instructions the rest of the
// core needs direct access to: port I/O, control-register access, TLB
// invalidation and memory fences. Each function below is declared without a
// body; the actual instructions live in cpu_amd64.s. This mirrors the
// teacher's kernel/cpu package, which uses the same declare-in-Go,
// implement-in-asm split for anything that cannot be expressed in portable
// Go.
package cpu

// EnableInterrupts executes STI.
func EnableInterrupts()

// DisableInterrupts executes CLI.
func DisableInterrupts()

// Halt executes HLT. Interrupts, if enabled, still wake the CPU.
func Halt()

// FlushTLBEntry invalidates the TLB entry for the given virtual address via
// INVLPG.
func FlushTLBEntry(virtAddr uintptr)

// SwitchPML4 loads phys into CR3, flushing the entire TLB.
func SwitchPML4(phys uintptr)

// ActivePML4 returns the physical address currently loaded in CR3.
func ActivePML4() uintptr

// ReadCR2 returns the faulting address recorded by the last page fault.
func ReadCR2() uintptr

// MemoryFence executes MFENCE, ordering all prior loads/stores against all
// subsequent ones. Used by the virtqueue engine's avail/used ring protocol
// (spec.md §4.7, §5).
func MemoryFence()

// Outb writes a byte to the given I/O port.
func Outb(port uint16, value uint8)

// Inb reads a byte from the given I/O port.
func Inb(port uint16) uint8

// Outw writes a word to the given I/O port.
func Outw(port uint16, value uint16)

// Inw reads a word from the given I/O port.
func Inw(port uint16) uint16

// Outl writes a double word to the given I/O port.
func Outl(port uint16, value uint32)

// Inl reads a double word from the given I/O port.
func Inl(port uint16) uint32

// ID executes CPUID with EAX=leaf and returns EAX, EBX, ECX, EDX.
func ID(leaf uint32) (uint32, uint32, uint32, uint32)

// InterruptsEnabled reports whether RFLAGS.IF is currently set.
func InterruptsEnabled() bool

var cpuidFn = ID

// IsIntel returns true if the code is running on an Intel processor.
func IsIntel() bool {
	_, ebx, ecx, edx := cpuidFn(0)
	return ebx == 0x756e6547 && // "Genu"
		edx == 0x49656e69 && // "ineI"
		ecx == 0x6c65746e // "ntel"
}
