// Package irq implements the interrupt/exception dispatcher: the IDT, the
// per-vector assembly entry stubs, the shared trap frame layout, and the
// legacy 8259 PIC driver backing the 16 remapped hardware IRQ lines.
//
// Grounded on the teacher's kernel/irq package for the overall Handler/
// vector-table shape, generalized to the full 256-entry IDT (the teacher
// only wired the CPU exception range) and to the spec's unified Frame
// struct, whose field order matches the exact sequence vectors_amd64.s
// pushes it in.
package irq

// Frame describes the machine state at the moment an interrupt or exception
// fired. Its field order is not arbitrary: vectors_amd64.s builds this
// layout directly on the stack, lowest address first, so a *Frame can be
// obtained simply by pointing at RSP once commonStub has pushed the
// general-purpose registers.
//
// Push order, earliest (highest address) to latest (lowest address,
// pointed to by RSP after commonStub's register pushes):
//
//  1. CPU-pushed on the exception/interrupt itself: SS, RSP, RFLAGS, CS, RIP
//  2. ErrorCode — the real value for vectors the CPU supplies one for
//     (8, 10-14, 17, 21), a synthetic 0 pushed by the stub otherwise
//  3. Vector — the stub's own vector number, so dispatch knows which fired
//  4. General-purpose registers, pushed by commonStub: RAX, RBX, RCX, RDX,
//     RSI, RDI, RBP, R8-R15
type Frame struct {
	R15, R14, R13, R12 uint64
	R11, R10, R9, R8   uint64
	RBP, RDI, RSI, RDX uint64
	RCX, RBX, RAX      uint64

	Vector    uint64
	ErrorCode uint64

	RIP, CS, RFlags, RSP, SS uint64
}

// Handler processes one interrupt. Returning control to dispatch resumes
// the interrupted context via IRET; a handler that never returns (e.g. one
// that calls into the scheduler to context-switch away) is expected.
type Handler func(frame *Frame)
