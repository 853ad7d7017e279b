package irq

//go:generate python3 gen/gen_vectors.py

const (
	// VectorCount is the size of the x86_64 IDT.
	VectorCount = 256

	// ExceptionCount is the number of CPU-reserved exception vectors.
	ExceptionCount = 32

	// IRQBase is the vector the master PIC's IRQ 0 is remapped to.
	IRQBase = 32

	// IRQCount is the number of legacy 8259 IRQ lines.
	IRQCount = 16

	// DoubleFault is routed through its own interrupt stack (IST1) so a
	// stack-overflow double fault still has valid stack space to run on.
	DoubleFault = 8
)

// hasErrorCode reports whether the CPU itself pushes an error code for the
// given exception vector. Every other vector gets a synthetic zero pushed
// by its stub so Frame has a uniform layout regardless of which vector
// fired.
func hasErrorCode(vector int) bool {
	switch vector {
	case 8, 10, 11, 12, 13, 14, 17, 21:
		return true
	default:
		return false
	}
}

var exceptionNames = [ExceptionCount]string{
	0:  "divide error",
	1:  "debug",
	2:  "non-maskable interrupt",
	3:  "breakpoint",
	4:  "overflow",
	5:  "bound range exceeded",
	6:  "invalid opcode",
	7:  "device not available",
	8:  "double fault",
	9:  "coprocessor segment overrun",
	10: "invalid TSS",
	11: "segment not present",
	12: "stack-segment fault",
	13: "general protection fault",
	14: "page fault",
	15: "reserved",
	16: "x87 floating-point exception",
	17: "alignment check",
	18: "machine check",
	19: "SIMD floating-point exception",
	20: "virtualization exception",
	21: "control protection exception",
	22: "reserved",
	23: "reserved",
	24: "reserved",
	25: "reserved",
	26: "reserved",
	27: "reserved",
	28: "hypervisor injection exception",
	29: "VMM communication exception",
	30: "security exception",
	31: "reserved",
}

// ExceptionName returns the human-readable name of a CPU exception vector,
// or "" if vector is not one of the reserved 0-31 range.
func ExceptionName(vector uint64) string {
	if vector >= ExceptionCount {
		return ""
	}
	return exceptionNames[vector]
}

var handlers [VectorCount]Handler

// Register installs handler as the recipient for vector. Registering a
// nil handler clears any previously installed one. Vectors in the IRQ
// range additionally need UnmaskIRQ before their line is live.
func Register(vector int, handler Handler) {
	if vector < 0 || vector >= VectorCount {
		return
	}
	handlers[vector] = handler
}
