package irq

import "unsafe"

// idtGate is one 16-byte x86_64 interrupt-gate descriptor.
type idtGate struct {
	offsetLow  uint16
	selector   uint16
	ist        uint8
	typeAttr   uint8
	offsetMid  uint16
	offsetHigh uint32
	reserved   uint32
}

const (
	// kernelCodeSelector is the flat 64-bit code segment Limine leaves
	// installed in the GDT at boot.
	kernelCodeSelector = 0x08

	// gateTypeInterrupt marks a present, ring-0, 64-bit interrupt gate.
	// Unlike a trap gate (0x8F) this clears RFLAGS.IF on entry, so the
	// dispatcher never has to do it itself.
	gateTypeInterrupt = 0x8E

	// doubleFaultIST routes vector 8 through interrupt stack table slot
	// 1, so a double fault caused by kernel stack exhaustion still runs
	// on valid stack space.
	doubleFaultIST = 1
)

var idt [VectorCount]idtGate

func newGate(handlerAddr uintptr, ist uint8) idtGate {
	return idtGate{
		offsetLow:  uint16(handlerAddr),
		selector:   kernelCodeSelector,
		ist:        ist,
		typeAttr:   gateTypeInterrupt,
		offsetMid:  uint16(handlerAddr >> 16),
		offsetHigh: uint32(handlerAddr >> 32),
	}
}

// funcPC returns the entry address of an asm-implemented, argument-less
// package-level function. A Go func value referencing such a function
// directly (never a closure) is itself a pointer to a one-word funcval
// struct whose sole field is the code's entry PC.
func funcPC(f func()) uintptr {
	return **(**uintptr)(unsafe.Pointer(&f))
}

// loadIDT executes LIDT against a descriptor built from base/limit.
func loadIDT(base uintptr, limit uint16)

// loadIDTFn is mocked by tests; LIDT is a privileged instruction with no
// safe hosted equivalent.
var loadIDTFn = loadIDT

// Init builds the IDT out of the generated per-vector stubs, loads it,
// and remaps the legacy PIC. All 256 gates are installed; Register and
// UnmaskIRQ still gate whether anything actually runs for a given vector.
func Init() {
	for v := 0; v < VectorCount; v++ {
		var ist uint8
		if v == DoubleFault {
			ist = doubleFaultIST
		}
		idt[v] = newGate(funcPC(vectorStubs[v]), ist)
	}

	loadIDTFn(uintptr(unsafe.Pointer(&idt[0])), uint16(unsafe.Sizeof(idt)-1))

	InitPIC()
}
