package irq

import (
	"kernelcore/kernel/cpu"
	"kernelcore/kernel/kfmt"
)

var (
	readCR2Fn           = cpu.ReadCR2
	disableInterruptsFn = cpu.DisableInterrupts
	haltFn              = cpu.Halt
)

// dispatch is called from commonStub in vectors_amd64.s with a pointer to
// the frame it just built on the stack. It must never panic: there is no
// runtime underneath it to recover one.
//
//go:nosplit
func dispatch(frame *Frame) {
	vector := uint32(frame.Vector)

	switch {
	case vector >= IRQBase && vector < IRQBase+IRQCount:
		dispatchIRQ(uint8(vector-IRQBase), frame)

	case handlers[vector] != nil:
		handlers[vector](frame)

	case vector < ExceptionCount:
		defaultExceptionHandler(frame)

		// Unregistered software vectors (48-255 with no handler) are
		// silently ignored; a stray INT from user code shouldn't be
		// able to wedge the kernel.
	}
}

func dispatchIRQ(line uint8, frame *Frame) {
	if IsSpurious(line) {
		return
	}

	// EOI before the handler runs: a handler may context-switch away and
	// never return to this stack frame, and the PIC must not be left
	// thinking the line is still in service.
	SendEOI(line)

	if h := handlers[IRQBase+int(line)]; h != nil {
		h(frame)
	}
}

func defaultExceptionHandler(frame *Frame) {
	kfmt.Printf("\n!!! exception: %s (vector %d, error=0x%x)\n",
		ExceptionName(frame.Vector), frame.Vector, frame.ErrorCode)
	kfmt.Printf("  rip=0x%x rsp=0x%x cs=0x%x ss=0x%x rflags=0x%x\n",
		frame.RIP, frame.RSP, frame.CS, frame.SS, frame.RFlags)
	kfmt.Printf("  rax=0x%x rbx=0x%x rcx=0x%x rdx=0x%x\n", frame.RAX, frame.RBX, frame.RCX, frame.RDX)
	kfmt.Printf("  rsi=0x%x rdi=0x%x rbp=0x%x\n", frame.RSI, frame.RDI, frame.RBP)
	kfmt.Printf("  r8=0x%x r9=0x%x r10=0x%x r11=0x%x\n", frame.R8, frame.R9, frame.R10, frame.R11)
	kfmt.Printf("  r12=0x%x r13=0x%x r14=0x%x r15=0x%x\n", frame.R12, frame.R13, frame.R14, frame.R15)

	if frame.Vector == 14 {
		kfmt.Printf("  cr2=0x%x (faulting address)\n", readCR2Fn())
	}

	kfmt.Printf("!!! system halted\n")
	for {
		disableInterruptsFn()
		haltFn()
	}
}
