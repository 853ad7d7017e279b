// Package kernel contains types shared across every kernel subsystem:
// the structured error type returned at every fallible boundary (spec.md
// §7) and the final panic/halt path used when a condition is
// unrecoverable.
package kernel

import (
	"kernelcore/kernel/cpu"
	"kernelcore/kernel/kfmt"
)

// Error describes a kernel error. All kernel errors are defined as global
// variables that are pointers to this structure. This requirement stems
// from the fact that a general-purpose allocator is not guaranteed to be
// available at the point an error is constructed, so errors.New (which
// allocates) is avoided throughout the core.
type Error struct {
	// Module names the subsystem that produced the error.
	Module string

	// Message describes what went wrong.
	Message string
}

// Error implements the error interface.
func (e *Error) Error() string {
	return e.Module + ": " + e.Message
}

// Panic prints a final diagnostic for err (if non-nil) and halts the CPU.
// It never returns. Every unrecoverable condition in spec.md §7 (missing
// BootInfo, bitmap placement failure, heap corruption, VMM OOM, an
// unhandled CPU exception) routes here.
func Panic(err *Error) {
	if err == nil {
		kfmt.Panic(nil)
	} else {
		kfmt.Panic(err)
	}
	for {
		cpu.DisableInterrupts()
		cpu.Halt()
	}
}
