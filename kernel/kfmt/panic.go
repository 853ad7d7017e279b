package kfmt

import (
	"kernelcore/kernel/cpu"
)

// errType mirrors kernel.Error's shape without importing package kernel,
// which would create an import cycle (kernel imports kfmt for Panic's
// delegate call; callers that build *kernel.Error values pass them in as
// this interface).
type errType interface {
	Error() string
}

var cpuHaltFn = cpu.Halt

// panicPrefix marks every line of a panic's diagnostic banner, so it stands
// out from ordinary subsystem logging when both land in the same sink.
var panicPrefix = []byte("[panic] ")

// Panic prints a final diagnostic for err (if non-nil) and halts the CPU.
// This is the only "unwinding" path in the core: every unrecoverable
// condition in spec.md §7 routes here instead of propagating a Go panic.
func Panic(err errType) {
	sink := outputSink
	if sink == nil {
		sink = &earlyPrintBuffer
	}
	w := &PrefixWriter{Sink: sink, Prefix: panicPrefix}

	Fprintf(w, "\n-----------------------------------\n")
	if err != nil {
		Fprintf(w, "unrecoverable error: %s\n", err.Error())
	}
	Fprintf(w, "*** kernel panic: system halted ***")
	Fprintf(w, "\n-----------------------------------\n")

	cpuHaltFn()
}
