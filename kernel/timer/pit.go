// Package timer programs the legacy 8253/8254 PIT as the core's only tick
// source: channel 0 in rate-generator mode, feeding IRQ0 through the
// interrupt dispatcher. Grounded on
// original_source/kernel/arch/x86_64/pit.c's pit_init/pit_handler pair.
package timer

import (
	"kernelcore/kernel"
	"kernelcore/kernel/cpu"
	"kernelcore/kernel/irq"
	"kernelcore/kernel/kfmt"
)

const (
	channel0Port = 0x40
	commandPort  = 0x43

	// baseFreq is the PIT's fixed input clock.
	baseFreq = 1_193_182

	// modeRateGenerator selects channel 0, lobyte/hibyte access, mode 2.
	modeRateGenerator = 0x34

	// irqLine is PIT's fixed wiring on the legacy PIC.
	irqLine = 0
)

var (
	outbFn = cpu.Outb

	ticks uint64
	freq  uint32

	// ScheduleFn is invoked every kernel.Quantum ticks. Boot glue wires it
	// to the scheduler's entry point once kernel/sched is initialized;
	// left nil (the zero value) it is simply skipped, so timer has no
	// import-time dependency on kernel/sched.
	ScheduleFn func()
)

// Init programs channel 0 for freqHz and registers the IRQ0 handler. A
// freqHz of 0 is invalid and treated as 1 Hz to avoid a divide-by-zero
// divisor computation.
func Init(freqHz uint32) {
	if freqHz == 0 {
		freqHz = 1
	}
	freq = freqHz
	ticks = 0

	divisor := uint16(baseFreq / freqHz)

	outbFn(commandPort, modeRateGenerator)
	outbFn(channel0Port, uint8(divisor&0xFF))
	outbFn(channel0Port, uint8(divisor>>8))

	irq.Register(irq.IRQBase+irqLine, handleTick)

	kfmt.Printf("[timer] PIT initialized at %d Hz (divisor=%d)\n", freq, divisor)
}

func handleTick(_ *irq.Frame) {
	ticks++

	if freq != 0 && ticks%uint64(freq) == 0 {
		kfmt.Printf("[timer] %d seconds\n", ticks/uint64(freq))
	}

	if ticks%uint64(kernel.Quantum) == 0 && ScheduleFn != nil {
		ScheduleFn()
	}
}

// Ticks returns the number of timer interrupts handled since Init.
func Ticks() uint64 {
	return ticks
}

// UptimeMillis returns the approximate elapsed time since Init, in
// milliseconds. Returns 0 before Init has run.
func UptimeMillis() uint64 {
	if freq == 0 {
		return 0
	}
	return (ticks * 1000) / uint64(freq)
}
