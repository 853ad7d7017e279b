// Package sync provides the synchronization primitive used by the
// scheduler's cooperative yield path (spec.md §4.6, §5): a spinlock that
// also saves and restores the interrupt flag, so a critical section is
// protected against both the (nonexistent, on this single-CPU core) other
// CPU and the timer IRQ. Modelled on the teacher's kernel/sync package.
package sync

import (
	"kernelcore/kernel/cpu"
	"sync/atomic"
)

// IRQSpinlock is a lock where the caller busy-waits until it can be
// acquired, with interrupts disabled for the duration of the critical
// section. On a single-CPU core this is the only thing standing between
// cooperative kernel code and a timer interrupt that calls schedule().
type IRQSpinlock struct {
	state    uint32
	savedIF  bool
	acquired bool
}

// Acquire disables interrupts and busy-waits until the lock is held.
func (l *IRQSpinlock) Acquire() {
	wasEnabled := interruptsEnabledFn()
	disableInterruptsFn()

	for !atomic.CompareAndSwapUint32(&l.state, 0, 1) {
		enableInterruptsFn()
		disableInterruptsFn()
	}

	l.savedIF = wasEnabled
	l.acquired = true
}

// Release releases the lock and restores the interrupt flag to whatever it
// was before the matching Acquire call.
func (l *IRQSpinlock) Release() {
	atomic.StoreUint32(&l.state, 0)
	restore := l.savedIF
	l.acquired = false

	if restore {
		enableInterruptsFn()
	} else {
		disableInterruptsFn()
	}
}

// TryAcquire attempts a non-blocking acquire and reports whether it
// succeeded. The caller is responsible for calling Release exactly once if
// it did.
func (l *IRQSpinlock) TryAcquire() bool {
	wasEnabled := interruptsEnabledFn()
	disableInterruptsFn()

	if !atomic.CompareAndSwapUint32(&l.state, 0, 1) {
		if wasEnabled {
			enableInterruptsFn()
		}
		return false
	}

	l.savedIF = wasEnabled
	l.acquired = true
	return true
}

// interruptsEnabledFn, enableInterruptsFn and disableInterruptsFn are mocked
// by tests: STI/CLI and reading RFLAGS.IF are privileged instructions with no
// useful portable form, let alone one safe to execute under `go test` on a
// hosted OS.
var (
	interruptsEnabledFn = cpu.InterruptsEnabled
	enableInterruptsFn  = cpu.EnableInterrupts
	disableInterruptsFn = cpu.DisableInterrupts
)
