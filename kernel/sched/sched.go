package sched

import (
	"kernelcore/kernel/cpu"
	"kernelcore/kernel/sync"
)

var (
	enableInterruptsFn = cpu.EnableInterrupts
	haltFn             = cpu.Halt
)

var (
	queueHead *TCB
	queueTail *TCB
	idle      *TCB
	yieldLock sync.IRQSpinlock
)

// lockAcquireFn/lockReleaseFn indirect yieldLock's methods so tests can
// exercise Yield's call shape without going through the real spinlock,
// which itself executes CLI/STI — privileged instructions with no safe
// hosted form, same rationale as kernel/sync's own indirection vars.
var (
	lockAcquireFn = yieldLock.Acquire
	lockReleaseFn = yieldLock.Release
)

// Add places t at the tail of the run queue and marks it Ready. Grounded
// on original_source/kernel/proc/sched.c's sched_add_thread/queue_push.
func Add(t *TCB) {
	t.State = Ready
	t.Next = nil
	if queueTail != nil {
		queueTail.Next = t
	} else {
		queueHead = t
	}
	queueTail = t
}

// Remove takes t out of the run queue if present; a no-op otherwise.
// Grounded on sched.c's sched_remove_thread.
func Remove(t *TCB) {
	var prev *TCB
	cur := queueHead
	for cur != nil {
		if cur == t {
			if prev != nil {
				prev.Next = cur.Next
			} else {
				queueHead = cur.Next
			}
			if cur == queueTail {
				queueTail = prev
			}
			cur.Next = nil
			return
		}
		prev = cur
		cur = cur.Next
	}
}

func popFront() *TCB {
	if queueHead == nil {
		return nil
	}
	t := queueHead
	queueHead = t.Next
	if queueHead == nil {
		queueTail = nil
	}
	t.Next = nil
	return t
}

// SetIdle designates t as the idle thread, which runs whenever the run
// queue is empty and never itself occupies a queue slot. Its state is
// set to Running immediately, per sched.c's sched_set_idle_thread.
func SetIdle(t *TCB) {
	idle = t
	t.State = Running
}

// Schedule picks the next Ready thread and context-switches into it.
// Must be called with interrupts already disabled — the preemptive path
// enters through the timer IRQ with interrupts off by construction; the
// cooperative path is Yield, below. Grounded step-for-step on sched.c's
// sched_schedule.
func Schedule() {
	old := current
	next := popFront()

	if next == nil {
		if old.State == Running {
			return
		}
		next = idle
		if next == nil {
			return
		}
	}

	if old.State == Running && old != idle {
		old.State = Ready
		Add(old)
	}

	next.State = Running
	setCurrent(next)

	if next != old {
		contextSwitchFn(&old.Context, &next.Context)
	}
}

// Yield is the cooperative entry point: acquire the scheduler spinlock
// (which itself disables interrupts and saves RFLAGS.IF), call Schedule,
// release. Grounded on sched.c's sched_yield.
func Yield() {
	lockAcquireFn()
	Schedule()
	lockReleaseFn()
}
